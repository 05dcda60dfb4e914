package migrate

import (
	"io"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	src, err := Source()
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	count := 0
	for {
		count++
		for _, read := range []func(uint) (io.ReadCloser, string, error){src.ReadUp, src.ReadDown} {
			r, ident, err := read(v)
			if err != nil {
				t.Fatalf("version %d: %v", v, err)
			}
			body, _ := io.ReadAll(r)
			r.Close()
			if strings.TrimSpace(string(body)) == "" {
				t.Fatalf("version %d (%s) is empty", v, ident)
			}
		}
		next, err := src.Next(v)
		if err != nil {
			break
		}
		v = next
	}
	if count == 0 {
		t.Fatalf("no migrations embedded")
	}
}

func TestInitialSchemaCoversStores(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/000001_init.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	schema := string(data)
	for _, want := range []string{
		"create table if not exists users",
		"create table if not exists roles",
		"create table if not exists permissions",
		"create table if not exists user_roles",
		"create table if not exists role_permissions",
		"create table if not exists user_sessions",
		"create table if not exists audit_logs",
		"revoked_at",
		"check (expires_at > created_at)",
		"unique (user_id, role_id)",
		"unique (role_id, permission_id)",
	} {
		if !strings.Contains(schema, want) {
			t.Fatalf("schema missing %q", want)
		}
	}
}

func TestNewManagerRequiresDB(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error")
	}
}
