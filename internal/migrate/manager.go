// Package migrate applies the embedded schema migrations and seeds built-in RBAC data.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	gomigrate "github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
	"warden.dev/internal/store/pg"
)

const defaultMigrationsTable = "schema_migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Manager executes the embedded migrations against one database.
type Manager struct {
	db              *sql.DB
	migrationsTable string
	verbose         bool
	m               *gomigrate.Migrate
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithVerbose forwards golang-migrate's per-step output to the log.
func WithVerbose(v bool) Option {
	return func(m *Manager) { m.verbose = v }
}

// Status describes the schema version currently recorded.
type Status struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

// NewManager binds the embedded migrations to db. Close releases both the migrator and db.
func NewManager(db *sql.DB, opts ...Option) (*Manager, error) {
	if db == nil {
		return nil, errors.New("migrate: db is required")
	}
	mgr := &Manager{db: db, migrationsTable: defaultMigrationsTable}
	for _, opt := range opts {
		opt(mgr)
	}

	src, err := Source()
	if err != nil {
		return nil, err
	}
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{MigrationsTable: mgr.migrationsTable})
	if err != nil {
		return nil, fmt.Errorf("migrate: create driver: %w", err)
	}
	m, err := gomigrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate: create migrator: %w", err)
	}
	m.Log = &logger{verbose: mgr.verbose}
	mgr.m = m
	return mgr, nil
}

// Source opens the embedded migration files.
func Source() (source.Driver, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate: open embedded migrations: %w", err)
	}
	return src, nil
}

// Up applies all pending migrations. An up-to-date schema is not an error.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.checkClean(ctx); err != nil {
		return err
	}
	err := m.run(ctx, m.m.Up)
	if errors.Is(err, gomigrate.ErrNoChange) {
		obs.Log(ctx, "info", "migrations already up to date", nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate: up: %w", err)
	}
	st, _ := m.Status(ctx)
	obs.Log(ctx, "info", "migrations applied", map[string]any{"version": st.Version})
	return nil
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) error {
	st, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if st.Version == 0 {
		return errors.New("migrate: no migrations applied")
	}
	if err := m.run(ctx, func() error { return m.m.Steps(-1) }); err != nil {
		return fmt.Errorf("migrate: rollback %d: %w", st.Version, err)
	}
	obs.Log(ctx, "info", "migration rolled back", map[string]any{"version": st.Version})
	return nil
}

// Status returns the applied version. A fresh database reports version 0.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, gomigrate.ErrNilVersion) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("migrate: read version: %w", err)
	}
	return Status{Version: v, Dirty: dirty}, nil
}

// Seed creates the built-in roles and permissions. Running it again changes nothing.
func (m *Manager) Seed(ctx context.Context) error {
	if err := auth.Bootstrap(ctx, pg.New(m.db)); err != nil {
		return fmt.Errorf("migrate: seed: %w", err)
	}
	obs.Log(ctx, "info", "seed applied", map[string]any{"permissions": len(auth.BuiltinPermissions)})
	return nil
}

// Close releases the migrator and the database handle.
func (m *Manager) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

func (m *Manager) checkClean(ctx context.Context) error {
	st, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if st.Dirty {
		return fmt.Errorf("migrate: database is dirty at version %d; fix it by hand and force the version", st.Version)
	}
	return nil
}

// run executes fn and asks golang-migrate to stop after the current step when ctx ends.
func (m *Manager) run(ctx context.Context, fn func() error) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case m.m.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()
	return fn()
}

// logger adapts gomigrate.Logger to the JSON log.
type logger struct{ verbose bool }

func (l *logger) Printf(format string, args ...any) {
	obs.Log(context.Background(), "debug", fmt.Sprintf(format, args...), map[string]any{"component": "migrate"})
}

func (l *logger) Verbose() bool { return l.verbose }
