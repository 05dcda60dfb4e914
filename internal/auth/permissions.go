package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	PermUserRead    = "USER_READ"
	PermUserManage  = "USER_MANAGE"
	PermRoleManage  = "ROLE_MANAGE"
	PermAuditRead   = "AUDIT_READ"
	PermSessionRead = "SESSION_READ"
)

const (
	RoleNameUser  = "USER"
	RoleNameAdmin = "ADMIN"
)

var builtinRoleDescriptions = map[string]string{
	RoleNameUser:  "Default role granted on registration",
	RoleNameAdmin: "Administrator",
}

// BuiltinPermissions is the catalog seeded on a fresh database and granted to ADMIN.
var BuiltinPermissions = []Permission{
	{Name: PermUserRead, Resource: "USER", Action: "READ", Description: "Read user profiles"},
	{Name: PermUserManage, Resource: "USER", Action: "MANAGE", Description: "Manage users and their roles"},
	{Name: PermRoleManage, Resource: "ROLE", Action: "MANAGE", Description: "Manage roles and permissions"},
	{Name: PermAuditRead, Resource: "AUDIT", Action: "READ", Description: "Read audit history"},
	{Name: PermSessionRead, Resource: "SESSION", Action: "READ", Description: "Inspect user sessions"},
}

// BootstrapOption customizes Bootstrap.
type BootstrapOption func(*bootstrapConfig)

type bootstrapConfig struct {
	now func() time.Time
}

// WithBootstrapClock sets the time stamped on the ADMIN permission grants.
func WithBootstrapClock(fn func() time.Time) BootstrapOption {
	return func(c *bootstrapConfig) {
		if fn != nil {
			c.now = fn
		}
	}
}

// Bootstrap creates the builtin roles and permissions and grants every builtin permission to
// ADMIN. Existing rows are left untouched, so it can run on every deploy.
func Bootstrap(ctx context.Context, store Store, opts ...BootstrapOption) error {
	cfg := bootstrapConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return store.InTx(ctx, func(tx Store) error {
		roles := map[string]Role{}
		for _, name := range []string{RoleNameUser, RoleNameAdmin} {
			role, err := tx.Roles().GetByName(ctx, name)
			if errors.Is(err, ErrNotFound) {
				role, err = tx.Roles().Create(ctx, Role{Name: name, Description: builtinRoleDescriptions[name]})
			}
			if err != nil {
				return fmt.Errorf("bootstrap role %s: %w", name, err)
			}
			roles[name] = role
		}

		existing, err := tx.Permissions().List(ctx)
		if err != nil {
			return err
		}
		byName := make(map[string]Permission, len(existing))
		for _, p := range existing {
			byName[p.Name] = p
		}
		admin := roles[RoleNameAdmin]
		for _, p := range BuiltinPermissions {
			perm, ok := byName[p.Name]
			if !ok {
				if perm, err = tx.Permissions().Create(ctx, p); err != nil {
					return fmt.Errorf("bootstrap permission %s: %w", p.Name, err)
				}
			}
			linked, err := tx.Permissions().LinkExists(ctx, admin.ID, perm.ID)
			if err != nil {
				return err
			}
			if linked {
				continue
			}
			if _, err := tx.Permissions().Link(ctx, RolePermission{RoleID: admin.ID, PermissionID: perm.ID, AssignedAt: cfg.now().UTC()}); err != nil {
				return fmt.Errorf("grant %s to %s: %w", perm.Name, RoleNameAdmin, err)
			}
		}
		return nil
	})
}
