package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RoleUpdate carries optional role changes. Nil fields are left alone.
type RoleUpdate struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// RoleAdmin manages roles, permissions and the links between them.
type RoleAdmin struct {
	store Store
	audit AuditRecorder
	now   func() time.Time
}

// NewRoleAdmin constructs a RoleAdmin. A nil recorder writes to the store's audit table.
func NewRoleAdmin(store Store, rec AuditRecorder) (*RoleAdmin, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if rec == nil {
		rec = storeRecorder{store: store.Audit()}
	}
	return &RoleAdmin{store: store, audit: rec, now: time.Now}, nil
}

// auditFailure records a FAILED event when *err is set on return.
func (a *RoleAdmin) auditFailure(ctx context.Context, action string, err *error) {
	if *err != nil {
		recordAudit(ctx, a.audit, failedEvent(actorEvent(ctx, action, ResourceRole, ""), *err))
	}
}

// ListRoles returns every role ordered by name.
func (a *RoleAdmin) ListRoles(ctx context.Context) ([]Role, error) {
	return a.store.Roles().List(ctx)
}

// GetRole returns the role with id.
func (a *RoleAdmin) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := a.store.Roles().Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Role{}, ErrRoleNotFound
	}
	return role, err
}

// GetRoleByName returns the role called name.
func (a *RoleAdmin) GetRoleByName(ctx context.Context, name string) (Role, error) {
	role, err := a.store.Roles().GetByName(ctx, strings.TrimSpace(name))
	if errors.Is(err, ErrNotFound) {
		return Role{}, ErrRoleNotFound
	}
	return role, err
}

// CreateRole adds a role. Names are unique.
func (a *RoleAdmin) CreateRole(ctx context.Context, name, description string) (_ Role, err error) {
	defer a.auditFailure(ctx, ActionRoleCreated, &err)
	name = normalizeText(name)
	description = normalizeText(description)
	if err := validateRole(name, description); err != nil {
		return Role{}, err
	}
	var role Role
	err = a.store.InTx(ctx, func(tx Store) error {
		if err := roleNameFree(ctx, tx, name, 0); err != nil {
			return err
		}
		var err error
		role, err = tx.Roles().Create(ctx, Role{Name: name, Description: description})
		if errors.Is(err, ErrDuplicate) {
			return duplicatef("role %s already exists", name)
		}
		return err
	})
	if err != nil {
		return Role{}, err
	}
	recordAudit(ctx, a.audit, actorEvent(ctx, ActionRoleCreated, ResourceRole, "Role "+role.Name+" created"))
	return role, nil
}

// UpdateRole renames or re-describes a role.
func (a *RoleAdmin) UpdateRole(ctx context.Context, id int64, upd RoleUpdate) (_ Role, err error) {
	defer a.auditFailure(ctx, ActionRoleUpdated, &err)
	var role Role
	err = a.store.InTx(ctx, func(tx Store) error {
		var err error
		role, err = tx.Roles().Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return ErrRoleNotFound
		}
		if err != nil {
			return err
		}
		if upd.Name != nil {
			name := normalizeText(*upd.Name)
			if name != role.Name {
				if err := roleNameFree(ctx, tx, name, id); err != nil {
					return err
				}
			}
			role.Name = name
		}
		if upd.Description != nil {
			role.Description = normalizeText(*upd.Description)
		}
		if err := validateRole(role.Name, role.Description); err != nil {
			return err
		}
		role, err = tx.Roles().Update(ctx, role)
		if errors.Is(err, ErrDuplicate) {
			return duplicatef("role %s already exists", role.Name)
		}
		return err
	})
	if err != nil {
		return Role{}, err
	}
	recordAudit(ctx, a.audit, actorEvent(ctx, ActionRoleUpdated, ResourceRole, "Role "+role.Name+" updated"))
	return role, nil
}

// DeleteRole removes a role that no user holds.
func (a *RoleAdmin) DeleteRole(ctx context.Context, id int64) (err error) {
	defer a.auditFailure(ctx, ActionRoleDeleted, &err)
	var role Role
	err = a.store.InTx(ctx, func(tx Store) error {
		var err error
		role, err = tx.Roles().Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return ErrRoleNotFound
		}
		if err != nil {
			return err
		}
		n, err := tx.Roles().CountAssignments(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return invalidf("cannot delete role %s: it is assigned to %d users", role.Name, n)
		}
		return tx.Roles().Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	recordAudit(ctx, a.audit, actorEvent(ctx, ActionRoleDeleted, ResourceRole, "Role "+role.Name+" deleted"))
	return nil
}

// ListPermissions returns the whole catalog.
func (a *RoleAdmin) ListPermissions(ctx context.Context) ([]Permission, error) {
	return a.store.Permissions().List(ctx)
}

// CreatePermission adds a permission. Names are unique.
func (a *RoleAdmin) CreatePermission(ctx context.Context, p Permission) (_ Permission, err error) {
	defer a.auditFailure(ctx, ActionPermissionCreated, &err)
	p.Name = normalizeText(p.Name)
	p.Resource = normalizeText(p.Resource)
	p.Action = normalizeText(p.Action)
	p.Description = normalizeText(p.Description)
	if err := requireText("permission name", p.Name, maxPermNameLength); err != nil {
		return Permission{}, err
	}
	if err := requireText("resource", p.Resource, maxPermFieldLength); err != nil {
		return Permission{}, err
	}
	if err := requireText("action", p.Action, maxPermFieldLength); err != nil {
		return Permission{}, err
	}
	if len([]rune(p.Description)) > maxRoleDescLength {
		return Permission{}, invalidf("description must be at most %d characters", maxRoleDescLength)
	}

	perms := a.store.Permissions()
	exists, err := perms.ExistsByName(ctx, p.Name)
	if err != nil {
		return Permission{}, err
	}
	if exists {
		return Permission{}, duplicatef("permission %s already exists", p.Name)
	}
	created, err := perms.Create(ctx, Permission{
		Name:        p.Name,
		Resource:    p.Resource,
		Action:      p.Action,
		Description: p.Description,
	})
	if errors.Is(err, ErrDuplicate) {
		return Permission{}, duplicatef("permission %s already exists", p.Name)
	}
	if err != nil {
		return Permission{}, err
	}
	recordAudit(ctx, a.audit, actorEvent(ctx, ActionPermissionCreated, ResourceRole, "Permission "+created.Name+" created"))
	return created, nil
}

// AssignPermission grants a permission to a role. A second grant of the same pair is a
// validation error.
func (a *RoleAdmin) AssignPermission(ctx context.Context, roleID, permissionID int64) (_ RolePermission, err error) {
	defer a.auditFailure(ctx, ActionPermissionAssigned, &err)
	var (
		link RolePermission
		role Role
		perm Permission
	)
	err = a.store.InTx(ctx, func(tx Store) error {
		var err error
		if role, perm, err = rolePermPair(ctx, tx, roleID, permissionID); err != nil {
			return err
		}
		exists, err := tx.Permissions().LinkExists(ctx, roleID, permissionID)
		if err != nil {
			return err
		}
		if exists {
			return invalidf("permission %s is already assigned to role %s", perm.Name, role.Name)
		}
		link, err = tx.Permissions().Link(ctx, RolePermission{
			RoleID:       roleID,
			PermissionID: permissionID,
			AssignedAt:   a.now().UTC(),
		})
		if errors.Is(err, ErrDuplicate) {
			return invalidf("permission %s is already assigned to role %s", perm.Name, role.Name)
		}
		return err
	})
	if err != nil {
		return RolePermission{}, err
	}
	recordAudit(ctx, a.audit, actorEvent(ctx, ActionPermissionAssigned, ResourceRole,
		fmt.Sprintf("Permission %s assigned to role %s", perm.Name, role.Name)))
	return link, nil
}

// RemovePermission revokes a permission from a role.
func (a *RoleAdmin) RemovePermission(ctx context.Context, roleID, permissionID int64) (err error) {
	defer a.auditFailure(ctx, ActionPermissionRevoked, &err)
	var (
		role Role
		perm Permission
	)
	err = a.store.InTx(ctx, func(tx Store) error {
		var err error
		if role, perm, err = rolePermPair(ctx, tx, roleID, permissionID); err != nil {
			return err
		}
		err = tx.Permissions().Unlink(ctx, roleID, permissionID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: role %s does not have permission %s", ErrNotFound, role.Name, perm.Name)
		}
		return err
	})
	if err != nil {
		return err
	}
	recordAudit(ctx, a.audit, actorEvent(ctx, ActionPermissionRevoked, ResourceRole,
		fmt.Sprintf("Permission %s removed from role %s", perm.Name, role.Name)))
	return nil
}

// PermissionsOfRole lists the permissions granted to a role.
func (a *RoleAdmin) PermissionsOfRole(ctx context.Context, roleID int64) ([]Permission, error) {
	if _, err := a.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return a.store.Permissions().ListForRole(ctx, roleID)
}

// AvailableRoles lists roles with their permission counts.
func (a *RoleAdmin) AvailableRoles(ctx context.Context) ([]RoleSummary, error) {
	roles, err := a.store.Roles().List(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := a.store.Roles().PermissionCounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RoleSummary, 0, len(roles))
	for _, r := range roles {
		out = append(out, RoleSummary{Role: r, PermissionCount: counts[r.ID]})
	}
	return out, nil
}

// RoleDistribution maps each role name to the number of users holding it.
func (a *RoleAdmin) RoleDistribution(ctx context.Context) (map[string]int64, error) {
	return a.store.Roles().Distribution(ctx)
}

func validateRole(name, description string) error {
	if err := requireText("role name", name, maxRoleNameLength); err != nil {
		return err
	}
	if len([]rune(description)) > maxRoleDescLength {
		return invalidf("description must be at most %d characters", maxRoleDescLength)
	}
	return nil
}

// roleNameFree fails with ErrDuplicate when name belongs to a role other than self.
func roleNameFree(ctx context.Context, tx Store, name string, self int64) error {
	existing, err := tx.Roles().GetByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != self {
		return duplicatef("role %s already exists", name)
	}
	return nil
}

func rolePermPair(ctx context.Context, tx Store, roleID, permissionID int64) (Role, Permission, error) {
	role, err := tx.Roles().Get(ctx, roleID)
	if errors.Is(err, ErrNotFound) {
		return Role{}, Permission{}, ErrRoleNotFound
	}
	if err != nil {
		return Role{}, Permission{}, err
	}
	perm, err := tx.Permissions().Get(ctx, permissionID)
	if errors.Is(err, ErrNotFound) {
		return Role{}, Permission{}, ErrPermNotFound
	}
	if err != nil {
		return Role{}, Permission{}, err
	}
	return role, perm, nil
}
