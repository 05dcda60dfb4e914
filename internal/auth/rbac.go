package auth

import (
	"context"
	"errors"
	"sort"
)

// Resolver flattens the user → role → permission graph. Nothing is cached; every call reads
// the current assignments.
type Resolver struct {
	roles RoleStore
	perms PermissionStore
}

// NewResolver builds a Resolver over the given stores.
func NewResolver(roles RoleStore, perms PermissionStore) (*Resolver, error) {
	if roles == nil || perms == nil {
		return nil, errors.New("auth: resolver requires role and permission stores")
	}
	return &Resolver{roles: roles, perms: perms}, nil
}

// RolesOf returns the sorted role names assigned to the user.
func (r *Resolver) RolesOf(ctx context.Context, userID int64) ([]string, error) {
	names, err := r.roles.NamesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return dedupeSorted(names), nil
}

// PermissionsOf returns the union of permission names reachable through every role of the
// user, one entry per name.
func (r *Resolver) PermissionsOf(ctx context.Context, userID int64) ([]string, error) {
	names, err := r.perms.NamesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return dedupeSorted(names), nil
}

// Principal loads roles and permissions for user.
func (r *Resolver) Principal(ctx context.Context, user User) (Principal, error) {
	roles, err := r.RolesOf(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	perms, err := r.PermissionsOf(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(user, roles, perms), nil
}

func dedupeSorted(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
