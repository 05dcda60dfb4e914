package memory

import (
	"context"
	"sort"

	"warden.dev/internal/auth"
)

type roleStore struct{ s *Store }

func (r roleStore) Create(_ context.Context, role auth.Role) (auth.Role, error) {
	defer r.s.lock()()
	st := r.s.st
	for _, existing := range st.roles {
		if existing.Name == role.Name {
			return auth.Role{}, auth.ErrDuplicate
		}
	}
	role.ID = st.id()
	role.CreatedAt = r.s.stamp()
	st.roles[role.ID] = role
	return role, nil
}

func (r roleStore) Get(_ context.Context, id int64) (auth.Role, error) {
	defer r.s.lock()()
	role, ok := r.s.st.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return role, nil
}

func (r roleStore) GetByName(_ context.Context, name string) (auth.Role, error) {
	defer r.s.lock()()
	for _, role := range r.s.st.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return auth.Role{}, auth.ErrNotFound
}

func (r roleStore) List(context.Context) ([]auth.Role, error) {
	defer r.s.lock()()
	out := make([]auth.Role, 0, len(r.s.st.roles))
	for _, role := range r.s.st.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r roleStore) Update(_ context.Context, role auth.Role) (auth.Role, error) {
	defer r.s.lock()()
	st := r.s.st
	current, ok := st.roles[role.ID]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	for _, existing := range st.roles {
		if existing.ID != role.ID && existing.Name == role.Name {
			return auth.Role{}, auth.ErrDuplicate
		}
	}
	current.Name = role.Name
	current.Description = role.Description
	st.roles[role.ID] = current
	return current, nil
}

// Delete cascades to the role's assignments and permission links like the SQL schema.
func (r roleStore) Delete(_ context.Context, id int64) error {
	defer r.s.lock()()
	st := r.s.st
	if _, ok := st.roles[id]; !ok {
		return auth.ErrNotFound
	}
	delete(st.roles, id)
	for k, a := range st.userRoles {
		if a.RoleID == id {
			delete(st.userRoles, k)
		}
	}
	for k, l := range st.rolePerms {
		if l.RoleID == id {
			delete(st.rolePerms, k)
		}
	}
	return nil
}

func (r roleStore) Assign(_ context.Context, a auth.RoleAssignment) (auth.RoleAssignment, error) {
	defer r.s.lock()()
	st := r.s.st
	if _, ok := st.users[a.UserID]; !ok {
		return auth.RoleAssignment{}, auth.ErrNotFound
	}
	if _, ok := st.roles[a.RoleID]; !ok {
		return auth.RoleAssignment{}, auth.ErrNotFound
	}
	for _, existing := range st.userRoles {
		if existing.UserID == a.UserID && existing.RoleID == a.RoleID {
			return auth.RoleAssignment{}, auth.ErrDuplicate
		}
	}
	a.ID = st.id()
	if a.AssignedAt.IsZero() {
		a.AssignedAt = r.s.stamp()
	}
	st.userRoles[a.ID] = a
	return a, nil
}

func (r roleStore) Unassign(_ context.Context, userID, roleID int64) error {
	defer r.s.lock()()
	for k, a := range r.s.st.userRoles {
		if a.UserID == userID && a.RoleID == roleID {
			delete(r.s.st.userRoles, k)
			return nil
		}
	}
	return auth.ErrNotFound
}

func (r roleStore) AssignmentExists(_ context.Context, userID, roleID int64) (bool, error) {
	defer r.s.lock()()
	for _, a := range r.s.st.userRoles {
		if a.UserID == userID && a.RoleID == roleID {
			return true, nil
		}
	}
	return false, nil
}

// Assignments returns the number of stored user-role rows. Tests use it to check that a
// rejected duplicate left exactly one row behind.
func (s *Store) Assignments(userID, roleID int64) int {
	defer s.lock()()
	n := 0
	for _, a := range s.st.userRoles {
		if a.UserID == userID && a.RoleID == roleID {
			n++
		}
	}
	return n
}

func (r roleStore) CountAssignments(_ context.Context, roleID int64) (int64, error) {
	defer r.s.lock()()
	var n int64
	for _, a := range r.s.st.userRoles {
		if a.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

func (r roleStore) NamesForUser(_ context.Context, userID int64) ([]string, error) {
	defer r.s.lock()()
	st := r.s.st
	out := []string{}
	for _, a := range st.userRoles {
		if a.UserID == userID {
			out = append(out, st.roles[a.RoleID].Name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r roleStore) Distribution(context.Context) (map[string]int64, error) {
	defer r.s.lock()()
	st := r.s.st
	out := make(map[string]int64, len(st.roles))
	for _, role := range st.roles {
		out[role.Name] = 0
	}
	for _, a := range st.userRoles {
		out[st.roles[a.RoleID].Name]++
	}
	return out, nil
}

func (r roleStore) PermissionCounts(context.Context) (map[int64]int64, error) {
	defer r.s.lock()()
	out := make(map[int64]int64)
	for _, l := range r.s.st.rolePerms {
		out[l.RoleID]++
	}
	return out, nil
}

type permissionStore struct{ s *Store }

func (p permissionStore) Create(_ context.Context, perm auth.Permission) (auth.Permission, error) {
	defer p.s.lock()()
	st := p.s.st
	for _, existing := range st.perms {
		if existing.Name == perm.Name {
			return auth.Permission{}, auth.ErrDuplicate
		}
	}
	perm.ID = st.id()
	perm.CreatedAt = p.s.stamp()
	st.perms[perm.ID] = perm
	return perm, nil
}

func (p permissionStore) Get(_ context.Context, id int64) (auth.Permission, error) {
	defer p.s.lock()()
	perm, ok := p.s.st.perms[id]
	if !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	return perm, nil
}

func (p permissionStore) List(context.Context) ([]auth.Permission, error) {
	defer p.s.lock()()
	out := make([]auth.Permission, 0, len(p.s.st.perms))
	for _, perm := range p.s.st.perms {
		out = append(out, perm)
	}
	sortPermissions(out)
	return out, nil
}

func (p permissionStore) ExistsByName(_ context.Context, name string) (bool, error) {
	defer p.s.lock()()
	for _, perm := range p.s.st.perms {
		if perm.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (p permissionStore) Link(_ context.Context, rp auth.RolePermission) (auth.RolePermission, error) {
	defer p.s.lock()()
	st := p.s.st
	if _, ok := st.roles[rp.RoleID]; !ok {
		return auth.RolePermission{}, auth.ErrNotFound
	}
	if _, ok := st.perms[rp.PermissionID]; !ok {
		return auth.RolePermission{}, auth.ErrNotFound
	}
	for _, l := range st.rolePerms {
		if l.RoleID == rp.RoleID && l.PermissionID == rp.PermissionID {
			return auth.RolePermission{}, auth.ErrDuplicate
		}
	}
	rp.ID = st.id()
	if rp.AssignedAt.IsZero() {
		rp.AssignedAt = p.s.stamp()
	}
	st.rolePerms[rp.ID] = rp
	return rp, nil
}

func (p permissionStore) Unlink(_ context.Context, roleID, permissionID int64) error {
	defer p.s.lock()()
	for k, l := range p.s.st.rolePerms {
		if l.RoleID == roleID && l.PermissionID == permissionID {
			delete(p.s.st.rolePerms, k)
			return nil
		}
	}
	return auth.ErrNotFound
}

func (p permissionStore) LinkExists(_ context.Context, roleID, permissionID int64) (bool, error) {
	defer p.s.lock()()
	for _, l := range p.s.st.rolePerms {
		if l.RoleID == roleID && l.PermissionID == permissionID {
			return true, nil
		}
	}
	return false, nil
}

func (p permissionStore) ListForRole(_ context.Context, roleID int64) ([]auth.Permission, error) {
	defer p.s.lock()()
	st := p.s.st
	out := []auth.Permission{}
	for _, l := range st.rolePerms {
		if l.RoleID == roleID {
			out = append(out, st.perms[l.PermissionID])
		}
	}
	sortPermissions(out)
	return out, nil
}

func (p permissionStore) NamesForUser(_ context.Context, userID int64) ([]string, error) {
	defer p.s.lock()()
	st := p.s.st
	roles := make(map[int64]struct{})
	for _, a := range st.userRoles {
		if a.UserID == userID {
			roles[a.RoleID] = struct{}{}
		}
	}
	seen := make(map[string]struct{})
	out := []string{}
	for _, l := range st.rolePerms {
		if _, ok := roles[l.RoleID]; !ok {
			continue
		}
		name := st.perms[l.PermissionID].Name
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func sortPermissions(perms []auth.Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
}
