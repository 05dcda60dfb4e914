package pg

import (
	"context"
	"errors"

	"warden.dev/internal/auth"
)

type roleStore struct{ q querier }

const roleColumns = `id, name, coalesce(description, ''), created_at`

func scanRole(row scanner) (auth.Role, error) {
	var r auth.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt)
	return r, err
}

func (s roleStore) Create(ctx context.Context, role auth.Role) (auth.Role, error) {
	r, err := scanRole(s.q.QueryRowContext(ctx, `
		insert into roles (name, description) values ($1, $2)
		returning `+roleColumns, role.Name, nullIfEmpty(role.Description)))
	return r, mapError(err)
}

func (s roleStore) Get(ctx context.Context, id int64) (auth.Role, error) {
	r, err := scanRole(s.q.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
	return r, mapError(err)
}

func (s roleStore) GetByName(ctx context.Context, name string) (auth.Role, error) {
	r, err := scanRole(s.q.QueryRowContext(ctx, `select `+roleColumns+` from roles where name = $1`, name))
	return r, mapError(err)
}

func (s roleStore) List(ctx context.Context) ([]auth.Role, error) {
	rows, err := s.q.QueryContext(ctx, `select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []auth.Role{}
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s roleStore) Update(ctx context.Context, role auth.Role) (auth.Role, error) {
	r, err := scanRole(s.q.QueryRowContext(ctx, `
		update roles set name = $2, description = $3
		where id = $1
		returning `+roleColumns, role.ID, role.Name, nullIfEmpty(role.Description)))
	return r, mapError(err)
}

func (s roleStore) Delete(ctx context.Context, id int64) error {
	return affected(s.q.ExecContext(ctx, `delete from roles where id = $1`, id))
}

func (s roleStore) Assign(ctx context.Context, a auth.RoleAssignment) (auth.RoleAssignment, error) {
	var assignedBy *int64
	err := s.q.QueryRowContext(ctx, `
		insert into user_roles (user_id, role_id, assigned_at, assigned_by)
		values ($1, $2, $3, $4)
		returning id, assigned_at, assigned_by`,
		a.UserID, a.RoleID, a.AssignedAt, nullIfZero(a.AssignedBy)).Scan(&a.ID, &a.AssignedAt, &assignedBy)
	if err != nil {
		return auth.RoleAssignment{}, mapError(err)
	}
	if assignedBy != nil {
		a.AssignedBy = *assignedBy
	}
	return a, nil
}

func (s roleStore) Unassign(ctx context.Context, userID, roleID int64) error {
	return affected(s.q.ExecContext(ctx, `delete from user_roles where user_id = $1 and role_id = $2`, userID, roleID))
}

func (s roleStore) AssignmentExists(ctx context.Context, userID, roleID int64) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`select exists(select 1 from user_roles where user_id = $1 and role_id = $2)`, userID, roleID).Scan(&exists)
	return exists, err
}

func (s roleStore) CountAssignments(ctx context.Context, roleID int64) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, `select count(*) from user_roles where role_id = $1`, roleID).Scan(&n)
	return n, err
}

func (s roleStore) NamesForUser(ctx context.Context, userID int64) ([]string, error) {
	return queryStrings(ctx, s.q, `
		select r.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name`, userID)
}

func (s roleStore) Distribution(ctx context.Context) (map[string]int64, error) {
	rows, err := s.q.QueryContext(ctx, `
		select r.name, count(ur.id)
		from roles r
		left join user_roles ur on ur.role_id = r.id
		group by r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var (
			name string
			n    int64
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

func (s roleStore) PermissionCounts(ctx context.Context) (map[int64]int64, error) {
	rows, err := s.q.QueryContext(ctx, `select role_id, count(*) from role_permissions group by role_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]int64{}
	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

type permissionStore struct{ q querier }

const permissionColumns = `id, name, resource, action, coalesce(description, ''), created_at`

func scanPermission(row scanner) (auth.Permission, error) {
	var p auth.Permission
	err := row.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt)
	return p, err
}

func (s permissionStore) Create(ctx context.Context, p auth.Permission) (auth.Permission, error) {
	created, err := scanPermission(s.q.QueryRowContext(ctx, `
		insert into permissions (name, resource, action, description)
		values ($1, $2, $3, $4)
		returning `+permissionColumns, p.Name, p.Resource, p.Action, nullIfEmpty(p.Description)))
	return created, mapError(err)
}

func (s permissionStore) Get(ctx context.Context, id int64) (auth.Permission, error) {
	p, err := scanPermission(s.q.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where id = $1`, id))
	return p, mapError(err)
}

func (s permissionStore) List(ctx context.Context) ([]auth.Permission, error) {
	return s.list(ctx, `select `+permissionColumns+` from permissions order by name`)
}

func (s permissionStore) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `select exists(select 1 from permissions where name = $1)`, name).Scan(&exists)
	return exists, err
}

func (s permissionStore) Link(ctx context.Context, rp auth.RolePermission) (auth.RolePermission, error) {
	err := s.q.QueryRowContext(ctx, `
		insert into role_permissions (role_id, permission_id, assigned_at)
		values ($1, $2, $3)
		returning id, assigned_at`, rp.RoleID, rp.PermissionID, rp.AssignedAt).Scan(&rp.ID, &rp.AssignedAt)
	if err != nil {
		return auth.RolePermission{}, mapError(err)
	}
	return rp, nil
}

func (s permissionStore) Unlink(ctx context.Context, roleID, permissionID int64) error {
	return affected(s.q.ExecContext(ctx,
		`delete from role_permissions where role_id = $1 and permission_id = $2`, roleID, permissionID))
}

func (s permissionStore) LinkExists(ctx context.Context, roleID, permissionID int64) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`select exists(select 1 from role_permissions where role_id = $1 and permission_id = $2)`,
		roleID, permissionID).Scan(&exists)
	return exists, err
}

func (s permissionStore) ListForRole(ctx context.Context, roleID int64) ([]auth.Permission, error) {
	return s.list(ctx, `
		select p.id, p.name, p.resource, p.action, coalesce(p.description, ''), p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.name`, roleID)
}

func (s permissionStore) NamesForUser(ctx context.Context, userID int64) ([]string, error) {
	return queryStrings(ctx, s.q, `
		select distinct p.name
		from user_roles ur
		join role_permissions rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
		order by p.name`, userID)
}

func (s permissionStore) list(ctx context.Context, query string, args ...any) ([]auth.Permission, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []auth.Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func queryStrings(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	if q == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
