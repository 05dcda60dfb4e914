package pg

import (
	"context"

	"warden.dev/internal/auth"
)

const userColumns = `id, username, email, password_hash, first_name, last_name, status, created_at, updated_at`

type userStore struct{ q querier }

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s userStore) Create(ctx context.Context, u auth.User) (auth.User, error) {
	row := s.q.QueryRowContext(ctx, `
		insert into users (username, email, password_hash, first_name, last_name, status)
		values ($1, $2, $3, $4, $5, $6)
		returning `+userColumns,
		u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, string(u.Status))
	created, err := scanUser(row)
	if err != nil {
		return auth.User{}, mapError(err)
	}
	return created, nil
}

func (s userStore) Get(ctx context.Context, id int64) (auth.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	return u, mapError(err)
}

func (s userStore) GetByEmail(ctx context.Context, email string) (auth.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email))
	return u, mapError(err)
}

func (s userStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `select exists(select 1 from users where email = $1)`, email).Scan(&exists)
	return exists, err
}

func (s userStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `select exists(select 1 from users where username = $1)`, username).Scan(&exists)
	return exists, err
}

func (s userStore) UpdateProfile(ctx context.Context, id int64, firstName, lastName string) (auth.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `
		update users set first_name = $2, last_name = $3, updated_at = now()
		where id = $1
		returning `+userColumns, id, firstName, lastName))
	return u, mapError(err)
}

func (s userStore) UpdateStatus(ctx context.Context, id int64, status auth.UserStatus) (auth.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `
		update users set status = $2, updated_at = now()
		where id = $1
		returning `+userColumns, id, string(status)))
	return u, mapError(err)
}

func (s userStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return affected(s.q.ExecContext(ctx, `update users set password_hash = $2, updated_at = now() where id = $1`, id, passwordHash))
}

func (s userStore) CountByStatus(ctx context.Context) (map[auth.UserStatus]int64, error) {
	rows, err := s.q.QueryContext(ctx, `select status, count(*) from users group by status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[auth.UserStatus]int64{}
	for rows.Next() {
		var (
			status auth.UserStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (s userStore) Search(ctx context.Context, keyword string, limit, offset int) ([]auth.User, error) {
	return s.list(ctx, `
		select `+userColumns+` from users
		where first_name ilike $1 or last_name ilike $1 or username ilike $1 or email ilike $1
		order by id
		limit $2 offset $3`, "%"+escapeLike(keyword)+"%", limit, offset)
}

func (s userStore) ListByRole(ctx context.Context, roleName string) ([]auth.User, error) {
	return s.list(ctx, `
		select u.id, u.username, u.email, u.password_hash, u.first_name, u.last_name, u.status, u.created_at, u.updated_at
		from users u
		join user_roles ur on ur.user_id = u.id
		join roles r on r.id = ur.role_id
		where r.name = $1
		order by u.id`, roleName)
}

func (s userStore) list(ctx context.Context, query string, args ...any) ([]auth.User, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []auth.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := make([]rune, 0, len(s))
	for _, c := range s {
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return string(r)
}
