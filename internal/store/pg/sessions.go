package pg

import (
	"context"
	"database/sql"
	"time"

	"warden.dev/internal/auth"
)

type sessionStore struct{ q querier }

const sessionColumns = `id, user_id, token, coalesce(refresh_token, ''), created_at, expires_at, is_active,
	coalesce(ip_address, ''), coalesce(user_agent, ''), revoked_at`

func scanSession(row scanner) (auth.Session, error) {
	var (
		s       auth.Session
		revoked sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Token, &s.RefreshToken, &s.CreatedAt, &s.ExpiresAt, &s.IsActive,
		&s.IPAddress, &s.UserAgent, &revoked)
	if revoked.Valid {
		t := revoked.Time
		s.RevokedAt = &t
	}
	return s, err
}

func (s sessionStore) Create(ctx context.Context, sess auth.Session) (auth.Session, error) {
	if !sess.ExpiresAt.After(sess.CreatedAt) {
		return auth.Session{}, auth.ErrValidation
	}
	created, err := scanSession(s.q.QueryRowContext(ctx, `
		insert into user_sessions (user_id, token, refresh_token, created_at, expires_at, is_active, ip_address, user_agent)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning `+sessionColumns,
		sess.UserID, sess.Token, nullIfEmpty(sess.RefreshToken), sess.CreatedAt, sess.ExpiresAt, sess.IsActive,
		nullIfEmpty(sess.IPAddress), nullIfEmpty(sess.UserAgent)))
	return created, mapError(err)
}

func (s sessionStore) FindByToken(ctx context.Context, token string) (auth.Session, error) {
	sess, err := scanSession(s.q.QueryRowContext(ctx, `select `+sessionColumns+` from user_sessions where token = $1`, token))
	return sess, mapError(err)
}

func (s sessionStore) FindByRefreshToken(ctx context.Context, refreshToken string) (auth.Session, error) {
	sess, err := scanSession(s.q.QueryRowContext(ctx,
		`select `+sessionColumns+` from user_sessions where refresh_token = $1`, refreshToken))
	return sess, mapError(err)
}

// Rotate swaps the token pair of a never-revoked session still holding oldRefresh. A
// concurrent rotation of the same pair matches no row.
func (s sessionStore) Rotate(ctx context.Context, id int64, oldRefresh, token, refreshToken string, expiresAt time.Time) (auth.Session, error) {
	sess, err := scanSession(s.q.QueryRowContext(ctx, `
		update user_sessions
		set token = $3, refresh_token = $4, expires_at = $5, is_active = true
		where id = $1 and refresh_token = $2 and revoked_at is null
		returning `+sessionColumns, id, oldRefresh, token, refreshToken, expiresAt))
	return sess, mapError(err)
}

func (s sessionStore) Deactivate(ctx context.Context, id int64) error {
	return affected(s.q.ExecContext(ctx, `
		update user_sessions
		set is_active = false, revoked_at = coalesce(revoked_at, now())
		where id = $1`, id))
}

func (s sessionStore) DeactivateAll(ctx context.Context, userID int64) (int64, error) {
	return rowsAffected(s.q.ExecContext(ctx, `
		update user_sessions
		set is_active = false, revoked_at = now()
		where user_id = $1 and revoked_at is null`, userID))
}

// DeactivateExpired only clears the flag; an expired session can still be refreshed.
func (s sessionStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	return rowsAffected(s.q.ExecContext(ctx,
		`update user_sessions set is_active = false where is_active and expires_at < $1`, now))
}

func (s sessionStore) CountActive(ctx context.Context, userID int64, now time.Time) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx,
		`select count(*) from user_sessions where user_id = $1 and is_active and expires_at > $2`, userID, now).Scan(&n)
	return n, err
}

func (s sessionStore) ListActive(ctx context.Context, userID int64, now time.Time) ([]auth.Session, error) {
	rows, err := s.q.QueryContext(ctx, `
		select `+sessionColumns+` from user_sessions
		where user_id = $1 and is_active and expires_at > $2
		order by created_at desc, id desc`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []auth.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func rowsAffected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}
