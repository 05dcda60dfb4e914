package pg

import (
	"context"
	"database/sql"
	"time"

	"warden.dev/internal/auth"
)

type auditStore struct{ q querier }

const auditColumns = `id, coalesce(user_id, 0), action, resource, timestamp, coalesce(ip_address, ''),
	coalesce(user_agent, ''), coalesce(details, ''), status`

func scanAudit(row scanner) (auth.AuditEvent, error) {
	var ev auth.AuditEvent
	err := row.Scan(&ev.ID, &ev.UserID, &ev.Action, &ev.Resource, &ev.Timestamp, &ev.IPAddress, &ev.UserAgent, &ev.Details, &ev.Status)
	return ev, err
}

func (s auditStore) Append(ctx context.Context, ev auth.AuditEvent) (auth.AuditEvent, error) {
	ts := sql.NullTime{Time: ev.Timestamp, Valid: !ev.Timestamp.IsZero()}
	created, err := scanAudit(s.q.QueryRowContext(ctx, `
		insert into audit_logs (user_id, action, resource, timestamp, ip_address, user_agent, details, status)
		values ($1, $2, $3, coalesce($4, now()), $5, $6, $7, $8)
		returning `+auditColumns,
		nullIfZero(ev.UserID), ev.Action, ev.Resource, ts, nullIfEmpty(ev.IPAddress), nullIfEmpty(ev.UserAgent),
		nullIfEmpty(ev.Details), string(ev.Status)))
	return created, mapError(err)
}

func (s auditStore) ListByUser(ctx context.Context, userID int64, limit int) ([]auth.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx, `
		select `+auditColumns+` from audit_logs
		where user_id = $1
		order by timestamp desc, id desc
		limit $2`, userID, limit)
}

func (s auditStore) ListByActions(ctx context.Context, actions []string, since time.Time) ([]auth.AuditEvent, error) {
	return s.list(ctx, `
		select `+auditColumns+` from audit_logs
		where action = any($1) and timestamp >= $2
		order by timestamp desc, id desc`, actions, since)
}

func (s auditStore) CountFailedByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, `
		select count(*) from audit_logs
		where ip_address = $1 and status = 'FAILED' and timestamp >= $2`, ip, since).Scan(&n)
	return n, err
}

func (s auditStore) ActionCounts(ctx context.Context, since time.Time) ([]auth.ActionCount, error) {
	rows, err := s.q.QueryContext(ctx, `
		select action, count(*) as n from audit_logs
		where timestamp >= $1
		group by action
		order by n desc, action`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []auth.ActionCount{}
	for rows.Next() {
		var c auth.ActionCount
		if err := rows.Scan(&c.Action, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountActiveUsers counts distinct users with any event since the given time.
func (s auditStore) CountActiveUsers(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, `
		select count(distinct user_id) from audit_logs
		where timestamp >= $1`, since).Scan(&n)
	return n, err
}

func (s auditStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return rowsAffected(s.q.ExecContext(ctx, `delete from audit_logs where timestamp < $1`, before))
}

func (s auditStore) list(ctx context.Context, query string, args ...any) ([]auth.AuditEvent, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []auth.AuditEvent{}
	for rows.Next() {
		ev, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
