package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"warden.dev/internal/auth"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	defaultWindow       = 24 * time.Hour
)

// Service answers forensic queries over the audit log.
type Service struct {
	store auth.AuditStore
	now   func() time.Time
}

// NewService builds a query service over store.
func NewService(store auth.AuditStore) (*Service, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	return &Service{store: store, now: time.Now}, nil
}

// UserHistory returns the most recent events attributed to the user.
func (s *Service) UserHistory(ctx context.Context, userID int64, limit int) ([]auth.AuditEvent, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// FailedAttemptsByIP counts FAILED events from ip since the given time.
func (s *Service) FailedAttemptsByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return 0, fmt.Errorf("%w: ip is required", auth.ErrValidation)
	}
	return s.store.CountFailedByIP(ctx, ip, s.since(since))
}

// ActionStatistics returns event counts per action, most frequent first.
func (s *Service) ActionStatistics(ctx context.Context, since time.Time) ([]auth.ActionCount, error) {
	return s.store.ActionCounts(ctx, s.since(since))
}

// ActiveUsers counts distinct users with audit activity since the given time.
func (s *Service) ActiveUsers(ctx context.Context, since time.Time) (int64, error) {
	return s.store.CountActiveUsers(ctx, s.since(since))
}

// Stats summarizes the last hour of user activity and the last day of actions.
type Stats struct {
	ActiveUsersLastHour    int64              `json:"activeUsersLastHour"`
	ActionStatsLast24Hours []auth.ActionCount `json:"actionStatsLast24Hours"`
}

// Stats reports activity relative to now.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	now := s.now()
	active, err := s.store.CountActiveUsers(ctx, now.Add(-time.Hour))
	if err != nil {
		return Stats{}, err
	}
	actions, err := s.store.ActionCounts(ctx, now.Add(-defaultWindow))
	if err != nil {
		return Stats{}, err
	}
	return Stats{ActiveUsersLastHour: active, ActionStatsLast24Hours: actions}, nil
}

// SecurityEvents lists failed and blocked logins, failed password changes and access denials.
func (s *Service) SecurityEvents(ctx context.Context, since time.Time) ([]auth.AuditEvent, error) {
	return s.store.ListByActions(ctx, auth.SecurityActions, s.since(since))
}

// Cleanup deletes events older than before and reports how many went.
func (s *Service) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	if before.IsZero() {
		return 0, fmt.Errorf("%w: cutoff is required", auth.ErrValidation)
	}
	return s.store.DeleteBefore(ctx, before)
}

// since defaults a zero time to the last day.
func (s *Service) since(t time.Time) time.Time {
	if t.IsZero() {
		return s.now().Add(-defaultWindow)
	}
	return t
}
