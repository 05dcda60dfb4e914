// Package sweeper deactivates expired sessions and prunes old audit rows on a fixed interval.
package sweeper

import (
	"context"
	"errors"
	"time"

	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
)

// Cleaner deletes audit entries older than a cutoff. *audit.Service implements it.
type Cleaner interface {
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}

// Result reports what one pass changed.
type Result struct {
	SessionsDeactivated int64
	AuditRowsDeleted    int64
}

// Sweeper runs the periodic maintenance pass.
type Sweeper struct {
	sessions  auth.SessionStore
	cleaner   Cleaner
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// Option configures Sweeper.
type Option func(*Sweeper)

// WithAuditRetention enables audit pruning: rows older than retention are deleted each pass.
func WithAuditRetention(c Cleaner, retention time.Duration) Option {
	return func(s *Sweeper) {
		s.cleaner = c
		s.retention = retention
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Sweeper) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New builds a sweeper over sessions.
func New(sessions auth.SessionStore, interval time.Duration, opts ...Option) (*Sweeper, error) {
	if sessions == nil {
		return nil, errors.New("sweeper: session store is required")
	}
	if interval <= 0 {
		return nil, errors.New("sweeper: interval must be positive")
	}
	s := &Sweeper{sessions: sessions, interval: interval, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run sweeps once immediately and then on every tick until ctx ends. Failed passes are logged
// and retried on the next tick. Run returns nil on cancellation.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	obs.Log(ctx, "info", "sweeper started", map[string]any{
		"interval":  s.interval.String(),
		"retention": s.retention.String(),
	})
	s.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			obs.Log(context.Background(), "info", "sweeper stopped", nil)
			return nil
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Sweeper) pass(ctx context.Context) {
	res, err := s.SweepOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		obs.Log(ctx, "error", "sweep failed", map[string]any{"error": err.Error()})
		return
	}
	if res.SessionsDeactivated > 0 || res.AuditRowsDeleted > 0 {
		obs.Log(ctx, "info", "sweep completed", map[string]any{
			"sessions_deactivated": res.SessionsDeactivated,
			"audit_rows_deleted":   res.AuditRowsDeleted,
		})
	}
}

// SweepOnce runs a single pass. Expired sessions only lose their active flag, so their refresh
// tokens keep working.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	now := s.now()
	var res Result

	n, err := s.sessions.DeactivateExpired(ctx, now)
	if err != nil {
		return res, err
	}
	res.SessionsDeactivated = n
	obs.SessionsSwept.Add(float64(n))

	if s.cleaner != nil && s.retention > 0 {
		deleted, err := s.cleaner.Cleanup(ctx, now.Add(-s.retention))
		if err != nil {
			return res, err
		}
		res.AuditRowsDeleted = deleted
	}
	return res, nil
}
