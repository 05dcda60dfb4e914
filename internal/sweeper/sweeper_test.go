package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden.dev/internal/audit"
	"warden.dev/internal/auth"
	"warden.dev/internal/store/memory"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seedSessions(t *testing.T, store *memory.Store) int64 {
	t.Helper()
	ctx := context.Background()
	u, err := store.Users().Create(ctx, auth.User{Username: "sweepy", Email: "sweepy@example.com", PasswordHash: "x", Status: auth.StatusActive})
	require.NoError(t, err)
	for i, lifetime := range []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Hour} {
		_, err := store.Sessions().Create(ctx, auth.Session{
			UserID:       u.ID,
			Token:        "tok-" + string(rune('a'+i)),
			RefreshToken: "ref-" + string(rune('a'+i)),
			CreatedAt:    base,
			ExpiresAt:    base.Add(lifetime),
			IsActive:     true,
		})
		require.NoError(t, err)
	}
	return u.ID
}

func TestSweepOnceDeactivatesExpired(t *testing.T) {
	store := memory.New()
	userID := seedSessions(t, store)
	now := base.Add(time.Hour)

	s, err := New(store.Sessions(), time.Minute, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	res, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.SessionsDeactivated)
	assert.Zero(t, res.AuditRowsDeleted)

	n, err := store.Sessions().CountActive(context.Background(), userID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sess, err := store.Sessions().FindByRefreshToken(context.Background(), "ref-a")
	require.NoError(t, err)
	assert.False(t, sess.IsActive)
	assert.Nil(t, sess.RevokedAt, "expiry must not revoke the refresh token")

	res, err = s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.SessionsDeactivated)
}

func TestSweepOncePrunesAudit(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	for _, ts := range []time.Time{base.Add(-48 * time.Hour), base.Add(-25 * time.Hour), base.Add(-time.Hour)} {
		_, err := store.Audit().Append(ctx, auth.AuditEvent{Action: auth.ActionLoginSuccess, Resource: auth.ResourceAuth, Status: auth.AuditSuccess, Timestamp: ts})
		require.NoError(t, err)
	}
	svc, err := audit.NewService(store.Audit())
	require.NoError(t, err)

	s, err := New(store.Sessions(), time.Minute,
		WithClock(func() time.Time { return base }),
		WithAuditRetention(svc, 24*time.Hour))
	require.NoError(t, err)

	res, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.AuditRowsDeleted)
}

type failingSessions struct{ auth.SessionStore }

func (failingSessions) DeactivateExpired(context.Context, time.Time) (int64, error) {
	return 0, errors.New("db down")
}

func TestSweepOnceReportsStoreError(t *testing.T) {
	s, err := New(failingSessions{}, time.Minute)
	require.NoError(t, err)
	_, err = s.SweepOnce(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestRunStopsOnCancel(t *testing.T) {
	store := memory.New()
	seedSessions(t, store)
	s, err := New(store.Sessions(), 10*time.Millisecond, WithClock(func() time.Time { return base.Add(time.Hour) }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		sess, err := store.Sessions().FindByToken(context.Background(), "tok-a")
		return err == nil && !sess.IsActive
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, time.Minute)
	assert.Error(t, err)
	_, err = New(memory.New().Sessions(), 0)
	assert.Error(t, err)
}
