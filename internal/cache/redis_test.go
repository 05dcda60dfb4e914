package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden.dev/internal/auth"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newTestCache(t *testing.T, ttl time.Duration, now time.Time) (*miniredis.Miniredis, *SessionCache) {
	t.Helper()
	mr, rdb := newTestRedis(t)
	c, err := NewSessionCache(rdb, ttl, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return mr, c
}

func session(id, userID int64, token string, now time.Time, lifetime time.Duration) auth.Session {
	return auth.Session{
		ID:           id,
		UserID:       userID,
		Token:        token,
		RefreshToken: "r-" + token,
		CreatedAt:    now,
		ExpiresAt:    now.Add(lifetime),
		IsActive:     true,
		IPAddress:    "203.0.113.9",
		UserAgent:    "test",
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	_, c := newTestCache(t, 5*time.Minute, now)
	ctx := context.Background()

	s := session(1, 7, "tok-a", now, time.Hour)
	require.NoError(t, c.Put(ctx, s))

	got, ok, err := c.Get(ctx, "tok-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.UserID, got.UserID)
	assert.Equal(t, "tok-a", got.Token)
	assert.Equal(t, "r-tok-a", got.RefreshToken)
	assert.True(t, got.ExpiresAt.Equal(s.ExpiresAt))

	_, ok, err = c.Get(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutDoesNotStoreRawToken(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mr, c := newTestCache(t, 5*time.Minute, now)
	require.NoError(t, c.Put(context.Background(), session(1, 7, "secret-token", now, time.Hour)))

	for _, key := range mr.Keys() {
		assert.NotContains(t, key, "secret-token")
	}
}

func TestPutBoundsTTLBySessionExpiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mr, c := newTestCache(t, 10*time.Minute, now)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, session(1, 7, "short", now, 2*time.Minute)))
	require.NoError(t, c.Put(ctx, session(2, 7, "long", now, 2*time.Hour)))

	assert.Equal(t, 2*time.Minute, mr.TTL(c.key(c.tokenHash("short"))))
	assert.Equal(t, 10*time.Minute, mr.TTL(c.key(c.tokenHash("long"))))

	mr.FastForward(3 * time.Minute)
	_, ok, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = c.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPutSkipsUnusableSessions(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mr, c := newTestCache(t, time.Minute, now)
	ctx := context.Background()

	inactive := session(1, 7, "inactive", now, time.Hour)
	inactive.IsActive = false
	require.NoError(t, c.Put(ctx, inactive))
	require.NoError(t, c.Put(ctx, session(2, 7, "expired", now.Add(-2*time.Hour), time.Hour)))

	assert.Empty(t, mr.Keys())
}

func TestEvictAndEvictUser(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mr, c := newTestCache(t, time.Minute, now)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, session(1, 7, "a", now, time.Hour)))
	require.NoError(t, c.Put(ctx, session(2, 7, "b", now, time.Hour)))
	require.NoError(t, c.Put(ctx, session(3, 8, "c", now, time.Hour)))

	require.NoError(t, c.Evict(ctx, "a"))
	require.NoError(t, c.Evict(ctx, "a"))
	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)

	require.NoError(t, c.EvictUser(ctx, 7))
	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok)
	assert.False(t, mr.Exists(c.userKey(7)))

	_, ok, _ = c.Get(ctx, "c")
	assert.True(t, ok, "other users keep their entries")
}

func TestUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c, err := NewSessionCache(rdb, time.Minute)
	require.NoError(t, err)
	mr.Close()

	_, _, err = c.Get(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, c.Ping(context.Background()), ErrUnavailable)
}

func TestNewSessionCacheValidates(t *testing.T) {
	_, rdb := newTestRedis(t)
	_, err := NewSessionCache(nil, time.Minute)
	assert.Error(t, err)
	_, err = NewSessionCache(rdb, 0)
	assert.Error(t, err)
}

func TestConnect(t *testing.T) {
	mr, _ := newTestRedis(t)
	client, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	_ = client.Close()

	_, err = Connect(context.Background(), "not a url")
	assert.Error(t, err)
}
