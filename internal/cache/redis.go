// Package cache fronts session lookups with Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"warden.dev/internal/auth"
)

const defaultPrefix = "warden"

// ErrUnavailable wraps any Redis transport failure.
var ErrUnavailable = errors.New("cache: redis unavailable")

// SessionCache stores usable sessions keyed by a hash of their access token. Entries expire at
// the earlier of the configured TTL and the session's own expiry. A per-user set indexes a
// user's entries for bulk eviction.
type SessionCache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ auth.SessionCache = (*SessionCache)(nil)

// Option configures SessionCache.
type Option func(*SessionCache)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(c *SessionCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *SessionCache) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewSessionCache wraps rdb. ttl bounds how long a revocation made behind the cache's back can
// go unnoticed.
func NewSessionCache(rdb redis.UniversalClient, ttl time.Duration, opts ...Option) (*SessionCache, error) {
	if rdb == nil {
		return nil, errors.New("cache: redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("cache: ttl must be greater than zero")
	}
	c := &SessionCache{rdb: rdb, prefix: defaultPrefix, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return client, nil
}

// entry is the cached form; Session hides its tokens from JSON.
type entry struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"uid"`
	Token        string     `json:"tok"`
	RefreshToken string     `json:"rt,omitempty"`
	CreatedAt    time.Time  `json:"ca"`
	ExpiresAt    time.Time  `json:"ea"`
	IsActive     bool       `json:"act"`
	IPAddress    string     `json:"ip,omitempty"`
	UserAgent    string     `json:"ua,omitempty"`
	RevokedAt    *time.Time `json:"ra,omitempty"`
}

func (c *SessionCache) tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (c *SessionCache) key(hash string) string {
	return c.prefix + ":sess:" + hash
}

func (c *SessionCache) userKey(userID int64) string {
	return c.prefix + ":user:" + strconv.FormatInt(userID, 10) + ":sess"
}

// Get returns the cached session for token. A miss reports false with a nil error.
func (c *SessionCache) Get(ctx context.Context, token string) (auth.Session, bool, error) {
	data, err := c.rdb.Get(ctx, c.key(c.tokenHash(token))).Bytes()
	if errors.Is(err, redis.Nil) {
		return auth.Session{}, false, nil
	}
	if err != nil {
		return auth.Session{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return auth.Session{}, false, fmt.Errorf("decode cached session: %w", err)
	}
	return auth.Session{
		ID:           e.ID,
		UserID:       e.UserID,
		Token:        e.Token,
		RefreshToken: e.RefreshToken,
		CreatedAt:    e.CreatedAt,
		ExpiresAt:    e.ExpiresAt,
		IsActive:     e.IsActive,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		RevokedAt:    e.RevokedAt,
	}, true, nil
}

// Put caches s until the earlier of the cache TTL and s.ExpiresAt. Unusable sessions are
// ignored.
func (c *SessionCache) Put(ctx context.Context, s auth.Session) error {
	now := c.now()
	if !s.Usable(now) {
		return nil
	}
	ttl := c.ttl
	if remaining := s.ExpiresAt.Sub(now); remaining < ttl {
		ttl = remaining
	}
	data, err := json.Marshal(entry{
		ID:           s.ID,
		UserID:       s.UserID,
		Token:        s.Token,
		RefreshToken: s.RefreshToken,
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
		IsActive:     s.IsActive,
		IPAddress:    s.IPAddress,
		UserAgent:    s.UserAgent,
		RevokedAt:    s.RevokedAt,
	})
	if err != nil {
		return err
	}

	hash := c.tokenHash(s.Token)
	userKey := c.userKey(s.UserID)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(hash), data, ttl)
		pipe.SAdd(ctx, userKey, hash)
		pipe.Expire(ctx, userKey, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Evict drops the entry for token. Missing entries are not an error.
func (c *SessionCache) Evict(ctx context.Context, token string) error {
	if err := c.rdb.Del(ctx, c.key(c.tokenHash(token))).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// EvictUser drops every entry indexed under the user.
func (c *SessionCache) EvictUser(ctx context.Context, userID int64) error {
	userKey := c.userKey(userID)
	hashes, err := c.rdb.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, c.key(h))
	}
	keys = append(keys, userKey)
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping reports whether Redis answers.
func (c *SessionCache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
