package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"warden.dev/internal/obs"
)

// Engine orchestrates login, logout, refresh and session-aware authentication.
type Engine struct {
	store    Store
	codec    *TokenCodec
	hasher   Hasher
	resolver *Resolver
	audit    AuditRecorder
	cache    SessionCache
	now      func() time.Time
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine) error

// WithHasher replaces the bcrypt hasher.
func WithHasher(h Hasher) EngineOption {
	return func(e *Engine) error {
		if h == nil {
			return errors.New("auth: hasher must not be nil")
		}
		e.hasher = h
		return nil
	}
}

// WithAuditRecorder routes audit events to rec instead of the store's audit table.
func WithAuditRecorder(rec AuditRecorder) EngineOption {
	return func(e *Engine) error {
		if rec != nil {
			e.audit = rec
		}
		return nil
	}
}

// WithSessionCache fronts session lookups in Authenticate with c.
func WithSessionCache(c SessionCache) EngineOption {
	return func(e *Engine) error {
		e.cache = c
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) error {
		if fn != nil {
			e.now = fn
		}
		return nil
	}
}

// NewEngine constructs an Engine.
func NewEngine(store Store, codec *TokenCodec, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: token codec is required")
	}
	resolver, err := NewResolver(store.Roles(), store.Permissions())
	if err != nil {
		return nil, err
	}
	e := &Engine{
		store:    store,
		codec:    codec,
		hasher:   BcryptHasher{},
		resolver: resolver,
		audit:    storeRecorder{store: store.Audit()},
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Resolver exposes the RBAC resolver used by the engine.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// Codec exposes the token codec used by the engine.
func (e *Engine) Codec() *TokenCodec { return e.codec }

// Login verifies credentials and opens a session. An unknown email and a wrong password fail
// identically with ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, email, password string, client ClientInfo) (result LoginResult, err error) {
	ctx, span := startSpan(ctx, "login")
	defer func() { endSpan(span, err) }()

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, invalidf("email and password are required")
	}

	user, err := e.store.Users().GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		e.loginFailed(ctx, 0, ActionLoginFailed, "user_not_found", client)
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	span.SetAttributes(attribute.Int64("user.id", user.ID))

	if err := e.hasher.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			return LoginResult{}, fmt.Errorf("verify password: %w", err)
		}
		e.loginFailed(ctx, user.ID, ActionLoginFailed, "bad_password", client)
		return LoginResult{}, ErrInvalidCredentials
	}
	if user.Status != StatusActive {
		e.loginFailed(ctx, user.ID, ActionLoginBlocked, "blocked", client)
		return LoginResult{}, fmt.Errorf("%w: account status is %s", ErrAccountNotActive, user.Status)
	}

	access, refresh, err := e.issuePair(user.Email)
	if err != nil {
		return LoginResult{}, err
	}
	now := e.now().UTC()
	if _, err := e.store.Sessions().Create(ctx, Session{
		UserID:       user.ID,
		Token:        access,
		RefreshToken: refresh,
		CreatedAt:    now,
		ExpiresAt:    now.Add(e.codec.AccessTTL()),
		IsActive:     true,
		IPAddress:    client.IP,
		UserAgent:    client.UserAgent,
	}); err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}

	result, err = e.result(ctx, user, access, refresh)
	if err != nil {
		return LoginResult{}, err
	}
	obs.LoginAttempts.WithLabelValues("success").Inc()
	recordAudit(ctx, e.audit, event(user.ID, ActionLoginSuccess, ResourceAuth, AuditSuccess, client, "User logged in successfully"))
	return result, nil
}

// loginFailed records why a login was refused. The reason never reaches the caller.
func (e *Engine) loginFailed(ctx context.Context, userID int64, action, reason string, client ClientInfo) {
	obs.LoginAttempts.WithLabelValues(reason).Inc()
	obs.Log(ctx, "warn", "login_rejected", map[string]any{
		"reason":  reason,
		"user_id": userID,
		"ip":      client.IP,
	})
	details := map[string]string{
		"user_not_found": "Login attempt for unknown email",
		"bad_password":   "Invalid password",
		"blocked":        "Account is not active",
	}[reason]
	recordAudit(ctx, e.audit, event(userID, action, ResourceAuth, AuditFailed, client, details))
}

// Logout deactivates the session bound to token.
func (e *Engine) Logout(ctx context.Context, token string, client ClientInfo) (err error) {
	ctx, span := startSpan(ctx, "logout")
	defer func() { endSpan(span, err) }()
	return e.endSession(ctx, token, ActionLogout, "User logged out", client)
}

// InvalidateSession is Logout as an administrative action with its own audit tag.
func (e *Engine) InvalidateSession(ctx context.Context, token string, client ClientInfo) (err error) {
	ctx, span := startSpan(ctx, "invalidate_session")
	defer func() { endSpan(span, err) }()
	return e.endSession(ctx, token, ActionSessionInvalidated, "Session invalidated", client)
}

func (e *Engine) endSession(ctx context.Context, token, action, details string, client ClientInfo) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return invalidf("token is required")
	}
	sessions := e.store.Sessions()
	sess, err := sessions.FindByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	if err := sessions.Deactivate(ctx, sess.ID); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	e.evict(ctx, token)
	recordAudit(ctx, e.audit, event(sess.UserID, action, ResourceAuth, AuditSuccess, client, details))
	return nil
}

// LogoutAll deactivates every session of the user.
func (e *Engine) LogoutAll(ctx context.Context, userID int64, client ClientInfo) (n int64, err error) {
	ctx, span := startSpan(ctx, "logout_all", attribute.Int64("user.id", userID))
	defer func() { endSpan(span, err) }()

	if _, err := e.store.Users().Get(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	n, err = e.store.Sessions().DeactivateAll(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("deactivate sessions: %w", err)
	}
	e.evictUser(ctx, userID)
	recordAudit(ctx, e.audit, event(userID, ActionLogoutAll, ResourceAuth, AuditSuccess, client,
		fmt.Sprintf("All sessions logged out (%d)", n)))
	return n, nil
}

// Refresh exchanges a refresh token for a new pair. The refresh token must belong to a
// session that was never revoked; that session is rotated in place, so each refresh token
// works once.
func (e *Engine) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (result LoginResult, err error) {
	ctx, span := startSpan(ctx, "refresh")
	defer func() { endSpan(span, err) }()

	claims, err := e.codec.VerifyKind(refreshToken, RefreshToken)
	if err != nil {
		recordAudit(ctx, e.audit, event(0, ActionTokenRefreshed, ResourceAuth, AuditFailed, client, "Invalid or expired refresh token"))
		return LoginResult{}, fmt.Errorf("%w: invalid or expired refresh token", ErrInvalidCredentials)
	}
	user, err := e.store.Users().GetByEmail(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return LoginResult{}, ErrUserNotFound
	}
	if err != nil {
		return LoginResult{}, err
	}
	if user.Status != StatusActive {
		recordAudit(ctx, e.audit, event(user.ID, ActionTokenRefreshed, ResourceAuth, AuditFailed, client, "Account is not active"))
		return LoginResult{}, fmt.Errorf("%w: account status is %s", ErrAccountNotActive, user.Status)
	}

	sessions := e.store.Sessions()
	sess, err := sessions.FindByRefreshToken(ctx, refreshToken)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return LoginResult{}, err
	}
	if err != nil || sess.RevokedAt != nil || sess.UserID != user.ID {
		recordAudit(ctx, e.audit, event(user.ID, ActionTokenRefreshed, ResourceAuth, AuditFailed, client, "Refresh token has no live session"))
		return LoginResult{}, fmt.Errorf("%w: refresh token has no live session", ErrInvalidCredentials)
	}

	access, refresh, err := e.issuePair(user.Email)
	if err != nil {
		return LoginResult{}, err
	}
	expires := e.now().UTC().Add(e.codec.AccessTTL())
	if _, err := sessions.Rotate(ctx, sess.ID, refreshToken, access, refresh, expires); err != nil {
		if errors.Is(err, ErrNotFound) {
			recordAudit(ctx, e.audit, event(user.ID, ActionTokenRefreshed, ResourceAuth, AuditFailed, client, "Refresh token already redeemed"))
			return LoginResult{}, fmt.Errorf("%w: refresh token has no live session", ErrInvalidCredentials)
		}
		return LoginResult{}, fmt.Errorf("rotate session: %w", err)
	}
	e.evict(ctx, sess.Token)

	result, err = e.result(ctx, user, access, refresh)
	if err != nil {
		return LoginResult{}, err
	}
	recordAudit(ctx, e.audit, event(user.ID, ActionTokenRefreshed, ResourceAuth, AuditSuccess, client, "Token refreshed"))
	return result, nil
}

// ValidateToken reports whether token is a well-signed, unexpired access token. It does not
// consult sessions.
func (e *Engine) ValidateToken(token string) bool {
	_, err := e.codec.VerifyKind(token, AccessToken)
	return err == nil
}

// Authenticate resolves a bearer access token into a principal. Unlike ValidateToken it
// requires the token's session to be active and unexpired.
func (e *Engine) Authenticate(ctx context.Context, token string) (p Principal, err error) {
	ctx, span := startSpan(ctx, "authenticate")
	defer func() { endSpan(span, err) }()

	claims, err := e.codec.VerifyKind(token, AccessToken)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: invalid or expired token", ErrInvalidCredentials)
	}
	sess, err := e.session(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, fmt.Errorf("%w: session not found", ErrInvalidCredentials)
	}
	if err != nil {
		return Principal{}, err
	}
	if !sess.Usable(e.now()) {
		return Principal{}, fmt.Errorf("%w: session is no longer active", ErrInvalidCredentials)
	}

	user, err := e.store.Users().Get(ctx, sess.UserID)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrUserNotFound
	}
	if err != nil {
		return Principal{}, err
	}
	if user.Email != claims.Subject {
		return Principal{}, fmt.Errorf("%w: token subject does not match session", ErrInvalidCredentials)
	}
	if user.Status != StatusActive {
		return Principal{}, fmt.Errorf("%w: account status is %s", ErrAccountNotActive, user.Status)
	}
	p, err = e.resolver.Principal(ctx, user)
	if err != nil {
		return Principal{}, err
	}
	p.Session = sess
	return p, nil
}

// CurrentUser returns the user named by a verified token, with its roles.
func (e *Engine) CurrentUser(ctx context.Context, token string) (UserView, error) {
	claims, err := e.codec.Verify(token)
	if err != nil {
		return UserView{}, fmt.Errorf("%w: invalid or expired token", ErrInvalidCredentials)
	}
	user, err := e.store.Users().GetByEmail(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return UserView{}, ErrUserNotFound
	}
	if err != nil {
		return UserView{}, err
	}
	roles, err := e.resolver.RolesOf(ctx, user.ID)
	if err != nil {
		return UserView{}, err
	}
	return newUserView(user, roles), nil
}

// SessionCount returns the number of usable sessions of the user.
func (e *Engine) SessionCount(ctx context.Context, userID int64) (int64, error) {
	return e.store.Sessions().CountActive(ctx, userID, e.now())
}

// ActiveSessions lists the usable sessions of the user.
func (e *Engine) ActiveSessions(ctx context.Context, userID int64) ([]Session, error) {
	return e.store.Sessions().ListActive(ctx, userID, e.now())
}

// ExpirationSeconds is the access-token lifetime reported to clients.
func (e *Engine) ExpirationSeconds() int64 { return e.codec.ExpirationSeconds() }

func (e *Engine) issuePair(subject string) (string, string, error) {
	access, err := e.codec.Issue(subject, AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := e.codec.Issue(subject, RefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("issue refresh token: %w", err)
	}
	return access, refresh, nil
}

func (e *Engine) result(ctx context.Context, user User, access, refresh string) (LoginResult, error) {
	roles, err := e.resolver.RolesOf(ctx, user.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("resolve roles: %w", err)
	}
	perms, err := e.resolver.PermissionsOf(ctx, user.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("resolve permissions: %w", err)
	}
	return LoginResult{
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
		Token:        access,
		RefreshToken: refresh,
		ExpiresIn:    e.codec.ExpirationSeconds(),
		Roles:        roles,
		Permissions:  perms,
	}, nil
}

// session looks token up in the cache, then the store. Only usable sessions are cached.
func (e *Engine) session(ctx context.Context, token string) (Session, error) {
	if e.cache != nil {
		sess, ok, err := e.cache.Get(ctx, token)
		if err != nil {
			obs.Log(ctx, "warn", "session_cache_get_failed", map[string]any{"error": err.Error()})
		} else if ok {
			return sess, nil
		}
	}
	sess, err := e.store.Sessions().FindByToken(ctx, token)
	if err != nil {
		return Session{}, err
	}
	if e.cache != nil && sess.Usable(e.now()) {
		if err := e.cache.Put(ctx, sess); err != nil {
			obs.Log(ctx, "warn", "session_cache_put_failed", map[string]any{"error": err.Error()})
		}
	}
	return sess, nil
}

func (e *Engine) evict(ctx context.Context, token string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Evict(ctx, token); err != nil {
		obs.Log(ctx, "error", "session_cache_evict_failed", map[string]any{"error": err.Error()})
	}
}

func (e *Engine) evictUser(ctx context.Context, userID int64) {
	if e.cache == nil {
		return
	}
	if err := e.cache.EvictUser(ctx, userID); err != nil {
		obs.Log(ctx, "error", "session_cache_evict_failed", map[string]any{"error": err.Error(), "user_id": userID})
	}
}
