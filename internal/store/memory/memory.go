// Package memory is an in-process auth.Store used by tests and local runs without Postgres.
// It enforces the same uniqueness and reference rules as the SQL schema.
package memory

import (
	"context"
	"sync"
	"time"

	"warden.dev/internal/auth"
)

var _ auth.Store = (*Store)(nil)

type state struct {
	next      int64
	users     map[int64]auth.User
	roles     map[int64]auth.Role
	perms     map[int64]auth.Permission
	userRoles map[int64]auth.RoleAssignment
	rolePerms map[int64]auth.RolePermission
	sessions  map[int64]auth.Session
}

func newState() *state {
	return &state{
		users:     make(map[int64]auth.User),
		roles:     make(map[int64]auth.Role),
		perms:     make(map[int64]auth.Permission),
		userRoles: make(map[int64]auth.RoleAssignment),
		rolePerms: make(map[int64]auth.RolePermission),
		sessions:  make(map[int64]auth.Session),
	}
}

func (st *state) id() int64 {
	st.next++
	return st.next
}

func (st *state) clone() *state {
	out := newState()
	out.next = st.next
	for k, v := range st.users {
		out.users[k] = v
	}
	for k, v := range st.roles {
		out.roles[k] = v
	}
	for k, v := range st.perms {
		out.perms[k] = v
	}
	for k, v := range st.userRoles {
		out.userRoles[k] = v
	}
	for k, v := range st.rolePerms {
		out.rolePerms[k] = v
	}
	for k, v := range st.sessions {
		out.sessions[k] = v
	}
	return out
}

// Store keeps everything in maps guarded by one mutex. Transactions hold the mutex for their
// whole duration and work on a copy that replaces the live state on commit.
type Store struct {
	mu    *sync.Mutex // nil on a transaction view; the parent holds the lock
	st    *state
	audit *auditLog
	now   func() time.Time
}

// Option configures Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		mu:    &sync.Mutex{},
		st:    newState(),
		audit: &auditLog{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.audit.now = s.now
	return s
}

func (s *Store) Users() auth.UserStore             { return userStore{s} }
func (s *Store) Roles() auth.RoleStore             { return roleStore{s} }
func (s *Store) Permissions() auth.PermissionStore { return permissionStore{s} }
func (s *Store) Sessions() auth.SessionStore       { return sessionStore{s} }

// Audit is shared by every transaction view and never rolled back.
func (s *Store) Audit() auth.AuditStore { return s.audit }

// InTx runs fn on a copy of the state and publishes the copy only when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(tx auth.Store) error) error {
	if s.mu == nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{st: s.st.clone(), audit: s.audit, now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

func (s *Store) lock() func() {
	if s.mu == nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) stamp() time.Time {
	return s.now().UTC()
}
