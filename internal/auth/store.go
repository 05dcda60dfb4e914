package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	Sessions() SessionStore
	Audit() AuditStore

	// InTx runs fn against a transactional view of the store. fn's error rolls everything back.
	// The Audit store of the view is never transactional.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// UserStore manages users. Lookups return ErrNotFound when nothing matches and Create returns
// ErrDuplicate when username or email is taken.
type UserStore interface {
	Create(ctx context.Context, u User) (User, error)
	Get(ctx context.Context, id int64) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	UpdateProfile(ctx context.Context, id int64, firstName, lastName string) (User, error)
	UpdateStatus(ctx context.Context, id int64, status UserStatus) (User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	CountByStatus(ctx context.Context) (map[UserStatus]int64, error)
	Search(ctx context.Context, keyword string, limit, offset int) ([]User, error)
	ListByRole(ctx context.Context, roleName string) ([]User, error)
}

// RoleStore manages roles and user assignments.
type RoleStore interface {
	Create(ctx context.Context, role Role) (Role, error)
	Get(ctx context.Context, id int64) (Role, error)
	GetByName(ctx context.Context, name string) (Role, error)
	List(ctx context.Context) ([]Role, error)
	Update(ctx context.Context, role Role) (Role, error)
	Delete(ctx context.Context, id int64) error

	Assign(ctx context.Context, a RoleAssignment) (RoleAssignment, error)
	Unassign(ctx context.Context, userID, roleID int64) error
	AssignmentExists(ctx context.Context, userID, roleID int64) (bool, error)
	CountAssignments(ctx context.Context, roleID int64) (int64, error)
	NamesForUser(ctx context.Context, userID int64) ([]string, error)
	Distribution(ctx context.Context) (map[string]int64, error)
	PermissionCounts(ctx context.Context) (map[int64]int64, error)
}

// PermissionStore manages the permission catalog and role links.
type PermissionStore interface {
	Create(ctx context.Context, p Permission) (Permission, error)
	Get(ctx context.Context, id int64) (Permission, error)
	List(ctx context.Context) ([]Permission, error)
	ExistsByName(ctx context.Context, name string) (bool, error)

	Link(ctx context.Context, rp RolePermission) (RolePermission, error)
	Unlink(ctx context.Context, roleID, permissionID int64) error
	LinkExists(ctx context.Context, roleID, permissionID int64) (bool, error)
	ListForRole(ctx context.Context, roleID int64) ([]Permission, error)
	NamesForUser(ctx context.Context, userID int64) ([]string, error)
}

// SessionStore is the durable record of issued tokens.
type SessionStore interface {
	Create(ctx context.Context, s Session) (Session, error)
	FindByToken(ctx context.Context, token string) (Session, error)
	FindByRefreshToken(ctx context.Context, refreshToken string) (Session, error)
	Rotate(ctx context.Context, id int64, oldRefresh, token, refreshToken string, expiresAt time.Time) (Session, error)
	Deactivate(ctx context.Context, id int64) error
	DeactivateAll(ctx context.Context, userID int64) (int64, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
	CountActive(ctx context.Context, userID int64, now time.Time) (int64, error)
	ListActive(ctx context.Context, userID int64, now time.Time) ([]Session, error)
}

// AuditStore appends immutable entries and answers forensic queries.
type AuditStore interface {
	Append(ctx context.Context, ev AuditEvent) (AuditEvent, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]AuditEvent, error)
	ListByActions(ctx context.Context, actions []string, since time.Time) ([]AuditEvent, error)
	CountFailedByIP(ctx context.Context, ip string, since time.Time) (int64, error)
	ActionCounts(ctx context.Context, since time.Time) ([]ActionCount, error)
	CountActiveUsers(ctx context.Context, since time.Time) (int64, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SessionCache fronts session lookups on the authentication path. Only usable sessions are
// cached; Get reports false on a miss.
type SessionCache interface {
	Get(ctx context.Context, token string) (Session, bool, error)
	Put(ctx context.Context, s Session) error
	Evict(ctx context.Context, token string) error
	EvictUser(ctx context.Context, userID int64) error
}
