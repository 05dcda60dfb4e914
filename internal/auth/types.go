package auth

import "time"

// UserStatus is the lifecycle state of an account. Only ACTIVE accounts may log in.
type UserStatus string

const (
	StatusActive              UserStatus = "ACTIVE"
	StatusInactive            UserStatus = "INACTIVE"
	StatusSuspended           UserStatus = "SUSPENDED"
	StatusPendingVerification UserStatus = "PENDING_VERIFICATION"
)

// Valid reports whether s is one of the known statuses.
func (s UserStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusPendingVerification:
		return true
	}
	return false
}

// User is an account in the directory. Username and email never change after creation.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Role groups permissions.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Permission is a fine-grained capability on a resource.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RoleAssignment gives a user a role. AssignedBy is zero when unknown.
type RoleAssignment struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	RoleID     int64     `json:"roleId"`
	AssignedAt time.Time `json:"assignedAt"`
	AssignedBy int64     `json:"assignedBy,omitempty"`
}

// RolePermission links roles to permissions.
type RolePermission struct {
	ID           int64     `json:"id"`
	RoleID       int64     `json:"roleId"`
	PermissionID int64     `json:"permissionId"`
	AssignedAt   time.Time `json:"assignedAt"`
}

// Session binds an issued access token (and the refresh token minted with it) to a user.
// RevokedAt is set by explicit deactivation; expiry alone only clears IsActive.
type Session struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"userId"`
	Token        string     `json:"-"`
	RefreshToken string     `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	IsActive     bool       `json:"isActive"`
	IPAddress    string     `json:"ipAddress,omitempty"`
	UserAgent    string     `json:"userAgent,omitempty"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
}

// Usable reports whether the session can still authorize requests at now.
func (s Session) Usable(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}

// AuditStatus is the outcome recorded for an audit event.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "SUCCESS"
	AuditFailed  AuditStatus = "FAILED"
	AuditPending AuditStatus = "PENDING"
)

// AuditEvent is an append-only record of a security-relevant action. UserID is zero when
// no account could be attributed.
type AuditEvent struct {
	ID        int64       `json:"id"`
	UserID    int64       `json:"userId,omitempty"`
	Action    string      `json:"action"`
	Resource  string      `json:"resource"`
	Timestamp time.Time   `json:"timestamp"`
	IPAddress string      `json:"ipAddress,omitempty"`
	UserAgent string      `json:"userAgent,omitempty"`
	Details   string      `json:"details,omitempty"`
	Status    AuditStatus `json:"status"`
}

// ActionCount is one row of the audit action histogram.
type ActionCount struct {
	Action string `json:"action"`
	Count  int64  `json:"count"`
}

// ClientInfo describes where a request came from.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// LoginResult is returned by login and refresh.
type LoginResult struct {
	UserID       int64    `json:"userId"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
	ExpiresIn    int64    `json:"expiresIn"`
	Roles        []string `json:"roles"`
	Permissions  []string `json:"permissions"`
}

// UserView is the public projection of a user with its role names.
type UserView struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Status    UserStatus `json:"status"`
	Roles     []string   `json:"roles"`
	CreatedAt time.Time  `json:"createdAt"`
}

func newUserView(u User, roles []string) UserView {
	if roles == nil {
		roles = []string{}
	}
	return UserView{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Status:    u.Status,
		Roles:     roles,
		CreatedAt: u.CreatedAt,
	}
}

// RoleSummary is a role with the number of permissions granted to it.
type RoleSummary struct {
	Role
	PermissionCount int64 `json:"permissionCount"`
}

// UserStats summarises the directory by status.
type UserStats struct {
	Total     int64 `json:"totalUsers"`
	Active    int64 `json:"activeUsers"`
	Inactive  int64 `json:"inactiveUsers"`
	Suspended int64 `json:"suspendedUsers"`
}
