package auth

import (
	"context"

	"warden.dev/internal/obs"
)

// Audit actions, grouped by the resource they are recorded under.
const (
	ResourceAuth     = "AUTH"
	ResourceUser     = "USER"
	ResourceUserRole = "USER_ROLE"
	ResourceRole     = "ROLE"

	ActionLoginFailed        = "LOGIN_FAILED"
	ActionLoginBlocked       = "LOGIN_BLOCKED"
	ActionLoginSuccess       = "LOGIN_SUCCESS"
	ActionLogout             = "LOGOUT"
	ActionLogoutAll          = "LOGOUT_ALL"
	ActionTokenRefreshed     = "TOKEN_REFRESHED"
	ActionSessionInvalidated = "SESSION_INVALIDATED"

	ActionUserRegistration     = "USER_REGISTRATION"
	ActionProfileUpdate        = "PROFILE_UPDATE"
	ActionUserSuspended        = "USER_SUSPENDED"
	ActionUserReactivated      = "USER_REACTIVATED"
	ActionPasswordChanged      = "PASSWORD_CHANGED"
	ActionPasswordChangeFailed = "PASSWORD_CHANGE_FAILED"
	ActionRoleAssignment       = "ROLE_ASSIGNMENT"
	ActionRoleRemoval          = "ROLE_REMOVAL"

	ActionRoleCreated        = "ROLE_CREATED"
	ActionRoleUpdated        = "ROLE_UPDATED"
	ActionRoleDeleted        = "ROLE_DELETED"
	ActionPermissionCreated  = "PERMISSION_CREATED"
	ActionPermissionAssigned = "PERMISSION_ASSIGNED"
	ActionPermissionRevoked  = "PERMISSION_REVOKED"

	ActionUnauthorizedAccess = "UNAUTHORIZED_ACCESS"
	ActionPermissionDenied   = "PERMISSION_DENIED"
)

// SecurityActions are the actions reported as security events.
var SecurityActions = []string{
	ActionLoginFailed,
	ActionLoginBlocked,
	ActionPasswordChangeFailed,
	ActionUnauthorizedAccess,
	ActionPermissionDenied,
}

// AuditRecorder receives append-only audit events. Implementations must persist outside any
// transaction the caller is running so FAILED events survive a rollback.
type AuditRecorder interface {
	Record(ctx context.Context, ev AuditEvent) error
}

type storeRecorder struct {
	store AuditStore
}

func (r storeRecorder) Record(ctx context.Context, ev AuditEvent) error {
	_, err := r.store.Append(ctx, ev)
	return err
}

func event(userID int64, action, resource string, status AuditStatus, client ClientInfo, details string) AuditEvent {
	return AuditEvent{
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		Status:    status,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		Details:   details,
	}
}

// failedEvent marks ev FAILED and replaces its details with the cause.
func failedEvent(ev AuditEvent, cause error) AuditEvent {
	ev.Status = AuditFailed
	ev.Details = cause.Error()
	return ev
}

// recordAudit hands ev to rec. A sink failure is logged, never returned, so it cannot mask
// the outcome of the operation being audited.
func recordAudit(ctx context.Context, rec AuditRecorder, ev AuditEvent) {
	if rec == nil {
		return
	}
	if err := rec.Record(ctx, ev); err != nil {
		obs.Log(ctx, "error", "audit_record_failed", map[string]any{
			"action": ev.Action,
			"error":  err.Error(),
		})
	}
}
