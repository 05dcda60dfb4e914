package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth requires a bearer access token backed by a live session.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			a.recordDenied(r, auth.ActionUnauthorizedAccess, err.Error())
			w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.engine.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				err = auth.ErrInvalidCredentials
			}
			a.recordDenied(r, auth.ActionUnauthorizedAccess, err.Error())
			writeDomainError(w, r, err)
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission rejects principals lacking perm with 403.
func (a *API) requirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				a.recordDenied(r, auth.ActionUnauthorizedAccess, "authentication required")
				w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if !principal.HasPermission(perm) {
				a.recordDenied(r, auth.ActionPermissionDenied, "missing permission "+perm)
				writeError(w, r, http.StatusForbidden, "missing permission "+perm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ensureSelfOr lets a principal act on its own account, or on any account when it holds perm.
func (a *API) ensureSelfOr(w http.ResponseWriter, r *http.Request, userID int64, perm string) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		a.recordDenied(r, auth.ActionUnauthorizedAccess, "authentication required")
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if principal.User.ID == userID || (perm != "" && principal.HasPermission(perm)) {
		return true
	}
	a.recordDenied(r, auth.ActionPermissionDenied, "not allowed to act on user "+strconv.FormatInt(userID, 10))
	writeError(w, r, http.StatusForbidden, "not allowed to act on another user")
	return false
}

// recordDenied audits a rejected request as FAILED against the calling principal, if any.
func (a *API) recordDenied(r *http.Request, action, details string) {
	if a.recorder == nil {
		return
	}
	var userID int64
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
		userID = principal.User.ID
	}
	client := clientInfo(r)
	err := a.recorder.Record(r.Context(), auth.AuditEvent{
		UserID:    userID,
		Action:    action,
		Resource:  auth.ResourceAuth,
		Status:    auth.AuditFailed,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		Details:   r.Method + " " + r.URL.Path + ": " + details,
	})
	if err != nil {
		obs.Log(r.Context(), "error", "audit_record_failed", map[string]any{
			"action": action,
			"error":  err.Error(),
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
