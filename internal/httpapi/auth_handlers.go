package httpapi

import (
	"net/http"
	"strings"

	"warden.dev/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type invalidateRequest struct {
	Token string `json:"token"`
}

type sessionsResponse struct {
	UserID         int64          `json:"userId"`
	ActiveSessions int64          `json:"activeSessions"`
	Sessions       []auth.Session `json:"sessions"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.Registration
	if !readJSON(w, r, &req) {
		return
	}
	user, err := a.directory.Register(r.Context(), req, clientInfo(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}
	res, err := a.engine.Login(r.Context(), req.Email, req.Password, clientInfo(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refreshToken is required")
		return
	}
	res, err := a.engine.Refresh(r.Context(), strings.TrimSpace(req.RefreshToken), clientInfo(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleValidate checks signature and expiry only; it does not consult sessions.
func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token, _ = extractBearerToken(r.Header.Get(authHeader))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": token != "" && a.engine.ValidateToken(token)})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.TokenFromContext(r.Context())
	if err := a.engine.Logout(r.Context(), token, clientInfo(r)); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Logged out successfully")
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok || !a.ensureSelfOr(w, r, userID, auth.PermUserManage) {
		return
	}
	n, err := a.engine.LogoutAll(r.Context(), userID, clientInfo(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "All sessions logged out",
		"sessionsEnded": n,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.TokenFromContext(r.Context())
	user, err := a.engine.CurrentUser(r.Context(), token)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userId")
	if !ok || !a.ensureSelfOr(w, r, userID, auth.PermSessionRead) {
		return
	}
	sessions, err := a.engine.ActiveSessions(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []auth.Session{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{
		UserID:         userID,
		ActiveSessions: int64(len(sessions)),
		Sessions:       sessions,
	})
}

// handleInvalidateSession ends the session behind any token. Callers without USER_MANAGE may
// only end their own current session.
func (a *API) handleInvalidateSession(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if !readJSON(w, r, &req) {
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	own, _ := auth.TokenFromContext(r.Context())
	if req.Token != own && !principal.HasPermission(auth.PermUserManage) {
		writeError(w, r, http.StatusForbidden, "missing permission "+auth.PermUserManage)
		return
	}
	if err := a.engine.InvalidateSession(r.Context(), req.Token, clientInfo(r)); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Session invalidated")
}
