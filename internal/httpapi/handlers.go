// Package httpapi exposes the auth engine, user directory, role admin and audit queries over
// HTTP under /api.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"warden.dev/internal/audit"
	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
)

const serviceName = "warden-api"

// Pinger is anything readiness can ping besides the database, such as the session cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the database and, when configured, the cache.
type ReadyProbe struct {
	DB    *sql.DB
	Cache Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Cache != nil {
		if err := rp.Cache.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Services are the domain components behind the routes.
type Services struct {
	Engine    *auth.Engine
	Directory *auth.Directory
	Admin     *auth.RoleAdmin
	Audit     *audit.Service
	// Recorder receives access-denial events. Optional.
	Recorder auth.AuditRecorder
}

// Config tunes the middleware chain.
type Config struct {
	Version      string
	CORSOrigins  []string
	MaxBodyBytes int64
	RateBurst    int
	RatePerSec   float64
}

// API is the HTTP layer.
type API struct {
	engine    *auth.Engine
	directory *auth.Directory
	admin     *auth.RoleAdmin
	audits    *audit.Service
	recorder  auth.AuditRecorder

	readyProbe ReadyProbe
	cfg        Config
	router     chi.Router
}

// New wires routes and middleware. Every service is required.
func New(svc Services, rp ReadyProbe, cfg Config) (*API, error) {
	if svc.Engine == nil || svc.Directory == nil || svc.Admin == nil || svc.Audit == nil {
		return nil, errors.New("httpapi: engine, directory, admin and audit services are required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	a := &API{
		engine:     svc.Engine,
		directory:  svc.Directory,
		admin:      svc.Admin,
		audits:     svc.Audit,
		recorder:   svc.Recorder,
		readyProbe: rp,
		cfg:        cfg,
	}
	a.router = a.routes()
	return a, nil
}

// Handler returns the root handler, wrapped with metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, chimw.Recoverer, SecurityHeaders, CORS(a.cfg.CORSOrigins), withClient)
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.cfg.MaxBodyBytes) })
	if a.cfg.RatePerSec > 0 {
		burst, perSec := a.cfg.RateBurst, a.cfg.RatePerSec
		r.Use(func(next http.Handler) http.Handler { return RateLimit(next, burst, perSec) })
	}

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.With(a.withAuth, a.requirePermission(auth.PermAuditRead)).Get("/stats", a.Stats)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", a.handleRegister)
			r.Post("/login", a.handleLogin)
			r.Post("/refresh", a.handleRefresh)
			r.Get("/validate", a.handleValidate)

			r.Group(func(r chi.Router) {
				r.Use(a.withAuth)
				r.Post("/logout", a.handleLogout)
				r.Post("/logout-all/{userId}", a.handleLogoutAll)
				r.Get("/me", a.handleMe)
				r.Get("/sessions/{userId}", a.handleSessions)
				r.Post("/invalidate-session", a.handleInvalidateSession)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)

			r.Get("/roles/available", a.handleAvailableRoles)
			roles := r.With(a.requirePermission(auth.PermRoleManage))
			roles.Get("/roles", a.handleListRoles)
			roles.Post("/roles", a.handleCreateRole)
			roles.Get("/roles/distribution", a.handleRoleDistribution)
			roles.Get("/roles/name/{name}", a.handleRoleByName)
			roles.Get("/roles/{roleId}", a.handleGetRole)
			roles.Put("/roles/{roleId}", a.handleUpdateRole)
			roles.Delete("/roles/{roleId}", a.handleDeleteRole)
			roles.Get("/roles/{roleId}/permissions", a.handleRolePermissions)
			roles.Post("/roles/{roleId}/permissions/{permissionId}", a.handleAssignPermission)
			roles.Delete("/roles/{roleId}/permissions/{permissionId}", a.handleRemovePermission)
			roles.Get("/permissions", a.handleListPermissions)
			roles.Post("/permissions", a.handleCreatePermission)

			r.Route("/users", func(r chi.Router) {
				r.With(a.requirePermission(auth.PermUserRead)).Get("/search", a.handleSearchUsers)
				r.With(a.requirePermission(auth.PermUserRead)).Get("/stats", a.handleUserStats)
				r.With(a.requirePermission(auth.PermUserRead)).Get("/role/{roleName}", a.handleUsersByRole)
				r.With(a.requirePermission(auth.PermUserRead)).Get("/email/{email}", a.handleUserByEmail)
				r.Get("/{id}", a.handleGetUser)
				r.Put("/{id}/profile", a.handleUpdateProfile)
				r.Post("/{id}/password", a.handleChangePassword)
				r.With(a.requirePermission(auth.PermUserManage)).Post("/{id}/suspend", a.handleSuspend)
				r.With(a.requirePermission(auth.PermUserManage)).Post("/{id}/reactivate", a.handleReactivate)
				r.With(a.requirePermission(auth.PermUserManage)).Post("/{id}/roles/{roleId}", a.handleAssignRole)
				r.With(a.requirePermission(auth.PermUserManage)).Delete("/{id}/roles/{roleId}", a.handleRemoveRole)
			})

			r.Route("/audit", func(r chi.Router) {
				r.Get("/users/{userId}", a.handleUserAudit)
				r.Group(func(r chi.Router) {
					r.Use(a.requirePermission(auth.PermAuditRead))
					r.Get("/security", a.handleSecurityEvents)
					r.Get("/actions", a.handleActionStatistics)
					r.Get("/failed-attempts", a.handleFailedAttempts)
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.cfg.Version,
	})
}

// Stats reports recent user activity and per-action counts from the audit log.
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.audits.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeDomainError maps auth errors onto status codes. Unexpected errors are logged and
// reported without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var policy *auth.PolicyError
	switch {
	case errors.As(err, &policy):
		payload := map[string]any{"error": "password does not meet policy", "violations": policy.Violations}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusBadRequest, payload)
	case errors.Is(err, auth.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrAccountNotActive), errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrDuplicate):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		obs.Log(r.Context(), "error", "request failed", map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"error":  err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// readJSON decodes the body or writes the 400/413 itself and reports false.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// pathID parses a positive int64 path parameter or writes a 400.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func parsePositiveInt(name, raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New(name + " must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

// parseSince reads an optional RFC 3339 "since" query parameter.
func parseSince(r *http.Request) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("since must be an RFC 3339 timestamp")
	}
	return t, nil
}
