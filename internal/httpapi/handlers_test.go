package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"warden.dev/internal/audit"
	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
	"warden.dev/internal/store/memory"
)

const (
	testSecret   = "httpapi-test-secret-at-least-32-bytes"
	testPassword = "Secr3t!pass"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *memory.Store
	dir     *auth.Directory
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	logger := obs.Logger()
	orig := logger.Writer()
	logger.SetOutput(io.Discard)
	t.Cleanup(func() { logger.SetOutput(orig) })

	store := memory.New()
	ctx := context.Background()
	if err := auth.Bootstrap(ctx, store); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	rec := audit.NewRecorder(store.Audit())
	hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}

	codec, err := auth.NewTokenCodec(testSecret)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	engine, err := auth.NewEngine(store, codec, auth.WithHasher(hasher), auth.WithAuditRecorder(rec))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	dir, err := auth.NewDirectory(store, auth.WithDirectoryHasher(hasher), auth.WithDirectoryAudit(rec))
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	admin, err := auth.NewRoleAdmin(store, rec)
	if err != nil {
		t.Fatalf("NewRoleAdmin: %v", err)
	}
	svc, err := audit.NewService(store.Audit())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	api, err := New(Services{Engine: engine, Directory: dir, Admin: admin, Audit: svc, Recorder: rec}, ReadyProbe{}, Config{
		Version:    "test",
		RateBurst:  1000,
		RatePerSec: 1000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		dir:     dir,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path string, params url.Values, token string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, token)
}

func (c *apiClient) register(username, email string) auth.UserView {
	c.t.Helper()
	resp := c.post("/api/auth/register", auth.Registration{
		Username: username, Email: email, Password: testPassword, FirstName: "Test", LastName: "User",
	}, "")
	expectStatus(c.t, resp, http.StatusCreated)
	return decode[auth.UserView](c.t, resp)
}

func (c *apiClient) login(email string) auth.LoginResult {
	c.t.Helper()
	resp := c.post("/api/auth/login", map[string]string{"email": email, "password": testPassword}, "")
	expectStatus(c.t, resp, http.StatusOK)
	return decode[auth.LoginResult](c.t, resp)
}

// promote grants ADMIN directly through the directory.
func (c *apiClient) promote(userID int64) {
	c.t.Helper()
	ctx := context.Background()
	role, err := c.store.Roles().GetByName(ctx, auth.RoleNameAdmin)
	if err != nil {
		c.t.Fatalf("GetByName: %v", err)
	}
	if _, err := c.dir.AssignRole(ctx, userID, role.ID); err != nil {
		c.t.Fatalf("AssignRole: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, want, body)
	}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAPILoginLogoutFlow(t *testing.T) {
	c := newTestAPI(t)
	alice := c.register("alice", "alice@example.com")
	if len(alice.Roles) != 1 || alice.Roles[0] != auth.RoleNameUser {
		t.Fatalf("unexpected roles %v", alice.Roles)
	}

	res := c.login("alice@example.com")
	if res.Token == "" || res.RefreshToken == "" || res.UserID != alice.ID {
		t.Fatalf("unexpected login result %+v", res)
	}

	valid := decode[map[string]bool](t, c.get("/api/auth/validate", url.Values{"token": {res.Token}}, ""))
	if !valid["valid"] {
		t.Fatalf("token should validate")
	}

	me := c.get("/api/auth/me", nil, res.Token)
	expectStatus(t, me, http.StatusOK)
	if got := decode[auth.UserView](t, me); got.Email != "alice@example.com" {
		t.Fatalf("me = %+v", got)
	}

	expectStatus(t, c.post("/api/auth/logout", nil, res.Token), http.StatusOK)

	resp := c.get("/api/auth/me", nil, res.Token)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	// signature-only validation still accepts the token
	valid = decode[map[string]bool](t, c.get("/api/auth/validate", url.Values{"token": {res.Token}}, ""))
	if !valid["valid"] {
		t.Fatalf("validate must not consult sessions")
	}
}

func TestAPILoginErrors(t *testing.T) {
	c := newTestAPI(t)
	c.register("bob", "bob@example.com")

	resp := c.post("/api/auth/login", map[string]string{"email": "bob@example.com", "password": "wrong"}, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.post("/api/auth/login", map[string]string{"email": "nobody@example.com", "password": testPassword}, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.post("/api/auth/login", map[string]any{"email": "bob@example.com", "password": testPassword, "extra": 1}, "")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.post("/api/auth/register", auth.Registration{Username: "bob2", Email: "bob@example.com", Password: testPassword, FirstName: "Bob", LastName: "Two"}, "")
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = c.post("/api/auth/register", auth.Registration{Username: "weak", Email: "weak@example.com", Password: "abc", FirstName: "Weak", LastName: "Pass"}, "")
	expectStatus(t, resp, http.StatusBadRequest)
	body := decode[map[string]any](t, resp)
	if v, ok := body["violations"].([]any); !ok || len(v) == 0 {
		t.Fatalf("expected violations, got %v", body)
	}
}

func TestAPIRefresh(t *testing.T) {
	c := newTestAPI(t)
	c.register("carol", "carol@example.com")
	first := c.login("carol@example.com")

	resp := c.post("/api/auth/refresh", map[string]string{"refreshToken": first.RefreshToken}, "")
	expectStatus(t, resp, http.StatusOK)
	second := decode[auth.LoginResult](t, resp)
	if second.Token == first.Token {
		t.Fatalf("refresh must issue a new access token")
	}

	resp = c.post("/api/auth/refresh", map[string]string{"refreshToken": first.RefreshToken}, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	expectStatus(t, c.get("/api/auth/me", nil, second.Token), http.StatusOK)
}

func TestAPIAuthorization(t *testing.T) {
	c := newTestAPI(t)
	admin := c.register("admin", "admin@example.com")
	c.promote(admin.ID)
	user := c.register("dave", "dave@example.com")

	adminTok := c.login("admin@example.com").Token
	userTok := c.login("dave@example.com").Token

	resp := c.get("/api/roles", nil, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.get("/api/roles", nil, userTok)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	expectStatus(t, c.get("/api/roles", nil, adminTok), http.StatusOK)
	expectStatus(t, c.get("/api/roles/available", nil, userTok), http.StatusOK)

	// self access without USER_READ
	expectStatus(t, c.get(fmt.Sprintf("/api/users/%d", user.ID), nil, userTok), http.StatusOK)
	resp = c.get(fmt.Sprintf("/api/users/%d", admin.ID), nil, userTok)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
	expectStatus(t, c.get(fmt.Sprintf("/api/users/%d", user.ID), nil, adminTok), http.StatusOK)

	resp = c.get("/api/audit/security", nil, userTok)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
	resp = c.get("/api/audit/security", nil, adminTok)
	expectStatus(t, resp, http.StatusOK)
	denials := map[string]int{}
	for _, ev := range decode[[]auth.AuditEvent](t, resp) {
		if ev.Status == auth.AuditFailed {
			denials[ev.Action]++
		}
	}
	if denials[auth.ActionUnauthorizedAccess] != 1 || denials[auth.ActionPermissionDenied] != 3 {
		t.Fatalf("security denials = %v", denials)
	}

	resp = c.get("/api/users/abc", nil, adminTok)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestAPIRoleAdministration(t *testing.T) {
	c := newTestAPI(t)
	admin := c.register("root", "root@example.com")
	c.promote(admin.ID)
	tok := c.login("root@example.com").Token
	user := c.register("erin", "erin@example.com")

	resp := c.post("/api/roles", map[string]string{"name": "EDITOR", "description": "Edits"}, tok)
	expectStatus(t, resp, http.StatusCreated)
	role := decode[auth.Role](t, resp)

	resp = c.post("/api/roles", map[string]string{"name": "EDITOR"}, tok)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = c.post("/api/permissions", map[string]string{"name": "DOC_EDIT", "resource": "DOC", "action": "EDIT"}, tok)
	expectStatus(t, resp, http.StatusCreated)
	perm := decode[auth.Permission](t, resp)

	linkPath := fmt.Sprintf("/api/roles/%d/permissions/%d", role.ID, perm.ID)
	expectStatus(t, c.post(linkPath, nil, tok), http.StatusCreated)
	resp = c.post(linkPath, nil, tok)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	assignPath := fmt.Sprintf("/api/users/%d/roles/%d", user.ID, role.ID)
	expectStatus(t, c.post(assignPath, nil, tok), http.StatusCreated)

	erinTok := c.login("erin@example.com").Token
	me := decode[auth.UserView](t, c.get("/api/auth/me", nil, erinTok))
	if len(me.Roles) != 2 {
		t.Fatalf("roles = %v", me.Roles)
	}

	resp = c.do(http.MethodDelete, fmt.Sprintf("/api/roles/%d", role.ID), nil, tok)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	expectStatus(t, c.do(http.MethodDelete, assignPath, nil, tok), http.StatusNoContent)
	expectStatus(t, c.do(http.MethodDelete, fmt.Sprintf("/api/roles/%d", role.ID), nil, tok), http.StatusNoContent)

	resp = c.get(fmt.Sprintf("/api/roles/%d", role.ID), nil, tok)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestAPISuspendBlocksLogin(t *testing.T) {
	c := newTestAPI(t)
	admin := c.register("ops", "ops@example.com")
	c.promote(admin.ID)
	tok := c.login("ops@example.com").Token
	frank := c.register("frank", "frank@example.com")
	frankTok := c.login("frank@example.com").Token

	expectStatus(t, c.post(fmt.Sprintf("/api/users/%d/suspend", frank.ID), nil, tok), http.StatusOK)

	resp := c.get("/api/auth/me", nil, frankTok)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.post("/api/auth/login", map[string]string{"email": "frank@example.com", "password": testPassword}, "")
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	events := decode[[]auth.AuditEvent](t, c.get(fmt.Sprintf("/api/audit/users/%d", frank.ID), nil, tok))
	found := false
	for _, ev := range events {
		if ev.Action == auth.ActionLoginBlocked && ev.Status == auth.AuditFailed {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected LOGIN_BLOCKED event, got %+v", events)
	}

	expectStatus(t, c.post(fmt.Sprintf("/api/users/%d/reactivate", frank.ID), nil, tok), http.StatusOK)
	c.login("frank@example.com")
}

func TestAPISessionsAndLogoutAll(t *testing.T) {
	c := newTestAPI(t)
	gina := c.register("gina", "gina@example.com")
	first := c.login("gina@example.com")
	second := c.login("gina@example.com")

	resp := c.get(fmt.Sprintf("/api/auth/sessions/%d", gina.ID), nil, first.Token)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[sessionsResponse](t, resp); got.ActiveSessions != 2 || len(got.Sessions) != 2 {
		t.Fatalf("sessions = %+v", got)
	}

	resp = c.post("/api/auth/invalidate-session", map[string]string{"token": second.Token}, first.Token)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.post(fmt.Sprintf("/api/auth/logout-all/%d", gina.ID), nil, first.Token)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[map[string]any](t, resp); got["sessionsEnded"] != float64(2) {
		t.Fatalf("logout-all = %v", got)
	}

	resp = c.get("/api/auth/me", nil, second.Token)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestAPIChangePassword(t *testing.T) {
	c := newTestAPI(t)
	hank := c.register("hank", "hank@example.com")
	tok := c.login("hank@example.com").Token
	path := fmt.Sprintf("/api/users/%d/password", hank.ID)

	resp := c.post(path, map[string]string{"currentPassword": "nope", "newPassword": "N3w!password"}, tok)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	expectStatus(t, c.post(path, map[string]string{"currentPassword": testPassword, "newPassword": "N3w!password"}, tok), http.StatusOK)

	resp = c.post("/api/auth/login", map[string]string{"email": "hank@example.com", "password": "N3w!password"}, "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestHealthEndpoints(t *testing.T) {
	c := newTestAPI(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := c.get(path, nil, "")
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}
	resp := c.get("/nope", nil, "")
	expectStatus(t, resp, http.StatusNotFound)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
	resp.Body.Close()
}

func TestAPIStats(t *testing.T) {
	c := newTestAPI(t)
	admin := c.register("admin", "admin@example.com")
	c.promote(admin.ID)
	c.register("erin", "erin@example.com")
	adminTok := c.login("admin@example.com").Token
	userTok := c.login("erin@example.com").Token

	resp := c.get("/stats", nil, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
	resp = c.get("/stats", nil, userTok)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.get("/stats", nil, adminTok)
	expectStatus(t, resp, http.StatusOK)
	stats := decode[audit.Stats](t, resp)
	if stats.ActiveUsersLastHour != 2 {
		t.Fatalf("activeUsersLastHour = %d, want 2", stats.ActiveUsersLastHour)
	}
	counts := map[string]int64{}
	for _, ac := range stats.ActionStatsLast24Hours {
		counts[ac.Action] = ac.Count
	}
	if counts[auth.ActionLoginSuccess] != 2 || counts[auth.ActionUserRegistration] != 2 {
		t.Fatalf("actionStatsLast24Hours = %+v", stats.ActionStatsLast24Hours)
	}
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return fmt.Errorf("redis down") }

func TestReadyReportsCacheFailure(t *testing.T) {
	a := &API{readyProbe: ReadyProbe{Cache: downPinger{}}}
	rr := httptest.NewRecorder()
	a.Ready(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}
