package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/userhub/userhub/internal/audit"
	"github.com/userhub/userhub/internal/auth"
	"github.com/userhub/userhub/internal/platform/server"
	"github.com/userhub/userhub/internal/rbac"
	"github.com/userhub/userhub/internal/users"
)

func TestServer_HealthCheck(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	err := json.Unmarshal(w.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_ReadinessCheck_NoDB(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestServer_ReadinessCheck_Ready(t *testing.T) {
	srv := server.New(":0", server.Dependencies{DB: fakePinger{}})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_NotFound(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_StartStop(t *testing.T) {
	srv := server.New("127.0.0.1:0", server.Dependencies{})

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	cancel()

	err := <-errCh
	assert.NoError(t, err)
}

const (
	adminUsername = "root"
	adminPassword = "root-password"
)

type testApp struct {
	srv  *server.Server
	gate *rbac.Gate
	svc  *users.Service
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	tokens := auth.NewTokenService("test-signing-key-must-be-32-chars!!", "userhub", time.Hour)
	hasher, err := auth.NewPasswordHasher(auth.SchemeSHA256)
	require.NoError(t, err)

	svc := users.NewService(users.NewMemoryStore(), hasher, tokens, audit.NopLogger{}, nil)
	created, err := svc.EnsureAdmin(context.Background(), users.BootstrapAdmin{
		Username: adminUsername,
		Password: adminPassword,
		Email:    "root@example.com",
	})
	require.NoError(t, err)
	require.True(t, created)

	gate := rbac.NewGate(rbac.DefaultRegistry())
	srv := server.New(":0", server.Dependencies{
		Auth:         tokens,
		Gate:         gate,
		UserHandler:  users.NewHandler(svc, nil),
		AuditHandler: audit.NewHandler(nil, audit.NewStore()),
	})
	return &testApp{srv: srv, gate: gate, svc: svc}
}

func (a *testApp) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

// signup registers username and returns its id and a bearer token.
func (a *testApp) signup(t *testing.T, username string) (string, string) {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/users/register", "",
		`{"first_name":"Test","last_name":"User","username":"`+username+`","email":"`+username+`@example.com","password":"password-`+username+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["id"].(string)
	return id, a.login(t, username, "password-"+username)
}

func (a *testApp) login(t *testing.T, username, password string) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/users/authenticate", "",
		`{"username":"`+username+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Bearer", body["token_type"])
	return body["token"].(string)
}

func TestServer_PoliciesAreRegistered(t *testing.T) {
	app := newTestApp(t)

	policies := app.srv.Policies()
	assert.Contains(t, policies, rbac.PolicyAdminOnly)
	assert.Contains(t, policies, rbac.PolicyResourceOwner)
	assert.NoError(t, app.gate.Require(policies...))
}

func TestServer_AnonymousRejected(t *testing.T) {
	app := newTestApp(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/users"},
		{http.MethodGet, "/api/v1/users/me"},
		{http.MethodGet, "/api/v1/users/some-id"},
		{http.MethodDelete, "/api/v1/users/some-id"},
		{http.MethodGet, "/api/v1/audit/events"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := app.do(t, tc.method, tc.path, "", "")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "authentication required", decode(t, w)["error"])
		})
	}

	w := app.do(t, http.MethodGet, "/api/v1/users/me", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_UserFlow(t *testing.T) {
	app := newTestApp(t)

	aliceID, aliceToken := app.signup(t, "alice")
	bobID, _ := app.signup(t, "bob")

	w := app.do(t, http.MethodGet, "/api/v1/users/me", aliceToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, aliceID, decode(t, w)["id"])

	// Listing needs Manager.
	w = app.do(t, http.MethodGet, "/api/v1/users", aliceToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decode(t, w)
	assert.Equal(t, "forbidden", body["error"])
	assert.Equal(t, "requires role Manager or higher, have User", body["reason"])

	w = app.do(t, http.MethodGet, "/api/v1/users/"+aliceID, aliceToken, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/users/"+bobID, aliceToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not resource owner", decode(t, w)["reason"])

	w = app.do(t, http.MethodPut, "/api/v1/users/"+bobID, aliceToken, `{"first_name":"Mallory"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Unknown ids are indistinguishable from someone else's for non-admins.
	w = app.do(t, http.MethodGet, "/api/v1/users/00000000-0000-0000-0000-000000000000", aliceToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = app.do(t, http.MethodPut, "/api/v1/users/"+aliceID, aliceToken, `{"first_name":"Alicia","role":"Admin"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = decode(t, w)
	assert.Equal(t, "Alicia", body["first_name"])
	assert.Equal(t, "User", body["role"])

	w = app.do(t, http.MethodPut, "/api/v1/users/"+aliceID+"/role", aliceToken, `{"role":"Admin"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServer_AdminFlow(t *testing.T) {
	app := newTestApp(t)

	bobID, bobToken := app.signup(t, "bob")
	adminToken := app.login(t, adminUsername, adminPassword)

	w := app.do(t, http.MethodGet, "/api/v1/users/"+bobID, adminToken, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/users/00000000-0000-0000-0000-000000000000", adminToken, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/users", adminToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	w = app.do(t, http.MethodPut, "/api/v1/users/"+bobID+"/role", adminToken, `{"role":"Manager"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Manager", decode(t, w)["role"])

	// The old token still carries User; a fresh login picks up Manager.
	w = app.do(t, http.MethodGet, "/api/v1/users", bobToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	managerToken := app.login(t, "bob", "password-bob")
	w = app.do(t, http.MethodGet, "/api/v1/users", managerToken, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Manager is below Admin for AdminOnly.
	w = app.do(t, http.MethodGet, "/api/v1/audit/events", managerToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "requires role Admin, have Manager", decode(t, w)["reason"])

	w = app.do(t, http.MethodGet, "/api/v1/audit/events", adminToken, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodPut, "/api/v1/users/"+bobID+"/role", adminToken, `{"role":"Superuser"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodDelete, "/api/v1/users/"+bobID, adminToken, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/users/"+bobID, adminToken, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_LastAdminProtected(t *testing.T) {
	app := newTestApp(t)
	adminToken := app.login(t, adminUsername, adminPassword)

	w := app.do(t, http.MethodGet, "/api/v1/users/me", adminToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	adminID := decode(t, w)["id"].(string)

	w = app.do(t, http.MethodDelete, "/api/v1/users/"+adminID, adminToken, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = app.do(t, http.MethodPut, "/api/v1/users/"+adminID+"/role", adminToken, `{"role":"User"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServer_BadCredentials(t *testing.T) {
	app := newTestApp(t)
	app.signup(t, "alice")

	w := app.do(t, http.MethodPost, "/api/v1/users/authenticate", "", `{"username":"alice","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid username or password", decode(t, w)["error"])

	w = app.do(t, http.MethodPost, "/api/v1/users/authenticate", "", `{"username":"nobody","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_AmbientHeaders(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	app.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
