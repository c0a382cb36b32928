package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/parkdeck/parkdeck/internal/config"
	"github.com/parkdeck/parkdeck/internal/handler"
	"github.com/parkdeck/parkdeck/internal/model"
	"github.com/parkdeck/parkdeck/internal/service"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testJWTSecret  = "test-secret-for-jwt-integration-tests"
	testAdminEmail = "admin@parkdeck.test"
	testPassword   = "supersecretpassword"
)

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server *Server
	store  *config.Store
	auth   *service.Authenticator
}

// newTestEnv creates a fresh test environment with an in-memory store and a
// fully wired Server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := service.NewAuthenticator(store, service.Config{
		JWTSecret: testJWTSecret,
		TokenTTL:  time.Hour,
		Issuer:    "parkdeck",
		Audience:  "parkdeck-admin",
	}, logger)

	cfg := DefaultConfig()
	// Generous login budget so only the dedicated rate-limit tests hit it.
	cfg.LoginRateLimit = 100
	cfg.LoginRateWindow = time.Minute
	srv := New(cfg, store, auth, logger)

	return &testEnv{
		server: srv,
		store:  store,
		auth:   auth,
	}
}

// seedAdmin creates the default admin account and returns it.
func (e *testEnv) seedAdmin(t *testing.T) *model.AdminAccount {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	admin := &model.AdminAccount{
		Email:        testAdminEmail,
		PasswordHash: string(hash),
		Role:         model.RoleAdmin,
		IsVerified:   true,
		IsActive:     true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return admin
}

// adminToken logs in as the default admin and returns the session token.
func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	body := jsonBody(t, map[string]string{
		"email":    testAdminEmail,
		"password": testPassword,
	})
	rr := e.do(t, "POST", "/api/v1/admin/session", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp model.LoginResponse
	decodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("adminToken: got empty token from login")
	}
	return resp.Token
}

// do executes an HTTP request against the test server and returns the recorder.
// headers is an optional map of header key-value pairs.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doAuth executes an authenticated HTTP request using the admin token.
func (e *testEnv) doAuth(t *testing.T, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func assertContentType(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	got := rr.Header().Get("Content-Type")
	if got != want {
		t.Errorf("Content-Type = %q, want %q", got, want)
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

func sessionCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == handler.SessionCookieName {
			return c
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Health check tests
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
	checks, ok := resp["checks"].(map[string]interface{})
	if !ok {
		t.Fatal("expected checks to be a map")
	}
	if checks["store"] != "ok" {
		t.Errorf("store check = %v, want ok", checks["store"])
	}
}

// ---------------------------------------------------------------------------
// Login flow
// ---------------------------------------------------------------------------

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAdmin(t)

	body := jsonBody(t, map[string]string{
		"email":    testAdminEmail,
		"password": testPassword,
	})
	rr := env.do(t, "POST", "/api/v1/admin/session", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp model.LoginResponse
	decodeJSON(t, rr, &resp)
	if !resp.Success {
		t.Error("expected success=true")
	}
	if resp.Token == "" {
		t.Error("expected a session token")
	}
	if resp.Admin.ID != admin.ID {
		t.Errorf("admin ID = %d, want %d", resp.Admin.ID, admin.ID)
	}
	if resp.Admin.Email != testAdminEmail {
		t.Errorf("admin email = %q, want %q", resp.Admin.Email, testAdminEmail)
	}

	cookie := sessionCookie(rr)
	if cookie == nil {
		t.Fatal("expected session cookie")
	}
	if cookie.Value != resp.Token {
		t.Error("cookie value does not match token")
	}
	if !cookie.HttpOnly {
		t.Error("cookie must be HttpOnly")
	}
	if cookie.SameSite != http.SameSiteStrictMode {
		t.Errorf("cookie SameSite = %v, want Strict", cookie.SameSite)
	}
	if cookie.Secure {
		t.Error("cookie must not be Secure outside production")
	}
	if cookie.MaxAge != int(time.Hour.Seconds()) {
		t.Errorf("cookie MaxAge = %d, want %d", cookie.MaxAge, int(time.Hour.Seconds()))
	}

	// The raw body must never leak the password hash.
	if strings.Contains(rr.Body.String(), "password") {
		t.Errorf("response leaks password material: %s", rr.Body.String())
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	tests := []struct {
		name  string
		email string
	}{
		{"wrong password on known account", testAdminEmail},
		{"unknown account", "ghost@parkdeck.test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := jsonBody(t, map[string]string{
				"email":    tt.email,
				"password": "definitely-wrong",
			})
			rr := env.do(t, "POST", "/api/v1/admin/session", body, nil)
			assertStatus(t, rr, http.StatusUnauthorized)

			var resp model.Response
			decodeJSON(t, rr, &resp)
			if resp.Success {
				t.Error("expected success=false")
			}
			// Identical message for both cases: no account enumeration.
			if resp.Message != "Invalid credentials" {
				t.Errorf("message = %q, want %q", resp.Message, "Invalid credentials")
			}
		})
	}
}

func TestLoginValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	body := jsonBody(t, map[string]string{
		"email":    "not-an-email",
		"password": "",
	})
	rr := env.do(t, "POST", "/api/v1/admin/session", body, nil)
	assertStatus(t, rr, http.StatusBadRequest)

	var resp model.Response
	decodeJSON(t, rr, &resp)
	if resp.Success {
		t.Error("expected success=false")
	}
	if resp.Errors["email"] == "" {
		t.Error("expected email field error")
	}
	if resp.Errors["password"] == "" {
		t.Error("expected password field error")
	}
}

func TestLoginMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/admin/session", strings.NewReader("{not json"), nil)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestLoginLockoutOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	// Five wrong passwords from different client addresses: the lockout is
	// per-account and trips regardless of origin.
	for i := 0; i < service.LockoutThreshold; i++ {
		body := jsonBody(t, map[string]string{
			"email":    testAdminEmail,
			"password": "wrong",
		})
		rr := env.do(t, "POST", "/api/v1/admin/session", body, map[string]string{
			"X-Forwarded-For": fmt.Sprintf("198.51.100.%d", i+1),
		})
		assertStatus(t, rr, http.StatusUnauthorized)
	}

	// The correct password is now rejected with the same 401.
	body := jsonBody(t, map[string]string{
		"email":    testAdminEmail,
		"password": testPassword,
	})
	rr := env.do(t, "POST", "/api/v1/admin/session", body, map[string]string{
		"X-Forwarded-For": "198.51.100.99",
	})
	assertStatus(t, rr, http.StatusUnauthorized)

	var resp model.Response
	decodeJSON(t, rr, &resp)
	if resp.Message != "Invalid credentials" {
		t.Errorf("message = %q, want uniform rejection", resp.Message)
	}
}

func TestLoginRateLimitOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	env.server.cfg.LoginRateLimit = 5
	env.server.cfg.LoginRateWindow = time.Minute
	env.server.setupRouter() // rebuild with the tight budget

	for i := 1; i <= 5; i++ {
		body := jsonBody(t, map[string]string{
			"email":    testAdminEmail,
			"password": "wrong",
		})
		rr := env.do(t, "POST", "/api/v1/admin/session", body, nil)
		assertStatus(t, rr, http.StatusUnauthorized)
	}

	body := jsonBody(t, map[string]string{
		"email":    testAdminEmail,
		"password": testPassword,
	})
	rr := env.do(t, "POST", "/api/v1/admin/session", body, nil)
	assertStatus(t, rr, http.StatusTooManyRequests)

	var resp model.Response
	decodeJSON(t, rr, &resp)
	if resp.Success {
		t.Error("expected success=false")
	}
	if !strings.Contains(resp.Message, "Too many login attempts") {
		t.Errorf("message = %q", resp.Message)
	}

	// A different client address is unaffected.
	body = jsonBody(t, map[string]string{
		"email":    testAdminEmail,
		"password": "wrong",
	})
	rr = env.do(t, "POST", "/api/v1/admin/session", body, map[string]string{
		"X-Forwarded-For": "203.0.113.77",
	})
	assertStatus(t, rr, http.StatusUnauthorized)
}

// ---------------------------------------------------------------------------
// Logout
// ---------------------------------------------------------------------------

func TestLogoutClearsCookie(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	rr := env.do(t, "DELETE", "/api/v1/admin/session", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	cookie := sessionCookie(rr)
	if cookie == nil {
		t.Fatal("expected clearing cookie")
	}
	if cookie.Value != "" || cookie.MaxAge != -1 {
		t.Errorf("cookie not cleared: value=%q maxage=%d", cookie.Value, cookie.MaxAge)
	}

	// Logout does not revoke the token: it stays valid until expiry.
	rr = env.doAuth(t, "GET", "/api/v1/admin/dashboard", nil, token)
	assertStatus(t, rr, http.StatusOK)
}

// ---------------------------------------------------------------------------
// Dashboard
// ---------------------------------------------------------------------------

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAdmin(t)

	listing := &model.ParkingListing{
		Title: "Garage spot", Address: "5 Main St", City: "Boston",
		PricePerHour: 4.25, IsActive: true,
	}
	if err := env.store.CreateListing(context.Background(), listing); err != nil {
		t.Fatalf("CreateListing: %v", err)
	}

	token := env.adminToken(t)
	rr := env.doAuth(t, "GET", "/api/v1/admin/dashboard", nil, token)
	assertStatus(t, rr, http.StatusOK)

	var resp model.DashboardResponse
	decodeJSON(t, rr, &resp)
	if !resp.Success {
		t.Error("expected success=true")
	}
	if resp.Admin.ID != admin.ID {
		t.Errorf("admin ID = %d, want %d", resp.Admin.ID, admin.ID)
	}
	if resp.Stats.AdminCount != 1 {
		t.Errorf("admin count = %d, want 1", resp.Stats.AdminCount)
	}
	if resp.Stats.ActiveListings != 1 {
		t.Errorf("active listings = %d, want 1", resp.Stats.ActiveListings)
	}
	// The login that produced the token is in the recent events.
	if len(resp.Events) == 0 {
		t.Fatal("expected recent security events")
	}
	if resp.Events[0].Action != model.ActionLogin || !resp.Events[0].Success {
		t.Errorf("unexpected newest event: %+v", resp.Events[0])
	}
}

func TestDashboardRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/admin/dashboard", nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	rr = env.doAuth(t, "GET", "/api/v1/admin/dashboard", nil, "garbage-token")
	assertStatus(t, rr, http.StatusUnauthorized)
}

// ---------------------------------------------------------------------------
// Password change
// ---------------------------------------------------------------------------

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	body := jsonBody(t, map[string]string{
		"currentPassword": testPassword,
		"newPassword":     "brand-new-password",
	})
	rr := env.doAuth(t, "PUT", "/api/v1/admin/password", body, token)
	assertStatus(t, rr, http.StatusOK)

	// Old password is dead, new one works.
	loginBody := jsonBody(t, map[string]string{
		"email":    testAdminEmail,
		"password": testPassword,
	})
	rr = env.do(t, "POST", "/api/v1/admin/session", loginBody, nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	loginBody = jsonBody(t, map[string]string{
		"email":    testAdminEmail,
		"password": "brand-new-password",
	})
	rr = env.do(t, "POST", "/api/v1/admin/session", loginBody, nil)
	assertStatus(t, rr, http.StatusOK)

	// The pre-change token remains valid until its own expiry.
	rr = env.doAuth(t, "GET", "/api/v1/admin/dashboard", nil, token)
	assertStatus(t, rr, http.StatusOK)
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	body := jsonBody(t, map[string]string{
		"currentPassword": "not-the-password",
		"newPassword":     "brand-new-password",
	})
	rr := env.doAuth(t, "PUT", "/api/v1/admin/password", body, token)
	assertStatus(t, rr, http.StatusBadRequest)

	var resp model.Response
	decodeJSON(t, rr, &resp)
	if resp.Message != "Current password is incorrect" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestChangePasswordValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	body := jsonBody(t, map[string]string{
		"currentPassword": testPassword,
		"newPassword":     "short",
	})
	rr := env.doAuth(t, "PUT", "/api/v1/admin/password", body, token)
	assertStatus(t, rr, http.StatusBadRequest)

	var resp model.Response
	decodeJSON(t, rr, &resp)
	if resp.Errors["newPassword"] == "" {
		t.Error("expected newPassword field error")
	}
}

func TestChangePasswordRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	body := jsonBody(t, map[string]string{
		"currentPassword": "a", "newPassword": "brand-new-password",
	})
	rr := env.do(t, "PUT", "/api/v1/admin/password", body, nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

// ---------------------------------------------------------------------------
// Public listings
// ---------------------------------------------------------------------------

func TestPublicListings(t *testing.T) {
	env := newTestEnv(t)

	active := &model.ParkingListing{
		Title: "Covered spot", Address: "12 Bahnhofstrasse", City: "Zurich",
		PricePerHour: 3.50, IsActive: true,
	}
	inactive := &model.ParkingListing{
		Title: "Hidden spot", Address: "1 Elm St", City: "Austin",
		PricePerHour: 2.00, IsActive: false,
	}
	for _, l := range []*model.ParkingListing{active, inactive} {
		if err := env.store.CreateListing(context.Background(), l); err != nil {
			t.Fatalf("CreateListing: %v", err)
		}
	}

	rr := env.do(t, "GET", "/api/v1/listings", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Success bool                   `json:"success"`
		Data    []model.ParkingListing `json:"data"`
	}
	decodeJSON(t, rr, &resp)
	if !resp.Success {
		t.Error("expected success=true")
	}
	if len(resp.Data) != 1 {
		t.Fatalf("got %d listings, want 1", len(resp.Data))
	}
	if resp.Data[0].Title != "Covered spot" {
		t.Errorf("title = %q", resp.Data[0].Title)
	}
}

// ---------------------------------------------------------------------------
// Request ID propagation
// ---------------------------------------------------------------------------

func TestRequestIDOnResponses(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID on response")
	}

	rr = env.do(t, "GET", "/healthz", nil, map[string]string{"X-Request-ID": "trace-me"})
	if got := rr.Header().Get("X-Request-ID"); got != "trace-me" {
		t.Errorf("X-Request-ID = %q, want %q", got, "trace-me")
	}
}
