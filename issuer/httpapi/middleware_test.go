package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/meridianid/issuer/issuer/core"
)

type mockTenantResolver struct {
	tenant *core.Tenant
	err    error
}

func (m *mockTenantResolver) ResolveTenant(ctx context.Context, host, path, headerTenantID string) (*core.Tenant, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tenant, nil
}

type mockAdminKeyStore struct {
	key *core.AdminKey
	err error
}

func (m *mockAdminKeyStore) Create(ctx context.Context, key *core.AdminKey) error { return nil }

func (m *mockAdminKeyStore) GetByHash(ctx context.Context, hash string) (*core.AdminKey, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.key, nil
}

func (m *mockAdminKeyStore) List(ctx context.Context) ([]*core.AdminKey, error) { return nil, nil }
func (m *mockAdminKeyStore) Delete(ctx context.Context, id string) error       { return nil }

func TestTenantMiddleware_Resolves(t *testing.T) {
	tenant := &core.Tenant{ID: "tenant-1", Slug: "acme"}
	mw := NewTenantMiddleware(&mockTenantResolver{tenant: tenant})

	var seen *core.Tenant
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetTenant(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "https://acme.example.com/authorize", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen == nil || seen.ID != "tenant-1" {
		t.Fatalf("expected tenant-1 in context, got %v", seen)
	}
}

func TestTenantMiddleware_NotFound(t *testing.T) {
	mw := NewTenantMiddleware(&mockTenantResolver{err: errors.New("no match")})
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "https://unknown.example.com/authorize", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminAuthMiddleware_ConfigKey(t *testing.T) {
	mw := NewAdminAuthMiddleware(&mockAdminKeyStore{}, "bootstrap-secret")
	reached := false
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/tenants", nil)
	req.Header.Set("X-Admin-Key", "bootstrap-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !reached {
		t.Fatal("expected handler to be reached with a valid bootstrap key")
	}
}

func TestAdminAuthMiddleware_InvalidKey(t *testing.T) {
	mw := NewAdminAuthMiddleware(&mockAdminKeyStore{err: core.ErrNotFound}, "bootstrap-secret")
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/tenants", nil)
	req.Header.Set("X-Admin-Key", "wrong-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminAuthMiddleware_MissingHeader(t *testing.T) {
	mw := NewAdminAuthMiddleware(&mockAdminKeyStore{}, "bootstrap-secret")
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/tenants", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCORSMiddleware_AllowsConfiguredOrigin(t *testing.T) {
	mw := NewCORSMiddleware([]string{"https://app.example.com"})
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/session/check", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("expected CORS origin header, got %q", got)
	}
}

func TestCORSMiddleware_PreflightNoContent(t *testing.T) {
	mw := NewCORSMiddleware([]string{"*"})
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("OPTIONS should short-circuit before reaching the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/session/check", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

type fakeCookieCodec struct {
	sessionID string
	sealErr   error
	openErr   error
}

func (f *fakeCookieCodec) Seal(plaintext string) (string, error) {
	if f.sealErr != nil {
		return "", f.sealErr
	}
	return "sealed:" + plaintext, nil
}

func (f *fakeCookieCodec) Open(cookieValue string) (string, error) {
	if f.openErr != nil {
		return "", f.openErr
	}
	return f.sessionID, nil
}

type fakeBrowserSessions struct {
	session *core.BrowserSession
	getErr  error
}

func (f *fakeBrowserSessions) Start(ctx context.Context, tenantID, ip, userAgent string) (*core.BrowserSession, error) {
	return f.session, nil
}
func (f *fakeBrowserSessions) Get(ctx context.Context, tenantID, sessionID string) (*core.BrowserSession, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.session, nil
}
func (f *fakeBrowserSessions) AddAccount(ctx context.Context, tenantID, sessionID string, acct *core.AccountSession) error {
	return nil
}
func (f *fakeBrowserSessions) RemoveAccount(ctx context.Context, tenantID, sessionID, userID string) error {
	return nil
}
func (f *fakeBrowserSessions) RemoveAllAccounts(ctx context.Context, tenantID, sessionID string) error {
	return nil
}
func (f *fakeBrowserSessions) SwitchActive(ctx context.Context, tenantID, sessionID, userID string) error {
	return nil
}
func (f *fakeBrowserSessions) Accounts(ctx context.Context, tenantID, sessionID string) ([]*core.AccountSession, error) {
	return nil, nil
}
func (f *fakeBrowserSessions) ActiveAccount(ctx context.Context, tenantID, sessionID string) (*core.AccountSession, error) {
	return nil, nil
}
func (f *fakeBrowserSessions) Touch(ctx context.Context, tenantID, sessionID string) error { return nil }
func (f *fakeBrowserSessions) Destroy(ctx context.Context, tenantID, sessionID string) error {
	return nil
}

func TestSessionMiddleware_LoadsSessionFromCookie(t *testing.T) {
	tenant := &core.Tenant{ID: "tenant-1"}
	session := &core.BrowserSession{ID: "sess-1", TenantID: "tenant-1", CreatedAt: time.Now()}
	sessionMW := NewSessionMiddleware(&fakeBrowserSessions{session: session}, &fakeCookieCodec{sessionID: "sess-1"}, "issuer.session")

	var seen *core.BrowserSession
	handler := sessionMW.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetBrowserSession(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/session/check", nil)
	req.AddCookie(&http.Cookie{Name: "issuer.session", Value: "sealed:sess-1"})
	ctx := context.WithValue(req.Context(), contextKeyTenant, tenant)
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen == nil || seen.ID != "sess-1" {
		t.Fatalf("expected sess-1 in context, got %v", seen)
	}
}

func TestSessionMiddleware_NoCookiePassesThrough(t *testing.T) {
	sessionMW := NewSessionMiddleware(&fakeBrowserSessions{}, &fakeCookieCodec{}, "issuer.session")
	reached := false
	handler := sessionMW.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		if _, ok := GetBrowserSession(r.Context()); ok {
			t.Fatal("expected no session in context")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/session/check", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !reached {
		t.Fatal("expected handler to be reached")
	}
}
