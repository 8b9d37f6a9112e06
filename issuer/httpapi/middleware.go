package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/meridianid/issuer/issuer/core"
)

type contextKey string

const (
	contextKeyTenant  contextKey = "tenant"
	contextKeySession contextKey = "browser_session"
)

// TenantMiddleware resolves the tenant for every request via the host,
// path, and X-Tenant-ID header cascade, per spec.md §4.1.
type TenantMiddleware struct {
	resolver core.TenantResolver
}

// NewTenantMiddleware creates a tenant-resolving middleware.
func NewTenantMiddleware(resolver core.TenantResolver) *TenantMiddleware {
	return &TenantMiddleware{resolver: resolver}
}

// Handler wraps next with tenant resolution, rejecting the request with a
// 404 tenant_not_found if no tenant matches.
func (m *TenantMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, err := m.resolver.ResolveTenant(r.Context(), r.Host, r.URL.Path, r.Header.Get("X-Tenant-ID"))
		if err != nil {
			writeError(w, http.StatusNotFound, "tenant_not_found", err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyTenant, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenant retrieves the resolved tenant from the request context.
func GetTenant(ctx context.Context) (*core.Tenant, bool) {
	tenant, ok := ctx.Value(contextKeyTenant).(*core.Tenant)
	return tenant, ok
}

// SessionMiddleware decodes the session cookie (if present) and loads the
// browser session. A missing or invalid cookie is not an error: handlers
// downstream check for a session themselves (e.g. the /authorize flow
// treats "no session" as "login required").
type SessionMiddleware struct {
	sessions   core.BrowserSessionService
	cookies    cookieCodec
	cookieName string
}

// cookieCodec is the narrow open surface SessionMiddleware needs; it is
// satisfied by *crypto.CookieCodec.
type cookieCodec interface {
	Open(cookieValue string) (string, error)
}

// NewSessionMiddleware creates a middleware that decodes the session cookie
// into the request context.
func NewSessionMiddleware(sessions core.BrowserSessionService, codec cookieCodec, cookieName string) *SessionMiddleware {
	return &SessionMiddleware{sessions: sessions, cookies: codec, cookieName: cookieName}
}

// Handler wraps next, attaching the resolved *core.BrowserSession to the
// context when a valid session cookie is present.
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(m.cookieName)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		sessionID, err := m.cookies.Open(cookie.Value)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		tenant, ok := GetTenant(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		session, err := m.sessions.Get(r.Context(), tenant.ID, sessionID)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeySession, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetBrowserSession retrieves the decoded browser session from the request
// context, if SessionMiddleware found one.
func GetBrowserSession(ctx context.Context) (*core.BrowserSession, bool) {
	session, ok := ctx.Value(contextKeySession).(*core.BrowserSession)
	return session, ok
}

// AdminAuthMiddleware validates the X-Admin-Key header against either the
// bootstrap key from config or a hashed key row in core.AdminKeyStore.
type AdminAuthMiddleware struct {
	keys      core.AdminKeyStore
	configKey string
}

// NewAdminAuthMiddleware creates an admin-key-checking middleware.
func NewAdminAuthMiddleware(keys core.AdminKeyStore, configKey string) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{keys: keys, configKey: configKey}
}

// Handler wraps next, rejecting with 401 unauthorized when no valid key is
// presented.
func (m *AdminAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-Admin-Key")
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing X-Admin-Key header")
			return
		}
		if m.configKey != "" && apiKey == m.configKey {
			next.ServeHTTP(w, r)
			return
		}
		if m.keys != nil {
			if _, err := m.keys.GetByHash(r.Context(), hashAdminKey(apiKey)); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid admin key")
	})
}

func hashAdminKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// CORSMiddleware handles preflight and response CORS headers, used on the
// CORS-enabled /session/check endpoint per spec.md §6.
type CORSMiddleware struct {
	allowedOrigins []string
}

// NewCORSMiddleware creates a CORS middleware permitting allowedOrigins
// ("*" allows any origin).
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	return &CORSMiddleware{allowedOrigins: allowedOrigins}
}

// Handler wraps next with CORS response headers.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := false
		for _, o := range m.allowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}
		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Key, X-Tenant-ID")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs each request at Info level via zap, recording
// method, path, status, and the resolved tenant when present.
type LoggingMiddleware struct {
	logger *zap.Logger
}

// NewLoggingMiddleware creates a request logging middleware.
func NewLoggingMiddleware(logger *zap.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Handler wraps next with structured access logging.
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
		}
		if tenant, ok := GetTenant(r.Context()); ok {
			fields = append(fields, zap.String("tenant_id", tenant.ID))
		}
		m.logger.Info("http_request", fields...)
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
