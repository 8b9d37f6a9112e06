package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/meridianid/issuer/issuer/core"
)

// Deps bundles everything NewRouter needs to wire up the issuer's full HTTP
// surface, generalizing the teacher's single Server struct into the
// collection of collaborators a chi router composes directly.
type Deps struct {
	Core      *core.Core
	Sessions  core.AdminSessionService
	Providers providerRegistry
	Cookies   interface {
		cookieCodec
		cookieSealer
	}
	Logger       *zap.Logger
	CookieName   string
	CookieSecure bool
	AdminAPIKey  string
	CORSOrigins  []string
}

// NewRouter builds the issuer's chi router: public OIDC/OAuth endpoints,
// the multi-account session surface, RBAC checks, and the admin API, each
// behind the middleware stack spec.md §4-§7 describes. It replaces the
// teacher's hand-rolled handleRequest/routeAdminTenantPath switch dispatch.
func NewRouter(d Deps) http.Handler {
	tenantMW := NewTenantMiddleware(d.Core.TenantResolver)
	sessionMW := NewSessionMiddleware(d.Core.BrowserSessions, d.Cookies, d.CookieName)
	adminMW := NewAdminAuthMiddleware(d.Core.SQL.AdminKeys(), d.AdminAPIKey)
	corsMW := NewCORSMiddleware(d.CORSOrigins)
	logMW := NewLoggingMiddleware(d.Logger)

	oidc := NewOIDCHandlers(d.Core.OAuth, d.Core.KeyManager, d.Core.Users, d.Core.BrowserSessions, d.Cookies, d.CookieName, d.CookieSecure, d.Core.Clock)
	sess := NewSessionHandlers(d.Core.BrowserSessions)
	rbac := NewRBACHandlers(d.Core.RBAC)
	admin := NewAdminHandlers(d.Core.SQL, d.Core.KeyManager, d.Sessions, d.Core.Theme, d.Core.Clock)
	var providerHandlers *ProviderHandlers
	if d.Providers != nil {
		providerHandlers = NewProviderHandlers(d.Providers, d.Core.BrowserSessions, d.Cookies, d.CookieName, d.CookieSecure, d.Core.Clock)
	}

	r := chi.NewRouter()
	r.Use(logMW.Handler)

	r.Get("/healthz", admin.Health)

	r.Group(func(r chi.Router) {
		r.Use(tenantMW.Handler)
		r.Use(sessionMW.Handler)

		r.Get("/.well-known/openid-configuration", oidc.Discovery)
		r.Get("/.well-known/oauth-authorization-server", oidc.Discovery)
		r.Get("/.well-known/jwks.json", oidc.JWKS)

		r.Get("/authorize", oidc.Authorize)
		r.Post("/login", oidc.Login)
		r.Post("/token", oidc.Token)
		r.Get("/userinfo", oidc.UserInfo)
		r.Post("/oauth2/revoke", oidc.Revoke)
		r.Post("/oauth2/introspect", oidc.Introspect)

		r.Get("/session/accounts", sess.Accounts)
		r.Post("/session/switch", sess.Switch)
		r.Delete("/session/accounts/{userId}", sess.RemoveAccount)
		r.Delete("/session/all", sess.RemoveAll)
		r.With(corsMW.Handler).Get("/session/check", sess.Check)

		r.Post("/rbac/check", rbac.Check)
		r.Post("/rbac/check/batch", rbac.CheckBatch)
		r.Get("/rbac/permissions", rbac.Permissions)
		r.Get("/rbac/roles", rbac.Roles)

		if providerHandlers != nil {
			r.Get("/{provider}/authorize", providerHandlers.Authorize)
			r.Post("/{provider}/callback", providerHandlers.Callback)
		}
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminMW.Handler)
		r.Use(tenantMW.Handler)

		r.Get("/tenants", admin.ListTenants)
		r.Post("/tenants", admin.CreateTenant)
		r.Get("/tenants/{tenantId}", admin.GetTenant)
		r.Patch("/tenants/{tenantId}", admin.UpdateTenant)

		r.Get("/tenants/{tenantId}/clients", admin.ListClients)
		r.Post("/tenants/{tenantId}/clients", admin.CreateClient)

		r.Get("/tenants/{tenantId}/users", admin.ListUsers)
		r.Post("/tenants/{tenantId}/users", admin.CreateUser)
		r.Put("/tenants/{tenantId}/users/{userId}/password", admin.SetUserPassword)

		r.Get("/tenants/{tenantId}/roles", admin.ListRoles)
		r.Post("/tenants/{tenantId}/roles", admin.CreateRole)
		r.Post("/tenants/{tenantId}/users/{userId}/roles", admin.AssignRole)

		r.Get("/tenants/{tenantId}/providers", admin.ListProviders)
		r.Post("/tenants/{tenantId}/providers", admin.CreateProvider)

		r.Get("/users/{userId}/sessions", admin.ListUserSessions)
		r.Delete("/users/{userId}/sessions/{sessionId}", admin.DeleteUserSession)
		r.Delete("/users/{userId}/sessions", admin.DeleteAllUserSessions)

		r.Get("/sessions", admin.ListTenantSessions)
		r.Get("/sessions/stats", admin.SessionStats)
		r.Post("/sessions/cleanup", admin.CleanupSessions)
	})

	return r
}
