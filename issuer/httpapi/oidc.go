package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/meridianid/issuer/issuer/core"
)

// OIDCHandlers serves the discovery, JWKS, and grant/token endpoints plus
// the login form the /authorize flow falls back to when no account is
// active in the browser session.
type OIDCHandlers struct {
	oauth      core.OAuthService
	keys       core.KeyManager
	users      core.UserService
	sessions   core.BrowserSessionService
	cookies    cookieSealer
	cookieName string
	secure     bool
	clock      core.Clock
}

type cookieSealer interface {
	Seal(plaintext string) (string, error)
}

// NewOIDCHandlers creates the OIDC/OAuth2 handler set.
func NewOIDCHandlers(oauth core.OAuthService, keys core.KeyManager, users core.UserService, sessions core.BrowserSessionService, cookies cookieSealer, cookieName string, secure bool, clock core.Clock) *OIDCHandlers {
	return &OIDCHandlers{oauth: oauth, keys: keys, users: users, sessions: sessions, cookies: cookies, cookieName: cookieName, secure: secure, clock: clock}
}

// Discovery serves /.well-known/openid-configuration (and doubles as
// /.well-known/oauth-authorization-server, which shares the same shape).
func (h *OIDCHandlers) Discovery(w http.ResponseWriter, r *http.Request) {
	issuer := issuerURL(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/authorize",
		"token_endpoint":                        issuer + "/token",
		"userinfo_endpoint":                     issuer + "/userinfo",
		"jwks_uri":                              issuer + "/.well-known/jwks.json",
		"revocation_endpoint":                   issuer + "/oauth2/revoke",
		"introspection_endpoint":                issuer + "/oauth2/introspect",
		"scopes_supported":                      []string{"openid", "profile", "email"},
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token", "client_credentials"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"ES256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "client_secret_basic"},
		"code_challenge_methods_supported":      []string{"S256"},
	})
}

func issuerURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

// JWKS serves /.well-known/jwks.json from the issuer-wide key ring.
func (h *OIDCHandlers) JWKS(w http.ResponseWriter, r *http.Request) {
	jwks, err := h.keys.JWKS(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jwks)
}

// Authorize serves GET /authorize: it runs the state machine and either
// redirects with a code, redirects with an error (RFC 6749 §4.1.2.1), or
// tells the caller to show a login/account-picker screen.
func (h *OIDCHandlers) Authorize(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}

	q := r.URL.Query()
	req := &core.AuthorizeRequest{
		TenantID:            tenant.ID,
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Prompt:              q.Get("prompt"),
		LoginHint:           q.Get("login_hint"),
		AccountHint:         q.Get("account_hint"),
	}
	if session, ok := GetBrowserSession(r.Context()); ok {
		req.BrowserSessionID = session.ID
	}

	resp, err := h.oauth.Authorize(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	switch {
	case resp.Error != "":
		redirectWithError(w, r, resp.RedirectURI, resp.Error, resp.ErrorDesc, resp.State)
	case resp.RequiresAction != "":
		writeJSON(w, http.StatusOK, map[string]string{"action": resp.RequiresAction})
	default:
		sep := "?"
		if strings.Contains(resp.RedirectURI, "?") {
			sep = "&"
		}
		target := fmt.Sprintf("%s%scode=%s&state=%s", resp.RedirectURI, sep, resp.Code, resp.State)
		http.Redirect(w, r, target, http.StatusFound)
	}
}

func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, code, desc, state string) {
	if redirectURI == "" {
		writeError(w, http.StatusBadRequest, code, desc)
		return
	}
	sep := "?"
	if strings.Contains(redirectURI, "?") {
		sep = "&"
	}
	target := fmt.Sprintf("%s%serror=%s&error_description=%s&state=%s", redirectURI, sep, code, desc, state)
	http.Redirect(w, r, target, http.StatusFound)
}

// Login serves POST /login: it authenticates the password-provider
// credentials, attaches the resulting account to the browser session
// (creating one if needed), and seals a fresh session cookie.
func (h *OIDCHandlers) Login(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse form")
		return
	}

	user, err := h.users.Authenticate(r.Context(), tenant.ID, r.FormValue("email"), r.FormValue("password"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}

	session, ok := GetBrowserSession(r.Context())
	if !ok {
		session, err = h.sessions.Start(r.Context(), tenant.ID, r.RemoteAddr, r.UserAgent())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
	}

	now := h.clock.Now()
	account := &core.AccountSession{
		BrowserSessionID: session.ID,
		UserID:           user.ID,
		SubjectType:      "user",
		AuthenticatedAt:  now,
		IsActive:         true,
	}
	if err := h.sessions.AddAccount(r.Context(), tenant.ID, session.ID, account); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	cookieValue, err := h.cookies.Seal(session.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    cookieValue,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user_id": user.ID})
}

// Token serves POST /token for all three supported grants.
func (h *OIDCHandlers) Token(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse form")
		return
	}

	req := &core.TokenRequest{
		TenantID:     tenant.ID,
		GrantType:    r.FormValue("grant_type"),
		Code:         r.FormValue("code"),
		RedirectURI:  r.FormValue("redirect_uri"),
		ClientID:     r.FormValue("client_id"),
		ClientSecret: r.FormValue("client_secret"),
		CodeVerifier: r.FormValue("code_verifier"),
		RefreshToken: r.FormValue("refresh_token"),
		Scope:        r.FormValue("scope"),
	}

	resp, err := h.oauth.Token(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_grant", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// UserInfo serves GET /userinfo.
func (h *OIDCHandlers) UserInfo(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	info, err := h.oauth.UserInfo(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid access token")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Revoke serves POST /oauth2/revoke per RFC 7009, always returning 200.
func (h *OIDCHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse form")
		return
	}
	_ = h.oauth.Revoke(r.Context(), tenant.ID, r.FormValue("token"), r.FormValue("token_type_hint"))
	w.WriteHeader(http.StatusOK)
}

// Introspect serves POST /oauth2/introspect per RFC 7662.
func (h *OIDCHandlers) Introspect(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse form")
		return
	}
	resp, err := h.oauth.Introspect(r.Context(), tenant.ID, r.FormValue("token"))
	if err != nil {
		resp = &core.IntrospectResponse{Active: false}
	}
	writeJSON(w, http.StatusOK, resp)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return auth[len(prefix):]
}
