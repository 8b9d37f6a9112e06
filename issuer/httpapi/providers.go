package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridianid/issuer/issuer/core"
)

// providerRegistry is the narrow lookup ProviderHandlers needs; satisfied
// by *providers.Registry.
type providerRegistry interface {
	Get(name string) (core.Provider, error)
}

// ProviderHandlers bridges the generic upstream-identity-provider contract
// (spec.md's "init/authorize/callback" — whose concrete wire protocol is
// explicitly out of scope) into the same session-attach flow /login uses.
// A provider's own redirect dance, if it has one, happens inside its
// Authenticate implementation; this handler only needs the result.
type ProviderHandlers struct {
	registry   providerRegistry
	sessions   core.BrowserSessionService
	cookies    cookieSealer
	cookieName string
	secure     bool
	clock      core.Clock
}

// NewProviderHandlers creates the provider bridge handler set.
func NewProviderHandlers(registry providerRegistry, sessions core.BrowserSessionService, cookies cookieSealer, cookieName string, secure bool, clock core.Clock) *ProviderHandlers {
	return &ProviderHandlers{registry: registry, sessions: sessions, cookies: cookies, cookieName: cookieName, secure: secure, clock: clock}
}

// Authorize serves GET /{provider}/authorize. It only checks that the named
// provider is registered and reports its callback path as JSON; it calls
// nothing on the provider and issues no upstream redirect.
func (h *ProviderHandlers) Authorize(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	if _, err := h.registry.Get(name); err != nil {
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"provider": name, "callback": "/" + name + "/callback"})
}

// Callback serves POST /{provider}/callback: it hands the submitted form
// values to the named provider as credentials, and on success attaches the
// resulting user to the browser session exactly like /login does.
func (h *ProviderHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}
	name := chi.URLParam(r, "provider")
	provider, err := h.registry.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse form")
		return
	}
	credentials := make(map[string]string, len(r.Form))
	for key := range r.Form {
		credentials[key] = r.FormValue(key)
	}

	user, err := provider.Authenticate(r.Context(), tenant.ID, credentials)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
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

	account := &core.AccountSession{
		BrowserSessionID: session.ID,
		UserID:           user.ID,
		SubjectType:      "user",
		AuthenticatedAt:  h.clock.Now(),
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
