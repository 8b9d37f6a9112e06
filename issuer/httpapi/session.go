package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridianid/issuer/issuer/core"
)

// SessionHandlers serves the multi-account browser session surface:
// listing accounts in the current session, switching the active one,
// removing one or all accounts, and the CORS-enabled session/check probe
// used by frontends to decide whether to show a login screen.
type SessionHandlers struct {
	sessions core.BrowserSessionService
}

// NewSessionHandlers creates the session handler set.
func NewSessionHandlers(sessions core.BrowserSessionService) *SessionHandlers {
	return &SessionHandlers{sessions: sessions}
}

type accountView struct {
	UserID          string `json:"userId"`
	IsActive        bool   `json:"isActive"`
	AuthenticatedAt string `json:"authenticatedAt"`
	SubjectType     string `json:"subjectType"`
	ClientID        string `json:"clientId,omitempty"`
}

// Accounts serves GET /session/accounts.
func (h *SessionHandlers) Accounts(w http.ResponseWriter, r *http.Request) {
	tenant, session, ok := tenantAndSession(w, r)
	if !ok {
		return
	}
	accounts, err := h.sessions.Accounts(r.Context(), tenant.ID, session.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, accountView{
			UserID:          a.UserID,
			IsActive:        a.IsActive,
			AuthenticatedAt: a.AuthenticatedAt.Format("2006-01-02T15:04:05Z07:00"),
			SubjectType:     a.SubjectType,
			ClientID:        a.ClientID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": views})
}

// Switch serves POST /session/switch with body {"userId": "..."}.
func (h *SessionHandlers) Switch(w http.ResponseWriter, r *http.Request) {
	tenant, session, ok := tenantAndSession(w, r)
	if !ok {
		return
	}
	var body struct {
		UserID string `json:"userId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := h.sessions.SwitchActive(r.Context(), tenant.ID, session.ID, body.UserID); err != nil {
		writeError(w, http.StatusNotFound, "account_not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// RemoveAccount serves DELETE /session/accounts/{userId}.
func (h *SessionHandlers) RemoveAccount(w http.ResponseWriter, r *http.Request) {
	tenant, session, ok := tenantAndSession(w, r)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "userId")
	if err := h.sessions.RemoveAccount(r.Context(), tenant.ID, session.ID, userID); err != nil {
		writeError(w, http.StatusNotFound, "account_not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// RemoveAll serves DELETE /session/all.
func (h *SessionHandlers) RemoveAll(w http.ResponseWriter, r *http.Request) {
	tenant, session, ok := tenantAndSession(w, r)
	if !ok {
		return
	}
	if err := h.sessions.RemoveAllAccounts(r.Context(), tenant.ID, session.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Check serves GET /session/check (CORS-enabled): it never errors, it just
// reports whether a session is active.
func (h *SessionHandlers) Check(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	session, ok := GetBrowserSession(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	accounts, err := h.sessions.Accounts(r.Context(), tenant.ID, session.ID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":       true,
		"sessionId":    session.ID,
		"tenantId":     tenant.ID,
		"activeUserId": session.ActiveUserID,
		"accountCount": len(accounts),
	})
}

func tenantAndSession(w http.ResponseWriter, r *http.Request) (*core.Tenant, *core.BrowserSession, bool) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return nil, nil, false
	}
	session, ok := GetBrowserSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "session_not_found", "no active browser session")
		return nil, nil, false
	}
	return tenant, session, true
}
