package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridianid/issuer/issuer/core"
	"github.com/meridianid/issuer/issuer/crypto"
)

// AdminHandlers serves the tenant/client/user/role/provider management
// surface and the cross-session admin queries, generalizing the teacher's
// single-tenant AdminHandlers to the full entity set.
type AdminHandlers struct {
	store        core.Store
	keys         core.KeyManager
	sessions     core.AdminSessionService
	theme        core.ThemeResolver
	clock        core.Clock
	passwordHash *crypto.PasswordHasher
}

// NewAdminHandlers creates the admin handler set.
func NewAdminHandlers(store core.Store, keys core.KeyManager, sessions core.AdminSessionService, theme core.ThemeResolver, clock core.Clock) *AdminHandlers {
	return &AdminHandlers{store: store, keys: keys, sessions: sessions, theme: theme, clock: clock, passwordHash: crypto.NewPasswordHasher()}
}

// Health serves GET /healthz.
func (h *AdminHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "time": h.clock.Now()})
}

func pagination(r *http.Request) (limit int, cursor string) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return limit, r.URL.Query().Get("cursor")
}

// ListTenants serves GET /tenants.
func (h *AdminHandlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	limit, cursor := pagination(r)
	tenants, next, err := h.store.Tenants().List(r.Context(), limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tenants": tenants, "next_cursor": next})
}

// CreateTenant serves POST /tenants. It provisions an initial signing key
// for the issuer-wide key ring if none is active yet.
func (h *AdminHandlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug string `json:"slug"`
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	tenant := &core.Tenant{
		ID:        uuid.New().String(),
		Slug:      req.Slug,
		Name:      req.Name,
		Status:    "active",
		CreatedAt: h.clock.Now(),
	}
	if err := h.store.Tenants().Create(r.Context(), tenant); err != nil {
		writeError(w, http.StatusConflict, "conflict", "tenant already exists")
		return
	}
	if _, err := h.keys.ActiveKey(r.Context()); err != nil {
		_, _ = h.keys.GenerateKey(r.Context())
	}
	writeJSON(w, http.StatusCreated, tenant)
}

// GetTenant serves GET /tenants/{tenantId}.
func (h *AdminHandlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.store.Tenants().GetByID(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// UpdateTenant serves PATCH /tenants/{tenantId}.
func (h *AdminHandlers) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.store.Tenants().GetByID(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "tenant not found")
		return
	}
	var req struct {
		Name   *string `json:"name"`
		Status *string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Name != nil {
		tenant.Name = *req.Name
	}
	if req.Status != nil {
		tenant.Status = *req.Status
	}
	if err := h.store.Tenants().Update(r.Context(), tenant); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	h.theme.Invalidate(r.Context(), tenant.ID)
	writeJSON(w, http.StatusOK, tenant)
}

// ListClients serves GET /tenants/{tenantId}/clients.
func (h *AdminHandlers) ListClients(w http.ResponseWriter, r *http.Request) {
	limit, cursor := pagination(r)
	clients, next, err := h.store.Clients().List(r.Context(), chi.URLParam(r, "tenantId"), limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"clients": clients, "next_cursor": next})
}

// CreateClient serves POST /tenants/{tenantId}/clients.
func (h *AdminHandlers) CreateClient(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	var req struct {
		Name         string   `json:"name"`
		ClientID     string   `json:"client_id"`
		ClientSecret string   `json:"client_secret"`
		RedirectURIs []string `json:"redirect_uris"`
		GrantTypes   []string `json:"grant_types"`
		Scopes       []string `json:"scopes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	hash, err := h.passwordHash.Hash(req.ClientSecret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "failed to hash client secret")
		return
	}
	client := &core.Client{
		ID:               uuid.New().String(),
		TenantID:         tenantID,
		Name:             req.Name,
		ClientID:         req.ClientID,
		ClientSecretHash: hash,
		RedirectURIs:     req.RedirectURIs,
		GrantTypes:       req.GrantTypes,
		Scopes:           req.Scopes,
		CreatedAt:        h.clock.Now(),
	}
	if err := h.store.Clients().Create(r.Context(), client); err != nil {
		writeError(w, http.StatusConflict, "conflict", "client already exists")
		return
	}
	writeJSON(w, http.StatusCreated, client)
}

// ListUsers serves GET /tenants/{tenantId}/users.
func (h *AdminHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, cursor := pagination(r)
	users, next, err := h.store.Users().List(r.Context(), chi.URLParam(r, "tenantId"), limit, cursor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users, "next_cursor": next})
}

// CreateUser serves POST /tenants/{tenantId}/users.
func (h *AdminHandlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	var req struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	user := &core.User{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Status:      "active",
		CreatedAt:   h.clock.Now(),
	}
	if err := h.store.Users().Create(r.Context(), user); err != nil {
		writeError(w, http.StatusConflict, "conflict", "user already exists")
		return
	}
	if req.Password != "" {
		hash, err := h.passwordHash.Hash(req.Password)
		if err == nil {
			_ = h.store.Users().SetPasswordHash(r.Context(), user.ID, hash)
		}
	}
	writeJSON(w, http.StatusCreated, user)
}

// SetUserPassword serves PUT /tenants/{tenantId}/users/{userId}/password.
func (h *AdminHandlers) SetUserPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	hash, err := h.passwordHash.Hash(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "failed to hash password")
		return
	}
	if err := h.store.Users().SetPasswordHash(r.Context(), chi.URLParam(r, "userId"), hash); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRoles serves GET /tenants/{tenantId}/roles.
func (h *AdminHandlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.Roles().List(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

// CreateRole serves POST /tenants/{tenantId}/roles.
func (h *AdminHandlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	role := &core.Role{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   h.clock.Now(),
	}
	if err := h.store.Roles().Create(r.Context(), role); err != nil {
		writeError(w, http.StatusConflict, "conflict", "role already exists")
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

// AssignRole serves POST /tenants/{tenantId}/users/{userId}/roles with
// body {"roleId": "..."}.
func (h *AdminHandlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoleID     string     `json:"roleId"`
		AssignedBy string     `json:"assignedBy"`
		ExpiresAt  *time.Time `json:"expiresAt"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ur := &core.UserRole{
		UserID:     chi.URLParam(r, "userId"),
		RoleID:     req.RoleID,
		TenantID:   chi.URLParam(r, "tenantId"),
		AssignedAt: h.clock.Now(),
		AssignedBy: req.AssignedBy,
		ExpiresAt:  req.ExpiresAt,
	}
	if err := h.store.UserRoles().Assign(r.Context(), ur); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ListProviders serves GET /tenants/{tenantId}/providers.
func (h *AdminHandlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.store.Providers().List(r.Context(), chi.URLParam(r, "tenantId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": providers})
}

// CreateProvider serves POST /tenants/{tenantId}/providers.
func (h *AdminHandlers) CreateProvider(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	var req struct {
		Name    string                 `json:"name"`
		Type    string                 `json:"type"`
		Config  map[string]interface{} `json:"config"`
		Enabled bool                   `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p := &core.ProviderConfig{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Name:      req.Name,
		Type:      req.Type,
		Config:    req.Config,
		Enabled:   req.Enabled,
		CreatedAt: h.clock.Now(),
	}
	if err := h.store.Providers().Create(r.Context(), p); err != nil {
		writeError(w, http.StatusConflict, "conflict", "provider already exists")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// -- Admin session surface (spec.md §4.4): SQL-only, no KV equivalent --

// ListUserSessions serves GET /admin/users/{userId}/sessions.
func (h *AdminHandlers) ListUserSessions(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	sessions, err := h.sessions.ListUserSessions(r.Context(), tenant.ID, chi.URLParam(r, "userId"), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// DeleteUserSession serves DELETE /admin/users/{userId}/sessions/{sessionId}.
func (h *AdminHandlers) DeleteUserSession(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}
	revoked, err := h.sessions.RevokeSession(r.Context(), tenant.ID, chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts_revoked": revoked})
}

// DeleteAllUserSessions serves DELETE /admin/users/{userId}/sessions.
func (h *AdminHandlers) DeleteAllUserSessions(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}
	revoked, err := h.sessions.RevokeAllUserSessions(r.Context(), tenant.ID, chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions_revoked": revoked})
}

// ListTenantSessions serves GET /admin/sessions.
func (h *AdminHandlers) ListTenantSessions(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}
	limit, offset := 0, 0
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	activeOnly := r.URL.Query().Get("active") == "true"
	sessions, err := h.sessions.ListTenantSessions(r.Context(), tenant.ID, activeOnly, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// SessionStats serves GET /admin/sessions/stats.
func (h *AdminHandlers) SessionStats(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}
	stats, err := h.sessions.GetSessionStats(r.Context(), tenant.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CleanupSessions serves POST /admin/sessions/cleanup?max_age=720h.
func (h *AdminHandlers) CleanupSessions(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}
	maxAge, err := time.ParseDuration(r.URL.Query().Get("max_age"))
	if err != nil {
		maxAge = 30 * 24 * time.Hour
	}
	removed, err := h.sessions.CleanupExpiredSessions(r.Context(), tenant.ID, maxAge)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
