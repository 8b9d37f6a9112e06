package httpapi

import (
	"net/http"

	"github.com/meridianid/issuer/issuer/core"
)

// RBACHandlers serves the enforcement and introspection endpoints the
// resource-server side of the stack calls: single and batch permission
// checks, and listing a user's resolved roles/permissions.
type RBACHandlers struct {
	rbac core.RBACService
}

// NewRBACHandlers creates the RBAC handler set.
func NewRBACHandlers(rbac core.RBACService) *RBACHandlers {
	return &RBACHandlers{rbac: rbac}
}

type checkRequest struct {
	UserID   string `json:"userId"`
	ClientID string `json:"clientId"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// Check serves POST /rbac/check.
func (h *RBACHandlers) Check(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	allowed, err := h.rbac.Enforce(r.Context(), tenant.ID, req.UserID, req.ClientID, req.Resource, req.Action)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

// CheckBatch serves POST /rbac/check/batch: the same check, repeated for
// each entry in the request body's "checks" array, each evaluated
// independently so one failing lookup doesn't fail the whole batch.
func (h *RBACHandlers) CheckBatch(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}
	var req struct {
		Checks []checkRequest `json:"checks"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	results := make([]bool, len(req.Checks))
	for i, c := range req.Checks {
		allowed, err := h.rbac.Enforce(r.Context(), tenant.ID, c.UserID, c.ClientID, c.Resource, c.Action)
		if err != nil {
			results[i] = false
			continue
		}
		results[i] = allowed
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// Permissions serves GET /rbac/permissions?userId=...&clientId=....
func (h *RBACHandlers) Permissions(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}
	perms, err := h.rbac.PermissionsForUser(r.Context(), tenant.ID, r.URL.Query().Get("userId"), r.URL.Query().Get("clientId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"permissions": perms})
}

// Roles serves GET /rbac/roles?userId=....
func (h *RBACHandlers) Roles(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant_not_found", "no tenant resolved for this request")
		return
	}
	roles, err := h.rbac.RolesForUser(r.Context(), tenant.ID, r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}
