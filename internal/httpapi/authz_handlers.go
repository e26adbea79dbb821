package httpapi

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/zaidku/LHUMS/internal/auth"
	"github.com/zaidku/LHUMS/internal/tenant"
)

func (a *API) handleMyAttributes(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	labID := pathVar(r, "id")
	if err := a.gate.VerifyAccess(r.Context(), caller, labID); err != nil {
		writeServiceError(w, err)
		return
	}
	held, err := a.resolver.EffectiveAttributes(r.Context(), caller, labID, time.Now())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	names := make([]string, 0, len(held))
	for name := range held {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"lab_id": labID, "attributes": names})
}

type createAttributeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

func (a *API) handleCreateAttribute(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if !caller.IsAdmin {
		writeServiceError(w, fmt.Errorf("%w: only system admins may manage the attribute catalog", auth.ErrForbidden))
		return
	}
	var req createAttributeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	attr, err := a.grants.CreateAttribute(r.Context(), caller.ID, req.Name, req.Description, req.Category, requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attr)
}

func (a *API) handleListAttributes(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.caller(w, r); !ok {
		return
	}
	q := r.URL.Query()
	attrs, err := a.grants.ListAttributes(r.Context(), q.Get("category"), q.Get("include_inactive") != "true")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attributes": attrs})
}

func (a *API) handleDeactivateAttribute(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if !caller.IsAdmin {
		writeServiceError(w, fmt.Errorf("%w: only system admins may manage the attribute catalog", auth.ErrForbidden))
		return
	}
	if err := a.grants.DeactivateAttribute(r.Context(), caller.ID, pathVar(r, "id"), requestMeta(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListRoleGrants(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	labID := pathVar(r, "id")
	if err := a.gate.RequireLabAdmin(r.Context(), caller, labID); err != nil {
		writeServiceError(w, err)
		return
	}
	grants, err := a.grants.ListRoleGrants(r.Context(), labID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role_grants": grants})
}

type roleGrantRequest struct {
	Role        string `json:"role"`
	AttributeID string `json:"attribute_id"`
}

func (a *API) handleAssignRoleGrant(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	labID := pathVar(r, "id")
	if err := a.gate.RequireLabAdmin(r.Context(), caller, labID); err != nil {
		writeServiceError(w, err)
		return
	}
	var req roleGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	g, err := a.grants.AssignRoleAttribute(r.Context(), caller.ID, &labID, tenant.Role(req.Role), req.AttributeID, requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// handleAssignSystemRoleGrant creates a role grant that applies in every
// lab. System admins only.
func (a *API) handleAssignSystemRoleGrant(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if !caller.IsAdmin {
		writeServiceError(w, fmt.Errorf("%w: only system admins may create system-wide grants", auth.ErrForbidden))
		return
	}
	var req roleGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	g, err := a.grants.AssignRoleAttribute(r.Context(), caller.ID, nil, tenant.Role(req.Role), req.AttributeID, requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) handleRemoveRoleGrant(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	labID := pathVar(r, "id")
	if err := a.gate.RequireLabAdmin(r.Context(), caller, labID); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := a.grants.RemoveRoleAttribute(r.Context(), caller.ID, pathVar(r, "grantID"), requestMeta(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListUserGrants(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	labID := pathVar(r, "id")
	if err := a.gate.RequireLabAdmin(r.Context(), caller, labID); err != nil {
		writeServiceError(w, err)
		return
	}
	grants, err := a.grants.ListUserGrants(r.Context(), labID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_grants": grants})
}

type userGrantRequest struct {
	UserID      string     `json:"user_id"`
	AttributeID string     `json:"attribute_id"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

func (a *API) handleGrantUserAttribute(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	labID := pathVar(r, "id")
	if err := a.gate.RequireLabAdmin(r.Context(), caller, labID); err != nil {
		writeServiceError(w, err)
		return
	}
	var req userGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	g, err := a.grants.GrantUserAttribute(r.Context(), caller.ID, labID, req.UserID, req.AttributeID, req.ExpiresAt, requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) handleRevokeUserGrant(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	labID := pathVar(r, "id")
	if err := a.gate.RequireLabAdmin(r.Context(), caller, labID); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := a.grants.RevokeUserAttribute(r.Context(), caller.ID, pathVar(r, "grantID"), requestMeta(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if !caller.IsAdmin {
		writeServiceError(w, fmt.Errorf("%w: only system admins may read the audit trail", auth.ErrForbidden))
		return
	}
	q := r.URL.Query()
	entries, err := a.auditTrail.ListRecent(r.Context(), q.Get("actor_id"), q.Get("action"), queryInt(r, "limit", 100))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
