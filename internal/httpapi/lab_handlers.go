package httpapi

import (
	"fmt"
	"net/http"

	"github.com/zaidku/LHUMS/internal/auth"
	"github.com/zaidku/LHUMS/internal/tenant"
)

// Attribute names the lab routes enforce. They ship in the seeded catalog
// as system-wide role grants.
const (
	attrLabManage        = "lab.manage"
	attrLabMembersView   = "lab.members.view"
	attrLabMembersManage = "lab.members.manage"
)

type createLabRequest struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (a *API) handleCreateLab(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if !caller.IsAdmin {
		writeServiceError(w, fmt.Errorf("%w: only system admins may create labs", auth.ErrForbidden))
		return
	}
	var req createLabRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	lab, err := a.labs.CreateLab(r.Context(), caller.ID, req.Name, req.Code, req.Description, requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lab)
}

func (a *API) handleListLabs(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	filter, err := a.gate.AccessibleLabs(r.Context(), caller)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if filter == nil && !caller.IsAdmin {
		// Non-admin with no memberships sees nothing, not everything.
		filter = []string{}
	}
	labs, err := a.labs.ListLabs(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"labs": labs})
}

func (a *API) handleGetLab(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	labID := pathVar(r, "id")
	if err := a.gate.VerifyAccess(r.Context(), caller, labID); err != nil {
		writeServiceError(w, err)
		return
	}
	lab, err := a.labs.GetLab(r.Context(), labID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lab)
}

type updateLabRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

func (a *API) handleUpdateLab(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	labID := pathVar(r, "id")
	if err := a.requireAttribute(w, r, caller, labID, attrLabManage); err != nil {
		return
	}
	var req updateLabRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	lab, err := a.labs.UpdateLab(r.Context(), caller.ID, labID, tenant.LabUpdate{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive,
	}, requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lab)
}

func (a *API) handleDeleteLab(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if !caller.IsAdmin {
		writeServiceError(w, fmt.Errorf("%w: only system admins may delete labs", auth.ErrForbidden))
		return
	}
	if err := a.labs.DeleteLab(r.Context(), caller.ID, pathVar(r, "id"), requestMeta(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	labID := pathVar(r, "id")
	// Managing members implies seeing them.
	ok, err := a.gate.RequireAnyAttribute(r.Context(), caller, labID, attrLabMembersView, attrLabMembersManage)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !ok {
		writeServiceError(w, fmt.Errorf("%w: missing attribute %s", auth.ErrForbidden, attrLabMembersView))
		return
	}
	members, err := a.labs.ListMembers(r.Context(), labID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (a *API) handleAddMember(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	labID := pathVar(r, "id")
	if err := a.requireAttribute(w, r, caller, labID, attrLabMembersManage); err != nil {
		return
	}
	var req addMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	m, err := a.labs.AddMember(r.Context(), caller.ID, labID, req.UserID, tenant.Role(req.Role), requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	labID := pathVar(r, "id")
	if err := a.requireAttribute(w, r, caller, labID, attrLabMembersManage); err != nil {
		return
	}
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	m, err := a.labs.UpdateRole(r.Context(), caller.ID, labID, pathVar(r, "userID"), tenant.Role(req.Role), requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	labID := pathVar(r, "id")
	if err := a.requireAttribute(w, r, caller, labID, attrLabMembersManage); err != nil {
		return
	}
	if err := a.labs.RemoveMember(r.Context(), caller.ID, labID, pathVar(r, "userID"), requestMeta(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireAttribute runs one attribute check and writes the 403 itself when
// denied, returning non-nil so the handler can bail.
func (a *API) requireAttribute(w http.ResponseWriter, r *http.Request, caller *auth.User, labID, attribute string) error {
	decision, err := a.gate.RequireAttributes(r.Context(), caller, labID, attribute)
	if err != nil {
		writeServiceError(w, err)
		return err
	}
	if !decision.Allowed() {
		err := fmt.Errorf("%w: missing attribute %s", auth.ErrForbidden, attribute)
		writeServiceError(w, err)
		return err
	}
	return nil
}
