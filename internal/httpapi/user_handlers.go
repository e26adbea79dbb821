package httpapi

import (
	"net/http"
	"strconv"

	"github.com/zaidku/LHUMS/internal/auth"
)

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, caller)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	user, err := a.users.GetUser(r.Context(), caller, pathVar(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type userListResponse struct {
	Users   []*auth.User `json:"users"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	PerPage int          `json:"per_page"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	page, perPage := auth.NormalizePagination(queryInt(r, "page", 1), queryInt(r, "per_page", 50))
	users, total, err := a.users.ListUsers(r.Context(), caller, page, perPage)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userListResponse{
		Users: users, Total: total, Page: page, PerPage: perPage,
	})
}

type updateUserRequest struct {
	FirstName             *string `json:"first_name"`
	LastName              *string `json:"last_name"`
	IsActive              *bool   `json:"is_active"`
	RequirePasswordChange *bool   `json:"require_password_change"`
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	user, err := a.users.UpdateUser(r.Context(), caller, pathVar(r, "id"), auth.ProfileUpdate{
		FirstName:             req.FirstName,
		LastName:              req.LastName,
		IsActive:              req.IsActive,
		RequirePasswordChange: req.RequirePasswordChange,
	}, requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if err := a.users.DeleteUser(r.Context(), caller, pathVar(r, "id"), requestMeta(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
