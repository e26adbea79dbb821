// Package httpapi is the HTTP transport: routing, authentication of
// bearer tokens, and translation between wire payloads and service calls.
// All authorization context (caller, lab, client address) is resolved here
// and passed to services as explicit arguments.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/zaidku/LHUMS/internal/audit"
	"github.com/zaidku/LHUMS/internal/auth"
	"github.com/zaidku/LHUMS/internal/authz"
	"github.com/zaidku/LHUMS/internal/obs"
	"github.com/zaidku/LHUMS/internal/tenant"
)

// ReadyProbe checks readiness, pinging the database when one is attached.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// AuditReader serves the admin audit trail view.
type AuditReader interface {
	ListRecent(ctx context.Context, actorID, action string, limit int) ([]*audit.Entry, error)
}

// API is the HTTP layer.
type API struct {
	router     *mux.Router
	users      *auth.Service
	labs       *tenant.Registry
	grants     *authz.Service
	gate       *authz.Gate
	resolver   *authz.Resolver
	auditTrail AuditReader
	readyProbe ReadyProbe
	version    string

	loginRate  int
	loginBurst int
}

// Options carries the API's collaborators.
type Options struct {
	Users      *auth.Service
	Labs       *tenant.Registry
	Grants     *authz.Service
	Gate       *authz.Gate
	Resolver   *authz.Resolver
	AuditTrail AuditReader
	ReadyProbe ReadyProbe
	Version    string

	LoginRatePerSecond int
	LoginRateBurst     int
}

// New builds the router and wires every route.
func New(opts Options) *API {
	a := &API{
		router:     mux.NewRouter(),
		users:      opts.Users,
		labs:       opts.Labs,
		grants:     opts.Grants,
		gate:       opts.Gate,
		resolver:   opts.Resolver,
		auditTrail: opts.AuditTrail,
		readyProbe: opts.ReadyProbe,
		version:    opts.Version,
		loginRate:  opts.LoginRatePerSecond,
		loginBurst: opts.LoginRateBurst,
	}
	if a.loginRate <= 0 {
		a.loginRate = 5
	}
	if a.loginBurst <= 0 {
		a.loginBurst = 10
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router

	r.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()

	// Anonymous auth flows. Login and the reset request are rate limited
	// per client IP.
	limited := RateLimit(a.loginBurst, a.loginRate)
	v1.HandleFunc("/auth/register", a.handleRegister).Methods(http.MethodPost)
	v1.Handle("/auth/login", limited(http.HandlerFunc(a.handleLogin))).Methods(http.MethodPost)
	v1.HandleFunc("/auth/refresh", a.handleRefresh).Methods(http.MethodPost)
	v1.Handle("/auth/forgot-password", limited(http.HandlerFunc(a.handleForgotPassword))).Methods(http.MethodPost)
	v1.HandleFunc("/auth/reset-password", a.handleResetPassword).Methods(http.MethodPost)
	v1.HandleFunc("/auth/verify-email", a.handleVerifyEmail).Methods(http.MethodPost)

	// Everything below requires a bearer token.
	authed := v1.NewRoute().Subrouter()
	authed.Use(a.requireAuth)

	authed.HandleFunc("/auth/password", a.handleChangePassword).Methods(http.MethodPost)
	authed.HandleFunc("/auth/password/status", a.handlePasswordStatus).Methods(http.MethodGet)
	authed.HandleFunc("/auth/email", a.handleRequestEmailChange).Methods(http.MethodPost)

	authed.HandleFunc("/users/me", a.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/users", a.handleListUsers).Methods(http.MethodGet)
	authed.HandleFunc("/users/{id}", a.handleGetUser).Methods(http.MethodGet)
	authed.HandleFunc("/users/{id}", a.handleUpdateUser).Methods(http.MethodPatch)
	authed.HandleFunc("/users/{id}", a.handleDeleteUser).Methods(http.MethodDelete)

	authed.HandleFunc("/labs", a.handleCreateLab).Methods(http.MethodPost)
	authed.HandleFunc("/labs", a.handleListLabs).Methods(http.MethodGet)
	authed.HandleFunc("/labs/{id}", a.handleGetLab).Methods(http.MethodGet)
	authed.HandleFunc("/labs/{id}", a.handleUpdateLab).Methods(http.MethodPatch)
	authed.HandleFunc("/labs/{id}", a.handleDeleteLab).Methods(http.MethodDelete)

	authed.HandleFunc("/labs/{id}/members", a.handleListMembers).Methods(http.MethodGet)
	authed.HandleFunc("/labs/{id}/members", a.handleAddMember).Methods(http.MethodPost)
	authed.HandleFunc("/labs/{id}/members/{userID}", a.handleUpdateRole).Methods(http.MethodPatch)
	authed.HandleFunc("/labs/{id}/members/{userID}", a.handleRemoveMember).Methods(http.MethodDelete)

	authed.HandleFunc("/labs/{id}/my-attributes", a.handleMyAttributes).Methods(http.MethodGet)

	authed.HandleFunc("/attributes", a.handleCreateAttribute).Methods(http.MethodPost)
	authed.HandleFunc("/attributes", a.handleListAttributes).Methods(http.MethodGet)
	authed.HandleFunc("/attributes/{id}", a.handleDeactivateAttribute).Methods(http.MethodDelete)

	authed.HandleFunc("/labs/{id}/role-grants", a.handleListRoleGrants).Methods(http.MethodGet)
	authed.HandleFunc("/labs/{id}/role-grants", a.handleAssignRoleGrant).Methods(http.MethodPost)
	authed.HandleFunc("/labs/{id}/role-grants/{grantID}", a.handleRemoveRoleGrant).Methods(http.MethodDelete)
	authed.HandleFunc("/role-grants", a.handleAssignSystemRoleGrant).Methods(http.MethodPost)

	authed.HandleFunc("/labs/{id}/user-grants", a.handleListUserGrants).Methods(http.MethodGet)
	authed.HandleFunc("/labs/{id}/user-grants", a.handleGrantUserAttribute).Methods(http.MethodPost)
	authed.HandleFunc("/labs/{id}/user-grants/{grantID}", a.handleRevokeUserGrant).Methods(http.MethodDelete)

	authed.HandleFunc("/audit", a.handleAuditTrail).Methods(http.MethodGet)
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = SecurityHeaders(h)
	h = MaxBodyBytes(h, 1<<20)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "lhums-api",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, reason, message string) {
	writeJSON(w, code, map[string]string{"error": reason, "message": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// Account-state denials are 403 with a machine-readable reason so clients
// can route the user to the right remediation.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, auth.ErrPolicyViolation):
		writeError(w, http.StatusBadRequest, "policy_violation", err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid_token", "token is invalid or expired")
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, http.StatusForbidden, "account_locked", "account is temporarily locked")
	case errors.Is(err, auth.ErrPasswordExpired):
		writeError(w, http.StatusForbidden, "password_expired", "password has expired and must be reset")
	case errors.Is(err, auth.ErrPasswordChangeRequired):
		writeError(w, http.StatusForbidden, "password_change_required", "password must be changed before signing in")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "resource already exists")
	default:
		obs.LogEvent(map[string]any{"level": "error", "msg": "internal error", "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{IP: clientIP(r), UserAgent: r.UserAgent()}
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
