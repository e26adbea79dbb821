package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/zaidku/LHUMS/internal/auth"
)

// memUsers is a map-backed auth.UserStore for handler tests.
type memUsers struct {
	mu   sync.Mutex
	byID map[string]*auth.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[string]*auth.User)}
}

func (m *memUsers) Create(_ context.Context, u *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.byID {
		if strings.EqualFold(e.Username, u.Username) || strings.EqualFold(e.Email, u.Email) {
			return auth.ErrConflict
		}
	}
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memUsers) List(_ context.Context, offset, limit int) ([]*auth.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*auth.User
	for _, u := range m.byID {
		cp := *u
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *memUsers) Update(_ context.Context, u *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[u.ID]; !ok {
		return auth.ErrNotFound
	}
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return auth.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

type memTokens struct {
	mu    sync.Mutex
	byID  map[string]*auth.ActionToken
	users *memUsers
}

func newMemTokens(users *memUsers) *memTokens {
	return &memTokens{byID: make(map[string]*auth.ActionToken), users: users}
}

func (m *memTokens) Create(_ context.Context, t *auth.ActionToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.byID[t.ID] = &cp
	return nil
}

func (m *memTokens) FindByValue(_ context.Context, kind auth.ActionTokenKind, value string) (*auth.ActionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byID {
		if t.Kind == kind && t.Token == value {
			cp := *t
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memTokens) ConsumeForUser(ctx context.Context, tokenID string, u *auth.User) error {
	m.mu.Lock()
	t, ok := m.byID[tokenID]
	if !ok || t.Used {
		m.mu.Unlock()
		return auth.ErrNotFound
	}
	t.Used = true
	m.mu.Unlock()
	return m.users.Update(ctx, u)
}

func newTestAPI(t *testing.T) (*API, *memUsers) {
	t.Helper()
	issuer, err := auth.NewTokenIssuer("test-secret-for-handler-tests")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	users := newMemUsers()
	svc, err := auth.NewService(users, newMemTokens(users), issuer)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(Options{
		Users:              svc,
		Version:            "test",
		LoginRatePerSecond: 100,
		LoginRateBurst:     100,
	})
	return api, users
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegisterLoginMeRoundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("bcrypt is slow")
	}
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := postJSON(t, h, "/v1/auth/register", map[string]string{
		"username":   "alice",
		"email":      "alice@example.com",
		"password":   "correct horse battery",
		"first_name": "Alice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, h, "/v1/auth/login", map[string]string{
		"username": "alice",
		"password": "correct horse battery",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d, body %s", rec.Code, rec.Body.String())
	}
	var login struct {
		AccessToken string `json:"access_token"`
		User        struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if login.AccessToken == "" {
		t.Fatal("login returned no access token")
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("me: status %d, body %s", rec2.Code, rec2.Body.String())
	}
	var me struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(rec2.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Username != "alice" {
		t.Fatalf("me.username = %q", me.Username)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	if testing.Short() {
		t.Skip("bcrypt is slow")
	}
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := postJSON(t, h, "/v1/auth/register", map[string]string{
		"username": "bob",
		"email":    "bob@example.com",
		"password": "a perfectly fine one",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d", rec.Code)
	}

	rec = postJSON(t, h, "/v1/auth/login", map[string]string{
		"username": "bob",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("login: status %d, want 401", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != "unauthorized" {
		t.Fatalf("error = %q", body["error"])
	}
}

func TestAuthedRoutesReject(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d, want 401", rec.Code)
	}
}

func TestRegisterRejectsUnknownFields(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := postJSON(t, h, "/v1/auth/register", map[string]string{
		"username": "carol",
		"email":    "carol@example.com",
		"password": "long enough password",
		"is_admin": "true",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400 for unknown field", rec.Code)
	}
}

func TestWriteServiceErrorMapping(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantReason string
	}{
		{auth.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{auth.ErrPolicyViolation, http.StatusBadRequest, "policy_violation"},
		{auth.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{auth.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
		{auth.ErrAccountLocked, http.StatusForbidden, "account_locked"},
		{auth.ErrPasswordExpired, http.StatusForbidden, "password_expired"},
		{auth.ErrPasswordChangeRequired, http.StatusForbidden, "password_change_required"},
		{auth.ErrForbidden, http.StatusForbidden, "forbidden"},
		{auth.ErrNotFound, http.StatusNotFound, "not_found"},
		{auth.ErrConflict, http.StatusConflict, "conflict"},
		{errors.New("unexpected"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.wantReason, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, fmt.Errorf("op failed: %w", tc.err))
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tc.wantReason {
				t.Fatalf("reason = %q, want %q", body["error"], tc.wantReason)
			}
		})
	}
}

func TestListUsersEchoesClampedPagination(t *testing.T) {
	if testing.Short() {
		t.Skip("bcrypt is slow")
	}
	api, users := newTestAPI(t)
	h := api.Handler()

	rec := postJSON(t, h, "/v1/auth/register", map[string]string{
		"username": "root",
		"email":    "root@example.com",
		"password": "a perfectly fine one",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d", rec.Code)
	}
	users.mu.Lock()
	for _, u := range users.byID {
		u.IsAdmin = true
	}
	users.mu.Unlock()

	rec = postJSON(t, h, "/v1/auth/login", map[string]string{
		"username": "root",
		"password": "a perfectly fine one",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d", rec.Code)
	}
	var login struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/users?page=0&per_page=200", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("list: status %d, body %s", rec2.Code, rec2.Body.String())
	}
	var body struct {
		Page    int `json:"page"`
		PerPage int `json:"per_page"`
	}
	if err := json.Unmarshal(rec2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if body.Page != 1 || body.PerPage != 20 {
		t.Fatalf("pagination metadata = (page %d, per_page %d), want the applied (1, 20)", body.Page, body.PerPage)
	}
}
