package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/zaidku/LHUMS/internal/auth"
)

type contextKey int

const callerKey contextKey = 0

// callerFrom returns the authenticated user the middleware stored.
func callerFrom(ctx context.Context) (*auth.User, bool) {
	u, ok := ctx.Value(callerKey).(*auth.User)
	return u, ok
}

// requireAuth authenticates the bearer token and stores the caller in the
// request context. The caller never travels further than the handler: every
// service call receives it as an explicit argument.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		caller, err := a.users.Authenticate(r.Context(), token)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// caller returns the authenticated user or writes 401 and reports false.
func (a *API) caller(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	u, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return nil, false
	}
	return u, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	const prefix = "bearer "
	if !strings.HasPrefix(strings.ToLower(header), prefix) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
