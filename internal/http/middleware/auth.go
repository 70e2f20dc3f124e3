package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
)

type contextKey string

const requesterKey contextKey = "requester"

// Identity resolves a Bearer token into an identity.Requester. Requests
// without a token pass through anonymously; a bad token is rejected.
func Identity(tokens *identity.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if auth == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !strings.HasPrefix(auth, "Bearer ") {
				jsonError(w, "malformed authorization header", http.StatusUnauthorized)
				return
			}
			if !tokens.Enabled() {
				jsonError(w, "token auth disabled", http.StatusUnauthorized)
				return
			}
			req, err := tokens.Parse(strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				jsonError(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithRequester(r.Context(), req)))
		})
	}
}

// RequireKinds rejects anonymous callers with 401 and callers of any other
// kind with 403.
func RequireKinds(kinds ...identity.Kind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, ok := RequesterFromContext(r.Context())
			if !ok {
				jsonError(w, "authentication required", http.StatusUnauthorized)
				return
			}
			if !slices.Contains(kinds, req.Kind) {
				jsonError(w, "not allowed for "+req.Kind.String(), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithRequester stores the caller on the context.
func WithRequester(ctx context.Context, r identity.Requester) context.Context {
	return context.WithValue(ctx, requesterKey, r)
}

// RequesterFromContext returns the authenticated caller if present.
func RequesterFromContext(ctx context.Context) (identity.Requester, bool) {
	r, ok := ctx.Value(requesterKey).(identity.Requester)
	return r, ok
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
