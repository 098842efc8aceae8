package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wiggzz/diogenes/pkg/statestore"
)

// Identity is the resolved caller behind a validated bearer token.
type Identity struct {
	Email string
}

type identityContextKey struct{}

// NewContext attaches id to ctx.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// FromContext returns the Identity stored by Middleware, or nil if the
// request was never authenticated (should not happen behind Middleware).
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}

// Middleware authenticates every request via a single scheme:
// "Authorization: Bearer <prefix><token>". Any other scheme, or a token
// that fails validation, is rejected with 401.
func Middleware(store statestore.Store, keyPrefix string, logger *slog.Logger) func(http.Handler) http.Handler {
	// Written here rather than via httpserver.RespondError: httpserver
	// imports this package, so importing it back would be a cycle.
	unauthorized := func(w http.ResponseWriter, message string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": message})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				unauthorized(w, "missing bearer token")
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			ok, email, err := ValidateAPIKey(r.Context(), store, keyPrefix, token)
			if err != nil {
				logger.Error("validating api key", "error", err)
				unauthorized(w, "invalid API key")
				return
			}
			if !ok {
				unauthorized(w, "invalid API key")
				return
			}

			ctx := NewContext(r.Context(), &Identity{Email: email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
