// Package middleware provides HTTP middleware for authentication.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/castellanhq/castellan/pkg/httputil"
	"github.com/castellanhq/castellan/pkg/observability"
)

// TokenValidator resolves a presented token to a user ID
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int64, error)
}

// Auth authenticates requests with a bearer token and binds the
// resolved user ID to the request context. Browsers cannot set headers
// on websocket dials, so the token is also accepted as an
// `access_token` query parameter.
func Auth(validator TokenValidator, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			userID, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				logger.WithError(err).Debug("Token validation failed")
				httputil.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := observability.WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken pulls the token from the Authorization header or, as a
// fallback, the access_token query parameter.
func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}
