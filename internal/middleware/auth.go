package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/jason-s-yu/arena/internal/auth"
	"github.com/sirupsen/logrus"
)

// TokenCookie is the cookie browsers carry the JWT in when they cannot set headers on a
// WebSocket upgrade.
const TokenCookie = "auth_token"

type claimsKey struct{}

// Authenticator verifies a token string.
type Authenticator interface {
	AuthenticateJWT(token string) (*auth.Claims, error)
}

// RequireRole rejects requests without a valid token carrying one of roles. The claims are
// stored in the request context for ClaimsFrom.
func RequireRole(authn Authenticator, logger logrus.FieldLogger, roles ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}
			claims, err := authn.AuthenticateJWT(token)
			if err != nil {
				logger.WithField("path", r.URL.Path).WithError(err).Debug("rejected token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if !claims.Allows(roles...) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// ClaimsFrom returns the claims RequireRole attached to ctx.
func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return c, ok
}

// extractToken reads a bearer token, falling back to the auth cookie.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}
