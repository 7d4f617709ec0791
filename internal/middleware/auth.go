package middleware

import (
	"context"
	"net/http"
	"strings"

	"peerchat/internal/identity"
	"peerchat/internal/metrics"
)

type contextKey string

const identityKey contextKey = "identity"

// TokenVerifier is what the middleware needs from the auth service. The
// interface keeps this package decoupled from the user package.
type TokenVerifier interface {
	VerifyToken(tokenString string) (identity.Identity, error)
}

type Auth struct {
	verifier TokenVerifier
}

func NewAuth(v TokenVerifier) *Auth {
	return &Auth{verifier: v}
}

// Handle rejects requests without a valid JWT and injects the caller's
// identity into the request context. The token is taken from the
// Authorization header, falling back to a ?token= query parameter because
// browser websocket clients cannot set headers on the upgrade request.
func (a *Auth) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			http.Error(w, "missing authentication token", http.StatusUnauthorized)
			return
		}

		ident, err := a.verifier.VerifyToken(tokenString)
		if err != nil {
			metrics.AuthFailures.Inc()
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFromContext returns the authenticated identity injected by Handle.
func IdentityFromContext(ctx context.Context) (identity.Identity, bool) {
	ident, ok := ctx.Value(identityKey).(identity.Identity)
	return ident, ok
}
