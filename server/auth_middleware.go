package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-user-management/token"
	"github.com/pkg/errors"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyUsername stores the authenticated username
	ContextKeyUsername ContextKey = "username"
	// ContextKeyClaims stores parsed token claims
	ContextKeyClaims ContextKey = "claims"
)

// RequireAuth validates a Bearer session token: signature and expiry first,
// then the revocation registry, then the two-factor gate. A token issued
// before the 2FA challenge was completed cannot reach protected routes.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := bearerToken(r)
			if err != nil {
				writeUnauthorized(w, r, err.Error())
				return
			}

			claims, err := s.codec.Validate(rawToken)
			if err != nil {
				writeUnauthorized(w, r, err.Error())
				return
			}

			if s.revocations.IsRevoked(claims.ID) {
				writeUnauthorized(w, r, "token revoked")
				return
			}

			if !claims.TwoFactorSatisfied {
				writeUnauthorized(w, r, "two-factor verification required")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUsername, claims.Subject)
			ctx = context.WithValue(ctx, ContextKeyClaims, claims)
			next(w, r.WithContext(ctx))
		}
	}
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing Authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("invalid Authorization header format")
	}
	if parts[1] == "" {
		return "", errors.New("empty bearer token")
	}
	return parts[1], nil
}

func claimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(ContextKeyClaims).(*token.Claims)
	return claims, ok
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{
		Status:  http.StatusUnauthorized,
		Error:   http.StatusText(http.StatusUnauthorized),
		Message: message,
		Path:    r.URL.Path,
	})
}
