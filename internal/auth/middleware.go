package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is unexported so no other package can read or shadow our values.
type contextKey string

const claimsKey contextKey = "idTokenClaims"

// RequireBearer rejects requests without a valid "Authorization: Bearer <id token>"
// header and stores the token's claims in the request context.
//
// This is the server half of the bearer contract: the local twin uses it to
// guard the backend endpoints exactly as the real backend does.
func RequireBearer(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r)
			if !ok {
				http.Error(w, `{"error":"unauthorized","message":"bearer token required"}`, http.StatusUnauthorized)
				return
			}
			claims, err := tokens.Validate(raw)
			if err != nil {
				http.Error(w, `{"error":"unauthorized","message":"invalid bearer token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ClaimsFromContext returns the claims stored by RequireBearer.
func ClaimsFromContext(ctx context.Context) (*IDTokenClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*IDTokenClaims)
	return c, ok && c != nil
}

// UserIDFromContext returns the provider user ID of the authenticated request.
func UserIDFromContext(ctx context.Context) (string, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return "", false
	}
	return c.Subject, c.Subject != ""
}
