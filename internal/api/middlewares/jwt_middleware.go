package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const (
	orgKey  ctxKey = "organization_id"
	userKey ctxKey = "user_id"
)

// ErrEmptySecret is returned by JWTMiddleware for an empty signing key, which
// would verify tokens anyone can mint.
var ErrEmptySecret = errors.New("jwt secret is empty")

// JWTMiddleware validates the Authorization header and attaches the caller's
// organization_id (and user_id, when present) to the request context.
func JWTMiddleware(secret string) (func(http.Handler) http.Handler, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing or invalid token", http.StatusUnauthorized)
				return
			}

			tokenStr := strings.TrimPrefix(auth, "Bearer ")
			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			orgID, ok := claims["organization_id"].(string)
			if !ok || orgID == "" {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), orgKey, orgID)
			if userID, ok := claims["user_id"].(string); ok {
				ctx = context.WithValue(ctx, userKey, userID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

// OrganizationID returns the organization the request was authenticated for.
func OrganizationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(orgKey).(string)
	return id, ok && id != ""
}

// UserID returns the user_id claim, if the token carried one.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey).(string)
	return id
}

// WithOrganization is used by tests and internal callers that bypass the
// token check.
func WithOrganization(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgKey, orgID)
}

// WithUser attaches a user id the way a token's user_id claim does.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}
