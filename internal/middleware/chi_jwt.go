// Package middleware holds the chi middleware chain glmproxy wraps its
// routes in.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/httputil"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/token"
)

type contextKey string

// BearerTokenKey is the context key BearerAuth stores the raw bearer token
// under.
const BearerTokenKey contextKey = "bearerToken"

// BearerUserIDKey is the context key BearerAuth stores the token's derived
// user id under, when present.
const BearerUserIDKey contextKey = "bearerUserID"

// BearerAuth extracts the Authorization: Bearer token and decodes it far
// enough to read a user id, without verifying its signature — the proxy has
// no key to verify against, only a bearer token it forwards upstream
// unmodified. requireAuth controls whether a missing/malformed header is
// rejected outright or merely left absent in the request context.
func BearerAuth(requireAuth bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := extractBearer(r)
			if !ok {
				if requireAuth {
					httputil.Unauthorized(w, "missing bearer token")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), BearerTokenKey, raw)
			if userID := token.UserID(raw); userID != "" {
				ctx = context.WithValue(ctx, BearerUserIDKey, userID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// TokenFromContext returns the raw bearer token BearerAuth stashed in ctx,
// if any.
func TokenFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(BearerTokenKey).(string)
	return v, ok
}

// UserIDFromContext returns the derived user id BearerAuth stashed in ctx,
// if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(BearerUserIDKey).(string)
	return v, ok
}
