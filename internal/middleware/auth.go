package middleware

import (
	"context"
	"net/http"

	"chatcore/internal/apperrors"
	"chatcore/internal/tokenverify"
)

type contextKey string

const userIDContextKey contextKey = "userID"

// Auth verifies the bearer token on every REST request and injects the
// resulting user id into the request context. The session protocol's own
// handshake is authenticated separately, since it has its own accepted
// token channels.
func Auth(v *tokenverify.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				RespondError(w, r, apperrors.New(apperrors.CodeMissingToken, "no bearer token presented"))
				return
			}

			result, err := v.Verify(token)
			if err != nil {
				RespondError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, result.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID extracts the authenticated user id injected by Auth.
func UserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDContextKey).(string)
	return id
}

// ContextWithUserID injects a user id the way Auth does, for handler tests
// that need an authenticated request without a real token.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
