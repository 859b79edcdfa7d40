package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethpandaops/recipe-app-api/pkg/store"
)

// Context keys for user information.
type contextKey string

const (
	userContextKey contextKey = "user"
)

// SessionCookie is the name of the cookie carrying the API token.
const SessionCookie = "session"

// UserFromContext retrieves the authenticated user from the context.
func UserFromContext(ctx context.Context) *store.User {
	user, ok := ctx.Value(userContextKey).(*store.User)
	if !ok {
		return nil
	}

	return user
}

// ContextWithUser adds a user to the context.
func ContextWithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Token realm="api"`)
	}

	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// AuthMiddleware creates middleware that validates tokens and rejects
// unauthenticated requests with 401.
func AuthMiddleware(authSvc Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				writeAuthError(w, http.StatusUnauthorized, "Authentication credentials were not provided.")

				return
			}

			user, err := authSvc.ValidateSession(r.Context(), token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid token.")

				return
			}

			// Add user to context.
			ctx := ContextWithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireStaff creates middleware that only admits staff users. It must run
// after AuthMiddleware.
func RequireStaff(authSvc Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				writeAuthError(w, http.StatusUnauthorized, "Authentication credentials were not provided.")

				return
			}

			if !authSvc.IsStaff(user) {
				writeAuthError(w, http.StatusForbidden, "You do not have permission to perform this action.")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ExtractToken extracts the API token from the request. It accepts
// "Authorization: Token <t>", "Authorization: Bearer <t>", the session
// cookie, or a token query parameter (for WebSocket connections).
func ExtractToken(r *http.Request) string {
	// Check Authorization header.
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader != "" {
		for _, scheme := range []string{"Token ", "Bearer "} {
			if len(authHeader) > len(scheme) && strings.EqualFold(authHeader[:len(scheme)], scheme) {
				return strings.TrimSpace(authHeader[len(scheme):])
			}
		}

		return authHeader
	}

	// Check cookie.
	cookie, err := r.Cookie(SessionCookie)
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}

	// Check query parameter (for WebSocket connections).
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}
