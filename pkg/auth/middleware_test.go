package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"token scheme", func(r *http.Request) { r.Header.Set("Authorization", "Token abc") }, "abc"},
		{"bearer scheme", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, "abc"},
		{"lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "token abc") }, "abc"},
		{"raw header", func(r *http.Request) { r.Header.Set("Authorization", "abc") }, "abc"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "abc"}) }, "abc"},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=abc" }, "abc"},
		{"none", func(r *http.Request) {}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(r)
			assert.Equal(t, tt.want, ExtractToken(r))
		})
	}
}

func TestMiddleware(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	_, err := svc.Register(ctx, RegisterInput{Email: "user@example.com", Password: "testpass123", Name: "User"})
	require.NoError(t, err)

	_, err = svc.CreateSuperuser(ctx, RegisterInput{Email: "admin@example.com", Password: "adminpass", Name: "Admin"})
	require.NoError(t, err)

	_, userToken, err := svc.Authenticate(ctx, "user@example.com", "testpass123")
	require.NoError(t, err)

	_, adminToken, err := svc.Authenticate(ctx, "admin@example.com", "adminpass")
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotNil(t, UserFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	})

	protected := AuthMiddleware(svc)(ok)
	admin := AuthMiddleware(svc)(RequireStaff(svc)(ok))

	tests := []struct {
		name    string
		handler http.Handler
		token   string
		want    int
	}{
		{"no token", protected, "", http.StatusUnauthorized},
		{"bad token", protected, "bogus", http.StatusUnauthorized},
		{"user token", protected, userToken, http.StatusOK},
		{"admin without token", admin, "", http.StatusUnauthorized},
		{"admin as user", admin, userToken, http.StatusForbidden},
		{"admin as staff", admin, adminToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.token != "" {
				r.Header.Set("Authorization", "Token "+tt.token)
			}

			w := httptest.NewRecorder()
			tt.handler.ServeHTTP(w, r)

			assert.Equal(t, tt.want, w.Code)

			if tt.want != http.StatusOK {
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}
