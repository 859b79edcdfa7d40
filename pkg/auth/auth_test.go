package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/recipe-app-api/pkg/config"
	"github.com/ethpandaops/recipe-app-api/pkg/store"
	"github.com/ethpandaops/recipe-app-api/pkg/validation"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestService(t *testing.T, mutate func(cfg *config.Config)) (*service, store.Store) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg, err := config.Parse([]byte("{}"))
	require.NoError(t, err)

	if mutate != nil {
		mutate(cfg)
	}

	ctx := context.Background()

	st := store.NewSQLiteStore(log, filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, st.Start(ctx))
	require.NoError(t, st.Migrate(ctx))

	svc, ok := NewService(log, cfg, st).(*service)
	require.True(t, ok)

	t.Cleanup(func() {
		_ = svc.Stop()
		_ = st.Stop()
	})

	return svc, st
}

func fieldErrors(t *testing.T, err error) map[string][]string {
	t.Helper()

	var verr *validation.Error
	require.True(t, errors.As(err, &verr), "expected a validation error, got %v", err)

	return verr.Fields
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"test1@EXAMPLE.com", "test1@example.com"},
		{"Test2@Example.com", "Test2@example.com"},
		{"TEST3@EXAMPLE.COM", "TEST3@example.com"},
		{"test4@example.COM", "test4@example.com"},
		{"  spaced@EXAMPLE.com ", "spaced@example.com"},
		{"no-at-sign", "no-at-sign"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeEmail(tt.in))
		})
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, nil)

	user, err := svc.Register(ctx, RegisterInput{Email: "test@EXAMPLE.com", Password: "testpass123", Name: "Test"})
	require.NoError(t, err)
	assert.Equal(t, "test@example.com", user.Email)
	assert.True(t, user.IsActive)
	assert.False(t, user.IsStaff)
	assert.False(t, user.IsSuperuser)
	assert.NotEqual(t, "testpass123", user.PasswordHash)

	entries, total, err := st.ListAuditEntries(ctx, store.AuditQueryOpts{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, store.AuditActionUserCreated, entries[0].Action)

	_, err = svc.Register(ctx, RegisterInput{Email: "test@example.com", Password: "testpass123", Name: "Dup"})
	assert.Equal(t, []string{"user with this email already exists."}, fieldErrors(t, err)["email"])
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	tests := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{"empty email", RegisterInput{Email: "", Password: "testpass123", Name: "x"}, "email"},
		{"bad email", RegisterInput{Email: "nope", Password: "testpass123", Name: "x"}, "email"},
		{"short password", RegisterInput{Email: "a@example.com", Password: "pw", Name: "x"}, "password"},
		{"empty password", RegisterInput{Email: "a@example.com", Password: "", Name: "x"}, "password"},
		{"empty name", RegisterInput{Email: "a@example.com", Password: "testpass123"}, "name"},
		{"long password", RegisterInput{Email: "a@example.com", Password: strings.Repeat("p", 80), Name: "x"}, "password"},
		{"multibyte short password", RegisterInput{Email: "a@example.com", Password: "äöü", Name: "x"}, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.in)
			require.Error(t, err)
			assert.Contains(t, fieldErrors(t, err), tt.field)
		})
	}

	_, err := svc.Register(ctx, RegisterInput{Email: "a@example.com", Password: "pw", Name: "x"})
	assert.Equal(t, []string{"Ensure this field has at least 5 characters."}, fieldErrors(t, err)["password"])

	_, err = svc.Register(ctx, RegisterInput{Email: "a@example.com", Password: strings.Repeat("p", 73), Name: "x"})
	assert.Equal(t, []string{"Ensure this field has no more than 72 bytes."}, fieldErrors(t, err)["password"])

	// Five runes is long enough even though the bytes exceed it.
	_, err = svc.Register(ctx, RegisterInput{Email: "b@example.com", Password: "ääääa", Name: "x"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{Email: "c@example.com", Password: strings.Repeat("p", 72), Name: "x"})
	require.NoError(t, err)
}

func TestCreateSuperuser(t *testing.T) {
	svc, _ := newTestService(t, nil)

	user, err := svc.CreateSuperuser(context.Background(), RegisterInput{
		Email: "admin@example.com", Password: "adminpass", Name: "Admin",
	})
	require.NoError(t, err)
	assert.True(t, user.IsStaff)
	assert.True(t, user.IsSuperuser)
	assert.True(t, svc.IsStaff(user))
	assert.False(t, svc.IsStaff(nil))

	unnamed, err := svc.CreateSuperuser(context.Background(), RegisterInput{
		Email: "test@example.com", Password: "test123",
	})
	require.NoError(t, err)
	assert.Equal(t, "test", unnamed.Name)
	assert.True(t, unnamed.IsSuperuser)
}

func TestAuthenticateAndValidate(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, nil)

	_, err := svc.Register(ctx, RegisterInput{Email: "test@example.com", Password: "testpass123", Name: "Test"})
	require.NoError(t, err)

	_, _, err = svc.Authenticate(ctx, "test@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Authenticate(ctx, "nobody@example.com", "testpass123")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	user, token, err := svc.Authenticate(ctx, "test@EXAMPLE.COM", "testpass123")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	got, err := svc.ValidateSession(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	// Validating again may be served from the cache.
	got, err = svc.ValidateSession(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = svc.ValidateSession(ctx, "not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, svc.Logout(ctx, token))

	_, err = svc.ValidateSession(ctx, token)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Logging out twice is harmless.
	require.NoError(t, svc.Logout(ctx, token))

	// Inactive users can neither log in nor use existing tokens.
	_, token, err = svc.Authenticate(ctx, "test@example.com", "testpass123")
	require.NoError(t, err)

	user.IsActive = false
	require.NoError(t, st.UpdateUser(ctx, user))

	_, err = svc.ValidateSession(ctx, token)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = svc.Authenticate(ctx, "test@example.com", "testpass123")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestExpiredSessionIsRejected(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, nil)

	user, err := svc.Register(ctx, RegisterInput{Email: "test@example.com", Password: "testpass123", Name: "Test"})
	require.NoError(t, err)

	require.NoError(t, st.CreateSession(ctx, &store.Session{
		UserID:    user.ID,
		TokenHash: hashToken("stale-token"),
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	_, err = svc.ValidateSession(ctx, "stale-token")
	require.ErrorIs(t, err, ErrInvalidToken)

	session, err := st.GetSessionByToken(ctx, hashToken("stale-token"))
	require.NoError(t, err)
	assert.Nil(t, session, "expired session is removed")
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	user, err := svc.Register(ctx, RegisterInput{Email: "test@example.com", Password: "testpass123", Name: "Test"})
	require.NoError(t, err)

	name := "New Name"
	password := "newpassword123"

	updated, err := svc.UpdateProfile(ctx, user, ProfileInput{Name: &name, Password: &password}, true)
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.Name)
	assert.Equal(t, "test@example.com", updated.Email)

	_, _, err = svc.Authenticate(ctx, "test@example.com", password)
	require.NoError(t, err)

	_, err = svc.UpdateProfile(ctx, updated, ProfileInput{Name: &name}, false)
	fields := fieldErrors(t, err)
	assert.Equal(t, []string{validation.MsgRequired}, fields["email"])
	assert.Equal(t, []string{validation.MsgRequired}, fields["password"])

	short := "abc"
	_, err = svc.UpdateProfile(ctx, updated, ProfileInput{Password: &short}, true)
	assert.Contains(t, fieldErrors(t, err), "password")

	_, err = svc.Register(ctx, RegisterInput{Email: "other@example.com", Password: "testpass123", Name: "Other"})
	require.NoError(t, err)

	taken := "other@example.com"
	_, err = svc.UpdateProfile(ctx, updated, ProfileInput{Email: &taken}, true)
	assert.Contains(t, fieldErrors(t, err), "email")
}

func TestStartSyncsSuperusers(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, func(cfg *config.Config) {
		cfg.Auth.Superusers = []config.SuperuserAuth{
			{Email: "root@EXAMPLE.com", Password: "rootpass"},
			{Email: "${ADMIN_EMAIL}", Password: "${ADMIN_PASSWORD}"},
		}
	})

	require.NoError(t, svc.Start(ctx))

	user, err := st.GetUserByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.True(t, user.IsSuperuser)
	assert.Equal(t, "root", user.Name)

	// The unexpanded placeholder entry is skipped.
	_, total, err := st.ListUsers(ctx, store.UserQueryOpts{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	// A second sync updates the password instead of failing.
	svc.cfg.Auth.Superusers[0].Password = "rotatedpass"
	require.NoError(t, svc.syncSuperusers(ctx))

	_, _, err = svc.Authenticate(ctx, "root@example.com", "rotatedpass")
	require.NoError(t, err)
}

func TestOAuthState(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	state, err := svc.CreateOAuthState(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.ValidateOAuthState(ctx, state))
	require.Error(t, svc.ValidateOAuthState(ctx, state), "state is single use")
	require.Error(t, svc.ValidateOAuthState(ctx, "unknown"))
}

func newFakeGitHub(t *testing.T, email string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "gho_test",
			"token_type":   "bearer",
			"scope":        "read:user,user:email",
		})
	})

	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gho_test", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 99, "login": "octocat", "name": "Octo Cat"})
	})

	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"email": "secondary@example.com", "primary": false, "verified": true},
			{"email": email, "primary": true, "verified": true},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func enableGitHub(svc *service, srv *httptest.Server) {
	svc.cfg.Auth.GitHub = config.GitHubAuthConfig{
		Enabled:      true,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost/api/user/github/callback/",
	}
	svc.githubEndpoint = oauth2.Endpoint{
		AuthURL:   srv.URL + "/login/oauth/authorize",
		TokenURL:  srv.URL + "/login/oauth/access_token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	svc.githubAPIURL = srv.URL
}

func TestAuthenticateGitHubDisabled(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, _, err := svc.AuthenticateGitHub(context.Background(), "code")
	require.ErrorIs(t, err, ErrGitHubDisabled)
	assert.False(t, svc.GitHubEnabled())
}

func TestAuthenticateGitHubCreatesUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	enableGitHub(svc, newFakeGitHub(t, "Octo@GitHub.COM"))

	assert.Contains(t, svc.GetGitHubAuthURL("abc"), "state=abc")

	user, token, err := svc.AuthenticateGitHub(ctx, "code-1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "Octo@github.com", user.Email)
	assert.Equal(t, "Octo Cat", user.Name)
	assert.Equal(t, "99", user.GitHubID)

	again, _, err := svc.AuthenticateGitHub(ctx, "code-2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	validated, err := svc.ValidateSession(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, validated.ID)
}

func TestAuthenticateGitHubLinksExistingEmail(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)
	enableGitHub(svc, newFakeGitHub(t, "test@example.com"))

	existing, err := svc.Register(ctx, RegisterInput{Email: "test@example.com", Password: "testpass123", Name: "Test"})
	require.NoError(t, err)

	user, _, err := svc.AuthenticateGitHub(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, user.ID)
	assert.Equal(t, "99", user.GitHubID)

	// The password login keeps working.
	_, _, err = svc.Authenticate(ctx, "test@example.com", "testpass123")
	require.NoError(t, err)
}
