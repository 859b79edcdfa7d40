package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/recipe-app-api/pkg/auth"
	"github.com/ethpandaops/recipe-app-api/pkg/config"
	"github.com/ethpandaops/recipe-app-api/pkg/metrics"
	"github.com/ethpandaops/recipe-app-api/pkg/recipe"
	"github.com/ethpandaops/recipe-app-api/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t       *testing.T
	srv     *server
	handler http.Handler
	store   store.Store
	auth    auth.Service
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *testServer {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg, err := config.Parse([]byte("{}"))
	require.NoError(t, err)

	if mutate != nil {
		mutate(cfg)
	}

	ctx := context.Background()

	st := store.NewSQLiteStore(log, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, st.Start(ctx))
	require.NoError(t, st.Migrate(ctx))

	m := metrics.New(prometheus.NewRegistry())
	authSvc := auth.NewService(log, cfg, st)
	recipes := recipe.NewService(log, cfg, st, m)

	srv, ok := NewServer(log, cfg, st, recipes, authSvc, m).(*server)
	require.True(t, ok)

	t.Cleanup(func() {
		_ = srv.Stop()
		_ = authSvc.Stop()
		_ = st.Stop()
	})

	return &testServer{t: t, srv: srv, handler: srv.Handler(), store: st, auth: authSvc}
}

// do sends a request with an optional JSON body and token.
func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(ts.t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:4321"

	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	return rec
}

// login registers a user through the API and returns its token.
func (ts *testServer) login(email string) string {
	ts.t.Helper()

	rec := ts.do(http.MethodPost, "/api/user/create/", "", map[string]string{
		"email": email, "password": "testpass123", "name": "Test Name",
	})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())

	return ts.token(email, "testpass123")
}

func (ts *testServer) token(email, password string) string {
	ts.t.Helper()

	rec := ts.do(http.MethodPost, "/api/user/token/", "", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())

	var resp TokenResponse
	require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(ts.t, resp.Token)

	return resp.Token
}

// staff creates a superuser and returns its token.
func (ts *testServer) staff(email string) (*store.User, string) {
	ts.t.Helper()

	user, err := ts.auth.CreateSuperuser(context.Background(), auth.RegisterInput{
		Email: email, Password: "adminpass123", Name: "Admin",
	})
	require.NoError(ts.t, err)

	return user, ts.token(email, "adminpass123")
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())

	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Database)
	assert.True(t, resp.Auth.Password)
	assert.False(t, resp.Auth.GitHub)
}

func TestNotFoundIsJSON(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/nope/", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Not found.", decode[ErrorResponse](t, rec).Error)
}

func TestSchemaAndDocs(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/schema/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var schema struct {
		Swagger string                     `json:"swagger"`
		Info    map[string]any             `json:"info"`
		Paths   map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schema))
	assert.Equal(t, "2.0", schema.Swagger)
	assert.Equal(t, "Recipe App API", schema.Info["title"])
	assert.Contains(t, schema.Paths, "/api/recipe/recipes/")
	assert.Contains(t, schema.Paths, "/api/user/token/")

	rec = ts.do(http.MethodGet, "/api/docs/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/api/schema/")
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit.Enabled = true
		cfg.Server.RateLimit.Auth.RequestsPerMinute = 2
	})

	body := map[string]string{"email": "nobody@example.com", "password": "wrong"}

	for i := 0; i < 2; i++ {
		rec := ts.do(http.MethodPost, "/api/user/token/", "", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}

	rec := ts.do(http.MethodPost, "/api/user/token/", "", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "Request was throttled")

	// Other tiers are unaffected.
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", "", nil).Code)
}

func TestRateLimiterKeysOnHost(t *testing.T) {
	rl := NewIPRateLimiter(1)
	defer rl.Stop()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send("198.51.100.7:1000"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.7:1001"))
	assert.Equal(t, http.StatusNoContent, send("198.51.100.8:1000"))
}

func TestParseIDList(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []int64
		wantErr bool
	}{
		{name: "empty", in: "", want: nil},
		{name: "single", in: "4", want: []int64{4}},
		{name: "several", in: "1, 2,3", want: []int64{1, 2, 3}},
		{name: "garbage", in: "1,x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseIDList(tt.in)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
