package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/recipe-app-api/pkg/auth"
	"github.com/ethpandaops/recipe-app-api/pkg/config"
	"github.com/ethpandaops/recipe-app-api/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

// writeSQLiteConfig writes a config file backed by a fresh SQLite database
// and returns the config path and the database path.
func writeSQLiteConfig(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "recipes.db")
	path := filepath.Join(dir, "config.yaml")

	body := "database:\n  driver: sqlite\n  sqlite:\n    path: " + dbPath + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path, dbPath
}

func openTestStore(t *testing.T, dbPath string) store.Store {
	t.Helper()

	ctx := context.Background()

	st := store.NewSQLiteStore(newTestLogger(), dbPath)
	require.NoError(t, st.Start(ctx))

	t.Cleanup(func() { _ = st.Stop() })

	return st
}

func TestPromptPasswordNonTerminal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"newline", "secret123\n", "secret123"},
		{"crlf", "secret123\r\n", "secret123"},
		{"no newline", "secret123", "secret123"},
		{"only first line", "first\nsecond\n", "first"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer

			got, err := promptPassword(strings.NewReader(tt.in), &out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Empty(t, out.String())
		})
	}
}

func TestRunMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	log := newTestLogger()
	path, dbPath := writeSQLiteConfig(t)

	require.NoError(t, runMigrate(ctx, log, path))
	require.NoError(t, runMigrate(ctx, log, path))

	st := openTestStore(t, dbPath)
	require.NoError(t, st.Migrate(ctx))

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Users)
}

func TestRunMigrateBadConfig(t *testing.T) {
	err := runMigrate(context.Background(), newTestLogger(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRunCreateSuperuser(t *testing.T) {
	ctx := context.Background()
	log := newTestLogger()
	path, dbPath := writeSQLiteConfig(t)

	require.NoError(t, runCreateSuperuser(ctx, log, path, auth.RegisterInput{
		Email: "test@EXAMPLE.com", Password: "test123",
	}))

	st := openTestStore(t, dbPath)

	user, err := st.GetUserByEmail(ctx, "test@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.True(t, user.IsStaff)
	assert.True(t, user.IsSuperuser)
	assert.Equal(t, "test", user.Name)

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			name string
			in   auth.RegisterInput
		}{
			{"duplicate", auth.RegisterInput{Email: "test@example.com", Password: "test123"}},
			{"bad email", auth.RegisterInput{Email: "nope", Password: "test123", Name: "Nope"}},
			{"short password", auth.RegisterInput{Email: "short@example.com", Password: "pw"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := runCreateSuperuser(ctx, log, path, tt.in)
				require.Error(t, err)
				assert.Equal(t, "invalid superuser details", err.Error())
			})
		}
	})
}

func TestCreateSuperuserCommandReadsPassword(t *testing.T) {
	t.Setenv(superuserPasswordEnv, "")

	path, dbPath := writeSQLiteConfig(t)

	cmd := newCreateSuperuserCmd(newTestLogger())
	cmd.SetArgs([]string{"--config", path, "--email", "admin@example.com", "--name", "Admin"})
	cmd.SetIn(strings.NewReader("adminpass123\n"))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	require.NoError(t, cmd.Execute())

	st := openTestStore(t, dbPath)

	user, err := st.GetUserByEmail(context.Background(), "admin@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "Admin", user.Name)
}

func TestCreateSuperuserCommandPasswordFromEnv(t *testing.T) {
	t.Setenv(superuserPasswordEnv, "envpass123")

	path, dbPath := writeSQLiteConfig(t)

	cmd := newCreateSuperuserCmd(newTestLogger())
	cmd.SetArgs([]string{"--config", path, "--email", "env@example.com"})
	cmd.SetIn(strings.NewReader(""))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	require.NoError(t, cmd.Execute())

	ctx := context.Background()
	st := openTestStore(t, dbPath)

	svc := auth.NewService(newTestLogger(), mustLoadConfig(t, path), st)
	defer svc.Stop()

	user, _, err := svc.Authenticate(ctx, "env@example.com", "envpass123")
	require.NoError(t, err)
	assert.Equal(t, "env", user.Name)
}

func TestRunWaitForDB(t *testing.T) {
	t.Run("sqlite is available", func(t *testing.T) {
		path, _ := writeSQLiteConfig(t)

		require.NoError(t, runWaitForDB(context.Background(), newTestLogger(), path, 3, 10*time.Millisecond))
	})

	t.Run("unreachable postgres gives up", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		body := `
database:
  driver: postgres
  postgres:
    host: 127.0.0.1
    port: 1
    user: nobody
    password: secret
    database: recipes
`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		start := time.Now()

		err := runWaitForDB(ctx, newTestLogger(), path, 1000, 50*time.Millisecond)
		require.Error(t, err)
		assert.Less(t, time.Since(start), 10*time.Second)
	})
}

func TestWaitForDBCommandRejectsZeroInterval(t *testing.T) {
	path, _ := writeSQLiteConfig(t)

	cmd := newWaitForDBCmd(newTestLogger())
	cmd.SetArgs([]string{"--config", path, "--interval", "0s"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--interval must be positive")
}

func mustLoadConfig(t *testing.T, path string) *config.Config {
	t.Helper()

	cfg, err := loadConfig(newTestLogger(), path)
	require.NoError(t, err)

	return cfg
}
