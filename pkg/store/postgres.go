package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	*sqlStore
	dsn string
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(log logrus.FieldLogger, dsn string) Store {
	return &PostgresStore{
		sqlStore: &sqlStore{
			log:             log.WithField("component", "store"),
			numbered:        true,
			unlimited:       "LIMIT ALL",
			uniqueViolation: isPostgresUniqueViolation,
		},
		dsn: dsn,
	}
}

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	return pqErr.Code == pgUniqueViolation
}

// Start opens the database connection.
func (s *PostgresStore) Start(ctx context.Context) error {
	s.log.Info("Opening PostgreSQL database")

	db, err := sql.Open("postgres", s.dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	// Configure connection pool.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test connection.
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return fmt.Errorf("pinging database: %w", err)
	}

	s.db = db

	return nil
}

// Migrate runs database migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return s.runMigrations(ctx, []string{
		// Users table.
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			password_hash TEXT,
			is_active BOOLEAN NOT NULL DEFAULT true,
			is_staff BOOLEAN NOT NULL DEFAULT false,
			is_superuser BOOLEAN NOT NULL DEFAULT false,
			github_id TEXT,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_github_id ON users(github_id)`,
		// Sessions table.
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token_hash TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token_hash)`,
		// OAuth states table.
		`CREATE TABLE IF NOT EXISTS oauth_states (
			state TEXT PRIMARY KEY,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		// Tags table.
		`CREATE TABLE IF NOT EXISTS tags (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, name)
		)`,
		// Ingredients table.
		`CREATE TABLE IF NOT EXISTS ingredients (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, name)
		)`,
		// Recipes table. Price is held in cents.
		`CREATE TABLE IF NOT EXISTS recipes (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			description TEXT,
			time_minutes INTEGER NOT NULL,
			price BIGINT NOT NULL,
			link TEXT,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recipes_user ON recipes(user_id)`,
		`CREATE TABLE IF NOT EXISTS recipe_tags (
			recipe_id BIGINT NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
			tag_id BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
			PRIMARY KEY (recipe_id, tag_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recipe_tags_tag ON recipe_tags(tag_id)`,
		`CREATE TABLE IF NOT EXISTS recipe_ingredients (
			recipe_id BIGINT NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
			ingredient_id BIGINT NOT NULL REFERENCES ingredients(id) ON DELETE CASCADE,
			PRIMARY KEY (recipe_id, ingredient_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recipe_ingredients_ingredient ON recipe_ingredients(ingredient_id)`,
		// Audit log table.
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			actor TEXT,
			details TEXT,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity_type, entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at)`,
	})
}
