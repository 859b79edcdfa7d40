package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the recipe API.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Audit    AuditConfig    `yaml:"audit"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen"`
	CORSOrigins []string        `yaml:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains per-IP rate limit settings for each endpoint tier.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Auth          RateLimitTier `yaml:"auth"`
	Public        RateLimitTier `yaml:"public"`
	Authenticated RateLimitTier `yaml:"authenticated"`
}

// RateLimitTier is the limit for a single tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains PostgreSQL-specific settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	SessionTTL        time.Duration    `yaml:"session_ttl"`
	TokenCacheTTL     time.Duration    `yaml:"token_cache_ttl"`
	MinPasswordLength int              `yaml:"min_password_length"`
	Superusers        []SuperuserAuth  `yaml:"superusers"`
	GitHub            GitHubAuthConfig `yaml:"github"`
}

// SuperuserAuth is a superuser account created or refreshed at startup.
type SuperuserAuth struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// GitHubAuthConfig contains GitHub OAuth settings.
type GitHubAuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// AuditConfig contains audit log retention settings.
type AuditConfig struct {
	RetentionDays   int           `yaml:"retention_days"`   // default 90, -1 to disable
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // default 1h
}

// Load reads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from raw YAML, expanding environment variables,
// applying defaults and validating the result.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var (
	bracedEnvVar = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)
	bareEnvVar   = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)`)
)

// expandEnvVars replaces ${VAR} and $VAR patterns with environment variable values.
// Unset variables are left untouched.
func expandEnvVars(s string) string {
	s = bracedEnvVar.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}

		return match
	})

	return bareEnvVar.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[1:]); ok {
			return val
		}

		return match
	})
}

// applyDefaults sets default values for unset configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8000"
	}

	if cfg.Server.RateLimit.Auth.RequestsPerMinute == 0 {
		cfg.Server.RateLimit.Auth.RequestsPerMinute = 10
	}

	if cfg.Server.RateLimit.Public.RequestsPerMinute == 0 {
		cfg.Server.RateLimit.Public.RequestsPerMinute = 60
	}

	if cfg.Server.RateLimit.Authenticated.RequestsPerMinute == 0 {
		cfg.Server.RateLimit.Authenticated.RequestsPerMinute = 600
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}

	if cfg.Database.SQLite.Path == "" {
		cfg.Database.SQLite.Path = "./recipes.db"
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}

	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = 7 * 24 * time.Hour
	}

	if cfg.Auth.TokenCacheTTL == 0 {
		cfg.Auth.TokenCacheTTL = 30 * time.Second
	}

	if cfg.Auth.MinPasswordLength == 0 {
		cfg.Auth.MinPasswordLength = 5
	}

	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}

	if cfg.Audit.CleanupInterval == 0 {
		cfg.Audit.CleanupInterval = time.Hour
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required when driver is sqlite")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("postgres.host is required when driver is postgres")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("postgres.database is required when driver is postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Auth.MinPasswordLength < 1 {
		return fmt.Errorf("auth.min_password_length must be positive")
	}

	emails := make(map[string]bool, len(c.Auth.Superusers))

	for _, su := range c.Auth.Superusers {
		if su.Email == "" {
			return fmt.Errorf("auth.superusers: email is required")
		}

		if emails[su.Email] {
			return fmt.Errorf("auth.superusers: duplicate email %s", su.Email)
		}

		emails[su.Email] = true

		if len(su.Password) < c.Auth.MinPasswordLength {
			return fmt.Errorf("auth.superusers: password for %s is shorter than %d characters",
				su.Email, c.Auth.MinPasswordLength)
		}
	}

	if c.Auth.GitHub.Enabled {
		if c.Auth.GitHub.ClientID == "" {
			return fmt.Errorf("auth.github.client_id is required when github auth is enabled")
		}

		if c.Auth.GitHub.ClientSecret == "" {
			return fmt.Errorf("auth.github.client_secret is required when github auth is enabled")
		}
	}

	if c.Server.RateLimit.Enabled {
		tiers := map[string]int{
			"auth":          c.Server.RateLimit.Auth.RequestsPerMinute,
			"public":        c.Server.RateLimit.Public.RequestsPerMinute,
			"authenticated": c.Server.RateLimit.Authenticated.RequestsPerMinute,
		}

		for name, rpm := range tiers {
			if rpm < 0 {
				return fmt.Errorf("server.rate_limit.%s.requests_per_minute must not be negative", name)
			}
		}
	}

	return nil
}

// GetDSN returns the database connection string.
func (c *Config) GetDSN() string {
	switch c.Database.Driver {
	case "sqlite":
		return c.Database.SQLite.Path
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Database.Postgres.Host,
			c.Database.Postgres.Port,
			c.Database.Postgres.User,
			c.Database.Postgres.Password,
			c.Database.Postgres.Database,
			c.Database.Postgres.SSLMode,
		)
	default:
		return ""
	}
}

// String returns a sanitized string representation of the config (no secrets).
func (c *Config) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Server: listen=%s rate_limit=%t cors_origins=%d\n",
		c.Server.Listen, c.Server.RateLimit.Enabled, len(c.Server.CORSOrigins)))
	sb.WriteString(fmt.Sprintf("Database: driver=%s\n", c.Database.Driver))
	sb.WriteString(fmt.Sprintf("Auth: session_ttl=%s superusers=%d github=%t\n",
		c.Auth.SessionTTL, len(c.Auth.Superusers), c.Auth.GitHub.Enabled))
	sb.WriteString(fmt.Sprintf("Audit: retention_days=%d cleanup_interval=%s\n",
		c.Audit.RetentionDays, c.Audit.CleanupInterval))

	return sb.String()
}
