package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv("DB_ADAPTER", "memory")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, "header", cfg.Auth.TokenTransport)
	assert.Equal(t, RateLimitRule{Limit: 100, Window: 15 * time.Minute}, cfg.RateLimit.General)
	assert.Equal(t, RateLimitRule{Limit: 10, Window: time.Hour}, cfg.RateLimit.Login)
	assert.Equal(t, RateLimitRule{Limit: 5, Window: time.Hour}, cfg.RateLimit.Register)
	assert.Equal(t, RateLimitRule{Limit: 3, Window: time.Hour}, cfg.RateLimit.PasswordReset)
	assert.Equal(t, 12*time.Hour, cfg.Sweeper.Interval)
	assert.Equal(t, "./logs/security.log", cfg.Log.SecurityFile)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv("DB_ADAPTER", "sqlite")
	t.Setenv("SQLITE_FILE", "/tmp/fitlife.db")
	t.Setenv("PORT", "9090")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ADMIN_EMAILS", "root@example.com")
	t.Setenv("RATE_LIMIT_LOGIN", "20")
	t.Setenv("TOKEN_CLEANUP_INTERVAL", "30m")
	t.Setenv("TRUST_PROXY", "true")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Adapter)
	assert.Equal(t, "/tmp/fitlife.db", cfg.Database.SQLiteFile)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, []string{"root@example.com"}, cfg.Auth.AdminEmails)
	assert.Equal(t, 20, cfg.RateLimit.Login.Limit)
	assert.Equal(t, time.Hour, cfg.RateLimit.Login.Window)
	assert.Equal(t, 30*time.Minute, cfg.Sweeper.Interval)
	assert.True(t, cfg.Server.TrustProxy)
}

func TestNew_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  adapter: badger
  badger_dir: /var/lib/fitlife
auth:
  refresh_ttl: 48h
ratelimit:
  register:
    limit: 2
    window: 10m
`), 0o600))
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Database.Adapter)
	assert.Equal(t, "/var/lib/fitlife", cfg.Database.BadgerDir)
	assert.Equal(t, 48*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, RateLimitRule{Limit: 2, Window: 10 * time.Minute}, cfg.RateLimit.Register)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = "http" }},
		{"unknown adapter", func(c *Config) { c.Database.Adapter = "mongo" }},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"empty csrf secret", func(c *Config) { c.CSRF.Secret = "" }},
		{"default jwt secret in production", func(c *Config) {
			c.Server.Environment = "production"
			c.CSRF.Secret = "real-csrf"
		}},
		{"default csrf secret in production", func(c *Config) {
			c.Server.Environment = "production"
			c.Auth.JWTSecret = "real-jwt"
		}},
		{"bad transport", func(c *Config) { c.Auth.TokenTransport = "query" }},
		{"zero access ttl", func(c *Config) { c.Auth.AccessTTL = 0 }},
		{"zero sweeper interval", func(c *Config) { c.Sweeper.Interval = 0 }},
		{"zero login limit", func(c *Config) { c.RateLimit.Login.Limit = 0 }},
		{"sqlite without file", func(c *Config) {
			c.Database.Adapter = "sqlite"
			c.Database.SQLiteFile = ""
		}},
		{"postgres without host", func(c *Config) { c.Database.PostgresHost = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := defaultConfig()
			tt.mutate(c)
			assert.ErrorIs(t, c.Validate(), ErrConfiguration)
		})
	}

	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, defaultConfig().Validate())
	})

	t.Run("production with real secrets", func(t *testing.T) {
		c := defaultConfig()
		c.Server.Environment = "production"
		c.Auth.JWTSecret = "real-jwt"
		c.CSRF.Secret = "real-csrf"
		assert.NoError(t, c.Validate())
	})
}

func TestBuildPostgresDSN(t *testing.T) {
	c := DatabaseConfig{PostgresHost: "db", PostgresUser: "fit", PostgresDB: "fitlife", PostgresPassword: "pw"}
	dsn, err := c.BuildPostgresDSN()
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=fit dbname=fitlife sslmode=disable password=pw", dsn)

	c.PostgresDSN = "postgres://x"
	dsn, err = c.BuildPostgresDSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://x", dsn)
}
