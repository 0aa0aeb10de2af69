package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config files searched in order. The first one found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Environment:     "development",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"http://localhost:3000"},
		},
		Database: DatabaseConfig{
			Adapter:          "postgres",
			SQLiteFile:       "./data/fitlife.db",
			BadgerDir:        "./data/badger",
			MigrationsDir:    "./migrations",
			Timeout:          5 * time.Second,
			PostgresHost:     "localhost",
			PostgresPort:     "5432",
			PostgresUser:     "fitlife",
			PostgresPassword: "fitlifepass",
			PostgresDB:       "fitlife",
			PostgresSSLMode:  "disable",
		},
		Auth: AuthConfig{
			JWTSecret:      defaultJWTSecret,
			AccessTTL:      15 * time.Minute,
			RefreshTTL:     7 * 24 * time.Hour,
			TokenTransport: "header",
			BcryptCost:     12,
		},
		CSRF: CSRFConfig{
			Secret:     defaultCSRFSecret,
			CookieName: "_csrf",
			TTL:        24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			General:       RateLimitRule{Limit: 100, Window: 15 * time.Minute},
			Login:         RateLimitRule{Limit: 10, Window: time.Hour},
			Register:      RateLimitRule{Limit: 5, Window: time.Hour},
			PasswordReset: RateLimitRule{Limit: 3, Window: time.Hour},
		},
		Sweeper: SweeperConfig{
			Interval:         12 * time.Hour,
			BatchSize:        500,
			BatchesPerSecond: 10,
			RunOnStart:       true,
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			SecurityFile: "./logs/security.log",
		},
	}
}

// New loads configuration in layers: struct defaults, then an optional YAML file,
// then environment variables. The result is validated before it is returned.
func New() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
	"auth.admin_emails",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Unknown variables are ignored.
var envMappings = map[string]string{
	"port":             "server.port",
	"env":              "server.environment",
	"node_env":         "server.environment",
	"cors_origins":     "server.cors_origins",
	"trust_proxy":      "server.trust_proxy",
	"read_timeout":     "server.read_timeout",
	"write_timeout":    "server.write_timeout",
	"shutdown_timeout": "server.shutdown_timeout",

	"db_adapter":     "database.adapter",
	"sqlite_file":    "database.sqlite_file",
	"badger_dir":     "database.badger_dir",
	"migrations_dir": "database.migrations_dir",
	"store_timeout":  "database.timeout",

	"postgres_dsn":      "database.postgres_dsn",
	"postgres_host":     "database.postgres_host",
	"db_host":           "database.postgres_host",
	"postgres_port":     "database.postgres_port",
	"db_port":           "database.postgres_port",
	"postgres_user":     "database.postgres_user",
	"db_user":           "database.postgres_user",
	"postgres_password": "database.postgres_password",
	"db_password":       "database.postgres_password",
	"postgres_db":       "database.postgres_db",
	"db_name":           "database.postgres_db",
	"postgres_sslmode":  "database.postgres_sslmode",
	"db_sslmode":        "database.postgres_sslmode",

	"jwt_secret":        "auth.jwt_secret",
	"access_token_ttl":  "auth.access_ttl",
	"refresh_token_ttl": "auth.refresh_ttl",
	"token_transport":   "auth.token_transport",
	"refresh_cookie":    "auth.refresh_cookie",
	"bcrypt_cost":       "auth.bcrypt_cost",
	"admin_emails":      "auth.admin_emails",

	"csrf_secret":      "csrf.secret",
	"csrf_cookie_name": "csrf.cookie_name",
	"csrf_ttl":         "csrf.ttl",
	"cookie_secure":    "csrf.cookie_secure",

	"rate_limit_disabled":              "ratelimit.disabled",
	"rate_limit_general":               "ratelimit.general.limit",
	"rate_limit_general_window":        "ratelimit.general.window",
	"rate_limit_login":                 "ratelimit.login.limit",
	"rate_limit_login_window":          "ratelimit.login.window",
	"rate_limit_register":              "ratelimit.register.limit",
	"rate_limit_register_window":       "ratelimit.register.window",
	"rate_limit_password_reset":        "ratelimit.password_reset.limit",
	"rate_limit_password_reset_window": "ratelimit.password_reset.window",

	"token_cleanup_interval":   "sweeper.interval",
	"token_cleanup_batch_size": "sweeper.batch_size",
	"token_cleanup_rate":       "sweeper.batches_per_second",

	"log_level":         "log.level",
	"log_format":        "log.format",
	"log_caller":        "log.caller",
	"security_log_file": "log.security_file",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
