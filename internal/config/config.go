package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrConfiguration marks configuration that must stop the process at startup.
var ErrConfiguration = errors.New("configuration error")

const (
	defaultJWTSecret  = "change-me"
	defaultCSRFSecret = "change-me-csrf"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	CSRF      CSRFConfig      `koanf:"csrf"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Sweeper   SweeperConfig   `koanf:"sweeper"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Port            string        `koanf:"port"`
	Environment     string        `koanf:"environment"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	TrustProxy      bool          `koanf:"trust_proxy"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

type DatabaseConfig struct {
	Adapter       string        `koanf:"adapter"`
	SQLiteFile    string        `koanf:"sqlite_file"`
	BadgerDir     string        `koanf:"badger_dir"`
	MigrationsDir string        `koanf:"migrations_dir"`
	Timeout       time.Duration `koanf:"timeout"`

	// PostgreSQL connection settings
	PostgresDSN      string `koanf:"postgres_dsn"`
	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     string `koanf:"postgres_port"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresSSLMode  string `koanf:"postgres_sslmode"`
}

type AuthConfig struct {
	JWTSecret  string        `koanf:"jwt_secret"`
	AccessTTL  time.Duration `koanf:"access_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl"`
	// TokenTransport is one of header, cookie, both.
	TokenTransport string `koanf:"token_transport"`
	RefreshCookie  bool   `koanf:"refresh_cookie"`
	BcryptCost     int    `koanf:"bcrypt_cost"`
	// AdminEmails register with the admin role.
	AdminEmails []string `koanf:"admin_emails"`
}

type CSRFConfig struct {
	Secret       string        `koanf:"secret"`
	CookieName   string        `koanf:"cookie_name"`
	CookieSecure bool          `koanf:"cookie_secure"`
	TTL          time.Duration `koanf:"ttl"`
}

// RateLimitRule is a fixed-window budget for one route class.
type RateLimitRule struct {
	Limit  int           `koanf:"limit"`
	Window time.Duration `koanf:"window"`
}

type RateLimitConfig struct {
	Disabled      bool          `koanf:"disabled"`
	General       RateLimitRule `koanf:"general"`
	Login         RateLimitRule `koanf:"login"`
	Register      RateLimitRule `koanf:"register"`
	PasswordReset RateLimitRule `koanf:"password_reset"`
}

type SweeperConfig struct {
	Interval         time.Duration `koanf:"interval"`
	BatchSize        int           `koanf:"batch_size"`
	BatchesPerSecond float64       `koanf:"batches_per_second"`
	RunOnStart       bool          `koanf:"run_on_start"`
}

type LogConfig struct {
	Level        string `koanf:"level"`
	Format       string `koanf:"format"`
	Caller       bool   `koanf:"caller"`
	SecurityFile string `koanf:"security_file"`
}

// IsProduction reports whether the process runs with production checks enabled.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Server.Environment)
	return env == "production" || env == "prod"
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *DatabaseConfig) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable" // local development
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

// Validate checks the loaded configuration. Every returned error wraps ErrConfiguration.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("%w: invalid PORT: %s", ErrConfiguration, c.Server.Port)
	}

	switch c.Database.Adapter {
	case "postgres":
		dsn, err := c.Database.BuildPostgresDSN()
		if err != nil {
			return fmt.Errorf("%w: postgres: %v", ErrConfiguration, err)
		}
		c.Database.PostgresDSN = dsn
	case "sqlite":
		if c.Database.SQLiteFile == "" {
			return fmt.Errorf("%w: SQLITE_FILE must be set when DB_ADAPTER=sqlite", ErrConfiguration)
		}
	case "badger":
		if c.Database.BadgerDir == "" {
			return fmt.Errorf("%w: BADGER_DIR must be set when DB_ADAPTER=badger", ErrConfiguration)
		}
	case "memory":
	default:
		return fmt.Errorf("%w: unsupported DB_ADAPTER %q", ErrConfiguration, c.Database.Adapter)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET must be set", ErrConfiguration)
	}
	if c.CSRF.Secret == "" {
		return fmt.Errorf("%w: CSRF_SECRET must be set", ErrConfiguration)
	}
	if c.IsProduction() {
		if c.Auth.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("%w: JWT_SECRET must be set in production", ErrConfiguration)
		}
		if c.CSRF.Secret == defaultCSRFSecret {
			return fmt.Errorf("%w: CSRF_SECRET must be set in production", ErrConfiguration)
		}
	}

	switch c.Auth.TokenTransport {
	case "header", "cookie", "both":
	default:
		return fmt.Errorf("%w: TOKEN_TRANSPORT must be header, cookie or both", ErrConfiguration)
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return fmt.Errorf("%w: token lifetimes must be positive", ErrConfiguration)
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("%w: STORE_TIMEOUT must be positive", ErrConfiguration)
	}
	if c.Sweeper.Interval <= 0 || c.Sweeper.BatchSize <= 0 {
		return fmt.Errorf("%w: sweeper interval and batch size must be positive", ErrConfiguration)
	}

	for name, rule := range map[string]RateLimitRule{
		"general":        c.RateLimit.General,
		"login":          c.RateLimit.Login,
		"register":       c.RateLimit.Register,
		"password_reset": c.RateLimit.PasswordReset,
	} {
		if rule.Limit <= 0 || rule.Window <= 0 {
			return fmt.Errorf("%w: rate limit %s needs a positive limit and window", ErrConfiguration, name)
		}
	}
	return nil
}
