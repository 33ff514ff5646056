package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingDatabaseURL is the only configuration error the server treats
// as fatal.
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required when STORE=postgres")

type Config struct {
	AppEnv   string `mapstructure:"APP_ENV"`
	Port     string `mapstructure:"PORT"`
	BaseURL  string `mapstructure:"BASE_URL"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	Store          string `mapstructure:"STORE"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	DBMaxOpenConns int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	MigrateOnStart bool   `mapstructure:"MIGRATE_ON_START"`

	UploadDir   string `mapstructure:"UPLOAD_DIR"`
	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3Region    string `mapstructure:"S3_REGION"`
	S3Bucket    string `mapstructure:"S3_BUCKET"`
	S3AccessKey string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey string `mapstructure:"S3_SECRET_KEY"`
	S3UseSSL    bool   `mapstructure:"S3_USE_SSL"`

	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	CacheTTL      time.Duration `mapstructure:"CACHE_TTL"`

	RateLimitBurst  int     `mapstructure:"RATE_LIMIT_BURST"`
	RateLimitPerSec float64 `mapstructure:"RATE_LIMIT_PER_SEC"`

	// CORSOrigins is a comma separated allow list; "*" allows any origin and
	// empty allows only localhost.
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	// AuthSecret enables bearer tokens for writes when non-empty.
	AuthSecret   string        `mapstructure:"AUTH_SECRET"`
	AuthTokenTTL time.Duration `mapstructure:"AUTH_TOKEN_TTL"`
}

var defaults = map[string]any{
	"APP_ENV":            "development",
	"PORT":               "3000",
	"BASE_URL":           "",
	"LOG_LEVEL":          "info",
	"STORE":              "postgres",
	"DATABASE_URL":       "",
	"DB_MAX_OPEN_CONNS":  10,
	"MIGRATE_ON_START":   true,
	"UPLOAD_DIR":         "uploads",
	"S3_ENDPOINT":        "",
	"S3_REGION":          "",
	"S3_BUCKET":          "",
	"S3_ACCESS_KEY":      "",
	"S3_SECRET_KEY":      "",
	"S3_USE_SSL":         false,
	"REDIS_ADDR":         "",
	"REDIS_DB":           0,
	"REDIS_PASSWORD":     "",
	"CACHE_TTL":          "5m",
	"RATE_LIMIT_BURST":   50,
	"RATE_LIMIT_PER_SEC": 25,
	"CORS_ORIGINS":       "",
	"AUTH_SECRET":        "",
	"AUTH_TOKEN_TTL":     "12h",
}

// Load reads envFile when it exists (existing environment wins) and then the
// process environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, def := range defaults {
		v.SetDefault(k, def)
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &cfg, cfg.Validate()
}

// Validate reports inconsistent settings.
func (c *Config) Validate() error {
	switch c.Store {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	default:
		return fmt.Errorf("unknown STORE %q: use postgres or memory", c.Store)
	}
	if c.S3Endpoint != "" && c.S3Bucket == "" {
		return errors.New("S3_BUCKET is required when S3_ENDPOINT is set")
	}
	if c.RateLimitPerSec < 0 || c.RateLimitBurst < 0 {
		return errors.New("rate limit settings must not be negative")
	}
	if c.AuthSecret != "" && c.AuthTokenTTL <= 0 {
		return errors.New("AUTH_TOKEN_TTL must be positive")
	}
	return nil
}

// Development reports whether internal error messages may reach clients.
func (c *Config) Development() bool { return c.AppEnv == "development" }

func (c *Config) Addr() string { return ":" + c.Port }

// AllowedOrigins splits CORSOrigins.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// String renders the configuration with secrets masked.
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  AppEnv: %s\n", c.AppEnv)
	fmt.Fprintf(&sb, "  Port: %s\n", c.Port)
	fmt.Fprintf(&sb, "  BaseURL: %s\n", c.BaseURL)
	fmt.Fprintf(&sb, "  Store: %s\n", c.Store)
	fmt.Fprintf(&sb, "  DatabaseURL: %s\n", maskDSN(c.DatabaseURL))
	fmt.Fprintf(&sb, "  DBMaxOpenConns: %d\n", c.DBMaxOpenConns)
	fmt.Fprintf(&sb, "  MigrateOnStart: %v\n", c.MigrateOnStart)
	fmt.Fprintf(&sb, "  UploadDir: %s\n", c.UploadDir)
	fmt.Fprintf(&sb, "  S3Endpoint: %s\n", c.S3Endpoint)
	fmt.Fprintf(&sb, "  S3Bucket: %s\n", c.S3Bucket)
	fmt.Fprintf(&sb, "  S3AccessKey: %s\n", mask(c.S3AccessKey))
	fmt.Fprintf(&sb, "  S3SecretKey: %s\n", mask(c.S3SecretKey))
	fmt.Fprintf(&sb, "  RedisAddr: %s\n", c.RedisAddr)
	fmt.Fprintf(&sb, "  RedisPassword: %s\n", mask(c.RedisPassword))
	fmt.Fprintf(&sb, "  CacheTTL: %s\n", c.CacheTTL)
	fmt.Fprintf(&sb, "  RateLimit: %.0f/s burst %d\n", c.RateLimitPerSec, c.RateLimitBurst)
	fmt.Fprintf(&sb, "  AuthSecret: %s\n", mask(c.AuthSecret))
	return sb.String()
}

func mask(s string) string {
	if s == "" {
		return "(empty)"
	}
	return "********"
}

// maskDSN hides the password part of a postgres URL.
func maskDSN(dsn string) string {
	if dsn == "" {
		return "(empty)"
	}
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return "********"
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, _ := strings.Cut(creds, ":")
	return scheme + "://" + user + ":********@" + host
}
