package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"agency-billing/pkg/logger"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API and billingctl processes.
// Values come from env; ENV_FILE optionally names a dotenv file that fills in
// variables not already set in the process environment.
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Billing   BillingConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Env  string
	Port int
	// LogLevel overrides the env default (debug in local and dev, info elsewhere).
	LogLevel string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	SessionTTL  time.Duration
}

type BillingConfig struct {
	// SyncWorkers bounds how many usage records one sync bills in parallel.
	SyncWorkers int
	// GateTTL is how long an opportunistic sync holds its per-scope slot.
	GateTTL time.Duration
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func Load() (Config, error) {
	if path := strings.TrimSpace(os.Getenv("ENV_FILE")); path != "" {
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("ENV_FILE %q: %w", path, err)
		}
	}

	var env envReader
	c := Config{
		App: AppConfig{
			Env:      env.str("APP_ENV"),
			Port:     env.requiredInt("APP_PORT"),
			LogLevel: env.str("LOG_LEVEL"),
		},
		DB: DBConfig{
			Host:     env.str("DB_HOST"),
			Port:     env.requiredInt("DB_PORT"),
			User:     env.str("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     env.str("DB_NAME"),
			SSLMode:  env.str("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Host: env.str("REDIS_HOST"),
			Port: env.requiredInt("REDIS_PORT"),
		},
		Auth: AuthConfig{
			JWTSecret:   os.Getenv("JWT_SECRET"),
			JWTIssuer:   env.str("JWT_ISSUER"),
			JWTAudience: env.str("JWT_AUDIENCE"),
			SessionTTL:  env.duration("SESSION_TTL"),
		},
		// Zero values below mean "use the default".
		Billing: BillingConfig{
			SyncWorkers: env.optionalInt("BILLING_SYNC_WORKERS"),
			GateTTL:     env.duration("BILLING_SYNC_GATE_TTL"),
		},
		RateLimit: RateLimitConfig{
			RPS:   env.float("RATE_LIMIT_RPS"),
			Burst: env.optionalInt("RATE_LIMIT_BURST"),
		},
	}
	if err := env.err(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	return c, nil
}

// Validate reports every problem at once. It does not mutate c; defaults are
// applied by Load after validation succeeds.
func (c Config) Validate() error {
	var errs []error
	check := func(bad bool, format string, args ...any) {
		if bad {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	prod := c.IsProduction()

	check(c.App.Env == "", "APP_ENV is required")
	check(c.App.Env != "" && !isValidEnv(c.App.Env), "APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env)
	check(!validPort(c.App.Port), "APP_PORT must be a valid port, got %d", c.App.Port)
	if c.App.LogLevel != "" {
		_, err := logger.ParseLevel(c.App.LogLevel)
		check(err != nil, "LOG_LEVEL must be one of debug, info, warn, error, got %q", c.App.LogLevel)
	}

	check(c.DB.Host == "", "DB_HOST is required")
	check(!validPort(c.DB.Port), "DB_PORT must be a valid port, got %d", c.DB.Port)
	check(c.DB.User == "", "DB_USER is required")
	check(c.DB.Name == "", "DB_NAME is required")
	check(c.DB.SSLMode == "" && prod, "DB_SSLMODE is required in production")
	check(c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode), "DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode)

	check(c.Redis.Host == "", "REDIS_HOST is required")
	check(!validPort(c.Redis.Port), "REDIS_PORT must be a valid port, got %d", c.Redis.Port)

	check(c.Auth.JWTSecret == "", "JWT_SECRET is required")
	check(prod && c.Auth.JWTIssuer == "", "JWT_ISSUER is required in production")
	check(prod && c.Auth.JWTAudience == "", "JWT_AUDIENCE is required in production")
	check(c.Auth.SessionTTL < 0, "SESSION_TTL must not be negative")

	check(c.Billing.SyncWorkers < 0 || c.Billing.SyncWorkers > 256, "BILLING_SYNC_WORKERS must be between 1 and 256, got %d", c.Billing.SyncWorkers)
	check(c.Billing.GateTTL < 0, "BILLING_SYNC_GATE_TTL must not be negative")
	check(c.RateLimit.RPS < 0, "RATE_LIMIT_RPS must not be negative")
	check(c.RateLimit.Burst < 0, "RATE_LIMIT_BURST must not be negative")

	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if c.DB.SSLMode == "" {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = 12 * time.Hour
	}
	if c.Billing.SyncWorkers == 0 {
		c.Billing.SyncWorkers = 8
	}
	if c.Billing.GateTTL == 0 {
		c.Billing.GateTTL = time.Minute
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// PostgresDSN contains the password. Never log it.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// envReader reads trimmed env values and remembers every parse failure so
// Load can report them together.
type envReader struct {
	errs []error
}

func (r *envReader) str(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (r *envReader) fail(key, want, got string) {
	r.errs = append(r.errs, fmt.Errorf("%s must be %s, got %q", key, want, got))
}

func (r *envReader) requiredInt(key string) int {
	if r.str(key) == "" {
		r.errs = append(r.errs, fmt.Errorf("%s is required", key))
		return 0
	}
	return r.optionalInt(key)
}

func (r *envReader) optionalInt(key string) int {
	v := r.str(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, "an integer", v)
	}
	return n
}

func (r *envReader) float(key string) float64 {
	v := r.str(key)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, "a number", v)
	}
	return f
}

func (r *envReader) duration(key string) time.Duration {
	v := r.str(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, "a duration such as 30s or 5m", v)
	}
	return d
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}
