package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"sitekeeper.io/internal/auth"
	"sitekeeper.io/internal/ratelimit"
)

const envPrefix = "SITEKEEPER_"

// Config represents the complete service configuration.
type Config struct {
	Environment   string
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Lockout       LockoutConfig
	Observability ObservabilityConfig
}

// ServerConfig holds listener and request-handling settings.
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TrustProxy      bool
	MaxBodyBytes    int64
	RateBurst       int
	RatePerSecond   int
}

// DatabaseConfig holds PostgreSQL settings. An empty DSN selects the
// in-memory stores.
type DatabaseConfig struct {
	DSN string
}

// AuthConfig holds the actor registry and session settings.
type AuthConfig struct {
	SessionSecret    string
	Actors           []auth.Actor
	CodeLength       int
	SessionMaxAge    time.Duration
	RotateAfter      time.Duration
	MaxConcurrentKDF int64
}

// LockoutConfig holds the login throttle settings.
type LockoutConfig struct {
	Window        time.Duration
	MaxAttempts   int
	BaseDelay     time.Duration
	DelayStep     time.Duration
	MaxDelay      time.Duration
	PruneInterval time.Duration
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// Load reads an optional .env file and then the SITEKEEPER_* environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	actors, err := parseActors(getEnv("ACTORS", ""))
	if err != nil {
		return nil, err
	}

	limits := ratelimit.DefaultConfig()
	cfg := &Config{
		Environment: getEnv("ENV", "development"),
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:        getEnv("GRPC_ADDR", ":9090"),
			ReadTimeout:     getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			TrustProxy:      getEnvAsBool("TRUST_PROXY", false),
			MaxBodyBytes:    int64(getEnvAsInt("MAX_BODY_BYTES", 1<<20)),
			RateBurst:       getEnvAsInt("RATE_BURST", 30),
			RatePerSecond:   getEnvAsInt("RATE_PER_SECOND", 10),
		},
		Database: DatabaseConfig{
			DSN: getEnv("PG_DSN", ""),
		},
		Auth: AuthConfig{
			SessionSecret:    getEnv("SESSION_SECRET", ""),
			Actors:           actors,
			CodeLength:       getEnvAsInt("CODE_LENGTH", 13),
			SessionMaxAge:    getEnvAsDuration("SESSION_MAX_AGE", auth.DefaultMaxAge),
			RotateAfter:      getEnvAsDuration("SESSION_ROTATE_AFTER", auth.DefaultRotateAfter),
			MaxConcurrentKDF: int64(getEnvAsInt("KDF_CONCURRENCY", 4)),
		},
		Lockout: LockoutConfig{
			Window:        getEnvAsDuration("LOCKOUT_WINDOW", limits.Window),
			MaxAttempts:   getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", limits.MaxAttempts),
			BaseDelay:     getEnvAsDuration("FAIL_DELAY_BASE", limits.BaseDelay),
			DelayStep:     getEnvAsDuration("FAIL_DELAY_STEP", limits.DelayStep),
			MaxDelay:      getEnvAsDuration("FAIL_DELAY_MAX", limits.MaxDelay),
			PruneInterval: getEnvAsDuration("LOCKOUT_PRUNE_INTERVAL", time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the service cannot run without. Missing
// authentication material is fatal rather than degraded.
func (c *Config) Validate() error {
	if c.Auth.SessionSecret == "" {
		return errors.New("session secret is required (SITEKEEPER_SESSION_SECRET)")
	}
	if c.IsProduction() && len(c.Auth.SessionSecret) < 32 {
		return errors.New("session secret must be at least 32 bytes in production")
	}
	if len(c.Auth.Actors) == 0 {
		return errors.New("at least one actor is required (SITEKEEPER_ACTORS)")
	}
	if c.Auth.CodeLength < 0 {
		return errors.New("code length must not be negative")
	}
	if c.Auth.SessionMaxAge <= 0 || c.Auth.RotateAfter <= 0 {
		return errors.New("session lifetimes must be positive")
	}
	if c.Auth.RotateAfter >= c.Auth.SessionMaxAge {
		return errors.New("session rotation must happen before expiry")
	}
	if c.Lockout.Window <= 0 || c.Lockout.MaxAttempts <= 0 {
		return errors.New("lockout window and max attempts must be positive")
	}
	if c.Lockout.BaseDelay < 0 || c.Lockout.DelayStep < 0 || c.Lockout.MaxDelay < c.Lockout.BaseDelay {
		return errors.New("failure delays are inconsistent")
	}
	if c.IsProduction() && c.Database.DSN == "" {
		return errors.New("database DSN is required in production (SITEKEEPER_PG_DSN)")
	}
	if c.Observability.LogLevel == "" {
		return errors.New("log level is required")
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// Limiter converts the lockout settings for ratelimit.New.
func (l LockoutConfig) Limiter() ratelimit.Config {
	return ratelimit.Config{
		Window:      l.Window,
		MaxAttempts: l.MaxAttempts,
		BaseDelay:   l.BaseDelay,
		DelayStep:   l.DelayStep,
		MaxDelay:    l.MaxDelay,
	}
}

func parseActors(raw string) ([]auth.Actor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var actors []auth.Actor
	if err := json.Unmarshal([]byte(raw), &actors); err != nil {
		return nil, fmt.Errorf("parse %sACTORS: %w", envPrefix, err)
	}
	return actors, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}
