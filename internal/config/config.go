// Package config reads server settings from the environment, after loading
// an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"

	// Fallback for local dev if DATABASE_URL is not set
	defaultDSN = "host=localhost user=postgres password=postgres dbname=qaboard port=5432 sslmode=disable TimeZone=UTC"

	defaultSessionSecret = "secret_key_change_me"
)

type Config struct {
	Port    string
	GinMode string

	StoreDriver string
	DatabaseURL string
	BadgerPath  string // empty means in-memory

	SessionSecret string
	SessionName   string
	JWTSecret     string
	JWTIssuer     string
	CORSOrigins   []string

	VoteMaxAttempts int
	TallyCacheSize  int
	TallyCacheTTL   time.Duration

	LogLevel  slog.Level
	LogFormat string // "json" or "text"
}

// Load reads .env files (missing files are fine) and then the process
// environment. Explicit environment variables win over .env entries.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := Config{
		Port:          getEnvOr("PORT", "8080"),
		GinMode:       os.Getenv("GIN_MODE"),
		StoreDriver:   strings.ToLower(getEnvOr("STORE_DRIVER", DriverPostgres)),
		DatabaseURL:   getEnvOr("DATABASE_URL", defaultDSN),
		BadgerPath:    os.Getenv("BADGER_PATH"),
		SessionSecret: getEnvOr("SESSION_SECRET", defaultSessionSecret),
		SessionName:   getEnvOr("SESSION_NAME", "qaboard_session"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		JWTIssuer:     os.Getenv("JWT_ISSUER"),
		CORSOrigins:   splitList(os.Getenv("CORS_ORIGINS")),
		LogFormat:     strings.ToLower(getEnvOr("LOG_FORMAT", "text")),
	}

	switch cfg.StoreDriver {
	case DriverPostgres, DriverBadger:
	default:
		return Config{}, fmt.Errorf("STORE_DRIVER: unknown driver %q", cfg.StoreDriver)
	}

	var err error
	if cfg.VoteMaxAttempts, err = getIntOr("VOTE_MAX_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.TallyCacheSize, err = getIntOr("TALLY_CACHE_SIZE", 500); err != nil {
		return Config{}, err
	}
	if cfg.TallyCacheTTL, err = getDurationOr("TALLY_CACHE_TTL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnvOr("LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// DefaultSessionSecret reports whether SESSION_SECRET was left unset, in
// which case session cookies are signed with a publicly known key.
func (c Config) DefaultSessionSecret() bool {
	return c.SessionSecret == defaultSessionSecret
}

func getEnvOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getIntOr(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: want a positive integer, got %q", key, v)
	}
	return n, nil
}

func getDurationOr(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: want a positive duration, got %q", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
