package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds the service configuration loaded from environment variables.
type Config struct {
	// Port is the HTTP listen port.
	// Environment variable: PORT
	Port string `koanf:"PORT"`

	// DatabaseURL is the PostgreSQL connection string.
	// Environment variable: DATABASE_URL
	DatabaseURL string `koanf:"DATABASE_URL"`

	// JWTSecret signs and verifies bearer tokens (HMAC).
	// Environment variable: JWT_SECRET
	JWTSecret string `koanf:"JWT_SECRET"`

	// RedisURL enables cross-replica cache invalidation when set.
	// Environment variable: REDIS_URL
	RedisURL string `koanf:"REDIS_URL"`

	// RedisChannel is the invalidation pub/sub channel.
	// Environment variable: REDIS_CHANNEL
	RedisChannel string `koanf:"REDIS_CHANNEL"`

	// RuleCacheTTL expires cached rule sets; 0 keeps them until invalidated.
	// Environment variable: RULE_CACHE_TTL (e.g. "5m")
	RuleCacheTTL time.Duration `koanf:"RULE_CACHE_TTL"`

	// RegexCacheSize bounds the number of memoized compiled patterns.
	// Environment variable: REGEX_CACHE_SIZE
	RegexCacheSize int64 `koanf:"REGEX_CACHE_SIZE"`

	// DBConnectAttempts is how many times startup retries the database.
	// Environment variable: DB_CONNECT_ATTEMPTS
	DBConnectAttempts uint `koanf:"DB_CONNECT_ATTEMPTS"`
}

// Default returns the configuration used for unset variables.
func Default() Config {
	return Config{
		Port:              "8080",
		RedisChannel:      "rules:invalidate",
		RegexCacheSize:    10000,
		DBConnectAttempts: 5,
	}
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the HTTP server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.RuleCacheTTL < 0 {
		errs = append(errs, errors.New("RULE_CACHE_TTL must not be negative"))
	}
	if c.RegexCacheSize <= 0 {
		errs = append(errs, errors.New("REGEX_CACHE_SIZE must be positive"))
	}
	if c.DBConnectAttempts == 0 {
		errs = append(errs, errors.New("DB_CONNECT_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}
