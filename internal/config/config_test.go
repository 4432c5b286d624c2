package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/rules")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/rules" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.RedisChannel != "rules:invalidate" || cfg.RegexCacheSize != 10000 || cfg.DBConnectAttempts != 5 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RULE_CACHE_TTL", "5m")
	t.Setenv("REGEX_CACHE_SIZE", "250")
	t.Setenv("DB_CONNECT_ATTEMPTS", "2")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.RuleCacheTTL != 5*time.Minute {
		t.Errorf("RuleCacheTTL = %v, want 5m", cfg.RuleCacheTTL)
	}
	if cfg.RegexCacheSize != 250 || cfg.DBConnectAttempts != 2 {
		t.Errorf("numeric overrides not applied: %+v", cfg)
	}
	if cfg.RedisURL != "redis://cache:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
}

func TestValidate(t *testing.T) {
	good := Default()
	good.DatabaseURL = "postgres://localhost/rules"
	good.JWTSecret = "secret"

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"negative ttl", func(c *Config) { c.RuleCacheTTL = -time.Second }, "RULE_CACHE_TTL"},
		{"zero attempts", func(c *Config) { c.DBConnectAttempts = 0 }, "DB_CONNECT_ATTEMPTS"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := good
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}
