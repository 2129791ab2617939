package authcore

import (
	"testing"
	"time"
)

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func TestLintDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	codes := cfg.Lint().Codes()

	// Defaults run in process with no hash key.
	for _, want := range []string{"token_hash_unkeyed", "store_not_distributed", "session_no_absolute_lifetime"} {
		if !containsCode(codes, want) {
			t.Errorf("default config should warn %q, got %v", want, codes)
		}
	}
	for _, unwanted := range []string{"rate_limits_disabled", "bcrypt_cost_low", "login_limit_high"} {
		if containsCode(codes, unwanted) {
			t.Errorf("default config should not warn %q", unwanted)
		}
	}
}

func TestLintHardenedConfigIsClean(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.RedisURL = "redis://localhost:6379/0"
	cfg.Store.TokenHashKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Session.AbsoluteLifetime = 7 * 24 * time.Hour

	if ws := cfg.Lint(); len(ws) != 0 {
		t.Fatalf("hardened config warnings: %v", ws.Codes())
	}
}

func TestLintWeakSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   string
	}{
		{"rate limiting off", func(c *Config) { c.RateLimit.Disabled = true }, "rate_limits_disabled"},
		{"generous login budget", func(c *Config) {
			c.RateLimit.Policies[ClassAuthLogin] = RatePolicy{MaxRequests: 50, Window: time.Minute}
		}, "login_limit_high"},
		{"long session ttl", func(c *Config) { c.Session.TTL = 30 * 24 * time.Hour }, "session_ttl_long"},
		{"long reset ttl", func(c *Config) { c.PasswordReset.TokenTTL = 48 * time.Hour }, "reset_ttl_long"},
		{"no ip throttle", func(c *Config) { c.PasswordReset.MaxRequestsPerIP = 0 }, "reset_ip_throttle_disabled"},
		{"cheap bcrypt", func(c *Config) { c.Password.BcryptCost = 8 }, "bcrypt_cost_low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if codes := cfg.Lint().Codes(); !containsCode(codes, tt.code) {
				t.Fatalf("codes %v missing %q", codes, tt.code)
			}
		})
	}
}
