package authcore

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadConfigFromEnv starts from [DefaultConfig] and applies AUTHCORE_*
// environment variables. Outside production (APP_ENV != "production") the
// given dotenv files, or ".env" when none are given, are loaded first;
// variables already set in the environment win.
func LoadConfigFromEnv(files ...string) (Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(files...); err != nil {
			log.Print("authcore: no .env file loaded: ", err)
		}
	}

	cfg := DefaultConfig()
	e := envReader{}

	cfg.Store.RedisURL = e.str("AUTHCORE_REDIS_URL", os.Getenv("REDIS_URL"))
	cfg.Store.KeyPrefix = e.str("AUTHCORE_KEY_PREFIX", cfg.Store.KeyPrefix)
	if key := e.str("AUTHCORE_TOKEN_HASH_KEY", ""); key != "" {
		cfg.Store.TokenHashKey = []byte(key)
	}
	cfg.Store.SweepInterval = e.duration("AUTHCORE_SWEEP_INTERVAL", cfg.Store.SweepInterval)

	cfg.RateLimit.Disabled = !e.boolean("AUTHCORE_RATE_LIMIT_ENABLED", !cfg.RateLimit.Disabled)

	cfg.Session.TTL = e.duration("AUTHCORE_SESSION_TTL", cfg.Session.TTL)
	cfg.Session.AbsoluteLifetime = e.duration("AUTHCORE_SESSION_ABSOLUTE_LIFETIME", cfg.Session.AbsoluteLifetime)
	cfg.Session.CookieName = e.str("AUTHCORE_SESSION_COOKIE", cfg.Session.CookieName)
	cfg.ClientBinding.EnforceIP = e.boolean("AUTHCORE_ENFORCE_IP", cfg.ClientBinding.EnforceIP)
	cfg.ClientBinding.EnforceUserAgent = e.boolean("AUTHCORE_ENFORCE_USER_AGENT", cfg.ClientBinding.EnforceUserAgent)

	cfg.PasswordReset.Enabled = e.boolean("AUTHCORE_RESET_ENABLED", cfg.PasswordReset.Enabled)
	cfg.PasswordReset.TokenTTL = e.duration("AUTHCORE_RESET_TOKEN_TTL", cfg.PasswordReset.TokenTTL)
	cfg.PasswordReset.MaxRequestsPerEmail = e.integer("AUTHCORE_RESET_MAX_PER_EMAIL", cfg.PasswordReset.MaxRequestsPerEmail)
	cfg.PasswordReset.MaxRequestsPerIP = e.integer("AUTHCORE_RESET_MAX_PER_IP", cfg.PasswordReset.MaxRequestsPerIP)

	cfg.Password.BcryptCost = e.integer("AUTHCORE_BCRYPT_COST", cfg.Password.BcryptCost)

	cfg.Audit.Enabled = e.boolean("AUTHCORE_AUDIT_ENABLED", cfg.Audit.Enabled)
	if sev := e.str("AUTHCORE_AUDIT_MIN_SEVERITY", ""); sev != "" {
		cfg.Audit.MinSeverity = ParseSeverity(sev)
	}
	cfg.Metrics.Enabled = e.boolean("AUTHCORE_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.EnableLatencyHistograms = e.boolean("AUTHCORE_METRICS_LATENCY", cfg.Metrics.EnableLatencyHistograms)

	if e.err != nil {
		return Config{}, e.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envReader keeps the first parse error.
type envReader struct {
	err error
}

func (e *envReader) str(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

func (e *envReader) duration(name string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, err)
		return def
	}
	return d
}

func (e *envReader) integer(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, err)
		return def
	}
	return n
}

func (e *envReader) boolean(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, err)
		return def
	}
	return b
}

func (e *envReader) fail(name string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s: %v", ErrValidation, name, err)
	}
}
