package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campusreach/authcore/password"
)

// Config is the full authcore configuration. Build it with [DefaultConfig]
// and override fields; it is treated as immutable once passed to a
// constructor.
type Config struct {
	RateLimit     RateLimitConfig
	Session       SessionConfig
	ClientBinding ClientBindingConfig
	PasswordReset PasswordResetConfig
	Password      PasswordConfig
	Store         StoreConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RatePolicy is the fixed-window budget of one endpoint class.
type RatePolicy struct {
	MaxRequests int
	Window      time.Duration
}

// ClassRule maps requests to an endpoint class. Method is matched
// case-insensitively; an empty Method matches every method. Rules are
// evaluated in order and the first match wins.
type ClassRule struct {
	Method     string
	PathPrefix string
	Class      string
}

// RateLimitConfig configures the fixed-window limiter and the endpoint
// classifier.
type RateLimitConfig struct {
	// Disabled turns every check into an allow. The zero value limits.
	Disabled bool
	// KeyPrefix is appended to Store.KeyPrefix for counter keys.
	KeyPrefix string
	// DefaultClass is used for unclassified requests and unknown classes.
	DefaultClass string
	Policies     map[string]RatePolicy
	Rules        []ClassRule
	// MaxUnmatchedWarnings bounds how many distinct unmatched paths are
	// logged by the classifier.
	MaxUnmatchedWarnings int
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures server-side sessions.
type SessionConfig struct {
	// TTL is the sliding idle lifetime; every successful lookup extends the
	// session to now+TTL.
	TTL time.Duration
	// AbsoluteLifetime caps a session measured from CreatedAt. Zero disables
	// the cap.
	AbsoluteLifetime time.Duration
	KeyPrefix        string
	CookieName       string
	// MaxUserAgentLength truncates stored User-Agent strings.
	MaxUserAgentLength int
	// LoginCountWindow is the window of the per-user login counter.
	LoginCountWindow time.Duration
}

// ClientBindingConfig controls how a session reacts to a changed client IP
// or User-Agent. Detection emits an audit warning; enforcement additionally
// rejects the request and revokes the session.
type ClientBindingConfig struct {
	DetectIPChange        bool
	DetectUserAgentChange bool
	EnforceIP             bool
	EnforceUserAgent      bool
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig configures the reset-token flow.
type PasswordResetConfig struct {
	Enabled   bool
	TokenTTL  time.Duration
	KeyPrefix string
	// RequestWindow is the fixed window for all reset throttles.
	RequestWindow       time.Duration
	MaxRequestsPerEmail int
	// MaxRequestsPerIP and MaxVerifyPerIP disable their throttle when zero.
	MaxRequestsPerIP int
	MaxVerifyPerIP   int
	// EnumerationDelayMin and EnumerationDelayMax bound the random pause
	// taken for unknown addresses.
	EnumerationDelayMin time.Duration
	EnumerationDelayMax time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig configures bcrypt hashing and the complexity policy.
type PasswordConfig struct {
	BcryptCost     int
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// Policy returns the complexity rules described by c.
func (c PasswordConfig) Policy() password.Policy {
	return password.Policy{
		MinLength:      c.MinLength,
		MaxBytes:       password.MaxPasswordBytes,
		RequireUpper:   c.RequireUpper,
		RequireLower:   c.RequireLower,
		RequireDigit:   c.RequireDigit,
		RequireSpecial: c.RequireSpecial,
	}
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig configures the backing store shared by all components.
type StoreConfig struct {
	// RedisURL selects the Redis backend; empty means the in-process map.
	RedisURL string
	// KeyPrefix namespaces every key written by authcore.
	KeyPrefix string
	// TokenHashKey switches session and reset-token key derivation from
	// SHA-256 to HMAC-SHA256.
	TokenHashKey []byte
	// SweepInterval is how often the in-process map drops expired entries.
	SweepInterval time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig configures asynchronous audit delivery.
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	DropIfFull  bool
	MinSeverity Severity
}

// MetricsConfig configures in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// Endpoint classes with a default policy.
const (
	ClassAuthLogin         = "auth:login"
	ClassAuthRegister      = "auth:register"
	ClassAuthPasswordReset = "auth:password-reset"
	ClassAPIUpload         = "api:upload"
	ClassAPIWrite          = "api:write"
	ClassAPIRead           = "api:read"
	ClassPublicDefault     = "public:default"
)

// DefaultRatePolicies returns the built-in endpoint class budgets.
func DefaultRatePolicies() map[string]RatePolicy {
	return map[string]RatePolicy{
		ClassAuthLogin:         {MaxRequests: 5, Window: 15 * time.Minute},
		ClassAuthRegister:      {MaxRequests: 3, Window: time.Hour},
		ClassAuthPasswordReset: {MaxRequests: 3, Window: time.Hour},
		ClassAPIUpload:         {MaxRequests: 10, Window: time.Minute},
		ClassAPIWrite:          {MaxRequests: 60, Window: time.Minute},
		ClassAPIRead:           {MaxRequests: 300, Window: time.Minute},
		ClassPublicDefault:     {MaxRequests: 100, Window: time.Minute},
	}
}

// DefaultClassRules returns the built-in request classification.
func DefaultClassRules() []ClassRule {
	return []ClassRule{
		{Method: "POST", PathPrefix: "/auth/login", Class: ClassAuthLogin},
		{Method: "POST", PathPrefix: "/auth/register", Class: ClassAuthRegister},
		{PathPrefix: "/auth/password-reset", Class: ClassAuthPasswordReset},
		{Method: "POST", PathPrefix: "/api/upload", Class: ClassAPIUpload},
		{Method: "POST", PathPrefix: "/api/", Class: ClassAPIWrite},
		{Method: "PUT", PathPrefix: "/api/", Class: ClassAPIWrite},
		{Method: "PATCH", PathPrefix: "/api/", Class: ClassAPIWrite},
		{Method: "DELETE", PathPrefix: "/api/", Class: ClassAPIWrite},
		{Method: "GET", PathPrefix: "/api/", Class: ClassAPIRead},
	}
}

// DefaultConfig returns a production-usable baseline.
func DefaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			KeyPrefix:            "rl",
			DefaultClass:         ClassPublicDefault,
			Policies:             DefaultRatePolicies(),
			Rules:                DefaultClassRules(),
			MaxUnmatchedWarnings: 256,
		},
		Session: SessionConfig{
			TTL:                24 * time.Hour,
			KeyPrefix:          "sess",
			CookieName:         "sid",
			MaxUserAgentLength: 512,
			LoginCountWindow:   30 * 24 * time.Hour,
		},
		ClientBinding: ClientBindingConfig{
			DetectIPChange:        true,
			DetectUserAgentChange: true,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:             true,
			TokenTTL:            time.Hour,
			KeyPrefix:           "pwreset",
			RequestWindow:       time.Hour,
			MaxRequestsPerEmail: 3,
			MaxRequestsPerIP:    20,
			MaxVerifyPerIP:      60,
			EnumerationDelayMin: 20 * time.Millisecond,
			EnumerationDelayMax: 40 * time.Millisecond,
		},
		Password: PasswordConfig{
			BcryptCost:     password.DefaultCost,
			MinLength:      password.DefaultMinLength,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			RequireSpecial: true,
		},
		Store: StoreConfig{
			KeyPrefix:     "authcore",
			SweepInterval: 5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:     false,
			BufferSize:  1024,
			DropIfFull:  true,
			MinSeverity: SeverityInfo,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Store.TokenHashKey = cloneBytes(cfg.Store.TokenHashKey)
	if cfg.RateLimit.Policies != nil {
		out.RateLimit.Policies = make(map[string]RatePolicy, len(cfg.RateLimit.Policies))
		for k, v := range cfg.RateLimit.Policies {
			out.RateLimit.Policies[k] = v
		}
	}
	out.RateLimit.Rules = append([]ClassRule(nil), cfg.RateLimit.Rules...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// namespace joins the global key prefix and a component prefix.
func (c *Config) namespace(section string) string {
	base := strings.TrimSuffix(c.Store.KeyPrefix, ":")
	if base == "" {
		return section
	}
	return base + ":" + section
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// Rate limit
	if !c.RateLimit.Disabled {
		if c.RateLimit.DefaultClass == "" {
			return errors.New("RateLimit DefaultClass must be set")
		}
		if _, ok := c.RateLimit.Policies[c.RateLimit.DefaultClass]; !ok {
			return fmt.Errorf("RateLimit DefaultClass %q has no policy", c.RateLimit.DefaultClass)
		}
		for class, p := range c.RateLimit.Policies {
			if p.MaxRequests <= 0 {
				return fmt.Errorf("RateLimit policy %q MaxRequests must be > 0", class)
			}
			if p.Window <= 0 {
				return fmt.Errorf("RateLimit policy %q Window must be > 0", class)
			}
		}
		for i, r := range c.RateLimit.Rules {
			if r.PathPrefix == "" || r.Class == "" {
				return fmt.Errorf("RateLimit rule %d needs PathPrefix and Class", i)
			}
			if _, ok := c.RateLimit.Policies[r.Class]; !ok {
				return fmt.Errorf("RateLimit rule %d references unknown class %q", i, r.Class)
			}
		}
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.AbsoluteLifetime < 0 {
		return errors.New("Session AbsoluteLifetime must be >= 0")
	}
	if c.Session.AbsoluteLifetime > 0 && c.Session.AbsoluteLifetime < c.Session.TTL {
		return errors.New("Session AbsoluteLifetime must be >= TTL when set")
	}
	if c.Session.KeyPrefix == "" {
		return errors.New("Session KeyPrefix must be set")
	}
	if c.Session.MaxUserAgentLength < 0 {
		return errors.New("Session MaxUserAgentLength must be >= 0")
	}
	if c.Session.LoginCountWindow <= 0 {
		return errors.New("Session LoginCountWindow must be > 0")
	}
	if c.ClientBinding.EnforceIP && !c.ClientBinding.DetectIPChange {
		return errors.New("ClientBinding EnforceIP requires DetectIPChange")
	}
	if c.ClientBinding.EnforceUserAgent && !c.ClientBinding.DetectUserAgentChange {
		return errors.New("ClientBinding EnforceUserAgent requires DetectUserAgentChange")
	}

	// Password
	if c.Password.BcryptCost < password.MinCost || c.Password.BcryptCost > password.MaxCost {
		return fmt.Errorf("Password BcryptCost must be between %d and %d", password.MinCost, password.MaxCost)
	}
	if c.Password.MinLength < password.DefaultMinLength {
		return fmt.Errorf("Password MinLength must be >= %d", password.DefaultMinLength)
	}
	if !c.Password.RequireUpper || !c.Password.RequireLower || !c.Password.RequireDigit || !c.Password.RequireSpecial {
		return errors.New("Password policy must require upper, lower, digit and special characters")
	}
	if c.Password.MinLength > password.MaxPasswordBytes {
		return fmt.Errorf("Password MinLength must be <= %d", password.MaxPasswordBytes)
	}

	// Password reset
	if c.PasswordReset.Enabled {
		if c.PasswordReset.TokenTTL <= 0 {
			return errors.New("PasswordReset TokenTTL must be > 0")
		}
		if c.PasswordReset.KeyPrefix == "" {
			return errors.New("PasswordReset KeyPrefix must be set")
		}
		if c.PasswordReset.RequestWindow <= 0 {
			return errors.New("PasswordReset RequestWindow must be > 0")
		}
		if c.PasswordReset.MaxRequestsPerEmail <= 0 {
			return errors.New("PasswordReset MaxRequestsPerEmail must be > 0")
		}
		if c.PasswordReset.MaxRequestsPerIP < 0 || c.PasswordReset.MaxVerifyPerIP < 0 {
			return errors.New("PasswordReset IP throttles must be >= 0")
		}
		if c.PasswordReset.EnumerationDelayMin < 0 ||
			c.PasswordReset.EnumerationDelayMax < c.PasswordReset.EnumerationDelayMin {
			return errors.New("PasswordReset enumeration delay range is invalid")
		}
	}

	// Store
	if c.Store.SweepInterval <= 0 {
		return errors.New("Store SweepInterval must be > 0")
	}
	if len(c.Store.TokenHashKey) > 0 && len(c.Store.TokenHashKey) < 16 {
		return errors.New("Store TokenHashKey must be at least 16 bytes when set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}

/*
====================================
LINT
====================================
*/

// LintWarning is a configuration that is valid but weak.
type LintWarning struct {
	Code    string
	Message string
}

// LintResult is the list of warnings returned by [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, len(r))
	for i, w := range r {
		out[i] = w.Code
	}
	return out
}

// Lint reports settings that pass Validate but weaken protection.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if c.RateLimit.Disabled {
		add("rate_limits_disabled", "endpoint rate limiting is disabled")
	}
	if p, ok := c.RateLimit.Policies[ClassAuthLogin]; !c.RateLimit.Disabled && ok && p.MaxRequests > 20 {
		add("login_limit_high", "auth:login allows more than 20 attempts per window")
	}
	if c.Session.TTL > 7*24*time.Hour {
		add("session_ttl_long", "Session TTL exceeds 7 days")
	}
	if c.Session.AbsoluteLifetime == 0 {
		add("session_no_absolute_lifetime", "sliding sessions can live forever while active")
	}
	if c.PasswordReset.Enabled && c.PasswordReset.TokenTTL > 24*time.Hour {
		add("reset_ttl_long", "PasswordReset TokenTTL exceeds 24 hours")
	}
	if c.PasswordReset.Enabled && c.PasswordReset.MaxRequestsPerIP == 0 {
		add("reset_ip_throttle_disabled", "password reset requests are not throttled per IP")
	}
	if len(c.Store.TokenHashKey) == 0 {
		add("token_hash_unkeyed", "token keys use plain SHA-256; set Store.TokenHashKey")
	}
	if c.Password.BcryptCost < password.DefaultCost {
		add("bcrypt_cost_low", fmt.Sprintf("BcryptCost below %d", password.DefaultCost))
	}
	if c.Store.RedisURL == "" {
		add("store_not_distributed", "in-process store: limits and sessions are per instance")
	}
	return ws
}
