package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/campusreach/authcore/internal/rate"
)

var ErrResetRateLimited = errors.New("reset rate limited")

type PasswordResetConfig struct {
	// Window is the fixed window for every reset counter.
	Window time.Duration
	// MaxPerEmail bounds reset requests per normalized email.
	MaxPerEmail int
	// MaxPerIP bounds reset requests per client IP. Zero disables it.
	MaxPerIP int
	// MaxVerifyPerIP bounds token verifications per client IP. Zero disables it.
	MaxVerifyPerIP int
}

// Decision is the outcome of a reset limiter check.
type Decision struct {
	Scope      string
	RetryAfter time.Duration
	Degraded   bool
}

type PasswordResetLimiter struct {
	limiter *rate.Limiter
	config  PasswordResetConfig
}

func NewPasswordResetLimiter(limiter *rate.Limiter, cfg PasswordResetConfig) *PasswordResetLimiter {
	return &PasswordResetLimiter{
		limiter: limiter,
		config:  cfg,
	}
}

// CheckRequest counts one reset request for email (and ip when enabled).
// On denial it returns ErrResetRateLimited with the blocking scope.
func (l *PasswordResetLimiter) CheckRequest(ctx context.Context, email, ip string) (Decision, error) {
	if l == nil {
		return Decision{}, nil
	}
	d, err := l.enforce(ctx, "email", requestEmailKey(email), l.config.MaxPerEmail)
	if err != nil || l.config.MaxPerIP <= 0 || ip == "" {
		return d, err
	}
	ipDecision, err := l.enforce(ctx, "ip", requestIPKey(ip), l.config.MaxPerIP)
	ipDecision.Degraded = ipDecision.Degraded || d.Degraded
	return ipDecision, err
}

// CheckVerify counts one token verification from ip.
func (l *PasswordResetLimiter) CheckVerify(ctx context.Context, ip string) (Decision, error) {
	if l == nil || l.config.MaxVerifyPerIP <= 0 || ip == "" {
		return Decision{}, nil
	}
	return l.enforce(ctx, "verify_ip", verifyIPKey(ip), l.config.MaxVerifyPerIP)
}

// ResetEmail clears the per-email counter.
func (l *PasswordResetLimiter) ResetEmail(ctx context.Context, email string) error {
	if l == nil {
		return nil
	}
	return l.limiter.Reset(ctx, requestEmailKey(email))
}

func (l *PasswordResetLimiter) enforce(ctx context.Context, scope, key string, max int) (Decision, error) {
	if max <= 0 {
		return Decision{Scope: scope}, nil
	}
	res, err := l.limiter.Hit(ctx, l.limiter.Key("pwreset", key), max, l.config.Window)
	if err != nil {
		return Decision{Scope: scope}, err
	}
	d := Decision{Scope: scope, Degraded: res.Degraded}
	if !res.Allowed {
		d.RetryAfter = res.RetryAfter
		return d, ErrResetRateLimited
	}
	return d, nil
}

func requestEmailKey(email string) string {
	return "email:" + email
}

func requestIPKey(ip string) string {
	return "ip:" + ip
}

func verifyIPKey(ip string) string {
	return "verify:" + ip
}
