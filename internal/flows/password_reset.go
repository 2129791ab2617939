package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campusreach/authcore/internal"
	"github.com/campusreach/authcore/internal/audit"
	"github.com/campusreach/authcore/internal/limiters"
	"github.com/campusreach/authcore/internal/stores"
)

type PasswordResetUser struct {
	UserID   string
	Email    string
	Disabled bool
}

type PasswordResetMetrics struct {
	Request         int
	RateLimited     int
	UnknownEmail    int
	DeliveryFailure int
	VerifyFailure   int
	Replay          int
	Expired         int
	ConfirmSuccess  int
	ConfirmFailure  int
	PolicyRejected  int
}

type PasswordResetEvents struct {
	Request      string
	RateLimited  string
	Delivery     string
	Invalid      string
	Replay       string
	IPMismatch   string
	Verified     string
	Confirm      string
	RevokeFailed string
}

type PasswordResetErrors struct {
	EngineNotReady       error
	Validation           error
	TokenInvalid         error
	TokenUsed            error
	TokenExpired         error
	UserNotFound         error
	DeliveryFailed       error
	PasswordUpdateFailed error
	StoreUnavailable     error
}

// AuditFunc emits one audit event for the current request.
type AuditFunc func(ctx context.Context, event string, severity audit.Severity, success bool, userID string, err error, metadata func() map[string]string)

type PasswordResetDeps struct {
	TokenTTL  time.Duration
	HashKey   []byte
	Now       func() time.Time
	IPAddress string
	UserAgent string

	Store   *stores.PasswordResetStore
	Limiter *limiters.PasswordResetLimiter

	FindUserByEmail  func(ctx context.Context, email string) (PasswordResetUser, error)
	UpdatePassword   func(ctx context.Context, userID, passwordHash string) error
	SendResetEmail   func(ctx context.Context, to, token string, expiresAt time.Time) error
	SendChangedEmail func(ctx context.Context, to string) error
	RevokeSessions   func(ctx context.Context, userID string) (int, error)
	PolicyViolations func(password string) []string
	HashPassword     func(password string) (string, error)
	EnumerationDelay func(ctx context.Context) error

	MetricInc func(int)
	EmitAudit AuditFunc
	Logf      func(format string, args ...any)

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  PasswordResetErrors
}

// PasswordResetRequestOutcome is the internal result of a reset request.
// RetryAfter is set when a throttle denied the request.
type PasswordResetRequestOutcome struct {
	Delivered  bool
	RetryAfter time.Duration
}

// PasswordResetVerified is a token that passed verification.
type PasswordResetVerified struct {
	TokenHash  string
	Record     *stores.ResetRecord
	RetryAfter time.Duration
}

// PasswordResetConfirmOutcome is the internal result of a confirm.
type PasswordResetConfirmOutcome struct {
	UserID          string
	Violations      []string
	SessionsRevoked int
	RetryAfter      time.Duration
}

func RunRequestPasswordReset(ctx context.Context, email string, deps PasswordResetDeps) (PasswordResetRequestOutcome, error) {
	normalizePasswordResetDeps(&deps)
	if deps.Store == nil || deps.FindUserByEmail == nil || deps.SendResetEmail == nil {
		return PasswordResetRequestOutcome{}, deps.Errors.EngineNotReady
	}

	decision, err := deps.Limiter.CheckRequest(ctx, email, deps.IPAddress)
	if err != nil {
		if errors.Is(err, limiters.ErrResetRateLimited) {
			deps.MetricInc(deps.Metrics.RateLimited)
			deps.EmitAudit(ctx, deps.Events.RateLimited, audit.SeverityWarning, false, "", err, func() map[string]string {
				return map[string]string{
					"email": email,
					"scope": decision.Scope,
				}
			})
			return PasswordResetRequestOutcome{RetryAfter: decision.RetryAfter}, err
		}
		return PasswordResetRequestOutcome{}, fmt.Errorf("%w: %v", deps.Errors.StoreUnavailable, err)
	}
	deps.MetricInc(deps.Metrics.Request)

	user, err := deps.FindUserByEmail(ctx, email)
	if err == nil && user.Disabled {
		err = deps.Errors.UserNotFound
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return PasswordResetRequestOutcome{}, err
		}
		if !errors.Is(err, deps.Errors.UserNotFound) {
			deps.Logf("password reset user lookup failed: %v", err)
			return PasswordResetRequestOutcome{}, fmt.Errorf("%w: %v", deps.Errors.StoreUnavailable, err)
		}
		deps.MetricInc(deps.Metrics.UnknownEmail)
		if sleepErr := deps.EnumerationDelay(ctx); sleepErr != nil {
			return PasswordResetRequestOutcome{}, sleepErr
		}
		deps.EmitAudit(ctx, deps.Events.Request, audit.SeverityInfo, true, "", nil, func() map[string]string {
			return map[string]string{
				"email":            email,
				"enumeration_safe": "true",
			}
		})
		return PasswordResetRequestOutcome{}, nil
	}

	token, err := internal.NewOpaqueToken()
	if err != nil {
		return PasswordResetRequestOutcome{}, err
	}
	tokenHash := internal.HashToken(token, deps.HashKey)

	now := deps.Now()
	record := &stores.ResetRecord{
		UserID:    user.UserID,
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(deps.TokenTTL),
		IPAddress: deps.IPAddress,
		UserAgent: deps.UserAgent,
	}
	if err := deps.Store.Save(ctx, tokenHash, record, deps.TokenTTL); err != nil {
		deps.Logf("password reset token save failed: %v", err)
		return PasswordResetRequestOutcome{}, fmt.Errorf("%w: %v", deps.Errors.StoreUnavailable, err)
	}

	to := user.Email
	if to == "" {
		to = email
	}
	if err := deps.SendResetEmail(ctx, to, token, record.ExpiresAt); err != nil {
		if delErr := deps.Store.Delete(ctx, tokenHash); delErr != nil {
			deps.Logf("dropping undelivered reset token failed: %v", delErr)
		}
		deps.MetricInc(deps.Metrics.DeliveryFailure)
		deps.Logf("password reset email delivery failed: %v", err)
		deps.EmitAudit(ctx, deps.Events.Delivery, audit.SeverityWarning, false, user.UserID, deps.Errors.DeliveryFailed, nil)
		return PasswordResetRequestOutcome{}, fmt.Errorf("%w: %v", deps.Errors.DeliveryFailed, err)
	}

	deps.EmitAudit(ctx, deps.Events.Request, audit.SeverityInfo, true, user.UserID, nil, func() map[string]string {
		return map[string]string{
			"email": email,
		}
	})
	return PasswordResetRequestOutcome{Delivered: true}, nil
}

func RunVerifyPasswordReset(ctx context.Context, token string, deps PasswordResetDeps) (PasswordResetVerified, error) {
	normalizePasswordResetDeps(&deps)
	if deps.Store == nil {
		return PasswordResetVerified{}, deps.Errors.EngineNotReady
	}

	decision, err := deps.Limiter.CheckVerify(ctx, deps.IPAddress)
	if err != nil {
		if errors.Is(err, limiters.ErrResetRateLimited) {
			deps.MetricInc(deps.Metrics.RateLimited)
			deps.EmitAudit(ctx, deps.Events.RateLimited, audit.SeverityWarning, false, "", err, func() map[string]string {
				return map[string]string{"scope": decision.Scope}
			})
			return PasswordResetVerified{RetryAfter: decision.RetryAfter}, err
		}
		return PasswordResetVerified{}, fmt.Errorf("%w: %v", deps.Errors.StoreUnavailable, err)
	}

	if !internal.WellFormedToken(token) {
		deps.MetricInc(deps.Metrics.VerifyFailure)
		deps.EmitAudit(ctx, deps.Events.Invalid, audit.SeverityInfo, false, "", deps.Errors.TokenInvalid, func() map[string]string {
			return map[string]string{"reason": "malformed"}
		})
		return PasswordResetVerified{}, deps.Errors.TokenInvalid
	}

	tokenHash := internal.HashToken(token, deps.HashKey)
	record, err := deps.Store.Get(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, stores.ErrResetCorrupt) {
			deps.Logf("dropping corrupt reset record: %v", err)
			_ = deps.Store.Delete(ctx, tokenHash)
		}
		if errors.Is(err, stores.ErrResetNotFound) || errors.Is(err, stores.ErrResetCorrupt) {
			deps.MetricInc(deps.Metrics.VerifyFailure)
			deps.EmitAudit(ctx, deps.Events.Invalid, audit.SeverityInfo, false, "", deps.Errors.TokenInvalid, func() map[string]string {
				return map[string]string{"reason": "not_found"}
			})
			return PasswordResetVerified{}, deps.Errors.TokenInvalid
		}
		return PasswordResetVerified{}, fmt.Errorf("%w: %v", deps.Errors.StoreUnavailable, err)
	}

	if record.Used {
		deps.MetricInc(deps.Metrics.Replay)
		deps.EmitAudit(ctx, deps.Events.Replay, audit.SeverityWarning, false, record.UserID, deps.Errors.TokenUsed, func() map[string]string {
			return map[string]string{"used_at": record.UsedAt.UTC().Format(time.RFC3339)}
		})
		return PasswordResetVerified{}, deps.Errors.TokenUsed
	}

	if !deps.Now().Before(record.ExpiresAt) {
		if err := deps.Store.Delete(ctx, tokenHash); err != nil {
			deps.Logf("dropping expired reset token failed: %v", err)
		}
		deps.MetricInc(deps.Metrics.Expired)
		deps.EmitAudit(ctx, deps.Events.Invalid, audit.SeverityInfo, false, record.UserID, deps.Errors.TokenExpired, func() map[string]string {
			return map[string]string{"reason": "expired"}
		})
		return PasswordResetVerified{}, deps.Errors.TokenExpired
	}

	if record.IPAddress != "" && deps.IPAddress != "" && record.IPAddress != deps.IPAddress {
		deps.EmitAudit(ctx, deps.Events.IPMismatch, audit.SeverityWarning, true, record.UserID, nil, func() map[string]string {
			return map[string]string{
				"requested_ip": record.IPAddress,
				"verified_ip":  deps.IPAddress,
			}
		})
	}

	if err := deps.Store.RecordAttempt(ctx, tokenHash, record); err != nil && !errors.Is(err, stores.ErrResetNotFound) {
		deps.Logf("recording reset verification attempt failed: %v", err)
	}

	deps.EmitAudit(ctx, deps.Events.Verified, audit.SeverityInfo, true, record.UserID, nil, func() map[string]string {
		return map[string]string{"attempts": fmt.Sprint(record.Attempts)}
	})
	return PasswordResetVerified{TokenHash: tokenHash, Record: record}, nil
}

func RunConfirmPasswordReset(ctx context.Context, token, newPassword string, deps PasswordResetDeps) (PasswordResetConfirmOutcome, error) {
	normalizePasswordResetDeps(&deps)
	if deps.Store == nil || deps.UpdatePassword == nil || deps.HashPassword == nil || deps.PolicyViolations == nil {
		return PasswordResetConfirmOutcome{}, deps.Errors.EngineNotReady
	}

	verified, err := RunVerifyPasswordReset(ctx, token, deps)
	if err != nil {
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		return PasswordResetConfirmOutcome{RetryAfter: verified.RetryAfter}, err
	}
	record := verified.Record
	out := PasswordResetConfirmOutcome{UserID: record.UserID}

	if violations := deps.PolicyViolations(newPassword); len(violations) > 0 {
		deps.MetricInc(deps.Metrics.PolicyRejected)
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm, audit.SeverityInfo, false, record.UserID, deps.Errors.Validation, func() map[string]string {
			return map[string]string{"reason": "password_policy"}
		})
		out.Violations = violations
		return out, deps.Errors.Validation
	}

	passwordHash, err := deps.HashPassword(newPassword)
	if err != nil {
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		return out, fmt.Errorf("%w: %v", deps.Errors.PasswordUpdateFailed, err)
	}

	// The claim lives as long as the token so a crash between claim and
	// MarkUsed cannot reopen it.
	claimTTL := record.ExpiresAt.Sub(deps.Now())
	if err := deps.Store.Claim(ctx, verified.TokenHash, claimTTL); err != nil {
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		if errors.Is(err, stores.ErrResetAlreadyClaimed) {
			deps.MetricInc(deps.Metrics.Replay)
			deps.EmitAudit(ctx, deps.Events.Replay, audit.SeverityWarning, false, record.UserID, deps.Errors.TokenUsed, func() map[string]string {
				return map[string]string{"reason": "concurrent_claim"}
			})
			return out, deps.Errors.TokenUsed
		}
		return out, fmt.Errorf("%w: %v", deps.Errors.StoreUnavailable, err)
	}

	if err := deps.UpdatePassword(ctx, record.UserID, passwordHash); err != nil {
		if relErr := deps.Store.Release(ctx, verified.TokenHash); relErr != nil {
			deps.Logf("releasing reset token claim failed: %v", relErr)
		}
		deps.MetricInc(deps.Metrics.ConfirmFailure)
		deps.Logf("password update failed for user %s: %v", record.UserID, err)
		deps.EmitAudit(ctx, deps.Events.Confirm, audit.SeverityWarning, false, record.UserID, deps.Errors.PasswordUpdateFailed, nil)
		return out, fmt.Errorf("%w: %v", deps.Errors.PasswordUpdateFailed, err)
	}

	if err := deps.Store.MarkUsed(ctx, verified.TokenHash, record, deps.Now()); err != nil {
		deps.Logf("marking reset token used failed, claim still blocks reuse: %v", err)
	}

	if deps.RevokeSessions != nil {
		n, err := deps.RevokeSessions(ctx, record.UserID)
		if err != nil {
			deps.Logf("revoking sessions after password reset failed for user %s: %v", record.UserID, err)
			deps.EmitAudit(ctx, deps.Events.RevokeFailed, audit.SeverityCritical, false, record.UserID, err, nil)
		}
		out.SessionsRevoked = n
	}

	if deps.SendChangedEmail != nil {
		if err := deps.SendChangedEmail(ctx, record.Email); err != nil {
			deps.Logf("password changed notification failed: %v", err)
		}
	}

	deps.MetricInc(deps.Metrics.ConfirmSuccess)
	deps.EmitAudit(ctx, deps.Events.Confirm, audit.SeverityInfo, true, record.UserID, nil, func() map[string]string {
		return map[string]string{"sessions_revoked": fmt.Sprint(out.SessionsRevoked)}
	})
	return out, nil
}

func normalizePasswordResetDeps(deps *PasswordResetDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, audit.Severity, bool, string, error, func() map[string]string) {}
	}
	if deps.Logf == nil {
		deps.Logf = func(string, ...any) {}
	}
	if deps.EnumerationDelay == nil {
		deps.EnumerationDelay = func(context.Context) error { return nil }
	}
}
