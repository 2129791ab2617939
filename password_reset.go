package authcore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/mail"
	"strings"
	"time"

	internalaudit "github.com/campusreach/authcore/internal/audit"
	"github.com/campusreach/authcore/internal/flows"
	"github.com/campusreach/authcore/internal/limiters"
	"github.com/campusreach/authcore/internal/rate"
	"github.com/campusreach/authcore/internal/stores"
	"github.com/campusreach/authcore/password"
	"github.com/campusreach/authcore/store"
)

// Public reset messages. They never reveal whether an account exists.
const (
	resetRequestMessage = "If an account exists for that email, a reset link has been sent."
	resetLimitedMessage = "Too many password reset requests. Please try again later."
	resetFailedMessage  = "Unable to process the password reset request. Please try again later."
	resetInvalidMessage = "Invalid or expired reset token."
	resetDoneMessage    = "Password has been reset. Please sign in with your new password."
	resetUpdateFailed   = "Unable to update the password. Please try again."
	resetPolicyMessage  = "Password does not meet the requirements."
)

// PasswordResetService issues single-use reset tokens, verifies them and
// replaces the user's password, revoking every session of the user.
type PasswordResetService struct {
	cfg      PasswordResetConfig
	store    *stores.PasswordResetStore
	limiter  *limiters.PasswordResetLimiter
	fallback *store.Memory
	backend  store.Backend
	users    UserStore
	mailer   EmailSender
	sessions *SessionManager
	hasher   *password.Bcrypt
	policy   password.Policy
	hashKey  []byte
	tel      telemetry
}

// NewPasswordResetService wires the reset flow. sessions may be nil, in which
// case a successful reset revokes nothing. cfg.KeyPrefix is used verbatim.
func NewPasswordResetService(backend store.Backend, cfg PasswordResetConfig, pw PasswordConfig, users UserStore, mailer EmailSender, sessions *SessionManager, opts ...Option) (*PasswordResetService, error) {
	if backend == nil || users == nil || mailer == nil {
		return nil, fmt.Errorf("%w: password reset needs a backend, a user store and an email sender", ErrEngineNotReady)
	}
	if cfg.TokenTTL <= 0 {
		return nil, newValidationError("PasswordReset.TokenTTL", "must be > 0")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "pwreset"
	}
	if cfg.RequestWindow <= 0 {
		cfg.RequestWindow = time.Hour
	}
	if cfg.MaxRequestsPerEmail <= 0 {
		cfg.MaxRequestsPerEmail = 3
	}

	hasher, err := password.NewBcrypt(pw.BcryptCost)
	if err != nil {
		return nil, newValidationError("Password.BcryptCost", err.Error())
	}

	o := newOptions(opts)
	s := &PasswordResetService{
		cfg:      cfg,
		store:    stores.NewPasswordResetStore(backend, cfg.KeyPrefix),
		backend:  backend,
		users:    users,
		mailer:   mailer,
		sessions: sessions,
		hasher:   hasher,
		policy:   pw.Policy(),
		hashKey:  o.hashKey,
		tel:      o.tel,
	}

	s.fallback = store.NewMemory(
		store.WithClock(s.tel.now),
		store.WithSweepHook(func(n int) {
			s.tel.metrics.Add(MetricBackendSweepRemoved, uint64(n))
		}),
	)
	limiter := rate.New(backend, rate.Config{
		Prefix:   cfg.KeyPrefix,
		Now:      s.tel.now,
		Fallback: s.fallback,
		OnDegraded: func(ctx context.Context, key string, err error) {
			s.tel.inc(MetricRateLimitDegraded)
			s.tel.logf("password reset throttle store failed for %s, using local fallback: %v", key, err)
		},
	})
	s.limiter = limiters.NewPasswordResetLimiter(limiter, limiters.PasswordResetConfig{
		Window:         cfg.RequestWindow,
		MaxPerEmail:    cfg.MaxRequestsPerEmail,
		MaxPerIP:       cfg.MaxRequestsPerIP,
		MaxVerifyPerIP: cfg.MaxVerifyPerIP,
	})
	return s, nil
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return newValidationError("email", "must not be empty")
	}
	if len(email) > 254 {
		return newValidationError("email", "must be at most 254 characters")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return newValidationError("email", "must be a valid email address")
	}
	return nil
}

// RequestReset starts a reset for email. Unknown addresses get the same
// successful result as known ones. A throttled request returns a failure
// result and a *RateLimitError.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string, meta RequestMeta) (ResetRequestResult, error) {
	if !s.cfg.Enabled {
		return ResetRequestResult{Message: resetFailedMessage}, fmt.Errorf("%w: password reset is disabled", ErrEngineNotReady)
	}
	email = NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return ResetRequestResult{Message: "A valid email address is required."}, err
	}
	meta = resolveMeta(ctx, meta)

	out, err := flows.RunRequestPasswordReset(ctx, email, s.deps(meta))
	switch {
	case err == nil:
		return ResetRequestResult{Success: true, Message: resetRequestMessage}, nil
	case errors.Is(err, limiters.ErrResetRateLimited):
		rl := &RateLimitError{Scope: "password_reset", RetryAfter: out.RetryAfter}
		return ResetRequestResult{Message: resetLimitedMessage, RetryAfterSeconds: rl.RetryAfterSeconds()}, rl
	default:
		return ResetRequestResult{Message: resetFailedMessage}, err
	}
}

// VerifyToken checks a reset token without consuming it. Unknown, expired and
// already used tokens all produce the same public error text.
func (s *PasswordResetService) VerifyToken(ctx context.Context, token string, meta RequestMeta) (VerifyResult, error) {
	if !s.cfg.Enabled {
		return VerifyResult{Error: resetFailedMessage}, fmt.Errorf("%w: password reset is disabled", ErrEngineNotReady)
	}
	meta = resolveMeta(ctx, meta)
	v, err := flows.RunVerifyPasswordReset(ctx, strings.TrimSpace(token), s.deps(meta))
	if err != nil {
		if errors.Is(err, limiters.ErrResetRateLimited) {
			rl := &RateLimitError{Scope: "password_reset_verify", RetryAfter: v.RetryAfter}
			return VerifyResult{Error: resetLimitedMessage}, rl
		}
		return VerifyResult{Error: resetInvalidMessage}, err
	}
	return VerifyResult{Success: true, UserID: v.Record.UserID, Email: v.Record.Email}, nil
}

// ResetPassword verifies token, checks newPassword against the policy and
// stores its bcrypt hash. On success the token is spent and every session of
// the user is revoked. A failed password update leaves the token usable.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string, meta RequestMeta) (ResetResult, error) {
	if !s.cfg.Enabled {
		return ResetResult{Error: resetFailedMessage}, fmt.Errorf("%w: password reset is disabled", ErrEngineNotReady)
	}
	meta = resolveMeta(ctx, meta)
	out, err := flows.RunConfirmPasswordReset(ctx, strings.TrimSpace(token), newPassword, s.deps(meta))
	switch {
	case err == nil:
		return ResetResult{Success: true, Message: resetDoneMessage}, nil
	case errors.Is(err, limiters.ErrResetRateLimited):
		return ResetResult{Error: resetLimitedMessage}, &RateLimitError{Scope: "password_reset_verify", RetryAfter: out.RetryAfter}
	case errors.Is(err, ErrValidation):
		return ResetResult{
			Error:      resetPolicyMessage + " Password " + strings.Join(out.Violations, ", ") + ".",
			Violations: out.Violations,
		}, newValidationError("password", out.Violations...)
	case errors.Is(err, ErrInvalidCredentialToken):
		return ResetResult{Error: resetInvalidMessage}, err
	case errors.Is(err, ErrPasswordUpdateFailed):
		return ResetResult{Error: resetUpdateFailed}, err
	default:
		return ResetResult{Error: resetFailedMessage}, err
	}
}

// Policy returns the password policy enforced by ResetPassword.
func (s *PasswordResetService) Policy() password.Policy {
	return s.policy
}

// Start runs the sweep of the throttle fallback and, when the backend is
// process-local, of the backend too.
func (s *PasswordResetService) Start(ctx context.Context) {
	s.fallback.Start(ctx)
	if sw, ok := s.backend.(store.Sweeper); ok {
		sw.Start(ctx)
	}
}

// Shutdown stops the loops started by Start.
func (s *PasswordResetService) Shutdown() {
	s.fallback.Shutdown()
	if sw, ok := s.backend.(store.Sweeper); ok {
		sw.Shutdown()
	}
}

func (s *PasswordResetService) deps(meta RequestMeta) flows.PasswordResetDeps {
	d := flows.PasswordResetDeps{
		TokenTTL:  s.cfg.TokenTTL,
		HashKey:   s.hashKey,
		Now:       s.tel.now,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Store:     s.store,
		Limiter:   s.limiter,

		FindUserByEmail: func(ctx context.Context, email string) (flows.PasswordResetUser, error) {
			u, err := s.users.FindByEmail(ctx, email)
			if err != nil {
				return flows.PasswordResetUser{}, err
			}
			return flows.PasswordResetUser{UserID: u.ID, Email: u.Email, Disabled: u.Disabled}, nil
		},
		UpdatePassword:   s.users.UpdatePassword,
		SendResetEmail:   s.mailer.SendPasswordReset,
		SendChangedEmail: s.mailer.SendPasswordChanged,
		PolicyViolations: s.policy.Violations,
		HashPassword:     s.hasher.Hash,
		EnumerationDelay: s.enumerationDelay,

		MetricInc: func(id int) { s.tel.inc(MetricID(id)) },
		EmitAudit: func(ctx context.Context, event string, severity internalaudit.Severity, success bool, userID string, err error, metadata func() map[string]string) {
			s.tel.emitAudit(ctx, event, severity, success, userID, "", meta, err, metadata)
		},
		Logf: s.tel.logf,

		Metrics: flows.PasswordResetMetrics{
			Request:         int(MetricPasswordResetRequest),
			RateLimited:     int(MetricPasswordResetRateLimited),
			UnknownEmail:    int(MetricPasswordResetUnknownEmail),
			DeliveryFailure: int(MetricPasswordResetDeliveryFailure),
			VerifyFailure:   int(MetricPasswordResetVerifyFailure),
			Replay:          int(MetricPasswordResetReplay),
			Expired:         int(MetricPasswordResetExpired),
			ConfirmSuccess:  int(MetricPasswordResetConfirmSuccess),
			ConfirmFailure:  int(MetricPasswordResetConfirmFailure),
			PolicyRejected:  int(MetricPasswordResetPolicyRejected),
		},
		Events: flows.PasswordResetEvents{
			Request:      auditEventPasswordResetRequest,
			RateLimited:  auditEventPasswordResetRateLimited,
			Delivery:     auditEventPasswordResetDelivery,
			Invalid:      auditEventPasswordResetInvalid,
			Replay:       auditEventPasswordResetReplay,
			IPMismatch:   auditEventPasswordResetIPMismatch,
			Verified:     auditEventPasswordResetVerified,
			Confirm:      auditEventPasswordResetConfirm,
			RevokeFailed: auditEventPasswordResetRevokeFailed,
		},
		Errors: flows.PasswordResetErrors{
			EngineNotReady:       ErrEngineNotReady,
			Validation:           ErrValidation,
			TokenInvalid:         ErrResetTokenInvalid,
			TokenUsed:            ErrResetTokenUsed,
			TokenExpired:         ErrResetTokenExpired,
			UserNotFound:         ErrUserNotFound,
			DeliveryFailed:       ErrResetDeliveryFailed,
			PasswordUpdateFailed: ErrPasswordUpdateFailed,
			StoreUnavailable:     ErrBackingStoreUnavailable,
		},
	}
	if s.sessions != nil {
		d.RevokeSessions = s.sessions.DeleteAllForUser
	}
	return d
}

// enumerationDelay pauses for a random duration in the configured range so
// unknown addresses take about as long as a real send.
func (s *PasswordResetService) enumerationDelay(ctx context.Context) error {
	lo, hi := s.cfg.EnumerationDelayMin, s.cfg.EnumerationDelayMax
	if hi <= 0 {
		return nil
	}
	d := lo
	if hi > lo {
		d += rand.N(hi - lo)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
