package authcore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Categories. Rate-limit, token, validation, store and readiness errors
// match exactly one of these with errors.Is. Collaborator failures
// (ErrUserNotFound, ErrResetDeliveryFailed, ErrPasswordUpdateFailed) match
// none: they report what an injected UserStore or EmailSender did, not a
// condition of authcore itself.
var (
	// ErrRateLimited is matched by every *RateLimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidCredentialToken covers unknown, expired, consumed or
	// mismatched session ids and reset tokens.
	ErrInvalidCredentialToken = errors.New("invalid or expired credential token")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrBackingStoreUnavailable means the authoritative store could not be
	// reached and the operation fails closed.
	ErrBackingStoreUnavailable = errors.New("backing store unavailable")
	// ErrEngineNotReady is returned when a component is used without its
	// required collaborators.
	ErrEngineNotReady = errors.New("engine not ready")
)

var (
	// ErrSessionNotFound is returned for unknown, expired or inactive sessions.
	ErrSessionNotFound = fmt.Errorf("%w: session not found", ErrInvalidCredentialToken)
	// ErrSessionBindingRejected is returned when client binding enforcement
	// is enabled and the request's client differs from the session's.
	ErrSessionBindingRejected = fmt.Errorf("%w: session client binding rejected", ErrInvalidCredentialToken)
	// ErrResetTokenInvalid is returned for unknown or malformed reset tokens.
	ErrResetTokenInvalid = fmt.Errorf("%w: reset token not found", ErrInvalidCredentialToken)
	// ErrResetTokenUsed is returned when a consumed reset token is presented again.
	ErrResetTokenUsed = fmt.Errorf("%w: reset token already used", ErrInvalidCredentialToken)
	// ErrResetTokenExpired is returned when a reset token is past its expiry.
	ErrResetTokenExpired = fmt.Errorf("%w: reset token expired", ErrInvalidCredentialToken)
	// ErrUserNotFound is returned by UserStore implementations for unknown emails.
	ErrUserNotFound = errors.New("user not found")
	// ErrResetDeliveryFailed is returned when the reset email could not be sent.
	ErrResetDeliveryFailed = errors.New("password reset email delivery failed")
	// ErrPasswordUpdateFailed is returned when the user store rejects a new hash.
	ErrPasswordUpdateFailed = errors.New("password update failed")
)

// RateLimitError carries the wait before the caller may retry.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	msg := "rate limited"
	if e.Scope != "" {
		msg += " (" + e.Scope + ")"
	}
	if e.RetryAfter > 0 {
		msg += ": retry after " + strconv.FormatInt(e.RetryAfterSeconds(), 10) + "s"
	}
	return msg
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (e *RateLimitError) RetryAfterSeconds() int64 {
	secs := int64((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ValidationError lists every problem with an input.
type ValidationError struct {
	Field      string
	Violations []string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + strings.Join(e.Violations, "; ")
	}
	return e.Field + " " + strings.Join(e.Violations, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(field string, violations ...string) *ValidationError {
	return &ValidationError{Field: field, Violations: violations}
}
