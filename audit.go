package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	auditEventRateLimitTriggered        = "rate_limit_triggered"
	auditEventRateLimitDegraded         = "rate_limit_store_degraded"
	auditEventRateLimitUnknownClass     = "rate_limit_unknown_class"
	auditEventSessionCreated            = "session_created"
	auditEventSessionDeleted            = "session_deleted"
	auditEventSessionRevokedAll         = "session_revoked_all"
	auditEventSessionClientMismatch     = "session_client_mismatch"
	auditEventSessionBindingRejected    = "session_binding_rejected"
	auditEventSessionStoreFailure       = "session_store_failure"
	auditEventPasswordResetRequest      = "password_reset_request"
	auditEventPasswordResetRateLimited  = "password_reset_rate_limited"
	auditEventPasswordResetDelivery     = "password_reset_delivery_failed"
	auditEventPasswordResetInvalid      = "password_reset_invalid_or_expired"
	auditEventPasswordResetReplay       = "password_reset_replay"
	auditEventPasswordResetIPMismatch   = "password_reset_ip_mismatch"
	auditEventPasswordResetVerified     = "password_reset_verified"
	auditEventPasswordResetConfirm      = "password_reset_confirm"
	auditEventPasswordResetRevokeFailed = "password_reset_session_revoke_failed"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrRateLimited     AuditErrorCode = "rate_limited"
	auditErrInvalidToken    AuditErrorCode = "invalid_token"
	auditErrSessionNotFound AuditErrorCode = "session_not_found"
	auditErrBindingRejected AuditErrorCode = "client_binding_rejected"
	auditErrTokenUsed       AuditErrorCode = "token_used"
	auditErrTokenExpired    AuditErrorCode = "token_expired"
	auditErrUserNotFound    AuditErrorCode = "user_not_found"
	auditErrValidation      AuditErrorCode = "validation"
	auditErrDeliveryFailed  AuditErrorCode = "delivery_failed"
	auditErrPasswordUpdate  AuditErrorCode = "password_update_failed"
	auditErrUnavailable     AuditErrorCode = "backend_unavailable"
	auditErrNotReady        AuditErrorCode = "not_ready"
	auditErrInternal        AuditErrorCode = "internal_error"
)

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionBindingRejected):
		return auditErrBindingRejected
	case errors.Is(err, ErrResetTokenUsed):
		return auditErrTokenUsed
	case errors.Is(err, ErrResetTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrInvalidCredentialToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrResetDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrPasswordUpdateFailed):
		return auditErrPasswordUpdate
	case errors.Is(err, ErrBackingStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrEngineNotReady):
		return auditErrNotReady
	default:
		return auditErrInternal
	}
}

func (t *telemetry) inc(id MetricID) {
	t.metrics.Inc(id)
}

func (t *telemetry) observe(id MetricID, since time.Time) {
	if t.metrics.LatencyEnabled() {
		t.metrics.Observe(id, time.Since(since))
	}
}

func (t *telemetry) logf(format string, args ...any) {
	t.logger.Printf(format, args...)
}

func (t *telemetry) emitAudit(
	ctx context.Context,
	eventType string,
	severity Severity,
	success bool,
	userID string,
	sessionID string,
	meta RequestMeta,
	err error,
	metadataBuilder func() map[string]string,
) {
	if t.audit == nil {
		return
	}
	if _, noop := t.audit.(NoOpSink); noop {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: t.now().UTC(),
		EventType: eventType,
		Severity:  severity,
		UserID:    userID,
		SessionID: sessionID,
		IP:        meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	t.audit.Emit(ctx, event)
}
