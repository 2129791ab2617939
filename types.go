package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/campusreach/authcore/internal/audit"
	"github.com/campusreach/authcore/session"
)

// RequestMeta is the client information attached to a request.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// UserRecord is the slice of a user account the password-reset flow needs.
type UserRecord struct {
	ID           string
	Email        string
	PasswordHash string
	Disabled     bool
}

// UserStore is the product's account store. FindByEmail must return
// ErrUserNotFound (possibly wrapped) for unknown addresses.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (UserRecord, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// EmailSender delivers password-reset mail. The token passed to
// SendPasswordReset is the raw token; it must only ever be placed in the
// message body or link.
type EmailSender interface {
	SendPasswordReset(ctx context.Context, to, token string, expiresAt time.Time) error
	SendPasswordChanged(ctx context.Context, to string) error
}

// Session is the server-side session record.
type Session = session.Session

// CreateSessionResult is returned by SessionManager.Create. SessionID is the
// only copy of the raw identifier.
type CreateSessionResult struct {
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionPatch is a partial update. UserData keys are merged, RemoveKeys are
// deleted, nil pointers leave fields untouched.
type SessionPatch struct {
	UserData   map[string]string
	RemoveKeys []string
	IPAddress  *string
	UserAgent  *string
	Deactivate bool
}

// ResetRequestResult is the public outcome of PasswordResetService.RequestReset.
type ResetRequestResult struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retryAfter,omitempty"`
}

// VerifyResult is the public outcome of PasswordResetService.VerifyToken.
type VerifyResult struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Email   string `json:"email,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ResetResult is the public outcome of PasswordResetService.ResetPassword.
type ResetResult struct {
	Success    bool     `json:"success"`
	Message    string   `json:"message,omitempty"`
	Error      string   `json:"error,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

// Severity orders audit events.
type Severity = internalaudit.Severity

const (
	SeverityInfo     = internalaudit.SeverityInfo
	SeverityWarning  = internalaudit.SeverityWarning
	SeverityCritical = internalaudit.SeverityCritical
)

// AuditEvent is one structured security event.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers audit events in a channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// LogSink prints audit events through a standard logger.
type LogSink = internalaudit.LogSink

// MultiSink fans events out to several sinks.
type MultiSink = internalaudit.MultiSink

// NewChannelSink creates a [ChannelSink] with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// ParseSeverity maps "info", "warning" or "critical" to a Severity.
func ParseSeverity(name string) Severity {
	return internalaudit.ParseSeverity(name)
}
