package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/campusreach/authcore/internal"
	"github.com/campusreach/authcore/internal/flows"
	"github.com/campusreach/authcore/session"
	"github.com/campusreach/authcore/store"
)

// SessionManager issues opaque session ids and keeps the matching records in
// the backing store with a sliding TTL.
//
// Get and Update are read-merge-write: two concurrent touches of one session
// both succeed and the last write wins. The write only replaces a record that
// still exists, so a touch racing Delete or DeleteAllForUser reports
// ErrSessionNotFound instead of restoring the revoked session.
type SessionManager struct {
	cfg         SessionConfig
	binding     ClientBindingConfig
	backend     store.Backend
	store       *session.Store
	loginPrefix string
	tel         telemetry
}

// NewSessionManager creates a [SessionManager] over backend. cfg.KeyPrefix
// is used verbatim as the session key prefix.
func NewSessionManager(backend store.Backend, cfg SessionConfig, opts ...Option) (*SessionManager, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: session backend is nil", ErrEngineNotReady)
	}
	if cfg.TTL <= 0 {
		return nil, newValidationError("Session.TTL", "must be > 0")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sess"
	}
	if cfg.LoginCountWindow <= 0 {
		cfg.LoginCountWindow = 30 * 24 * time.Hour
	}

	o := newOptions(opts)
	binding := DefaultConfig().ClientBinding
	if o.binding != nil {
		binding = *o.binding
	}

	prefix := strings.TrimSuffix(cfg.KeyPrefix, ":")
	return &SessionManager{
		cfg:         cfg,
		binding:     binding,
		backend:     backend,
		store:       session.NewStore(backend, prefix, o.hashKey),
		loginPrefix: loginCounterPrefix(prefix),
		tel:         o.tel,
	}, nil
}

// loginCounterPrefix places login counters next to the session keyspace,
// never inside it, so session scans do not see them.
func loginCounterPrefix(sessionPrefix string) string {
	if i := strings.LastIndex(sessionPrefix, ":"); i >= 0 {
		return sessionPrefix[:i+1] + "logins:"
	}
	return "logins:"
}

// Create starts a session for userID and returns its id. The id is the only
// credential; only its hash is stored.
func (m *SessionManager) Create(ctx context.Context, userID string, userData map[string]string, meta RequestMeta) (CreateSessionResult, error) {
	if strings.TrimSpace(userID) == "" {
		return CreateSessionResult{}, newValidationError("userID", "must not be empty")
	}
	if len(userData) > session.MaxUserDataEntries {
		return CreateSessionResult{}, newValidationError("userData", "must have at most "+strconv.Itoa(session.MaxUserDataEntries)+" entries")
	}
	meta = resolveMeta(ctx, meta)

	sessionID, err := internal.NewOpaqueToken()
	if err != nil {
		return CreateSessionResult{}, err
	}

	logins, err := m.backend.IncrWindow(ctx, m.loginPrefix+userID, m.cfg.LoginCountWindow)
	if err != nil {
		return CreateSessionResult{}, m.storeFailure(ctx, "create", userID, meta, err)
	}

	now := m.tel.now()
	sess := &session.Session{
		UserID:         userID,
		UserData:       cloneStringMap(userData),
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      m.expiry(now, now),
		IPAddress:      meta.IPAddress,
		UserAgent:      m.truncateUserAgent(meta.UserAgent),
		IsActive:       true,
		LoginCount:     uint32(min(logins.Count, int64(^uint32(0)))),
	}

	if err := m.store.Save(ctx, sessionID, sess, sess.ExpiresAt.Sub(now)); err != nil {
		if errors.Is(err, session.ErrTooLarge) {
			return CreateSessionResult{}, newValidationError("session", err.Error())
		}
		return CreateSessionResult{}, m.storeFailure(ctx, "create", userID, meta, err)
	}

	m.tel.inc(MetricSessionCreated)
	m.tel.emitAudit(ctx, auditEventSessionCreated, SeverityInfo, true, userID, m.store.Handle(sessionID), meta, nil, func() map[string]string {
		return map[string]string{"login_count": strconv.FormatUint(uint64(sess.LoginCount), 10)}
	})

	return CreateSessionResult{SessionID: sessionID, ExpiresAt: sess.ExpiresAt}, nil
}

// Get returns the live session for sessionID and slides its expiry. Unknown,
// expired and inactive sessions return ErrSessionNotFound. A store failure
// returns ErrBackingStoreUnavailable and no session.
func (m *SessionManager) Get(ctx context.Context, sessionID string) (*Session, error) {
	start := time.Now()
	sess, err := m.load(ctx, sessionID)
	m.tel.observe(MetricSessionLookupLatency, start)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			m.tel.inc(MetricSessionLookupMiss)
		}
		return nil, err
	}

	if err := m.touch(ctx, sess); err != nil {
		return nil, err
	}
	m.tel.inc(MetricSessionLookupHit)
	return sess, nil
}

// Update applies patch to a live session and slides its expiry. It reports
// false when the session does not exist.
func (m *SessionManager) Update(ctx context.Context, sessionID string, patch SessionPatch) (bool, error) {
	sess, err := m.load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}

	for k, v := range patch.UserData {
		if sess.UserData == nil {
			sess.UserData = make(map[string]string, len(patch.UserData))
		}
		sess.UserData[k] = v
	}
	for _, k := range patch.RemoveKeys {
		delete(sess.UserData, k)
	}
	if len(sess.UserData) > session.MaxUserDataEntries {
		return false, newValidationError("userData", "must have at most "+strconv.Itoa(session.MaxUserDataEntries)+" entries")
	}
	if patch.IPAddress != nil {
		sess.IPAddress = *patch.IPAddress
	}
	if patch.UserAgent != nil {
		sess.UserAgent = m.truncateUserAgent(*patch.UserAgent)
	}
	if patch.Deactivate {
		sess.IsActive = false
	}

	if err := m.touch(ctx, sess); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	m.tel.inc(MetricSessionUpdated)
	return true, nil
}

// Delete removes the session and reports whether it existed.
func (m *SessionManager) Delete(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	handle := m.store.Handle(sessionID)
	existed, err := m.store.DeleteHandle(ctx, handle)
	if err != nil {
		return false, m.storeFailure(ctx, "delete", "", RequestMetaFromContext(ctx), err)
	}
	if existed {
		m.tel.inc(MetricSessionDeleted)
		m.tel.emitAudit(ctx, auditEventSessionDeleted, SeverityInfo, true, "", handle, RequestMetaFromContext(ctx), nil, nil)
	}
	return existed, nil
}

// DeleteAllForUser removes every session of userID and returns how many were
// removed. Sessions created concurrently with the call may survive it.
func (m *SessionManager) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, newValidationError("userID", "must not be empty")
	}
	n, err := m.store.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, m.storeFailure(ctx, "delete_all", userID, RequestMetaFromContext(ctx), err)
	}

	m.tel.metrics.Add(MetricSessionRevokedAll, uint64(n))
	m.tel.emitAudit(ctx, auditEventSessionRevokedAll, SeverityInfo, true, userID, "", RequestMetaFromContext(ctx), nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(n)}
	})
	return n, nil
}

// ListForUser returns the live sessions of userID without sliding them.
// Session.Handle identifies each entry for RevokeHandle.
func (m *SessionManager) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	list, err := m.store.ListForUser(ctx, userID, m.tel.now())
	if err != nil {
		return nil, m.storeFailure(ctx, "list", userID, RequestMetaFromContext(ctx), err)
	}
	return list, nil
}

// RevokeHandle deletes the session identified by handle when it belongs to
// userID.
func (m *SessionManager) RevokeHandle(ctx context.Context, userID, handle string) (bool, error) {
	sess, err := m.store.GetHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrCorrupt) {
			return false, nil
		}
		return false, m.storeFailure(ctx, "revoke", userID, RequestMetaFromContext(ctx), err)
	}
	if sess.UserID != userID {
		return false, nil
	}
	existed, err := m.store.DeleteHandle(ctx, handle)
	if err != nil {
		return false, m.storeFailure(ctx, "revoke", userID, RequestMetaFromContext(ctx), err)
	}
	if existed {
		m.tel.inc(MetricSessionDeleted)
		m.tel.emitAudit(ctx, auditEventSessionDeleted, SeverityInfo, true, userID, handle, RequestMetaFromContext(ctx), nil, nil)
	}
	return existed, nil
}

// Validate reports whether sess may authenticate a request from meta. A
// changed IP or User-Agent is reported as an audit warning and only fails
// validation when the matching enforcement flag is set, in which case the
// session is also revoked.
func (m *SessionManager) Validate(ctx context.Context, sess *Session, meta RequestMeta) bool {
	if !sess.Valid(m.tel.now()) {
		return false
	}
	return m.checkBinding(ctx, sess, resolveMeta(ctx, meta)) == nil
}

// Authenticate is Get followed by Validate.
func (m *SessionManager) Authenticate(ctx context.Context, sessionID string, meta RequestMeta) (*Session, error) {
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := m.checkBinding(ctx, sess, resolveMeta(ctx, meta)); err != nil {
		return nil, err
	}
	return sess, nil
}

// Handle returns the stored handle of sessionID.
func (m *SessionManager) Handle(sessionID string) string {
	return m.store.Handle(sessionID)
}

// Config returns the session configuration in use.
func (m *SessionManager) Config() SessionConfig {
	return m.cfg
}

// Start runs the backend sweep when the backend is process-local.
func (m *SessionManager) Start(ctx context.Context) {
	if s, ok := m.backend.(store.Sweeper); ok {
		s.Start(ctx)
	}
}

// Shutdown stops the loop started by Start.
func (m *SessionManager) Shutdown() {
	if s, ok := m.backend.(store.Sweeper); ok {
		s.Shutdown()
	}
}

func (m *SessionManager) load(ctx context.Context, sessionID string) (*session.Session, error) {
	if !internal.WellFormedToken(sessionID) {
		return nil, ErrSessionNotFound
	}

	sess, err := m.store.Get(ctx, sessionID)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		return nil, ErrSessionNotFound
	case errors.Is(err, session.ErrCorrupt):
		m.tel.logf("dropping corrupt session record: %v", err)
		_, _ = m.store.Delete(ctx, sessionID)
		return nil, ErrSessionNotFound
	default:
		return nil, m.storeFailure(ctx, "get", "", RequestMetaFromContext(ctx), err)
	}

	if !sess.Valid(m.tel.now()) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// touch advances LastAccessedAt (strictly), slides ExpiresAt and persists the
// record with the remaining lifetime as TTL.
func (m *SessionManager) touch(ctx context.Context, sess *session.Session) error {
	now := m.tel.now()
	if !now.After(sess.LastAccessedAt) {
		now = sess.LastAccessedAt.Add(time.Nanosecond)
	}
	sess.LastAccessedAt = now
	sess.ExpiresAt = m.expiry(sess.CreatedAt, now)

	ttl := sess.ExpiresAt.Sub(now)
	if ttl <= 0 {
		_, _ = m.store.DeleteHandle(ctx, sess.Handle)
		return ErrSessionNotFound
	}
	ok, err := m.store.RefreshHandle(ctx, sess.Handle, sess, ttl)
	if err != nil {
		if errors.Is(err, session.ErrTooLarge) {
			return newValidationError("session", err.Error())
		}
		return m.storeFailure(ctx, "touch", sess.UserID, RequestMetaFromContext(ctx), err)
	}
	if !ok {
		// Revoked between load and write.
		return ErrSessionNotFound
	}
	return nil
}

func (m *SessionManager) expiry(created, now time.Time) time.Time {
	exp := now.Add(m.cfg.TTL)
	if m.cfg.AbsoluteLifetime > 0 {
		if hard := created.Add(m.cfg.AbsoluteLifetime); hard.Before(exp) {
			exp = hard
		}
	}
	return exp
}

// truncateUserAgent cuts ua to at most MaxUserAgentLength bytes without
// splitting a UTF-8 sequence.
func (m *SessionManager) truncateUserAgent(ua string) string {
	limit := m.cfg.MaxUserAgentLength
	if limit <= 0 || len(ua) <= limit {
		return ua
	}
	for limit > 0 && !utf8.RuneStart(ua[limit]) {
		limit--
	}
	return ua[:limit]
}

func (m *SessionManager) checkBinding(ctx context.Context, sess *session.Session, meta RequestMeta) error {
	subject := flows.ClientBindingSubject{
		Handle:    sess.Handle,
		UserID:    sess.UserID,
		IPAddress: sess.IPAddress,
		UserAgent: sess.UserAgent,
	}
	err := flows.RunCheckClientBinding(ctx, subject, flows.ClientBindingDeps{
		Config: flows.ClientBindingConfig{
			DetectIPChange:        m.binding.DetectIPChange,
			DetectUserAgentChange: m.binding.DetectUserAgentChange,
			EnforceIP:             m.binding.EnforceIP,
			EnforceUserAgent:      m.binding.EnforceUserAgent,
		},
		CurrentIP:        meta.IPAddress,
		CurrentUserAgent: m.truncateUserAgent(meta.UserAgent),
		HashBindingValue: internal.HashBindingValue,
		MetricInc:        func(id int) { m.tel.inc(MetricID(id)) },
		EmitMismatch: func(ctx context.Context, s flows.ClientBindingSubject, md map[string]string) {
			m.tel.emitAudit(ctx, auditEventSessionClientMismatch, SeverityWarning, true, s.UserID, s.Handle, meta, nil, func() map[string]string { return md })
		},
		EmitRejected: func(ctx context.Context, s flows.ClientBindingSubject, md map[string]string) {
			m.tel.emitAudit(ctx, auditEventSessionBindingRejected, SeverityCritical, false, s.UserID, s.Handle, meta, ErrSessionBindingRejected, func() map[string]string { return md })
		},
		MetricClientMismatch:  int(MetricSessionClientMismatch),
		MetricBindingRejected: int(MetricSessionBindingRejected),
		ErrBindingRejected:    ErrSessionBindingRejected,
	})
	if err != nil && sess.Handle != "" {
		if _, delErr := m.store.DeleteHandle(ctx, sess.Handle); delErr != nil {
			m.tel.logf("revoking rejected session failed: %v", delErr)
		}
	}
	return err
}

func (m *SessionManager) storeFailure(ctx context.Context, op, userID string, meta RequestMeta, err error) error {
	m.tel.inc(MetricSessionStoreFailure)
	m.tel.logf("session %s failed: %v", op, err)
	m.tel.emitAudit(ctx, auditEventSessionStoreFailure, SeverityCritical, false, userID, "", meta, ErrBackingStoreUnavailable, func() map[string]string {
		return map[string]string{"op": op}
	})
	return fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
}

func cloneStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
