package authcore

import (
	"context"
	"fmt"
	"sync"

	internalaudit "github.com/campusreach/authcore/internal/audit"
	"github.com/campusreach/authcore/store"
	"github.com/redis/go-redis/v9"
)

// Engine owns the components built over one backing store and their
// background work.
type Engine struct {
	config      Config
	backend     store.Backend
	ownedRedis  *redis.Client
	rateLimiter *RateLimiter
	sessions    *SessionManager
	reset       *PasswordResetService
	audit       *internalaudit.Dispatcher
	metrics     *Metrics

	lifecycle sync.Mutex
	started   bool
	stopped   bool
}

// RateLimiter returns the endpoint rate limiter.
func (e *Engine) RateLimiter() *RateLimiter {
	return e.rateLimiter
}

// Sessions returns the session manager.
func (e *Engine) Sessions() *SessionManager {
	return e.sessions
}

// PasswordReset returns the reset service, or nil when password reset is
// disabled.
func (e *Engine) PasswordReset() *PasswordResetService {
	return e.reset
}

// Backend returns the shared backing store.
func (e *Engine) Backend() store.Backend {
	return e.backend
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Ping checks the backing store.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.backend.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}
	return nil
}

// Start launches the periodic sweeps of process-local state. It is a no-op
// after the first call.
func (e *Engine) Start(ctx context.Context) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.started || e.stopped {
		return
	}
	e.started = true

	e.rateLimiter.Start(ctx)
	e.sessions.Start(ctx)
	if e.reset != nil {
		e.reset.Start(ctx)
	}
}

// Shutdown stops the sweeps, flushes pending audit events and closes a Redis
// client the engine opened itself. Safe to call more than once.
func (e *Engine) Shutdown() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true

	e.rateLimiter.Shutdown()
	e.sessions.Shutdown()
	if e.reset != nil {
		e.reset.Shutdown()
	}
	e.closeResources()
}

func (e *Engine) closeResources() {
	if e.audit != nil {
		e.audit.Close()
	}
	if e.ownedRedis != nil {
		_ = e.ownedRedis.Close()
	}
}

// AuditDropped returns how many audit events were dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFiltered returns how many audit events fell below MinSeverity.
func (e *Engine) AuditFiltered() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Filtered()
}

// Metrics returns the shared metrics instance.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// MetricsSnapshot returns a point-in-time copy of every metric.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}
