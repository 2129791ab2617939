package authcore

import (
	"log"
	"os"
	"time"
)

// Option configures a component constructor.
type Option func(*options)

type options struct {
	tel     telemetry
	hashKey []byte
	binding *ClientBindingConfig
}

// WithAuditSink routes audit events to sink.
func WithAuditSink(sink AuditSink) Option {
	return func(o *options) {
		if sink != nil {
			o.tel.audit = sink
		}
	}
}

// WithMetrics records counters into m. Components built by an Engine share
// one Metrics instance.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.tel.metrics = m
	}
}

// WithLogger replaces the operational logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.tel.logger = l
		}
	}
}

// WithClock overrides time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.tel.now = now
		}
	}
}

// WithTokenHashKey switches session and reset-token key derivation to
// HMAC-SHA256 under key.
func WithTokenHashKey(key []byte) Option {
	return func(o *options) {
		o.hashKey = cloneBytes(key)
	}
}

// WithClientBinding sets how sessions react to a changed client.
func WithClientBinding(cfg ClientBindingConfig) Option {
	return func(o *options) {
		o.binding = &cfg
	}
}

// telemetry bundles the audit sink, metrics, logger and clock shared by the
// components.
type telemetry struct {
	audit   AuditSink
	metrics *Metrics
	logger  *log.Logger
	now     func() time.Time
}

func newOptions(opts []Option) options {
	o := options{
		tel: telemetry{
			audit:  NoOpSink{},
			logger: log.New(os.Stderr, "authcore: ", log.LstdFlags),
			now:    time.Now,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
