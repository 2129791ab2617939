package authcore

import (
	"errors"
	"fmt"
	"log"
	"time"

	internalaudit "github.com/campusreach/authcore/internal/audit"
	"github.com/campusreach/authcore/store"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder can be used once.
type Builder struct {
	config  Config
	backend store.Backend
	redis   redis.UniversalClient

	users     UserStore
	mailer    EmailSender
	auditSink AuditSink
	logger    *log.Logger
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBackend sets the backing store directly. It takes precedence over
// WithRedis and Store.RedisURL.
func (b *Builder) WithBackend(backend store.Backend) *Builder {
	b.backend = backend
	return b
}

// WithRedis uses an existing Redis client (single node, sentinel or
// cluster). The caller keeps ownership of the client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the account store used by the password-reset flow.
func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithEmailSender sets the reset mail transport.
func (b *Builder) WithEmailSender(mailer EmailSender) *Builder {
	b.mailer = mailer
	return b
}

// WithAuditSink sets the destination of audit events and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithLogger replaces the operational logger.
func (b *Builder) WithLogger(logger *log.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now in every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles in-process metrics.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component over one
// shared backend.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if cfg.PasswordReset.Enabled && (b.users == nil || b.mailer == nil) {
		return nil, fmt.Errorf("%w: password reset requires a UserStore and an EmailSender", ErrEngineNotReady)
	}

	e := &Engine{
		config:  cfg,
		metrics: NewMetrics(cfg.Metrics),
	}

	switch {
	case b.backend != nil:
		e.backend = b.backend
	case b.redis != nil:
		e.backend = store.NewRedis(b.redis)
	case cfg.Store.RedisURL != "":
		redisOpts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("%w: Store RedisURL: %v", ErrValidation, err)
		}
		e.ownedRedis = redis.NewClient(redisOpts)
		e.backend = store.NewRedis(e.ownedRedis)
	default:
		e.backend = store.NewMemory(
			store.WithSweepInterval(cfg.Store.SweepInterval),
			store.WithClock(b.clock),
			store.WithSweepHook(func(n int) {
				e.metrics.Add(MetricBackendSweepRemoved, uint64(n))
			}),
		)
	}

	opts := []Option{
		WithMetrics(e.metrics),
		WithLogger(b.logger),
		WithClock(b.clock),
		WithTokenHashKey(cfg.Store.TokenHashKey),
		WithClientBinding(cfg.ClientBinding),
	}
	if cfg.Audit.Enabled {
		sink := b.auditSink
		if sink == nil {
			sink = LogSink{Logger: b.logger}
		}
		e.audit = internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:     true,
			BufferSize:  cfg.Audit.BufferSize,
			DropIfFull:  cfg.Audit.DropIfFull,
			MinSeverity: cfg.Audit.MinSeverity,
		}, sink)
		opts = append(opts, WithAuditSink(e.audit))
	}

	rlCfg := cfg.RateLimit
	rlCfg.KeyPrefix = cfg.namespace(cfg.RateLimit.KeyPrefix)
	e.rateLimiter = NewRateLimiter(e.backend, rlCfg, opts...)

	sessCfg := cfg.Session
	sessCfg.KeyPrefix = cfg.namespace(cfg.Session.KeyPrefix)
	sessions, err := NewSessionManager(e.backend, sessCfg, opts...)
	if err != nil {
		e.closeResources()
		return nil, err
	}
	e.sessions = sessions

	if cfg.PasswordReset.Enabled {
		resetCfg := cfg.PasswordReset
		resetCfg.KeyPrefix = cfg.namespace(cfg.PasswordReset.KeyPrefix)
		reset, err := NewPasswordResetService(e.backend, resetCfg, cfg.Password, b.users, b.mailer, sessions, opts...)
		if err != nil {
			e.closeResources()
			return nil, err
		}
		e.reset = reset
	}

	b.built = true
	return e, nil
}
