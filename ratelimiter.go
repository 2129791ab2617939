package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/campusreach/authcore/internal/rate"
	"github.com/campusreach/authcore/store"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed           bool      `json:"allowed"`
	Class             string    `json:"class"`
	Count             int64     `json:"count"`
	Limit             int       `json:"limit"`
	Remaining         int       `json:"remaining"`
	ResetAt           time.Time `json:"resetAt"`
	RetryAfterSeconds int64     `json:"retryAfter,omitempty"`
	// Degraded is set when the shared backend failed and the decision was
	// taken against the process-local fallback.
	Degraded bool `json:"degraded,omitempty"`
}

// Err returns a *RateLimitError for a denied decision and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RateLimitError{
		Scope:      d.Class,
		RetryAfter: time.Duration(d.RetryAfterSeconds) * time.Second,
	}
}

// RateLimiter enforces fixed-window request budgets per identifier and
// endpoint class. Counters live in the backing store so every instance
// sharing it enforces one budget; when the store fails, the limiter keeps
// answering from a process-local map.
type RateLimiter struct {
	cfg        RateLimitConfig
	limiter    *rate.Limiter
	backend    store.Backend
	classifier *EndpointClassifier
	tel        telemetry

	mu            sync.Mutex
	warnedClasses map[string]struct{}
}

// NewRateLimiter creates a [RateLimiter] over backend. A nil backend limits
// with the process-local map only. cfg.KeyPrefix is used verbatim as the
// counter key prefix. A zero cfg limits with [DefaultRatePolicies].
func NewRateLimiter(backend store.Backend, cfg RateLimitConfig, opts ...Option) *RateLimiter {
	rl := &RateLimiter{
		cfg:           cfg,
		backend:       backend,
		tel:           newOptions(opts).tel,
		warnedClasses: make(map[string]struct{}),
	}
	if rl.cfg.DefaultClass == "" {
		rl.cfg.DefaultClass = ClassPublicDefault
	}
	if rl.cfg.Policies == nil {
		rl.cfg.Policies = DefaultRatePolicies()
	}
	if rl.cfg.MaxUnmatchedWarnings <= 0 {
		rl.cfg.MaxUnmatchedWarnings = 256
	}

	fallback := store.NewMemory(
		store.WithClock(rl.tel.now),
		store.WithSweepHook(func(n int) {
			rl.tel.metrics.Add(MetricBackendSweepRemoved, uint64(n))
		}),
	)
	rl.limiter = rate.New(backend, rate.Config{
		Prefix:     cfg.KeyPrefix,
		Now:        rl.tel.now,
		OnDegraded: rl.onDegraded,
		Fallback:   fallback,
	})
	rl.classifier = NewEndpointClassifier(cfg.Rules, rl.cfg.DefaultClass, rl.cfg.MaxUnmatchedWarnings, rl.tel.logger)
	return rl
}

// CheckRateLimit counts one request by identifier against endpointClass and
// reports whether it is within maxRequests per window. A denial is a normal
// outcome: the error is nil and Decision.Allowed is false. Invalid arguments
// return a *ValidationError.
func (rl *RateLimiter) CheckRateLimit(ctx context.Context, identifier, endpointClass string, maxRequests int, window time.Duration) (Decision, error) {
	var violations []string
	if strings.TrimSpace(identifier) == "" {
		violations = append(violations, "identifier must not be empty")
	}
	if strings.TrimSpace(endpointClass) == "" {
		violations = append(violations, "endpoint class must not be empty")
	}
	if maxRequests <= 0 {
		violations = append(violations, "maxRequests must be > 0")
	}
	if window <= 0 {
		violations = append(violations, "window must be > 0")
	}
	if len(violations) > 0 {
		return Decision{}, newValidationError("", violations...)
	}

	if rl.cfg.Disabled {
		return Decision{Allowed: true, Class: endpointClass, Limit: maxRequests, Remaining: maxRequests}, nil
	}

	start := time.Now()
	res, err := rl.limiter.Hit(ctx, rl.limiter.Key(endpointClass, identifier), maxRequests, window)
	rl.tel.observe(MetricRateLimitLatency, start)
	if err != nil {
		if errors.Is(err, rate.ErrInvalidPolicy) {
			return Decision{}, newValidationError("", err.Error())
		}
		return Decision{}, fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}

	d := decisionFromResult(endpointClass, res)
	if d.Allowed {
		rl.tel.inc(MetricRateLimitAllowed)
		return d, nil
	}

	rl.tel.inc(MetricRateLimitDenied)
	rl.tel.emitAudit(ctx, auditEventRateLimitTriggered, SeverityWarning, false, "", "", RequestMetaFromContext(ctx), d.Err(), func() map[string]string {
		return map[string]string{
			"class":       endpointClass,
			"identifier":  identifier,
			"count":       fmt.Sprint(d.Count),
			"limit":       fmt.Sprint(d.Limit),
			"retry_after": fmt.Sprint(d.RetryAfterSeconds),
		}
	})
	return d, nil
}

// Check is CheckRateLimit with the configured policy of endpointClass.
// Unknown classes fall back to the default class.
func (rl *RateLimiter) Check(ctx context.Context, identifier, endpointClass string) (Decision, error) {
	class, policy := rl.resolve(endpointClass)
	return rl.CheckRateLimit(ctx, identifier, class, policy.MaxRequests, policy.Window)
}

// CheckRequest classifies method and path, then runs Check.
func (rl *RateLimiter) CheckRequest(ctx context.Context, identifier, method, path string) (Decision, error) {
	class, _ := rl.classifier.Classify(method, path)
	return rl.Check(ctx, identifier, class)
}

// Peek reports the current window of identifier in endpointClass without
// counting a request.
func (rl *RateLimiter) Peek(ctx context.Context, identifier, endpointClass string) (Decision, error) {
	class, policy := rl.resolve(endpointClass)
	res, err := rl.limiter.Peek(ctx, rl.limiter.Key(class, identifier), policy.MaxRequests)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}
	return decisionFromResult(class, res), nil
}

// Reset clears the counter of identifier in endpointClass, for example after
// a successful login.
func (rl *RateLimiter) Reset(ctx context.Context, identifier, endpointClass string) error {
	class, _ := rl.resolve(endpointClass)
	if err := rl.limiter.Reset(ctx, rl.limiter.Key(class, identifier)); err != nil {
		return fmt.Errorf("%w: %v", ErrBackingStoreUnavailable, err)
	}
	return nil
}

// Policy returns the configured budget of endpointClass.
func (rl *RateLimiter) Policy(endpointClass string) (RatePolicy, bool) {
	p, ok := rl.cfg.Policies[endpointClass]
	return p, ok
}

// Classifier returns the endpoint classifier built from the configured rules.
func (rl *RateLimiter) Classifier() *EndpointClassifier {
	return rl.classifier
}

// Enabled reports whether limiting is switched on.
func (rl *RateLimiter) Enabled() bool {
	return !rl.cfg.Disabled
}

// Start runs the sweep of the fallback map and, when the backend is
// process-local, of the backend too.
func (rl *RateLimiter) Start(ctx context.Context) {
	rl.limiter.Fallback().Start(ctx)
	if s, ok := rl.backend.(store.Sweeper); ok {
		s.Start(ctx)
	}
}

// Shutdown stops the loops started by Start.
func (rl *RateLimiter) Shutdown() {
	rl.limiter.Fallback().Shutdown()
	if s, ok := rl.backend.(store.Sweeper); ok {
		s.Shutdown()
	}
}

func (rl *RateLimiter) resolve(endpointClass string) (string, RatePolicy) {
	if p, ok := rl.cfg.Policies[endpointClass]; ok {
		return endpointClass, p
	}

	rl.tel.inc(MetricRateLimitUnknownClass)
	rl.mu.Lock()
	_, warned := rl.warnedClasses[endpointClass]
	if !warned && len(rl.warnedClasses) < rl.cfg.MaxUnmatchedWarnings {
		rl.warnedClasses[endpointClass] = struct{}{}
	} else {
		warned = true
	}
	rl.mu.Unlock()
	if !warned {
		rl.tel.logf("unknown endpoint class %q, using %q", endpointClass, rl.cfg.DefaultClass)
	}

	class := rl.cfg.DefaultClass
	return class, rl.cfg.Policies[class]
}

func (rl *RateLimiter) onDegraded(ctx context.Context, key string, err error) {
	rl.tel.inc(MetricRateLimitDegraded)
	rl.tel.logf("rate limit store failed for %s, using local fallback: %v", key, err)
	rl.tel.emitAudit(ctx, auditEventRateLimitDegraded, SeverityWarning, false, "", "", RequestMetaFromContext(ctx), ErrBackingStoreUnavailable, func() map[string]string {
		return map[string]string{"key": key}
	})
}

func decisionFromResult(class string, res rate.Result) Decision {
	return Decision{
		Allowed:           res.Allowed,
		Class:             class,
		Count:             res.Count,
		Limit:             res.Limit,
		Remaining:         res.Remaining,
		ResetAt:           res.ResetAt,
		RetryAfterSeconds: res.RetryAfterSeconds(),
		Degraded:          res.Degraded,
	}
}
