package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/campusreach/authcore/store"
)

// Config holds limiter wiring.
type Config struct {
	// Prefix namespaces every counter key.
	Prefix string
	// Now overrides the clock used for Retry-After arithmetic.
	Now func() time.Time
	// OnDegraded is called whenever the primary backend fails and the
	// in-process fallback answers instead.
	OnDegraded func(ctx context.Context, key string, err error)
	// Fallback overrides the in-process fallback store.
	Fallback *store.Memory
}

// Result describes one fixed-window decision.
type Result struct {
	Allowed    bool
	Count      int64
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Degraded   bool
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (r Result) RetryAfterSeconds() int64 {
	if r.RetryAfter <= 0 {
		return 0
	}
	return int64((r.RetryAfter + time.Second - 1) / time.Second)
}

// Limiter enforces fixed-window counters on a primary backend and degrades to
// a process-local map when the primary fails. A failing backend never blocks
// a request.
type Limiter struct {
	primary    store.Backend
	fallback   *store.Memory
	prefix     string
	now        func() time.Time
	onDegraded func(ctx context.Context, key string, err error)
}

// New creates a rate [Limiter]. primary may be nil, in which case only the
// fallback map is used.
func New(primary store.Backend, cfg Config) *Limiter {
	l := &Limiter{
		primary:    primary,
		fallback:   cfg.Fallback,
		prefix:     cfg.Prefix,
		now:        cfg.Now,
		onDegraded: cfg.OnDegraded,
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.fallback == nil {
		l.fallback = store.NewMemory(store.WithClock(l.now))
	}
	if l.prefix == "" {
		l.prefix = "rl"
	}
	return l
}

// Fallback exposes the in-process store so callers can run its sweep.
func (l *Limiter) Fallback() *store.Memory {
	return l.fallback
}

// Key builds "<prefix>:<len(scope)>:<scope>:<identifier>". Scopes such as
// "auth:login" and identifiers such as IPv6 addresses both contain colons;
// the length keeps the split between them unambiguous.
func (l *Limiter) Key(scope, identifier string) string {
	return l.prefix + ":" + strconv.Itoa(len(scope)) + ":" + scope + ":" + identifier
}

// Hit records one request against key and returns the decision.
func (l *Limiter) Hit(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{}, fmt.Errorf("%w: limit=%d window=%s", ErrInvalidPolicy, limit, window)
	}

	var (
		counter  store.Counter
		err      error
		degraded bool
	)
	if l.primary != nil {
		counter, err = l.primary.IncrWindow(ctx, key, window)
	}
	if l.primary == nil || err != nil {
		if err != nil {
			degraded = true
			if l.onDegraded != nil {
				l.onDegraded(ctx, key, err)
			}
		}
		counter, err = l.fallback.IncrWindow(ctx, key, window)
		if err != nil {
			return Result{}, err
		}
	}

	res := l.decide(counter, limit)
	res.Degraded = degraded
	return res, nil
}

// Enforce is Hit that returns ErrRateLimited on denial.
func (l *Limiter) Enforce(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	res, err := l.Hit(ctx, key, limit, window)
	if err != nil {
		return res, err
	}
	if !res.Allowed {
		return res, ErrRateLimited
	}
	return res, nil
}

// Peek reports the current window for key without counting a request.
func (l *Limiter) Peek(ctx context.Context, key string, limit int) (Result, error) {
	var source store.Backend = l.fallback
	if l.primary != nil {
		source = l.primary
	}
	counter, err := peek(ctx, source, key, l.now)
	degraded := false
	if err != nil && !errors.Is(err, store.ErrNotFound) && l.primary != nil {
		degraded = true
		counter, err = peek(ctx, l.fallback, key, l.now)
	}
	if errors.Is(err, store.ErrNotFound) {
		return Result{Allowed: true, Limit: limit, Remaining: limit, Degraded: degraded}, nil
	}
	if err != nil {
		return Result{}, err
	}

	res := l.decide(counter, limit)
	res.Degraded = degraded
	return res, nil
}

// Reset clears key on both stores.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	_, _ = l.fallback.Delete(ctx, key)
	if l.primary == nil {
		return nil
	}
	_, err := l.primary.Delete(ctx, key)
	return err
}

func (l *Limiter) decide(counter store.Counter, limit int) Result {
	res := Result{
		Count:   counter.Count,
		Limit:   limit,
		ResetAt: counter.ResetAt,
		Allowed: counter.Count <= int64(limit),
	}
	if remaining := int64(limit) - counter.Count; remaining > 0 {
		res.Remaining = int(remaining)
	}
	if !res.Allowed {
		res.RetryAfter = counter.ResetAt.Sub(l.now())
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
	}
	return res
}

func peek(ctx context.Context, b store.Backend, key string, now func() time.Time) (store.Counter, error) {
	raw, err := b.Get(ctx, key)
	if err != nil {
		return store.Counter{}, err
	}
	count, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return store.Counter{}, fmt.Errorf("counter %q: %w", key, err)
	}
	ttl, err := b.TTL(ctx, key)
	if err != nil {
		return store.Counter{}, err
	}
	if ttl < 0 {
		ttl = 0
	}
	return store.Counter{Count: count, ResetAt: now().Add(ttl)}, nil
}
