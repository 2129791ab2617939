package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or expired.
	ErrNotFound = errors.New("store: key not found")
	// ErrUnavailable wraps backend transport and server failures.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Counter is the state of a fixed-window counter after an increment.
type Counter struct {
	Count   int64
	ResetAt time.Time
}

// Backend is the capability shared by the rate limiter, session manager and
// password-reset service. All methods are safe for concurrent use.
type Backend interface {
	// Get returns the value stored at key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value at key. A ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Replace stores value at key only when key already holds a live value,
	// atomically with that check. It reports false, writing nothing, when the
	// key is absent or expired, so a refresh cannot revive a deleted record.
	Replace(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// IncrWindow atomically increments the fixed-window counter at key.
	IncrWindow(ctx context.Context, key string, window time.Duration) (Counter, error)
	// Expire resets the time-to-live of an existing key. It reports false when
	// the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime of key, ErrNotFound when absent, and
	// a negative duration when the key never expires.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)
	// ScanPrefix calls fn for every live key starting with prefix. Calls to
	// fn are serial, never concurrent, so fn may append to unguarded state.
	// Iteration stops at the first error fn returns.
	ScanPrefix(ctx context.Context, prefix string, fn func(key string) error) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Sweeper is implemented by backends that reclaim expired entries on a timer.
type Sweeper interface {
	Start(ctx context.Context)
	Shutdown()
	Sweep() int
}

// Kind names a backend for reports and logs.
func Kind(b Backend) string {
	switch b.(type) {
	case *Redis:
		return "redis"
	case *Memory:
		return "memory"
	case nil:
		return "none"
	default:
		return "custom"
	}
}

// Distributed reports whether state in b is shared across processes.
func Distributed(b Backend) bool {
	_, ok := b.(*Redis)
	return ok
}
