package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultSweepInterval is how often [Memory.Start] reclaims expired entries.
const DefaultSweepInterval = 5 * time.Minute

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (it memoryItem) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}

// Memory is a process-local [Backend]. State is not shared between processes,
// so limits and sessions held here apply per instance only.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem

	now           func() time.Time
	sweepInterval time.Duration
	onSweep       func(removed int)

	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

// MemoryOption customizes a [Memory] backend.
type MemoryOption func(*Memory)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSweepInterval overrides [DefaultSweepInterval].
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithSweepHook registers fn to receive the number of entries removed by each
// periodic sweep that removed at least one.
func WithSweepHook(fn func(removed int)) MemoryOption {
	return func(m *Memory) {
		m.onSweep = fn
	}
}

// NewMemory returns an empty in-process backend. Call Start to enable the
// periodic sweep; without it expired entries are still invisible but their
// memory is only reclaimed on access.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		items:         make(map[string]memoryItem),
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	it := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.items[key] = it
	m.mu.Unlock()
	return nil
}

func (m *Memory) Replace(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	it := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); !ok {
		return false, nil
	}
	m.items[key] = it
	return true, nil
}

func (m *Memory) IncrWindow(ctx context.Context, key string, window time.Duration) (Counter, error) {
	if window <= 0 {
		return Counter{}, errors.New("store: window must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	it, ok := m.lookup(key)
	if !ok {
		it = memoryItem{value: []byte("1"), expiresAt: now.Add(window)}
		m.items[key] = it
		return Counter{Count: 1, ResetAt: it.expiresAt}, nil
	}

	count, err := strconv.ParseInt(string(it.value), 10, 64)
	if err != nil {
		return Counter{}, errors.New("store: value is not an integer")
	}
	count++
	it.value = strconv.AppendInt(it.value[:0], count, 10)
	if it.expiresAt.IsZero() {
		it.expiresAt = now.Add(window)
	}
	m.items[key] = it

	return Counter{Count: count, ResetAt: it.expiresAt}, nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.lookup(key)
	if !ok {
		return false, nil
	}
	if ttl <= 0 {
		delete(m.items, key)
		return true, nil
	}
	it.expiresAt = m.now().Add(ttl)
	m.items[key] = it
	return true, nil
}

func (m *Memory) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.lookup(key)
	if !ok {
		return 0, ErrNotFound
	}
	if it.expiresAt.IsZero() {
		return -1, nil
	}
	return it.expiresAt.Sub(m.now()), nil
}

func (m *Memory) Delete(ctx context.Context, keys ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for _, key := range keys {
		if _, ok := m.lookup(key); ok {
			delete(m.items, key)
			n++
		}
	}
	return n, nil
}

// ScanPrefix snapshots matching keys before calling fn, so fn may call back
// into the backend.
func (m *Memory) ScanPrefix(ctx context.Context, prefix string, fn func(key string) error) error {
	now := m.now()

	m.mu.Lock()
	keys := make([]string, 0, 16)
	for key, it := range m.items {
		if strings.HasPrefix(key, prefix) && !it.expired(now) {
			keys = append(keys, key)
		}
	}
	m.mu.Unlock()

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored entries, including expired ones that have
// not been swept yet.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Sweep removes every expired entry and returns how many were removed.
func (m *Memory) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int
	for key, it := range m.items {
		if it.expired(now) {
			delete(m.items, key)
			removed++
		}
	}
	return removed
}

// Start launches the sweep loop. It is a no-op when the loop is already
// running. The loop exits on Shutdown or when ctx is cancelled.
func (m *Memory) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.stop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	m.stop, m.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := m.Sweep(); n > 0 && m.onSweep != nil {
					m.onSweep(n)
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the sweep loop and waits for it to exit. Safe to call more
// than once and without a prior Start.
func (m *Memory) Shutdown() {
	m.lifecycle.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.lifecycle.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// lookup must be called with m.mu held. Expired entries are removed eagerly.
func (m *Memory) lookup(key string) (memoryItem, bool) {
	it, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if it.expired(m.now()) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return it, true
}
