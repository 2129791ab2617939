package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type backendHarness struct {
	backend Backend
	advance func(time.Duration)
}

func newRedisHarness(t *testing.T) (backendHarness, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	return backendHarness{backend: NewRedis(client), advance: mr.FastForward}, mr
}

func newMemoryHarness(t *testing.T) (backendHarness, *Memory) {
	t.Helper()

	clock := newFakeClock()
	m := NewMemory(WithClock(clock.Now))
	return backendHarness{backend: m, advance: clock.Advance}, m
}

func eachBackend(t *testing.T, fn func(t *testing.T, h backendHarness)) {
	t.Run("redis", func(t *testing.T) {
		h, _ := newRedisHarness(t)
		fn(t, h)
	})
	t.Run("memory", func(t *testing.T) {
		h, _ := newMemoryHarness(t)
		fn(t, h)
	})
}

func TestBackendGetSetDelete(t *testing.T) {
	eachBackend(t, func(t *testing.T, h backendHarness) {
		ctx := context.Background()

		if _, err := h.backend.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := h.backend.Set(ctx, "k", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("set failed: %v", err)
		}
		got, err := h.backend.Get(ctx, "k")
		if err != nil || string(got) != "v1" {
			t.Fatalf("get = %q, %v", got, err)
		}

		n, err := h.backend.Delete(ctx, "k", "missing")
		if err != nil || n != 1 {
			t.Fatalf("delete = %d, %v", n, err)
		}
		n, err = h.backend.Delete(ctx, "k")
		if err != nil || n != 0 {
			t.Fatalf("second delete = %d, %v", n, err)
		}
	})
}

func TestBackendReplaceOnlyOverwritesLiveKeys(t *testing.T) {
	eachBackend(t, func(t *testing.T, h backendHarness) {
		ctx := context.Background()

		ok, err := h.backend.Replace(ctx, "k", []byte("v"), time.Minute)
		if err != nil || ok {
			t.Fatalf("replace of missing key = %v, %v", ok, err)
		}
		if _, err := h.backend.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("replace created the key: %v", err)
		}

		_ = h.backend.Set(ctx, "k", []byte("v1"), 10*time.Second)
		ok, err = h.backend.Replace(ctx, "k", []byte("v2"), time.Minute)
		if err != nil || !ok {
			t.Fatalf("replace of live key = %v, %v", ok, err)
		}
		got, _ := h.backend.Get(ctx, "k")
		if string(got) != "v2" {
			t.Fatalf("get = %q, want v2", got)
		}
		if ttl, _ := h.backend.TTL(ctx, "k"); ttl <= 10*time.Second {
			t.Fatalf("ttl not refreshed: %v", ttl)
		}

		_, _ = h.backend.Delete(ctx, "k")
		if ok, _ := h.backend.Replace(ctx, "k", []byte("v3"), time.Minute); ok {
			t.Fatal("replace revived a deleted key")
		}

		_ = h.backend.Set(ctx, "e", []byte("v"), time.Second)
		h.advance(2 * time.Second)
		if ok, _ := h.backend.Replace(ctx, "e", []byte("v"), time.Minute); ok {
			t.Fatal("replace revived an expired key")
		}
	})
}

func TestBackendValueExpires(t *testing.T) {
	eachBackend(t, func(t *testing.T, h backendHarness) {
		ctx := context.Background()

		if err := h.backend.Set(ctx, "k", []byte("v"), 10*time.Second); err != nil {
			t.Fatalf("set failed: %v", err)
		}
		ttl, err := h.backend.TTL(ctx, "k")
		if err != nil || ttl <= 0 || ttl > 10*time.Second {
			t.Fatalf("ttl = %v, %v", ttl, err)
		}

		h.advance(11 * time.Second)

		if _, err := h.backend.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected expiry, got %v", err)
		}
		if _, err := h.backend.TTL(ctx, "k"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ttl ErrNotFound, got %v", err)
		}
	})
}

func TestBackendExpireExtendsLifetime(t *testing.T) {
	eachBackend(t, func(t *testing.T, h backendHarness) {
		ctx := context.Background()

		if ok, err := h.backend.Expire(ctx, "missing", time.Minute); err != nil || ok {
			t.Fatalf("expire missing = %v, %v", ok, err)
		}

		_ = h.backend.Set(ctx, "k", []byte("v"), 10*time.Second)
		h.advance(8 * time.Second)
		if ok, err := h.backend.Expire(ctx, "k", 10*time.Second); err != nil || !ok {
			t.Fatalf("expire = %v, %v", ok, err)
		}
		h.advance(8 * time.Second)
		if _, err := h.backend.Get(ctx, "k"); err != nil {
			t.Fatalf("expected key to survive extension: %v", err)
		}
	})
}

func TestBackendIncrWindowFixedWindow(t *testing.T) {
	eachBackend(t, func(t *testing.T, h backendHarness) {
		ctx := context.Background()
		window := time.Minute

		for i := int64(1); i <= 5; i++ {
			c, err := h.backend.IncrWindow(ctx, "rl", window)
			if err != nil {
				t.Fatalf("incr %d failed: %v", i, err)
			}
			if c.Count != i {
				t.Fatalf("expected count %d, got %d", i, c.Count)
			}
		}

		h.advance(30 * time.Second)
		c, err := h.backend.IncrWindow(ctx, "rl", window)
		if err != nil {
			t.Fatalf("incr failed: %v", err)
		}
		if c.Count != 6 {
			t.Fatalf("window must not reset early, count=%d", c.Count)
		}

		h.advance(31 * time.Second)
		c, err = h.backend.IncrWindow(ctx, "rl", window)
		if err != nil {
			t.Fatalf("incr failed: %v", err)
		}
		if c.Count != 1 {
			t.Fatalf("expected new window, count=%d", c.Count)
		}
	})
}

func TestBackendIncrWindowRejectsNonPositiveWindow(t *testing.T) {
	eachBackend(t, func(t *testing.T, h backendHarness) {
		if _, err := h.backend.IncrWindow(context.Background(), "rl", 0); err == nil {
			t.Fatal("expected error for zero window")
		}
	})
}

func TestBackendScanPrefix(t *testing.T) {
	eachBackend(t, func(t *testing.T, h backendHarness) {
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			_ = h.backend.Set(ctx, fmt.Sprintf("sess:%d", i), []byte("x"), time.Minute)
		}
		_ = h.backend.Set(ctx, "other:1", []byte("x"), time.Minute)
		_ = h.backend.Set(ctx, "sess*weird", []byte("x"), time.Minute)

		var got []string
		err := h.backend.ScanPrefix(ctx, "sess:", func(key string) error {
			got = append(got, key)
			return nil
		})
		if err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		sort.Strings(got)
		if len(got) != 5 || got[0] != "sess:0" || got[4] != "sess:4" {
			t.Fatalf("unexpected scan result: %v", got)
		}

		stop := errors.New("stop")
		var calls int
		err = h.backend.ScanPrefix(ctx, "sess:", func(string) error {
			calls++
			return stop
		})
		if !errors.Is(err, stop) || calls != 1 {
			t.Fatalf("expected early stop, err=%v calls=%d", err, calls)
		}
	})
}

func TestRedisFailureWrapsUnavailable(t *testing.T) {
	h, mr := newRedisHarness(t)
	mr.SetError("LOADING server is loading")
	ctx := context.Background()

	if _, err := h.backend.Get(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("get: expected ErrUnavailable, got %v", err)
	}
	if _, err := h.backend.IncrWindow(ctx, "k", time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("incr: expected ErrUnavailable, got %v", err)
	}
	if err := h.backend.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("ping: expected ErrUnavailable, got %v", err)
	}
}

func TestMemorySweepRemovesExpired(t *testing.T) {
	h, m := newMemoryHarness(t)
	ctx := context.Background()

	_ = h.backend.Set(ctx, "short", []byte("x"), time.Second)
	_ = h.backend.Set(ctx, "long", []byte("x"), time.Hour)
	_ = h.backend.Set(ctx, "forever", []byte("x"), 0)

	h.advance(2 * time.Second)
	if removed := m.Sweep(); removed != 1 {
		t.Fatalf("expected 1 swept entry, got %d", removed)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 remaining entries, got %d", m.Len())
	}
	if ttl, err := h.backend.TTL(ctx, "forever"); err != nil || ttl >= 0 {
		t.Fatalf("expected negative ttl for persistent key, got %v, %v", ttl, err)
	}
}

func TestMemoryStartShutdownIdempotent(t *testing.T) {
	m := NewMemory(WithSweepInterval(time.Millisecond))
	ctx := context.Background()

	_ = m.Set(ctx, "k", []byte("x"), time.Nanosecond)
	m.Start(ctx)
	m.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for m.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if m.Len() != 0 {
		t.Fatal("sweep loop did not reclaim expired entry")
	}

	m.Shutdown()
	m.Shutdown()
}

func TestMemoryConcurrentIncrWindowIsAtomic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const workers = 32
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := m.IncrWindow(ctx, "rl", time.Minute); err != nil {
					t.Errorf("incr failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	c, err := m.IncrWindow(ctx, "rl", time.Minute)
	if err != nil {
		t.Fatalf("incr failed: %v", err)
	}
	if c.Count != workers*perWorker+1 {
		t.Fatalf("lost increments: got %d", c.Count)
	}
}

func TestKindAndDistributed(t *testing.T) {
	h, _ := newRedisHarness(t)
	if Kind(h.backend) != "redis" || !Distributed(h.backend) {
		t.Fatal("redis backend misreported")
	}
	m := NewMemory()
	if Kind(m) != "memory" || Distributed(m) {
		t.Fatal("memory backend misreported")
	}
}

func TestMemorySweepHookReportsRemovals(t *testing.T) {
	var (
		mu      sync.Mutex
		removed int
	)
	m := NewMemory(WithSweepInterval(time.Millisecond), WithSweepHook(func(n int) {
		mu.Lock()
		removed += n
		mu.Unlock()
	}))
	ctx := context.Background()

	_ = m.Set(ctx, "a", []byte("x"), time.Nanosecond)
	_ = m.Set(ctx, "b", []byte("x"), time.Nanosecond)
	m.Start(ctx)
	defer m.Shutdown()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := removed
		mu.Unlock()
		if got == 2 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	t.Fatalf("sweep hook saw %d removals, want 2", removed)
}
