package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 256

// KEYS[1] counter key, ARGV[1] window in milliseconds.
// Returns {count, remaining_ms}.
const incrWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  return {count, tonumber(ARGV[1])}
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var incrWindowLua = redis.NewScript(incrWindowScript)

// Redis is a [Backend] over a go-redis universal client (single node,
// sentinel or cluster).
type Redis struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedis wraps an existing client. The caller keeps ownership of client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{
		client: client,
		now:    time.Now,
	}
}

// Client returns the wrapped client.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	return data, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *Redis) Replace(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	err := r.client.SetArgs(ctx, key, value, redis.SetArgs{Mode: "XX", TTL: ttl}).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, unavailable(err)
	}
	return true, nil
}

func (r *Redis) IncrWindow(ctx context.Context, key string, window time.Duration) (Counter, error) {
	if window <= 0 {
		return Counter{}, errors.New("store: window must be positive")
	}

	windowMS := window.Milliseconds()
	if windowMS < 1 {
		windowMS = 1
	}

	res, err := incrWindowLua.Run(ctx, r.client, []string{key}, windowMS).Int64Slice()
	if err != nil {
		return Counter{}, unavailable(err)
	}
	if len(res) != 2 {
		return Counter{}, fmt.Errorf("%w: unexpected script reply %v", ErrUnavailable, res)
	}

	return Counter{
		Count:   res[0],
		ResetAt: r.now().Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.PExpire(ctx, key, ttl).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	// go-redis reports -2 (missing) and -1 (no expiry) as raw durations.
	switch ttl {
	case -2, -2 * time.Millisecond:
		return 0, ErrNotFound
	case -1, -1 * time.Millisecond:
		return -1, nil
	}
	return ttl, nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	if _, ok := r.client.(*redis.ClusterClient); ok && len(keys) > 1 {
		return r.deleteAcrossSlots(ctx, keys)
	}
	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// deleteAcrossSlots issues one DEL per key in a pipeline; a multi-key DEL
// fails with CROSSSLOT when the keys hash to different slots.
func (r *Redis) deleteAcrossSlots(ctx context.Context, keys []string) (int, error) {
	cmds := make([]*redis.IntCmd, len(keys))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.Del(ctx, key)
		}
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}
	var n int64
	for _, cmd := range cmds {
		n += cmd.Val()
	}
	return int(n), nil
}

// ScanPrefix walks the keyspace with SCAN. On a cluster client every master
// is scanned concurrently, but fn is still called one key at a time. Keys
// created or deleted during the walk may or may not be seen.
func (r *Redis) ScanPrefix(ctx context.Context, prefix string, fn func(key string) error) error {
	match := escapeGlob(prefix) + "*"

	if cluster, ok := r.client.(*redis.ClusterClient); ok {
		return scanMasters(ctx, cluster, match, fn)
	}
	return scanNode(ctx, r.client, match, fn)
}

// masterIterator is the part of *redis.ClusterClient used to fan a scan out.
// ForEachMaster runs its callback on every master in parallel.
type masterIterator interface {
	ForEachMaster(ctx context.Context, fn func(ctx context.Context, client *redis.Client) error) error
}

func scanMasters(ctx context.Context, cluster masterIterator, match string, fn func(key string) error) error {
	var (
		mu     sync.Mutex
		failed error
	)
	serial := func(key string) error {
		mu.Lock()
		defer mu.Unlock()
		if failed != nil {
			return failed
		}
		if err := fn(key); err != nil {
			failed = err
			return err
		}
		return nil
	}

	return cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
		return scanNode(ctx, node, match, serial)
	})
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

type scanner interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

func scanNode(ctx context.Context, client scanner, match string, fn func(key string) error) error {
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return unavailable(err)
		}
		for _, key := range keys {
			if err := fn(key); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
