// Command ratelimit-loadtest hammers the fixed-window limiter from many
// goroutines and several limiter instances sharing one Redis, then reports
// latency and over-admission. Over-admission must be zero. A second phase
// measures sliding session lookups on the same backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/campusreach/authcore"
	"github.com/campusreach/authcore/store"
)

func main() {
	var (
		identifiers = flag.Int("identifiers", 1000, "number of distinct clients")
		limit       = flag.Int("limit", 20, "requests allowed per client per window")
		window      = flag.Duration("window", time.Hour, "rate-limit window")
		instances   = flag.Int("instances", 4, "limiter instances sharing the backend")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		sessions    = flag.Int("sessions", 10000, "sessions to seed for the lookup phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "loadtest", "key namespace")
	)
	flag.Parse()

	if *identifiers <= 0 || *limit <= 0 || *instances <= 0 || *concurrency <= 0 || *ops <= 0 || *sessions <= 0 {
		fmt.Fprintln(os.Stderr, "identifiers, limit, instances, concurrency, ops and sessions must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup := connect(*redisAddr)
	defer cleanup()

	backend := store.NewRedis(client)
	quiet := authcore.WithLogger(log.New(io.Discard, "", 0))

	cfg := authcore.DefaultConfig().RateLimit
	cfg.KeyPrefix = *prefix + ":rl"
	limiters := make([]*authcore.RateLimiter, *instances)
	for i := range limiters {
		limiters[i] = authcore.NewRateLimiter(backend, cfg, quiet)
	}

	admission := runAdmissionPhase(ctx, limiters, *identifiers, *limit, *window, *ops, *concurrency)

	sessCfg := authcore.DefaultConfig().Session
	sessCfg.KeyPrefix = *prefix + ":sess"
	manager, err := authcore.NewSessionManager(backend, sessCfg, quiet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session manager: %v\n", err)
		os.Exit(1)
	}
	ids, err := seedSessions(ctx, manager, *sessions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	lookup := runLookupPhase(ctx, manager, ids, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("check", admission.phaseStats)
	printStats("lookup", lookup)
	fmt.Printf("admission: allowed=%d denied=%d expected_max=%d over_admitted=%d\n",
		admission.allowed, admission.denied, admission.expectedMax, admission.overAdmitted)

	if admission.overAdmitted > 0 {
		os.Exit(1)
	}
}

func connect(addr string) (redis.UniversalClient, func()) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }
	}

	mr, err := miniredis.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
		os.Exit(1)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}
}

type admissionStats struct {
	phaseStats
	allowed      int64
	denied       int64
	expectedMax  int64
	overAdmitted int64
}

func runAdmissionPhase(ctx context.Context, limiters []*authcore.RateLimiter, identifiers, limit int, window time.Duration, ops, concurrency int) admissionStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		denied    int64
		allowed   = make([]int64, identifiers)
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(worker)*7919))
			rl := limiters[worker%len(limiters)]
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.IntN(identifiers)
				t0 := time.Now()
				d, err := rl.CheckRateLimit(ctx, fmt.Sprintf("ip:10.0.%d.%d", idx/256, idx%256), authcore.ClassAuthLogin, limit, window)
				elapsed := time.Since(t0)
				switch {
				case err != nil || d.Degraded:
					atomic.AddInt64(&failures, 1)
				case d.Allowed:
					atomic.AddInt64(&allowed[idx], 1)
				default:
					atomic.AddInt64(&denied, 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	out := admissionStats{
		phaseStats: computeStats(time.Since(start), latencies, failures),
		denied:     denied,
	}
	for _, n := range allowed {
		out.allowed += n
		out.expectedMax += int64(limit)
		if over := n - int64(limit); over > 0 {
			out.overAdmitted += over
		}
	}
	return out
}

func seedSessions(ctx context.Context, manager *authcore.SessionManager, n int) ([]string, error) {
	fmt.Printf("seeding %d sessions...\n", n)
	start := time.Now()
	ids := make([]string, n)
	for i := range ids {
		res, err := manager.Create(ctx, fmt.Sprintf("u-%d", i%500), nil, authcore.RequestMeta{
			IPAddress: "198.51.100.7",
			UserAgent: "ratelimit-loadtest",
		})
		if err != nil {
			return nil, err
		}
		ids[i] = res.SessionID
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))
	return ids, nil
}

func runLookupPhase(ctx context.Context, manager *authcore.SessionManager, ids []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				_, err := manager.Get(ctx, ids[r.IntN(len(ids))])
				elapsed := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	switch {
	case len(sorted) == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	return sorted[(len(sorted)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
