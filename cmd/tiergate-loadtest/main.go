// Command tiergate-loadtest drives concurrent Engine.Check calls against Redis (or
// miniredis) and reports admitted and rejected counts with latency percentiles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/tiergate"
	"github.com/MrEthical07/tiergate/directory/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		users       = flag.Int("users", 1000, "number of API-key users to seed")
		addresses   = flag.Int("addresses", 1000, "number of distinct anonymous client addresses")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "Check calls per phase (anonymous + api key)")
		limit       = flag.Int64("limit", 100, "requests allowed per identity per window")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "rl", "counter key prefix")
	)
	flag.Parse()

	if *users <= 0 || *addresses <= 0 || *concurrency <= 0 || *ops <= 0 || *limit <= 0 {
		fmt.Fprintln(os.Stderr, "users, addresses, concurrency, ops, and limit must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	dir := memory.New()
	fmt.Printf("seeding %d users...\n", *users)
	keys, err := seed(ctx, dir, *users, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	cfg := tiergate.DefaultConfig()
	cfg.Counter.KeyPrefix = *prefix
	cfg.Quota.DefaultLimit = *limit
	cfg.Quota.DefaultPeriod = time.Minute
	cfg.Routes.Templates = []string{"/items/{id}", "/items/search"}

	engine, err := tiergate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithDirectory(dir).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	anonymous := runPhase(ctx, engine, *ops, *concurrency, func(r *rand.Rand) tiergate.Credentials {
		n := r.Intn(*addresses)
		return tiergate.Credentials{ClientAddress: "10.0." + strconv.Itoa(n/256) + "." + strconv.Itoa(n%256)}
	})
	apiKey := runPhase(ctx, engine, *ops, *concurrency, func(r *rand.Rand) tiergate.Credentials {
		return tiergate.Credentials{APIKey: keys[r.Intn(len(keys))], ClientAddress: "10.1.0.1"}
	})

	fmt.Println("---- results ----")
	printStats("anonymous", anonymous)
	printStats("api-key", apiKey)
	snap := engine.MetricsSnapshot()
	fmt.Printf("engine: admitted=%d rejected=%d fail_open=%d\n",
		snap.Counters[tiergate.MetricGateAdmitted],
		snap.Counters[tiergate.MetricGateRejected],
		snap.Counters[tiergate.MetricGateFailOpen],
	)
}

// seed creates one tier with a rule on the item route and assigns every user to it.
func seed(ctx context.Context, dir *memory.Directory, users int, limit int64) ([]string, error) {
	tierID := int64(1)
	if err := dir.AddTier(ctx, tiergate.Tier{ID: tierID, Name: "loadtest"}); err != nil {
		return nil, err
	}
	if err := dir.AddRateLimit(ctx, tiergate.RateLimitRule{TierID: tierID, Path: "/items/{id}", Limit: limit * 2, Period: time.Minute}); err != nil {
		return nil, err
	}

	keys := make([]string, users)
	for i := 0; i < users; i++ {
		keys[i] = fmt.Sprintf("key-%d", i)
		err := dir.AddUser(ctx, tiergate.UserRecord{
			ID:           int64(i + 1),
			Username:     fmt.Sprintf("user-%d", i),
			Email:        fmt.Sprintf("user-%d@example.com", i),
			HashedAPIKey: tiergate.HashAPIKey(keys[i]),
			TierID:       &tierID,
		})
		if err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func runPhase(ctx context.Context, engine *tiergate.Engine, ops, concurrency int, creds func(*rand.Rand) tiergate.Credentials) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		rejected  int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				path := "/items/" + strconv.Itoa(r.Intn(10000))
				if i%10 == 0 {
					path = "/items/search"
				}
				t0 := time.Now()
				_, err := engine.Check(ctx, creds(r), path)
				d := time.Since(t0)
				switch {
				case errors.Is(err, tiergate.ErrRateLimited):
					atomic.AddInt64(&rejected, 1)
				case err != nil:
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	stats := computeStats(total, latencies, failures)
	stats.rejected = rejected
	return stats
}

type phaseStats struct {
	total    time.Duration
	ops      int
	rejected int64
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

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d admitted=%d rejected=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		int64(s.ops)-s.rejected-s.failures,
		s.rejected,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
