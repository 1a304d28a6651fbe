package rate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newCounterTest(t *testing.T, cfg Config) (*Counter, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return New(rdb, cfg), mr, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func TestIncrementSetsExpiryOnFirstHitOnly(t *testing.T) {
	c, mr, done := newCounterTest(t, Config{KeyPrefix: "rl"})
	defer done()
	ctx := context.Background()

	w, err := c.Increment(ctx, "ip:10.0.0.1", "/items/{id}", time.Minute)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if w.Count != 1 {
		t.Fatalf("expected count 1, got %d", w.Count)
	}
	if w.ResetAfter <= 0 || w.ResetAfter > time.Minute {
		t.Fatalf("expected reset within a minute, got %s", w.ResetAfter)
	}

	mr.FastForward(20 * time.Second)

	w, err = c.Increment(ctx, "ip:10.0.0.1", "/items/{id}", time.Minute)
	if err != nil {
		t.Fatalf("second increment: %v", err)
	}
	if w.Count != 2 {
		t.Fatalf("expected count 2, got %d", w.Count)
	}
	if w.ResetAfter > 41*time.Second {
		t.Fatalf("second hit must not extend the window, reset after %s", w.ResetAfter)
	}

	if ttl := mr.TTL("rl:ip:10.0.0.1:/items/{id}"); ttl > 41*time.Second {
		t.Fatalf("expected ttl <= 41s, got %s", ttl)
	}
}

func TestIncrementStartsFreshWindowAfterExpiry(t *testing.T) {
	c, mr, done := newCounterTest(t, Config{})
	defer done()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Increment(ctx, "user:1", "/a", time.Minute); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}

	mr.FastForward(61 * time.Second)

	w, err := c.Increment(ctx, "user:1", "/a", time.Minute)
	if err != nil {
		t.Fatalf("increment after expiry: %v", err)
	}
	if w.Count != 1 {
		t.Fatalf("expected fresh window count 1, got %d", w.Count)
	}
}

func TestIncrementRepairsKeyWithoutTTL(t *testing.T) {
	c, mr, done := newCounterTest(t, Config{KeyPrefix: "rl"})
	defer done()

	if err := mr.Set("rl:user:9:/x", "5"); err != nil {
		t.Fatalf("seed key: %v", err)
	}

	w, err := c.Increment(context.Background(), "user:9", "/x", 30*time.Second)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if w.Count != 6 {
		t.Fatalf("expected count 6, got %d", w.Count)
	}
	if ttl := mr.TTL("rl:user:9:/x"); ttl <= 0 {
		t.Fatalf("expected ttl to be re-armed, got %s", ttl)
	}
}

func TestIncrementConcurrentCountsAreLinearizable(t *testing.T) {
	c, _, done := newCounterTest(t, Config{})
	defer done()

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)

	counts := make(chan int64, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			w, err := c.Increment(context.Background(), "ip:203.0.113.5", "/items/{id}", time.Minute)
			if err != nil {
				t.Errorf("increment: %v", err)
				return
			}
			counts <- w.Count
		}()
	}
	wg.Wait()
	close(counts)

	seen := make(map[int64]bool, n)
	for v := range counts {
		if seen[v] {
			t.Fatalf("count %d observed twice", v)
		}
		seen[v] = true
	}
	for i := int64(1); i <= n; i++ {
		if !seen[i] {
			t.Fatalf("count %d never observed", i)
		}
	}
}

func TestIncrementRejectsNonPositivePeriod(t *testing.T) {
	c, _, done := newCounterTest(t, Config{})
	defer done()

	if _, err := c.Increment(context.Background(), "k", "/", 0); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestIncrementAndPingReportUnavailableStore(t *testing.T) {
	c, mr, done := newCounterTest(t, Config{OperationTimeout: 200 * time.Millisecond})
	defer done()

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping healthy store: %v", err)
	}

	mr.Close()

	if _, err := c.Increment(context.Background(), "k", "/", time.Minute); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable from ping, got %v", err)
	}
}
