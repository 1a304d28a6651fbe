package tiergate_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/tiergate"
	"github.com/MrEthical07/tiergate/directory/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// cmdCounter is a go-redis Hook that counts Redis round-trips.
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Commands() int64 { return h.commands.Load() }

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func newCountedEngine(t *testing.T) (*tiergate.Engine, *cmdCounter) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	counter := &cmdCounter{}
	rdb.AddHook(counter)

	// Warm the connection so handshake commands are not counted.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}

	cfg := tiergate.DefaultConfig()
	cfg.Quota.DefaultLimit = 100
	cfg.Quota.DefaultPeriod = time.Minute
	engine, err := tiergate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(memory.New()).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithRoutes("/items/{id}").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})

	counter.Reset()
	return engine, counter
}

// TestCheckRedisBudget verifies that an admission is a single Lua script call once
// the script is cached server side.
func TestCheckRedisBudget(t *testing.T) {
	engine, counter := newCountedEngine(t)
	ctx := context.Background()
	creds := tiergate.Credentials{ClientAddress: "192.0.2.1"}

	// The first call may issue EVALSHA followed by EVAL on NOSCRIPT.
	if _, err := engine.Check(ctx, creds, "/items/1"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if cmds := counter.Commands(); cmds > 2 {
		t.Errorf("first Check used %d Redis commands; budget is <= 2", cmds)
	}

	counter.Reset()
	if _, err := engine.Check(ctx, creds, "/items/2"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if cmds := counter.Commands(); cmds != 1 {
		t.Errorf("warm Check used %d Redis commands; budget is 1", cmds)
	}
	if p := counter.pipelines.Load(); p != 0 {
		t.Errorf("Check must not pipeline, saw %d pipelines", p)
	}
}

// TestCheckRejectedRedisBudget verifies rejection costs the same single round-trip.
func TestCheckRejectedRedisBudget(t *testing.T) {
	engine, counter := newCountedEngine(t)
	ctx := context.Background()
	creds := tiergate.Credentials{ClientAddress: "192.0.2.2"}

	for i := 0; i < 100; i++ {
		if _, err := engine.Check(ctx, creds, "/items/1"); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}

	counter.Reset()
	if _, err := engine.Check(ctx, creds, "/items/1"); err == nil {
		t.Fatal("expected rejection after the window filled")
	}
	if cmds := counter.Commands(); cmds != 1 {
		t.Errorf("rejected Check used %d Redis commands; budget is 1", cmds)
	}
}
