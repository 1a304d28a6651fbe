package tiergate_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/tiergate"
	"github.com/MrEthical07/tiergate/directory/memory"
	"github.com/redis/go-redis/v9"
)

// ExampleNew demonstrates engine construction with production-style dependencies.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})

	cfg := tiergate.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("replace-with-a-32-byte-or-longer-secret")
	cfg.Quota.DefaultLimit = 60
	cfg.Quota.DefaultPeriod = time.Minute

	engine, err := tiergate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(memory.New()).
		WithRoutes("/items/{id}", "/items/search").
		Build()
	if err != nil {
		return
	}
	defer engine.Close()
}

// ExampleEngine_Check shows the admission call and structured error handling.
func ExampleEngine_Check() {
	var engine *tiergate.Engine
	res, err := engine.Check(context.Background(), tiergate.Credentials{ClientAddress: "203.0.113.5"}, "/items/42")
	switch {
	case errors.Is(err, tiergate.ErrRateLimited):
		fmt.Println("retry after", res.Decision.ResetAfter)
	case errors.Is(err, tiergate.ErrStoreUnavailable):
		// Fail-closed engines surface counter store outages here.
	case err != nil:
	}
}

// ExampleEngine_MetricsSnapshot shows how to read in-process metrics counters.
func ExampleEngine_MetricsSnapshot() {
	var engine *tiergate.Engine
	snapshot := engine.MetricsSnapshot()
	_ = snapshot.Counters[tiergate.MetricGateRejected]
}
