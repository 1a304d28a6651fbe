package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript bumps the window counter and arms its expiry on the first hit.
// A counter found without a TTL (written by something other than this script) is
// re-armed so it cannot pin a caller forever.
const incrementScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var incrementLua = redis.NewScript(incrementScript)

// Config holds counter tuning parameters.
type Config struct {
	KeyPrefix        string
	OperationTimeout time.Duration
}

// Window is the state of one fixed window right after an increment.
type Window struct {
	Count int64
	// ResetAfter is the time left until Redis expires the window.
	ResetAfter time.Duration
}

// Counter increments fixed-window counters in Redis.
type Counter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Counter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Counter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl"
	}
	return &Counter{
		redis:  redisClient,
		config: cfg,
	}
}

// Key returns the Redis key used for an identity and canonical path.
func (c *Counter) Key(identityKey, path string) string {
	return c.config.KeyPrefix + ":" + identityKey + ":" + path
}

// Increment atomically counts one hit for identityKey on path inside a window of
// length period and returns the post-increment count.
func (c *Counter) Increment(ctx context.Context, identityKey, path string, period time.Duration) (Window, error) {
	ms := period.Milliseconds()
	if ms <= 0 {
		return Window{}, ErrInvalidWindow
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := incrementLua.Run(ctx, c.redis, []string{c.Key(identityKey, path)}, ms).Slice()
	if err != nil {
		return Window{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("%w: unexpected script reply %v", ErrRedisUnavailable, res)
	}

	count, ok := res[0].(int64)
	if !ok {
		return Window{}, fmt.Errorf("%w: unexpected count type %T", ErrRedisUnavailable, res[0])
	}
	ttl, ok := res[1].(int64)
	if !ok {
		return Window{}, fmt.Errorf("%w: unexpected ttl type %T", ErrRedisUnavailable, res[1])
	}

	return Window{
		Count:      count,
		ResetAfter: time.Duration(ttl) * time.Millisecond,
	}, nil
}

// Ping reports whether the counter store is reachable.
func (c *Counter) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (c *Counter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.config.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.config.OperationTimeout)
}
