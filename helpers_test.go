package tiergate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tiergate/jwt"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSecret = []byte("tiergate-test-secret-0123456789abcdef")

var errDirectoryDown = errors.New("connection refused")

type ruleKey struct {
	tierID int64
	path   string
}

// memDirectory is a map-backed Directory that counts calls per method.
type memDirectory struct {
	mu      sync.Mutex
	users   []UserRecord
	tiers   map[int64]Tier
	rules   map[ruleKey]RateLimitRule
	revoked map[string]bool
	err     error
	pingErr error
	calls   map[string]int
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		tiers:   make(map[int64]Tier),
		rules:   make(map[ruleKey]RateLimitRule),
		revoked: make(map[string]bool),
		calls:   make(map[string]int),
	}
}

func (d *memDirectory) addUser(rec UserRecord) { d.users = append(d.users, rec) }
func (d *memDirectory) addTier(t Tier)         { d.tiers[t.ID] = t }
func (d *memDirectory) addRule(r RateLimitRule) {
	d.rules[ruleKey{tierID: r.TierID, path: r.Path}] = r
}

func (d *memDirectory) failWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *memDirectory) count(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method]
}

func (d *memDirectory) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		n += c
	}
	return n
}

func (d *memDirectory) enter(method string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[method]++
	return d.err
}

func (d *memDirectory) GetUser(_ context.Context, lookup UserLookup) (UserRecord, bool, error) {
	if err := d.enter("GetUser"); err != nil {
		return UserRecord{}, false, err
	}
	for _, u := range d.users {
		if u.IsDeleted && lookup.Deleted == ExcludeDeleted {
			continue
		}
		var v string
		switch lookup.Field {
		case LookupEmail:
			v = u.Email
		case LookupUsername:
			v = u.Username
		case LookupAPIKeyHash:
			v = u.HashedAPIKey
		}
		if v != "" && v == lookup.Value {
			return u, true, nil
		}
	}
	return UserRecord{}, false, nil
}

func (d *memDirectory) GetTier(_ context.Context, id int64) (Tier, bool, error) {
	if err := d.enter("GetTier"); err != nil {
		return Tier{}, false, err
	}
	t, ok := d.tiers[id]
	return t, ok, nil
}

func (d *memDirectory) GetRateLimit(_ context.Context, tierID int64, path string) (RateLimitRule, bool, error) {
	if err := d.enter("GetRateLimit"); err != nil {
		return RateLimitRule{}, false, err
	}
	r, ok := d.rules[ruleKey{tierID: tierID, path: path}]
	return r, ok, nil
}

func (d *memDirectory) IsTokenRevoked(_ context.Context, token string) (bool, error) {
	if err := d.enter("IsTokenRevoked"); err != nil {
		return false, err
	}
	return d.revoked[token], nil
}

func (d *memDirectory) Ping(context.Context) error {
	if err := d.enter("Ping"); err != nil {
		return err
	}
	return d.pingErr
}

func int64Ptr(v int64) *int64 { return &v }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func gateTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = testSecret
	cfg.JWT.AccessTTL = 5 * time.Minute
	cfg.Quota.DefaultLimit = 10
	cfg.Quota.DefaultPeriod = 60 * time.Second
	cfg.Counter.OperationTimeout = 300 * time.Millisecond
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Routes.Templates = []string{"/items/{id}", "/items/search", "/admin/users"}
	return cfg
}

func newGateTestEngine(t *testing.T, cfg Config, dir Directory) (*Engine, *miniredis.Miniredis, func()) {
	t.Helper()
	return newGateTestEngineWithSink(t, cfg, dir, nil)
}

func newGateTestEngineWithSink(t *testing.T, cfg Config, dir Directory, sink AuditSink) (*Engine, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(dir).
		WithAuditSink(sink).
		WithLogger(discardLogger()).
		Build()
	if err != nil {
		_ = rdb.Close()
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	return engine, mr, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func issueTestToken(t *testing.T, subject string, tokenType jwt.TokenType) string {
	t.Helper()

	m, err := jwt.NewManager(jwt.Config{
		AccessTTL:     5 * time.Minute,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    testSecret,
	})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	token, err := m.Issue(subject, tokenType)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

// seedDirectory holds alice (token user, tier 1 "pro"), bob (API key user, no tier),
// carol (soft-deleted) and root (superuser).
func seedDirectory() *memDirectory {
	d := newMemDirectory()
	d.addTier(Tier{ID: 1, Name: "pro"})
	d.addRule(RateLimitRule{ID: 1, TierID: 1, Path: "/items/{id}", Limit: 100, Period: time.Minute, Name: "pro items"})
	d.addUser(UserRecord{ID: 1, Username: "alice", Email: "alice@example.com", HashedAPIKey: HashAPIKey("alice-key"), TierID: int64Ptr(1)})
	d.addUser(UserRecord{ID: 2, Username: "bob", Email: "bob@example.com", HashedAPIKey: HashAPIKey("bob-key")})
	d.addUser(UserRecord{ID: 3, Username: "carol", Email: "carol@example.com", HashedAPIKey: HashAPIKey("carol-key"), IsDeleted: true})
	d.addUser(UserRecord{ID: 4, Username: "root", Email: "root@example.com", IsSuperuser: true})
	return d
}
