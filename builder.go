package tiergate

import (
	"errors"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/tiergate/internal/audit"
	"github.com/MrEthical07/tiergate/internal/rate"
	"github.com/MrEthical07/tiergate/jwt"
	"github.com/MrEthical07/tiergate/route"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	directory Directory
	verifier  TokenVerifier
	auditSink AuditSink
	logger    *slog.Logger

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the counter store client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDirectory sets the user, tier and rule directory.
func (b *Builder) WithDirectory(dir Directory) *Builder {
	b.directory = dir
	return b
}

// WithTokenVerifier overrides the verifier that Build would otherwise create from
// Config.JWT.
func (b *Builder) WithTokenVerifier(v TokenVerifier) *Builder {
	b.verifier = v
	return b
}

// WithAuditSink sets the sink that receives audit events when Config.Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithRoutes appends route templates to Config.Routes.
func (b *Builder) WithRoutes(templates ...string) *Builder {
	b.config.Routes.Templates = append(b.config.Routes.Templates, templates...)
	return b
}

// WithMetricsEnabled toggles in-process metrics.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the admit latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
//
// Build fails when the Redis client or the directory is missing, when the
// configuration is invalid, or when a route template cannot be compiled.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// -------- ROUTES --------
	routes, err := route.New(cfg.Routes.Templates...)
	if err != nil {
		return nil, err
	}

	// -------- TOKEN VERIFIER --------
	verifier := b.verifier
	if verifier == nil && cfg.JWT.configured() {
		manager, err := jwt.NewManager(jwt.Config{
			AccessTTL:     cfg.JWT.AccessTTL,
			SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
			PrivateKey:    cfg.JWT.PrivateKey,
			PublicKey:     cfg.JWT.PublicKey,
			Issuer:        cfg.JWT.Issuer,
			Audience:      cfg.JWT.Audience,
			Leeway:        cfg.JWT.Leeway,
			KeyID:         cfg.JWT.KeyID,
			VerifyKeys:    cfg.JWT.VerifyKeys,
		})
		if err != nil {
			return nil, err
		}
		verifier = manager
	}

	// -------- COUNTER --------
	counter := rate.New(b.redis, rate.Config{
		KeyPrefix:        cfg.Counter.KeyPrefix,
		OperationTimeout: cfg.Counter.OperationTimeout,
	})

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		config:    cfg,
		directory: b.directory,
		verifier:  verifier,
		counter:   counter,
		routes:    routes,
		metrics:   NewMetrics(cfg.Metrics),
		logger:    logger.With("component", "tiergate"),
		now:       time.Now,
	}

	// -------- AUDIT --------
	if cfg.Audit.Enabled {
		engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    true,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Priority:   []string{auditEventGateFailOpen, auditEventGateStoreError, auditEventDependencyDegraded},
		}, b.auditSink)
	}

	b.built = true
	return engine, nil
}
