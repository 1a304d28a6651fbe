package tiergate

import (
	"errors"
	"time"
)

// Config is the complete engine configuration. It is copied into the [Engine] at
// [Builder.Build] and immutable thereafter.
type Config struct {
	JWT      JWTConfig
	Quota    QuotaConfig
	Counter  CounterConfig
	Gate     GateConfig
	Identity IdentityConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Routes   RoutesConfig
}

// JWTConfig configures bearer-token verification. When neither PrivateKey nor
// PublicKey is set and no verifier is supplied through [Builder.WithTokenVerifier],
// bearer tokens never authenticate.
type JWTConfig struct {
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
	// AccessTTL only matters for tokens issued by tooling and tests.
	AccessTTL time.Duration
}

func (c JWTConfig) configured() bool {
	return len(c.PrivateKey) > 0 || len(c.PublicKey) > 0 || len(c.VerifyKeys) > 0
}

// QuotaConfig holds the system default quota applied when no tier rule matches.
type QuotaConfig struct {
	DefaultLimit  int64
	DefaultPeriod time.Duration
}

// CounterConfig tunes the Redis counter store.
type CounterConfig struct {
	KeyPrefix        string
	OperationTimeout time.Duration
}

// FailurePolicy decides what [Engine.Check] does when the counter store is unavailable.
type FailurePolicy uint8

const (
	// FailOpen admits the request, marks the decision degraded, and raises an alert
	// through logs, metrics and audit.
	FailOpen FailurePolicy = iota
	// FailClosed returns ErrStoreUnavailable to the caller.
	FailClosed
)

func (p FailurePolicy) String() string {
	switch p {
	case FailOpen:
		return "fail_open"
	case FailClosed:
		return "fail_closed"
	default:
		return "unknown"
	}
}

// GateConfig configures admission behavior.
type GateConfig struct {
	FailurePolicy FailurePolicy
	// AuditRejections emits an audit event for every rejected request.
	AuditRejections bool
}

// IdentityConfig configures identity resolution.
type IdentityConfig struct {
	LookupTimeout time.Duration
	// CheckRevocation consults Directory.IsTokenRevoked for every verified token.
	CheckRevocation bool
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// RoutesConfig lists the route templates known to the path normalizer.
type RoutesConfig struct {
	Templates []string
}

// DefaultConfig returns the configuration used when [Builder.WithConfig] is not called.
// The default quota is 10 requests per hour.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: "hs256",
			Leeway:        0,
			AccessTTL:     30 * time.Minute,
		},
		Quota: QuotaConfig{
			DefaultLimit:  10,
			DefaultPeriod: time.Hour,
		},
		Counter: CounterConfig{
			KeyPrefix:        "rl",
			OperationTimeout: 250 * time.Millisecond,
		},
		Gate: GateConfig{
			FailurePolicy:   FailOpen,
			AuditRejections: false,
		},
		Identity: IdentityConfig{
			LookupTimeout:   time.Second,
			CheckRevocation: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	if cfg.Routes.Templates != nil {
		out.Routes.Templates = append([]string(nil), cfg.Routes.Templates...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.configured() {
		if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
			return errors.New("unsupported JWT signing method")
		}
		if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
		if c.JWT.AccessTTL <= 0 {
			return errors.New("JWT AccessTTL must be > 0")
		}
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Quota
	if c.Quota.DefaultLimit <= 0 {
		return errors.New("Quota DefaultLimit must be > 0")
	}
	if c.Quota.DefaultPeriod < time.Millisecond {
		return errors.New("Quota DefaultPeriod must be >= 1ms")
	}

	// Counter
	if c.Counter.KeyPrefix == "" {
		return errors.New("Counter KeyPrefix must not be empty")
	}
	if c.Counter.OperationTimeout < 0 {
		return errors.New("Counter OperationTimeout must be >= 0")
	}

	// Gate
	if c.Gate.FailurePolicy != FailOpen && c.Gate.FailurePolicy != FailClosed {
		return errors.New("unsupported Gate FailurePolicy")
	}

	// Identity
	if c.Identity.LookupTimeout < 0 {
		return errors.New("Identity LookupTimeout must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
