// Package appconfig loads process configuration for the tiergate binaries from the
// environment (optionally seeded from .env files) and an optional YAML policy file.
package appconfig

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/tiergate"
	"github.com/MrEthical07/tiergate/directory/sqlstore"
	"github.com/joho/godotenv"
)

// DirectoryMemory selects the in-memory directory instead of a SQL database.
const DirectoryMemory = "memory"

// Config is everything a tiergate process reads at startup.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	ListenAddr  string
	LogLevel    slog.Level
	LogFormat   string
	PolicyFile  string

	APIKeyHeader      string
	TrustForwardedFor bool

	// OTelMetricsEnabled serves an OpenTelemetry collection of the engine metrics
	// at /metrics/otel alongside the Prometheus text at /metrics.
	OTelMetricsEnabled bool

	Redis     RedisConfig
	Directory sqlstore.Config
	Engine    tiergate.Config
}

// RedisConfig locates the counter store.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + strconv.Itoa(r.Port)
}

// Load reads envFiles (missing files are ignored) and then the environment.
// Variables already set in the environment win over .env values.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		AppName:      getEnv("APP_NAME", "tiergate"),
		AppVersion:   getEnv("APP_VERSION", "0.0.0"),
		Environment:  strings.ToLower(getEnv("ENVIRONMENT", "local")),
		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		LogFormat:    strings.ToLower(getEnv("LOG_FORMAT", "text")),
		PolicyFile:   getEnv("POLICY_FILE", ""),
		APIKeyHeader: getEnv("API_KEY_HEADER", "Api-Key"),
		LogLevel:     parseLevel(getEnv("LOG_LEVEL", "info")),
		Engine:       tiergate.DefaultConfig(),
	}

	var err error
	if cfg.TrustForwardedFor, err = getBool("TRUST_FORWARDED_FOR", false); err != nil {
		return Config{}, err
	}
	if cfg.OTelMetricsEnabled, err = getBool("OTEL_METRICS_ENABLED", false); err != nil {
		return Config{}, err
	}
	if cfg.Redis, err = loadRedis(); err != nil {
		return Config{}, err
	}
	if cfg.Directory, err = loadDirectory(); err != nil {
		return Config{}, err
	}
	if err := loadEngine(&cfg.Engine); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks process settings and the engine configuration.
func (c *Config) Validate() error {
	switch c.Environment {
	case "local", "staging", "production":
	default:
		return fmt.Errorf("invalid ENVIRONMENT %q (valid: local, staging, production)", c.Environment)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q (valid: text, json)", c.LogFormat)
	}
	if c.Environment == "production" && c.Engine.JWT.SigningMethod == "hs256" && len(c.Engine.JWT.PrivateKey) < 32 {
		return fmt.Errorf("SECRET_KEY must be at least 32 bytes in production")
	}
	if c.Directory.Driver != DirectoryMemory {
		if err := c.Directory.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return c.Engine.Validate()
}

// NewLogger returns a slog logger writing to w in the configured format and level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	var h slog.Handler
	if c.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("app", c.AppName, "version", c.AppVersion, "environment", c.Environment)
}

func loadRedis() (RedisConfig, error) {
	port, err := getInt("REDIS_RATE_LIMIT_PORT", 6379)
	if err != nil {
		return RedisConfig{}, err
	}
	db, err := getInt("REDIS_RATE_LIMIT_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	return RedisConfig{
		Host:     getEnv("REDIS_RATE_LIMIT_HOST", "localhost"),
		Port:     port,
		Password: os.Getenv("REDIS_RATE_LIMIT_PASSWORD"),
		DB:       db,
	}, nil
}

func loadDirectory() (sqlstore.Config, error) {
	port, err := getInt("DATABASE_PORT", 0)
	if err != nil {
		return sqlstore.Config{}, err
	}
	maxConns, err := getInt("DATABASE_MAX_CONNS", 0)
	if err != nil {
		return sqlstore.Config{}, err
	}
	maxIdle, err := getInt("DATABASE_MAX_IDLE", 0)
	if err != nil {
		return sqlstore.Config{}, err
	}

	cfg := sqlstore.Config{
		Driver:   strings.ToLower(getEnv("DATABASE_DRIVER", DirectoryMemory)),
		Host:     getEnv("DATABASE_HOST", ""),
		Port:     port,
		Database: getEnv("DATABASE_NAME", ""),
		Username: getEnv("DATABASE_USER", ""),
		Password: os.Getenv("DATABASE_PASSWORD"),
		SSLMode:  getEnv("DATABASE_SSLMODE", ""),
		MaxConns: maxConns,
		MaxIdle:  maxIdle,
	}
	if cfg.Driver != DirectoryMemory {
		cfg.SetDefaults()
	}
	return cfg, nil
}

func loadEngine(cfg *tiergate.Config) error {
	var err error

	if cfg.Quota.DefaultLimit, err = getInt64("DEFAULT_RATE_LIMIT_LIMIT", cfg.Quota.DefaultLimit); err != nil {
		return err
	}
	if cfg.Quota.DefaultPeriod, err = getSeconds("DEFAULT_RATE_LIMIT_PERIOD", cfg.Quota.DefaultPeriod); err != nil {
		return err
	}

	switch alg := strings.ToLower(getEnv("ALGORITHM", "HS256")); alg {
	case "hs256":
		cfg.JWT.SigningMethod = "hs256"
		if secret := os.Getenv("SECRET_KEY"); secret != "" {
			cfg.JWT.PrivateKey = []byte(secret)
		}
	case "eddsa", "ed25519":
		cfg.JWT.SigningMethod = "ed25519"
		if path := getEnv("JWT_PUBLIC_KEY_FILE", ""); path != "" {
			key, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read JWT_PUBLIC_KEY_FILE: %w", err)
			}
			cfg.JWT.PublicKey = key
		}
	default:
		return fmt.Errorf("unsupported ALGORITHM %q (valid: HS256, EdDSA)", alg)
	}
	cfg.JWT.Issuer = getEnv("JWT_ISSUER", "")
	cfg.JWT.Audience = getEnv("JWT_AUDIENCE", "")
	if cfg.JWT.AccessTTL, err = getMinutes("ACCESS_TOKEN_EXPIRE_MINUTES", cfg.JWT.AccessTTL); err != nil {
		return err
	}

	cfg.Counter.KeyPrefix = getEnv("RATE_LIMIT_KEY_PREFIX", cfg.Counter.KeyPrefix)
	if cfg.Counter.OperationTimeout, err = getDuration("RATE_LIMIT_TIMEOUT", cfg.Counter.OperationTimeout); err != nil {
		return err
	}
	if cfg.Identity.LookupTimeout, err = getDuration("DIRECTORY_TIMEOUT", cfg.Identity.LookupTimeout); err != nil {
		return err
	}
	if cfg.Identity.CheckRevocation, err = getBool("CHECK_TOKEN_REVOCATION", cfg.Identity.CheckRevocation); err != nil {
		return err
	}

	switch policy := strings.ToLower(getEnv("RATE_LIMIT_FAILURE_POLICY", "fail_open")); policy {
	case "fail_open", "open":
		cfg.Gate.FailurePolicy = tiergate.FailOpen
	case "fail_closed", "closed":
		cfg.Gate.FailurePolicy = tiergate.FailClosed
	default:
		return fmt.Errorf("invalid RATE_LIMIT_FAILURE_POLICY %q (valid: fail_open, fail_closed)", policy)
	}
	if cfg.Gate.AuditRejections, err = getBool("AUDIT_REJECTIONS", cfg.Gate.AuditRejections); err != nil {
		return err
	}
	if cfg.Audit.Enabled, err = getBool("AUDIT_ENABLED", cfg.Audit.Enabled); err != nil {
		return err
	}
	if cfg.Metrics.Enabled, err = getBool("METRICS_ENABLED", true); err != nil {
		return err
	}
	if cfg.Metrics.EnableLatencyHistograms, err = getBool("METRICS_LATENCY_HISTOGRAMS", cfg.Metrics.EnableLatencyHistograms); err != nil {
		return err
	}
	return nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

// getSeconds accepts a bare integer number of seconds or a Go duration string.
func getSeconds(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return getDuration(key, fallback)
}

func getMinutes(key string, fallback time.Duration) (time.Duration, error) {
	n, err := getInt64(key, -1)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return fallback, nil
	}
	return time.Duration(n) * time.Minute, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
