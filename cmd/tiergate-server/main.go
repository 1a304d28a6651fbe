// Command tiergate-server runs an HTTP API guarded by the tiergate engine.
//
// Configuration comes from the environment (and ./.env when present); see
// internal/appconfig for the variables. POLICY_FILE seeds tiers, rules and users
// into the configured directory at startup.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/MrEthical07/tiergate"
	"github.com/MrEthical07/tiergate/directory/memory"
	"github.com/MrEthical07/tiergate/directory/sqlstore"
	"github.com/MrEthical07/tiergate/internal/appconfig"
	"github.com/redis/go-redis/v9"
)

// directoryStore is a directory the server can both read and administer.
type directoryStore interface {
	tiergate.Directory
	appconfig.Seeder
	SoftDeleteUser(ctx context.Context, id int64) error
}

func main() {
	if err := run(); err != nil {
		slog.Error("tiergate-server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := appconfig.Load(".env")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	dir, closeDir, err := openDirectory(ctx, cfg.Directory)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer closeDir()

	var routes []string
	if cfg.PolicyFile != "" {
		policy, err := appconfig.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return err
		}
		if err := policy.Apply(ctx, dir); err != nil {
			return fmt.Errorf("apply policy: %w", err)
		}
		routes = policy.Routes
		logger.Info("policy applied", "file", cfg.PolicyFile, "tiers", len(policy.Tiers), "users", len(policy.Users))
	}

	engine, err := buildEngine(cfg, rdb, dir, tiergate.NewJSONWriterSink(os.Stderr), logger, routes)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	var otelMetrics http.Handler
	if cfg.OTelMetricsEnabled {
		h, closeOTel, err := newOTelHandler(engine, cfg.AppName, logger)
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
		defer closeOTel()
		otelMetrics = h
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(engine, dir, cfg, otelMetrics, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "directory", cfg.Directory.Driver, "failure_policy", cfg.Engine.Gate.FailurePolicy.String())
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	return nil
}

// buildEngine wires the engine for the server. Every gated route is registered
// ahead of the policy's own templates.
func buildEngine(cfg appconfig.Config, rdb redis.UniversalClient, dir tiergate.Directory, sink tiergate.AuditSink, logger *slog.Logger, policyRoutes []string) (*tiergate.Engine, error) {
	return tiergate.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithDirectory(dir).
		WithAuditSink(sink).
		WithLogger(logger).
		WithRoutes(slices.Concat(gatedRoutes, policyRoutes)...).
		Build()
}

func openDirectory(ctx context.Context, cfg sqlstore.Config) (directoryStore, func(), error) {
	if cfg.Driver == appconfig.DirectoryMemory {
		return memory.New(), func() {}, nil
	}

	db, err := sqlstore.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := sqlstore.New(db, cfg.Dialect())
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, closer(db), nil
}

func closer(db *sql.DB) func() {
	return func() {
		if err := db.Close(); err != nil {
			slog.Warn("close database", "error", err)
		}
	}
}
