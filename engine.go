package tiergate

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrEthical07/tiergate/internal/rate"
	"github.com/MrEthical07/tiergate/route"
)

// Engine is the request gate. It is immutable after [Builder.Build] and safe for
// concurrent use; the only shared mutable state is the counter store and the atomic
// metrics.
type Engine struct {
	config    Config
	directory Directory
	verifier  TokenVerifier
	counter   *rate.Counter
	routes    *route.Normalizer
	audit     *auditDispatcher
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Close flushes and stops the audit dispatcher. It does not close the Redis client or
// the directory, which belong to the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Normalize maps a raw request path to its canonical route template.
func (e *Engine) Normalize(rawPath string) string {
	if e == nil {
		return (*route.Normalizer)(nil).Normalize(rawPath)
	}
	return e.routes.Normalize(rawPath)
}

// DefaultQuota returns the configured system default quota.
func (e *Engine) DefaultQuota() Quota {
	return Quota{
		Limit:  e.config.Quota.DefaultLimit,
		Period: e.config.Quota.DefaultPeriod,
		Source: QuotaDefault,
	}
}

// Health pings the directory and the counter store. It never returns an error; a
// failing dependency is reported as unhealthy.
func (e *Engine) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:    HealthHealthy,
		Checks:    make(map[string]HealthStatus, 2),
		CheckedAt: time.Now().UTC(),
	}
	if e == nil {
		report.Status = HealthUnhealthy
		return report
	}
	if ctx == nil {
		ctx = context.Background()
	}
	report.CheckedAt = e.now().UTC()

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			e.logger.ErrorContext(ctx, "dependency health check failed", "dependency", name, "error", err)
			report.Checks[name] = HealthUnhealthy
			report.Status = HealthUnhealthy
			return
		}
		report.Checks[name] = HealthHealthy
	}

	check("database", func(ctx context.Context) error {
		ctx, cancel := e.lookupContext(ctx)
		defer cancel()
		return e.directory.Ping(ctx)
	})
	check("redis", e.counter.Ping)

	if !report.Healthy() {
		e.metricInc(MetricHealthDegraded)
		e.emitAudit(ctx, auditEventDependencyDegraded, nil, "", false, ErrStoreUnavailable, map[string]string{
			"database": string(report.Checks["database"]),
			"redis":    string(report.Checks["redis"]),
		})
	}
	return report
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.config.Identity.LookupTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config.Identity.LookupTimeout)
}
