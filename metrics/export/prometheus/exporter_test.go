package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/tiergate"
	"github.com/MrEthical07/tiergate/directory/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeSource struct {
	snapshot tiergate.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() tiergate.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tiergate.MetricsSnapshot{
			Counters:   map[tiergate.MetricID]uint64{},
			Histograms: map[tiergate.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tiergate.MetricsSnapshot{
			Counters: map[tiergate.MetricID]uint64{
				tiergate.MetricGateAdmitted: 7,
				tiergate.MetricGateRejected: 3,
			},
			Histograms: map[tiergate.MetricID][]uint64{
				tiergate.MetricAdmitLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"# TYPE tiergate_gate_decisions_total counter\n",
		`tiergate_gate_decisions_total{outcome="admitted"} 7`,
		`tiergate_gate_decisions_total{outcome="rejected"} 3`,
		`tiergate_gate_decisions_total{outcome="fail_open"} 0`,
		`tiergate_auth_failures_total{reason="token_revoked"} 0`,
		"tiergate_health_degraded_total 0",
		"# TYPE tiergate_admit_latency_seconds histogram\n",
		`tiergate_admit_latency_seconds_bucket{le="0.005"} 1`,
		`tiergate_admit_latency_seconds_bucket{le="+Inf"} 36`,
		"tiergate_admit_latency_seconds_count 36",
		"tiergate_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if out != exp.Render() {
		t.Fatal("render output is not deterministic")
	}
	if n := strings.Count(out, "# TYPE tiergate_gate_decisions_total"); n != 1 {
		t.Fatalf("expected one header per family, got %d", n)
	}
}

func TestRenderOmitsLatencyWhenHistogramsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tiergate.MetricsSnapshot{
			Counters:   map[tiergate.MetricID]uint64{tiergate.MetricGateAdmitted: 1},
			Histograms: map[tiergate.MetricID][]uint64{},
		},
	})

	out := exp.Render()
	if strings.Contains(out, "tiergate_admit_latency_seconds") {
		t.Fatalf("expected no latency series, got:\n%s", out)
	}
	if !strings.Contains(out, `tiergate_gate_decisions_total{outcome="admitted"} 1`) {
		t.Fatalf("expected admitted counter, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tiergate.MetricsSnapshot{
			Counters:   map[tiergate.MetricID]uint64{tiergate.MetricGateAdmitted: 1},
			Histograms: map[tiergate.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestExporterReadsLiveEngine(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := tiergate.DefaultConfig()
	cfg.Quota.DefaultLimit = 1
	cfg.Quota.DefaultPeriod = time.Minute
	engine, err := tiergate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(memory.New()).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	creds := tiergate.Credentials{ClientAddress: "198.51.100.1"}
	_, _ = engine.Check(context.Background(), creds, "/ping")
	_, _ = engine.Check(context.Background(), creds, "/ping")

	out := NewPrometheusExporter(engine).Render()
	if !strings.Contains(out, `tiergate_gate_decisions_total{outcome="admitted"} 1`) ||
		!strings.Contains(out, `tiergate_gate_decisions_total{outcome="rejected"} 1`) {
		t.Fatalf("expected one admit and one reject, got:\n%s", out)
	}
	if !strings.Contains(out, `tiergate_identity_resolutions_total{method="anonymous"} 2`) {
		t.Fatalf("expected two anonymous identities, got:\n%s", out)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tiergate.MetricsSnapshot{
			Counters: map[tiergate.MetricID]uint64{
				tiergate.MetricGateAdmitted:      1000,
				tiergate.MetricGateRejected:      40,
				tiergate.MetricIdentityToken:     800,
				tiergate.MetricIdentityAnonymous: 240,
				tiergate.MetricQuotaTierRule:     800,
				tiergate.MetricQuotaDefault:      240,
			},
			Histograms: map[tiergate.MetricID][]uint64{
				tiergate.MetricAdmitLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
