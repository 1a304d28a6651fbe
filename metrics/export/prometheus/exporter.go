package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/tiergate"
	"github.com/MrEthical07/tiergate/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() tiergate.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders engine metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates a Prometheus exporter that reads from engine.
func NewPrometheusExporter(engine *tiergate.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource creates a Prometheus exporter from any value that
// provides snapshots.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current metrics in Prometheus text exposition format. It returns
// "" when metrics are disabled.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)

	for _, f := range internaldefs.Families {
		writeHeader(&b, f.Name, f.Help, "counter")
		for _, m := range f.Members {
			writeSample(&b, f.Name, f.Label, m.Value, snapshot.Counters[m.ID])
		}
	}

	if raw, ok := snapshot.Histograms[internaldefs.AdmitLatency.ID]; ok {
		writeLatency(&b, internaldefs.CumulativeBuckets(raw))
	}

	writeHeader(&b, internaldefs.AuditDropped.Name, internaldefs.AuditDropped.Help, "counter")
	writeSample(&b, internaldefs.AuditDropped.Name, "", "", dropped)

	return b.String()
}

func writeLatency(b *strings.Builder, cumulative [8]uint64) {
	name := internaldefs.AdmitLatency.Name
	writeHeader(b, name, internaldefs.AdmitLatency.Help, "histogram")
	for i, le := range internaldefs.LatencyBounds {
		writeSample(b, name+"_bucket", "le", internaldefs.FormatBound(le), cumulative[i])
	}
	writeSample(b, name+"_count", "", "", cumulative[len(cumulative)-1])
	// Snapshots carry bucket counts only.
	writeSample(b, name+"_sum", "", "", 0)
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteString("\n# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

// writeSample writes one line. An empty label writes the bare series name.
func writeSample(b *strings.Builder, name, label, value string, v uint64) {
	b.WriteString(name)
	if label != "" {
		b.WriteByte('{')
		b.WriteString(label)
		b.WriteString(`="`)
		b.WriteString(value)
		b.WriteString(`"}`)
	}
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(v, 10))
	b.WriteByte('\n')
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
