// Package prometheus renders engine metrics in Prometheus text exposition format.
//
// [NewPrometheusExporter] wraps a [tiergate.Engine] and exposes an [http.Handler].
// Counters are grouped into labelled families such as
// tiergate_gate_decisions_total{outcome="rejected"}; the single histogram is
// tiergate_admit_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
