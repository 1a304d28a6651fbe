// Package otel publishes engine metrics through OpenTelemetry.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter family
// ("tiergate.gate.decisions", "tiergate.auth.failures", ...). Family members are
// separate attribute sets on the same instrument, keyed by the family's label
// (outcome, method, reason or source). Admit latency is a gauge with an "le"
// attribute per cumulative bucket plus a count. A single callback reads
// [tiergate.Engine.MetricsSnapshot] on each collection cycle.
//
// [Points] flattens a collected [metricdata.ResourceMetrics] for callers that serve
// the values themselves, such as a JSON snapshot endpoint.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
