// Package internaldefs groups engine counters into labelled families and holds the
// latency bucket bounds, so the Prometheus and OTel exporters expose the same series
// under their own naming conventions.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
