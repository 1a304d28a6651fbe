// Package tiergate is a per-request rate gate for web backends. For every request it
// identifies the caller (bearer token, API key, or anonymous by client address),
// resolves a per-tier, per-path quota, and enforces a fixed window against a shared
// Redis counter.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// tiergate is the public surface. It exposes [Engine], [Builder], [Config], the
// [Directory] contract, and value types ([Identity], [Quota], [Decision]). The Redis
// counter script and audit dispatch live under internal/ and are never exported. Path
// normalization lives in the route package; token verification in the jwt package.
//
// # Failure policy
//
// [Engine.Admit] never hides a counter store outage: it returns [ErrStoreUnavailable].
// [Engine.Check] then applies Config.Gate.FailurePolicy. The default, [FailOpen],
// admits the request with Decision.Degraded set and raises an alert through the
// logger, MetricGateFailOpen and an audit event.
//
// # What this package must NOT do
//
//   - Issue tokens, hash passwords, or manage sessions.
//   - Write to the directory. Identity and quota resolution are lookups only.
//   - Delete counters. Redis expiry ends every window.
//   - Import any sub-package that re-imports tiergate (no import cycles).
//
// # Performance contract
//
// Check costs one token verification, a bounded number of directory point lookups
// (revocation, user, API key user, tier, rule; never a scan) and one Redis round trip.
package tiergate
