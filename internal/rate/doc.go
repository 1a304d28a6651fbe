// Package rate provides the Redis-backed fixed-window counter that acts as the shared
// rate-limit ledger for the gate.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional PEXPIRE on the first hit, executed as one
// Lua script so concurrent callers can never observe a false "first" state or reset the
// window expiry. Keys have the layout
//
//	<prefix>:<identity key>:<canonical path>
//
// and are never deleted by this package; Redis expiry ends every window.
//
// # What this package must NOT do
//
//   - Resolve identities or quotas (those live in the root package).
//   - Decide the open/closed failure policy. Store errors are returned wrapped in
//     [ErrRedisUnavailable] and the caller chooses.
//   - Be imported outside the tiergate module.
package rate
