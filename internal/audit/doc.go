// Package audit implements async event dispatching for gate decisions that operators
// need to see: fail-open admissions, rejections, and authentication failures.
//
// # Components
//
//   - [Sink] interface for event consumers (channel, JSON writer, no-op).
//   - [Dispatcher] buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event] structured record with a UUID, timestamp, type, identity key, IP and path.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the Engine does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import tiergate or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
