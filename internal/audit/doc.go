// Package audit implements async event dispatching for security-relevant operations.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, log, fan-out, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics
//     and a minimum-severity filter.
//   - [Event]: structured audit record with id, timestamp, severity, user, client and metadata.
//
// # What this package must NOT do
//
//   - Decide which events to emit; components and flows do that.
//   - Import authcore or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
