// Package audit carries the structured session log.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, slog, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Logger]: stamps events with time and trace id and hands them to the dispatcher.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which
// events to emit; the flows, the scheduler and the Manager do.
//
// # What this package must NOT do
//
//   - Return errors to callers or block them when DropIfFull is set.
//   - Import authsession or any sibling internal package.
package audit
