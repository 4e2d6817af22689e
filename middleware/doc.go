// Package middleware gates HTTP handlers, typically a client's local UI or
// loopback API, on the state of an authsession.Manager.
//
// # Guards
//
//   - [RequireSession]: trusts the in-memory session record, no I/O.
//   - [RequireStrict]: re-validates the provider's current principal per
//     request.
//
// Each guard attaches the session record to the request context, readable
// through [SessionFromContext].
//
// # What this package must NOT do
//
//   - Touch tokens or local stores directly (the Manager owns them).
//   - Make authorization decisions beyond pass/reject.
package middleware
