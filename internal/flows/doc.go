// Package flows contains the pure-function orchestrators behind the Manager.
//
// Each flow accepts a typed dependency struct and returns a result carrying
// a failure kind, so the Manager can map outcomes to metrics and a boolean
// verdict without inspecting error strings.
//
// # Architecture boundaries
//
// Flows coordinate the reachability gate, the token window policy, the
// state store and the identity provider. They do NOT own any of these; the
// Manager does.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authsession (to avoid import cycles).
//   - Start goroutines or timers.
package flows
