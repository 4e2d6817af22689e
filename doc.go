// Package authsession keeps a client's authenticated session alive: it
// validates the identity provider's principal, persists the markers that
// let a session survive offline periods and restarts, refreshes the ID
// token before it ages out, and tears everything down when the session
// ends.
//
// A [Manager] is assembled with [Builder] and is safe to call from
// multiple goroutines. Hosts call [Manager.InitializeAuthSession] on every
// principal change reported by their provider (or [Manager.Resume] once at
// start-up) and [Manager.ClearSessionState] on sign-out.
//
// # Architecture boundaries
//
// authsession is the public surface. It exposes [Manager], [Builder],
// [Config], sentinel errors and value types ([Session], [RefreshInfo],
// [MetricsSnapshot]). Retry, validation, token-window arithmetic, the
// session record and the teardown registry live under internal/. The
// refresh scheduler, reachability, identity providers and local stores are
// importable packages so hosts can plug in their own implementations.
//
// # Offline behaviour
//
// While the network is unreachable a session is accepted only from its
// persisted markers, and only if the last successful refresh is younger
// than [PolicyConfig.SessionTimeout]. Such sessions are re-validated when
// connectivity returns.
//
// # What this package must NOT do
//
//   - Return errors from InitializeAuthSession or ValidateSession; every
//     failure degrades to false with the cause in the session log.
//   - Perform I/O during Build.
//   - Import any sub-package that re-imports authsession (no import cycles).
package authsession
