// Package refresh schedules proactive ID token refreshes for an
// authenticated principal.
//
// # Timing
//
// A refresh fires RefreshThreshold before the token would leave its
// SessionTimeout window, measured from the token's issuance time. A token
// already inside that band is refreshed immediately. After each refresh
// the next one is scheduled from the new token's issuance time.
//
// # Failure handling
//
// Every refresh runs through the retry executor. An exhausted retry is
// reported to the error callback and the scheduler tries again after
// RetryDelay; it never stops on its own.
//
// # Architecture boundaries
//
// This package owns the schedule loop and its cancellation. Token
// retrieval lives in internal/flows, persistence in internal/state.
//
// # What this package must NOT do
//
//   - Clear session state on refresh failure.
//   - Deliver callbacks after its Handle was cancelled.
//   - Import authsession.
package refresh
