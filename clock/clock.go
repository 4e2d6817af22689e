// Package clock abstracts time for the session lifecycle components.
//
// Production code uses Real(). Tests use Fake() and drive time with
// Advance, which keeps backoff sleeps, attempt timeouts and refresh
// timers deterministic.
package clock

import "time"

// Clock is the time source every component receives instead of calling
// the time package directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a one-shot Timer firing after d.
	NewTimer(d time.Duration) Timer

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Timer is a stoppable one-shot timer.
type Timer interface {
	// C delivers the fire time. It is buffered with capacity 1.
	C() <-chan time.Time

	// Stop prevents the timer from firing. It reports whether the call
	// stopped an armed timer.
	Stop() bool
}

// Since returns the time elapsed since t according to c.
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}
