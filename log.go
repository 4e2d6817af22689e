package authsession

import (
	"io"
	"log/slog"

	"github.com/MrEthical07/authsession/internal/audit"
)

// LogEvent is the structured record emitted by every session component:
// operation name, outcome, principal, trace id, error text and string
// detail. Secrets and tokens are never placed in events.
type LogEvent = audit.Event

// LogOutcome classifies a LogEvent.
type LogOutcome = audit.Outcome

const (
	OutcomeSuccess = audit.OutcomeSuccess
	OutcomeError   = audit.OutcomeError
	OutcomeWarning = audit.OutcomeWarning
	OutcomeInfo    = audit.OutcomeInfo
)

// LogSink receives events from the Manager's background dispatcher.
// Emit runs on a single goroutine and must not panic; a panicking sink
// is recovered and the event dropped.
type LogSink = audit.Sink

// NoOpSink discards every event.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers events into a buffered channel, typically for tests.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per event line.
type JSONWriterSink = audit.JSONWriterSink

// SlogSink forwards events to a *slog.Logger at a level derived from the
// outcome.
type SlogSink = audit.SlogSink

// NewChannelSink creates a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogSink creates a SlogSink. A nil logger uses slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return audit.NewSlogSink(logger)
}
