package audit

import (
	"context"
	"time"

	"github.com/MrEthical07/authsession/clock"
)

type traceKey struct{}

// WithTraceID attaches a trace identifier that every event emitted under
// ctx will carry.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceID returns the trace identifier attached to ctx, if any.
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// Logger stamps and forwards events to a Dispatcher. A nil Logger, or one
// built over a nil Dispatcher, discards everything.
type Logger struct {
	dispatcher *Dispatcher
	clock      clock.Clock
}

func NewLogger(d *Dispatcher, c clock.Clock) *Logger {
	if c == nil {
		c = clock.Real()
	}
	return &Logger{dispatcher: d, clock: c}
}

// Log emits one event. It never blocks when the dispatcher drops on a
// full buffer and never returns an error.
func (l *Logger) Log(ctx context.Context, op string, outcome Outcome, principalID string, err error, detail map[string]string) {
	if l == nil || l.dispatcher == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	event := Event{
		Timestamp:   l.now(),
		Operation:   op,
		Outcome:     outcome,
		PrincipalID: principalID,
		TraceID:     TraceID(ctx),
		Detail:      detail,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.dispatcher.Emit(ctx, event)
}

func (l *Logger) Info(ctx context.Context, op, principalID string, detail map[string]string) {
	l.Log(ctx, op, OutcomeInfo, principalID, nil, detail)
}

func (l *Logger) Success(ctx context.Context, op, principalID string, detail map[string]string) {
	l.Log(ctx, op, OutcomeSuccess, principalID, nil, detail)
}

func (l *Logger) Warn(ctx context.Context, op, principalID string, err error, detail map[string]string) {
	l.Log(ctx, op, OutcomeWarning, principalID, err, detail)
}

func (l *Logger) Error(ctx context.Context, op, principalID string, err error, detail map[string]string) {
	l.Log(ctx, op, OutcomeError, principalID, err, detail)
}

func (l *Logger) now() time.Time {
	if l.clock == nil {
		return time.Now()
	}
	return l.clock.Now()
}

// Detail builds a detail map from alternating key/value pairs. A trailing
// key without a value is ignored.
func Detail(kv ...string) map[string]string {
	if len(kv) < 2 {
		return nil
	}
	out := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}
