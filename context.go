package authsession

import (
	"context"

	"github.com/MrEthical07/authsession/internal/audit"
	"github.com/google/uuid"
)

// WithTraceID attaches a trace identifier to ctx. Every log event emitted
// while serving the call carries it. When absent, the Manager generates a
// random one per entry point call.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return audit.WithTraceID(ctx, traceID)
}

// TraceID returns the trace identifier attached to ctx, if any.
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	return audit.TraceID(ctx)
}

func ensureTraceID(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if audit.TraceID(ctx) != "" {
		return ctx
	}
	return audit.WithTraceID(ctx, uuid.NewString())
}
