// Package retry runs network-bound operations with bounded attempts,
// per-attempt timeouts and pure exponential backoff.
package retry

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authsession/clock"
	"github.com/MrEthical07/authsession/internal/audit"
)

var (
	// ErrNetworkUnavailable is the attempt failure recorded when the
	// reachability wait before an attempt runs out.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrAttemptTimeout is the attempt failure recorded when an operation
	// does not finish within Options.Timeout.
	ErrAttemptTimeout = errors.New("attempt timed out")
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultTimeout     = 15 * time.Second
)

// Options configures one Do call. Zero fields take the defaults.
type Options struct {
	Operation   string
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Operation == "" {
		o.Operation = "operation"
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Gate is the reachability view the executor consults before each attempt.
type Gate interface {
	IsOnline() bool
	WaitForNetwork(ctx context.Context, timeout time.Duration) bool
}

// Hooks receive executor events, typically for metrics.
type Hooks struct {
	OnAttempt   func(op string, attempt int)
	OnRetry     func(op string, attempt int, delay time.Duration, err error)
	OnExhausted func(op string, err error)
}

// Executor holds the collaborators shared by every Do call.
type Executor struct {
	Gate   Gate
	Clock  clock.Clock
	Logger *audit.Logger
	Hooks  Hooks
}

// Backoff returns the sleep after a failed attempt: base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << uint(attempt-1)
}

type outcome[T any] struct {
	value T
	err   error
}

// Do runs op until it succeeds or MaxAttempts attempts have failed. The
// last attempt's error is returned unmodified. Cancelling ctx aborts the
// loop with ctx.Err().
func Do[T any](ctx context.Context, ex *Executor, op func(context.Context) (T, error), opts Options) (T, error) {
	var zero T
	if ex == nil {
		ex = &Executor{}
	}
	clk := ex.Clock
	if clk == nil {
		clk = clock.Real()
	}
	opts = opts.withDefaults()
	principal := principalFrom(ctx)

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if ex.Hooks.OnAttempt != nil {
			ex.Hooks.OnAttempt(opts.Operation, attempt)
		}
		ex.Logger.Info(ctx, opts.Operation, principal, audit.Detail(
			"attempt", strconv.Itoa(attempt),
			"max_attempts", strconv.Itoa(opts.MaxAttempts),
		))

		value, err := runAttempt(ctx, ex, clk, op, opts)
		if err == nil {
			if attempt > 1 {
				ex.Logger.Success(ctx, opts.Operation, principal, audit.Detail("attempt", strconv.Itoa(attempt)))
			}
			return value, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		lastErr = err

		if attempt == opts.MaxAttempts {
			break
		}

		delay := Backoff(opts.BaseDelay, attempt)
		ex.Logger.Warn(ctx, opts.Operation, principal, err, audit.Detail(
			"attempt", strconv.Itoa(attempt),
			"max_attempts", strconv.Itoa(opts.MaxAttempts),
			"delay_ms", strconv.FormatInt(delay.Milliseconds(), 10),
		))
		if ex.Hooks.OnRetry != nil {
			ex.Hooks.OnRetry(opts.Operation, attempt, delay, err)
		}

		select {
		case <-clk.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	ex.Logger.Error(ctx, opts.Operation, principal, lastErr, audit.Detail(
		"attempt", strconv.Itoa(opts.MaxAttempts),
		"max_attempts", strconv.Itoa(opts.MaxAttempts),
		"exhausted", "true",
	))
	if ex.Hooks.OnExhausted != nil {
		ex.Hooks.OnExhausted(opts.Operation, lastErr)
	}
	return zero, lastErr
}

func runAttempt[T any](ctx context.Context, ex *Executor, clk clock.Clock, op func(context.Context) (T, error), opts Options) (T, error) {
	var zero T
	if ex.Gate != nil && !ex.Gate.IsOnline() {
		if !ex.Gate.WaitForNetwork(ctx, opts.Timeout) {
			return zero, ErrNetworkUnavailable
		}
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered so a late result after a timeout never blocks the worker
	results := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- outcome[T]{err: panicError{value: r}}
			}
		}()
		value, err := op(attemptCtx)
		results <- outcome[T]{value: value, err: err}
	}()

	timer := clk.NewTimer(opts.Timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		return res.value, res.err
	case <-timer.C():
		return zero, ErrAttemptTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return "operation panicked"
}

type principalKey struct{}

// WithPrincipal tags ctx so executor log lines carry the principal id.
func WithPrincipal(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, principalKey{}, principalID)
}

func principalFrom(ctx context.Context) string {
	id, _ := ctx.Value(principalKey{}).(string)
	return id
}
