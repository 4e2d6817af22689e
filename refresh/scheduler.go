package refresh

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authsession/clock"
	"github.com/MrEthical07/authsession/identity"
	"github.com/MrEthical07/authsession/internal/audit"
	"github.com/MrEthical07/authsession/internal/flows"
	"github.com/MrEthical07/authsession/internal/retry"
	"github.com/MrEthical07/authsession/internal/tokenwindow"
)

// DefaultRetryDelay is the pause after a failed refresh or claims read.
const DefaultRetryDelay = 30 * time.Second

// Recorder persists a successful refresh.
type Recorder interface {
	RecordRefresh(ctx context.Context, principalID, role string, expiresAt time.Time) error
}

// Config wires a Scheduler. Executor and Clock are required.
type Config struct {
	Policy     tokenwindow.Policy
	Clock      clock.Clock
	Executor   *retry.Executor
	State      Recorder
	Logger     *audit.Logger
	RetryDelay time.Duration
	Retry      retry.Options
	// OnScheduled, when set, is told every computed delay.
	OnScheduled func(principalID string, delay time.Duration)
	// OnResult, when set, sees every finished refresh with its duration,
	// including ones whose Handle was cancelled meanwhile.
	OnResult func(principalID string, elapsed time.Duration, err error)
}

// Scheduler runs at most one refresh loop per principal.
type Scheduler struct {
	cfg Config

	mu      sync.Mutex
	handles map[string]*Handle
}

func New(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Retry.Operation == "" {
		cfg.Retry.Operation = "token_refresh"
	}
	if cfg.Policy == (tokenwindow.Policy{}) {
		cfg.Policy = tokenwindow.DefaultPolicy()
	}
	return &Scheduler{cfg: cfg, handles: make(map[string]*Handle)}
}

// Handle controls one running refresh loop.
type Handle struct {
	principalID string
	cancel      context.CancelFunc
	done        chan struct{}
	cancelled   atomic.Bool
}

// Cancel stops the loop. Further calls are no-ops. A refresh already in
// flight runs to completion and is logged, but its result is discarded.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.cancelled.Store(true)
	h.cancel()
}

// Done is closed once the loop goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) deliver(fn func()) {
	if h.cancelled.Load() {
		return
	}
	fn()
}

// Start begins refreshing principal. A loop already running for the same
// principal is cancelled first. onRefresh and onError may be nil.
func (s *Scheduler) Start(ctx context.Context, principal identity.Principal, onRefresh func(flows.RefreshResult), onError func(error)) *Handle {
	loopCtx, cancel := context.WithCancel(ctx)
	h := &Handle{principalID: principal.UID(), cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if prev := s.handles[h.principalID]; prev != nil {
		prev.Cancel()
	}
	s.handles[h.principalID] = h
	s.mu.Unlock()

	go func() {
		defer close(h.done)
		defer s.forget(h)
		s.loop(retry.WithPrincipal(loopCtx, h.principalID), h, principal, onRefresh, onError)
	}()
	return h
}

// Stop cancels the loop for principalID, if any.
func (s *Scheduler) Stop(principalID string) {
	s.mu.Lock()
	h := s.handles[principalID]
	delete(s.handles, principalID)
	s.mu.Unlock()
	h.Cancel()
}

// StopAll cancels every loop.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[string]*Handle)
	s.mu.Unlock()
	for _, h := range handles {
		h.Cancel()
	}
}

// Active reports whether a loop is running for principalID.
func (s *Scheduler) Active(principalID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[principalID] != nil
}

func (s *Scheduler) forget(h *Handle) {
	s.mu.Lock()
	if s.handles[h.principalID] == h {
		delete(s.handles, h.principalID)
	}
	s.mu.Unlock()
}

func (s *Scheduler) loop(ctx context.Context, h *Handle, principal identity.Principal, onRefresh func(flows.RefreshResult), onError func(error)) {
	uid := h.principalID
	refreshed := false
	for {
		issuedAt, err := flows.TokenIssuedAt(ctx, principal)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.cfg.Logger.Warn(ctx, "refresh_schedule", uid, err, audit.Detail(
				"retry_in", s.cfg.RetryDelay.String(),
			))
			if !s.wait(ctx, s.cfg.RetryDelay) {
				return
			}
			continue
		}

		delay := s.cfg.Policy.RefreshDelay(issuedAt, s.cfg.Clock.Now())
		if delay <= 0 && refreshed {
			// the provider handed back a token no newer than the last one
			delay = s.cfg.RetryDelay
		}
		s.cfg.Logger.Info(ctx, "refresh_schedule", uid, audit.Detail(
			"issued_at", issuedAt.UTC().Format(time.RFC3339),
			"delay", delay.String(),
		))
		if s.cfg.OnScheduled != nil {
			s.cfg.OnScheduled(uid, delay)
		}
		if !s.wait(ctx, delay) {
			return
		}

		// Cancel must not interrupt a refresh already in flight.
		refreshCtx := context.WithoutCancel(ctx)
		started := s.cfg.Clock.Now()
		result, err := retry.Do(refreshCtx, s.cfg.Executor, func(ctx context.Context) (flows.RefreshResult, error) {
			return flows.RunRefreshToken(ctx, principal)
		}, s.cfg.Retry)
		if s.cfg.OnResult != nil {
			s.cfg.OnResult(uid, s.cfg.Clock.Now().Sub(started), err)
		}
		if h.cancelled.Load() || ctx.Err() != nil {
			s.cfg.Logger.Info(refreshCtx, "token_refresh", uid, audit.Detail(
				"result", "discarded",
				"refresh_ok", strconv.FormatBool(err == nil),
			))
			return
		}
		if err != nil {
			refreshed = false
			err = fmt.Errorf("%w: %w", flows.ErrTokenRefreshFailed, err)
			s.cfg.Logger.Error(ctx, "token_refresh", uid, err, nil)
			if onError != nil {
				h.deliver(func() { onError(err) })
			}
			if !s.wait(ctx, s.cfg.RetryDelay) {
				return
			}
			continue
		}

		refreshed = true
		if s.cfg.State != nil {
			_ = s.cfg.State.RecordRefresh(ctx, uid, result.Role, result.ExpiresAt)
		}
		s.cfg.Logger.Success(ctx, "token_refresh", uid, audit.Detail(
			"issued_at", result.IssuedAt.UTC().Format(time.RFC3339),
		))
		if onRefresh != nil {
			h.deliver(func() { onRefresh(result) })
		}
	}
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := s.cfg.Clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
		return true
	case <-ctx.Done():
		return false
	}
}
