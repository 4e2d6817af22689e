package authsession

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/authsession/clock"
	"github.com/MrEthical07/authsession/identity"
	"github.com/MrEthical07/authsession/internal/audit"
	"github.com/MrEthical07/authsession/internal/cleanup"
	"github.com/MrEthical07/authsession/internal/flows"
	"github.com/MrEthical07/authsession/internal/retry"
	"github.com/MrEthical07/authsession/internal/state"
	"github.com/MrEthical07/authsession/localstore"
	"github.com/MrEthical07/authsession/reachability"
	"github.com/MrEthical07/authsession/refresh"
)

// Manager owns one client's session: the in-memory record, the persisted
// markers, the refresh schedule and the teardowns that end it.
//
// Manager methods are safe for concurrent use. Independent Managers share
// no state.
type Manager struct {
	config   Config
	clock    clock.Clock
	provider identity.Provider
	oracle   reachability.Oracle
	gate     *reachability.Gate

	state     *state.Store
	executor  *retry.Executor
	scheduler *refresh.Scheduler
	cleanup   *cleanup.Registry

	dispatcher *audit.Dispatcher
	log        *audit.Logger
	metrics    *Metrics

	onRefresh      func(RefreshInfo)
	onRefreshError func(principalID string, err error)

	// lifetime of background work: refresh loops and reconnect re-validation
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active string
	closed bool
}

// Session is a copy of the in-memory session record. An empty PrincipalID
// or zero LastRefreshAt means "not set".
type Session struct {
	Initialized   bool
	Authenticated bool
	PrincipalID   string
	LastRefreshAt time.Time
}

// RefreshInfo describes a successful scheduled refresh.
type RefreshInfo struct {
	PrincipalID string
	Token       string
	Role        string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type managerDeps struct {
	provider       identity.Provider
	session        localstore.Store
	durable        localstore.Store
	cookies        localstore.CookieJar
	oracle         reachability.Oracle
	logSink        LogSink
	clock          clock.Clock
	onRefresh      func(RefreshInfo)
	onRefreshError func(principalID string, err error)
}

func newManager(cfg Config, deps managerDeps) *Manager {
	clk := deps.clock
	if clk == nil {
		clk = clock.Real()
	}
	if deps.session == nil {
		deps.session = localstore.NewMemory()
	}

	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Log.Enabled,
		BufferSize: cfg.Log.BufferSize,
		DropIfFull: cfg.Log.DropIfFull,
	}, deps.logSink)
	logger := audit.NewLogger(dispatcher, clk)
	metrics := NewMetrics(cfg.Metrics)

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:         cfg,
		clock:          clk,
		provider:       deps.provider,
		oracle:         deps.oracle,
		gate:           reachability.NewGate(deps.oracle, clk),
		dispatcher:     dispatcher,
		log:            logger,
		metrics:        metrics,
		onRefresh:      deps.onRefresh,
		onRefreshError: deps.onRefreshError,
		ctx:            ctx,
		cancel:         cancel,
	}

	m.state = state.New(state.Config{
		Session: deps.session,
		Durable: deps.durable,
		Cookies: deps.cookies,
		Clock:   clk,
		Logger:  logger,
	})
	m.executor = &retry.Executor{
		Gate:   m.gate,
		Clock:  clk,
		Logger: logger,
		Hooks: retry.Hooks{
			OnAttempt: func(string, int) { metrics.Inc(MetricRetryAttempt) },
			OnRetry:   func(string, int, time.Duration, error) { metrics.Inc(MetricRetryBackoff) },
			OnExhausted: func(string, error) {
				metrics.Inc(MetricRetryExhausted)
			},
		},
	}
	m.cleanup = cleanup.New(logger, func(string, error) {
		metrics.Inc(MetricCleanupFailure)
	})
	m.scheduler = refresh.New(refresh.Config{
		Policy:     cfg.policy(),
		Clock:      clk,
		Executor:   m.executor,
		State:      m.state,
		Logger:     logger,
		RetryDelay: cfg.Scheduler.RetryDelay,
		Retry:      cfg.retryOptions("token_refresh"),
		OnResult: func(_ string, elapsed time.Duration, err error) {
			metrics.Observe(MetricRefreshLatency, elapsed)
			if err != nil {
				metrics.Inc(MetricTokenRefreshFailure)
				return
			}
			metrics.Inc(MetricTokenRefreshSuccess)
		},
	})
	return m
}

// InitializeAuthSession is called on every principal change reported by
// the identity provider. It ends any previously active session, validates
// principal and, on success, starts the refresh schedule. A nil principal
// clears all local session state.
//
// It never returns an error: every failure degrades to false, with the
// cause in the session log.
func (m *Manager) InitializeAuthSession(ctx context.Context, principal identity.Principal) bool {
	ctx = ensureTraceID(ctx)
	if m.isClosed() {
		m.log.Warn(ctx, "initialize_session", "", ErrManagerClosed, nil)
		return false
	}

	if prev := m.takeActive(); prev != "" {
		m.runCleanup(ctx, prev)
	}

	res := m.validate(ctx, principal)
	if !res.OK() {
		return false
	}

	uid := principal.UID()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.active = uid
	m.mu.Unlock()

	if m.config.Scheduler.Enabled {
		m.startSchedule(ctx, principal)
	}
	if res.Path == flows.ValidatePathOfflineCache {
		m.watchReconnect(ctx, principal)
	}
	return true
}

// ValidateSession re-runs validation for principal without touching the
// refresh schedule. When validation clears the session, the principal's
// teardowns run as well.
func (m *Manager) ValidateSession(ctx context.Context, principal identity.Principal) bool {
	ctx = ensureTraceID(ctx)
	if m.isClosed() {
		m.log.Warn(ctx, "validate_session", "", ErrManagerClosed, nil)
		return false
	}
	return m.validate(ctx, principal).OK()
}

// Resume initializes the session for the provider's current principal,
// typically at process start. The principal recorded in the durable store
// is compared and a change is logged.
func (m *Manager) Resume(ctx context.Context) bool {
	ctx = ensureTraceID(ctx)
	principal := m.provider.CurrentPrincipal(ctx)

	last, ok, err := m.state.LastPrincipal(ctx)
	switch {
	case err != nil:
		m.log.Warn(ctx, "resume_session", "", err, nil)
	case ok && principal != nil && last != principal.UID():
		m.log.Info(ctx, "resume_session", principal.UID(), audit.Detail("result", "principal_changed"))
	case ok && principal == nil:
		m.log.Info(ctx, "resume_session", last, audit.Detail("result", "signed_out"))
	}
	return m.InitializeAuthSession(ctx, principal)
}

// ClearSessionState ends every session: teardowns run, persisted markers
// in every scope are erased, cookies are expired and the record is reset.
// It is best effort and never fails.
func (m *Manager) ClearSessionState(ctx context.Context) {
	ctx = ensureTraceID(ctx)
	m.takeActive()
	n := m.cleanup.RunAll(ctx)
	m.countCleanup(n)
	m.state.Clear(ctx)
	m.metrics.Inc(MetricSessionCleared)
}

// Snapshot returns a copy of the session record.
func (m *Manager) Snapshot() Session {
	rec := m.state.Get()
	return Session{
		Initialized:   rec.Initialized,
		Authenticated: rec.Authenticated,
		PrincipalID:   rec.PrincipalID,
		LastRefreshAt: rec.LastRefreshAt,
	}
}

// ActivePrincipal returns the principal whose session is running.
func (m *Manager) ActivePrincipal() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != ""
}

// Metrics exposes the Manager's counters.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// MetricsSnapshot returns a point-in-time copy of every metric.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}, Histograms: map[MetricID][]uint64{}}
	}
	return m.metrics.Snapshot()
}

// LogDropped returns how many log events were dropped because the
// dispatcher buffer was full.
func (m *Manager) LogDropped() uint64 {
	if m == nil {
		return 0
	}
	return m.dispatcher.Dropped()
}

// Close stops every refresh loop and reconnect watcher, runs pending
// teardowns and flushes the log. Persisted markers are kept so the next
// process can Resume. Close is idempotent.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.active = ""
	m.mu.Unlock()

	m.cancel()
	ctx := context.Background()
	m.countCleanup(m.cleanup.RunAll(ctx))
	m.scheduler.StopAll()
	m.wg.Wait()
	m.log.Info(ctx, "manager_close", "", nil)
	m.dispatcher.Close()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) takeActive() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.active
	m.active = ""
	return prev
}

func (m *Manager) validate(ctx context.Context, principal identity.Principal) flows.ValidateResult {
	started := m.clock.Now()
	if principal != nil {
		ctx = retry.WithPrincipal(ctx, principal.UID())
	}
	res := flows.RunValidateSession(ctx, principal, flows.ValidateDeps{
		Gate:         m.gate,
		State:        m.state,
		Policy:       m.config.policy(),
		Now:          m.clock.Now,
		NetworkWait:  m.config.Network.ValidationWait,
		ForceRefresh: m.forceRefresh,
		Logger:       m.log,
	})
	m.metrics.Observe(MetricValidateLatency, m.clock.Now().Sub(started))
	m.recordValidation(res)

	if res.Cleared {
		m.metrics.Inc(MetricSessionCleared)
		if res.PrincipalID != "" {
			m.endSession(ctx, res.PrincipalID)
		}
	}
	return res
}

func (m *Manager) forceRefresh(ctx context.Context, p identity.Principal) (string, error) {
	return retry.Do(ctx, m.executor, func(ctx context.Context) (string, error) {
		return p.IDToken(ctx, true)
	}, m.config.retryOptions("force_refresh"))
}

func (m *Manager) recordValidation(res flows.ValidateResult) {
	switch res.Path {
	case flows.ValidatePathOnline:
		m.metrics.Inc(MetricValidateSuccess)
	case flows.ValidatePathOfflineCache:
		m.metrics.Inc(MetricValidateOfflineAccepted)
	case flows.ValidatePathCacheTrusted:
		m.metrics.Inc(MetricValidateCacheTrusted)
	}
	if res.OK() {
		return
	}
	m.metrics.Inc(MetricValidateFailure)
	switch res.Failure {
	case flows.ValidateFailureOfflineExpired:
		m.metrics.Inc(MetricValidateOfflineRejected)
	case flows.ValidateFailureExpired, flows.ValidateFailureInvalidTimestamp:
		m.metrics.Inc(MetricValidateExpired)
	}
}

func (m *Manager) startSchedule(ctx context.Context, principal identity.Principal) {
	uid := principal.UID()
	loopCtx := audit.WithTraceID(m.ctx, TraceID(ctx))
	h := m.scheduler.Start(loopCtx, principal,
		func(r flows.RefreshResult) {
			if m.onRefresh != nil {
				m.onRefresh(RefreshInfo{
					PrincipalID: uid,
					Token:       r.Token,
					Role:        r.Role,
					IssuedAt:    r.IssuedAt,
					ExpiresAt:   r.ExpiresAt,
				})
			}
		},
		func(err error) {
			if m.onRefreshError != nil {
				m.onRefreshError(uid, err)
			}
		},
	)
	m.cleanup.Register(uid, func() error {
		h.Cancel()
		return nil
	})
}

// watchReconnect re-validates a session accepted from cached markers once
// the network comes back.
func (m *Manager) watchReconnect(ctx context.Context, principal identity.Principal) {
	if m.oracle == nil || !m.config.Network.RevalidateOnReconnect {
		return
	}
	uid := principal.UID()
	traceCtx := audit.WithTraceID(m.ctx, TraceID(ctx))

	var once sync.Once
	trigger := func() {
		once.Do(func() {
			m.mu.Lock()
			if m.closed {
				m.mu.Unlock()
				return
			}
			m.wg.Add(1)
			m.mu.Unlock()
			go m.revalidate(traceCtx, principal)
		})
	}
	unsubscribe := m.oracle.Subscribe(trigger)
	m.cleanup.Register(uid, func() error {
		unsubscribe()
		return nil
	})
	m.log.Info(ctx, "reconnect_watch", uid, nil)

	if m.oracle.IsOnline() {
		trigger()
	}
}

func (m *Manager) revalidate(ctx context.Context, principal identity.Principal) {
	defer m.wg.Done()
	uid := principal.UID()
	if active, _ := m.ActivePrincipal(); active != uid {
		return
	}
	m.metrics.Inc(MetricReconnectRevalidation)
	m.log.Info(ctx, "reconnect_revalidate", uid, nil)

	res := m.validate(ctx, principal)
	if res.Path == flows.ValidatePathOfflineCache {
		m.watchReconnect(ctx, principal)
	}
}

// endSession runs principalID's teardowns and forgets it as active.
func (m *Manager) endSession(ctx context.Context, principalID string) {
	m.mu.Lock()
	if m.active == principalID {
		m.active = ""
	}
	m.mu.Unlock()
	m.runCleanup(ctx, principalID)
}

func (m *Manager) runCleanup(ctx context.Context, principalID string) {
	n := m.cleanup.Run(ctx, principalID)
	m.countCleanup(n)
	if n > 0 {
		m.log.Info(ctx, "session_end", principalID, audit.Detail("teardowns", strconv.Itoa(n)))
	}
}

func (m *Manager) countCleanup(n int) {
	for i := 0; i < n; i++ {
		m.metrics.Inc(MetricCleanupRun)
	}
}
