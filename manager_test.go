package authsession

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/MrEthical07/authsession/clock"
	"github.com/MrEthical07/authsession/identity"
	"github.com/MrEthical07/authsession/jwt"
	"github.com/MrEthical07/authsession/localstore"
	"github.com/MrEthical07/authsession/reachability"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var epoch = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

type managerHarness struct {
	clock     *clock.FakeClock
	provider  *identity.Local
	signal    *reachability.Signal
	session   *localstore.Memory
	durable   *localstore.Memory
	cookies   *localstore.MemoryCookies
	sink      *ChannelSink
	manager   *Manager
	refreshed chan RefreshInfo
	failures  chan error
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Network.ValidationWait = 0
	cfg.Retry.MaxAttempts = 1
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newManagerHarness(t *testing.T, mutate func(*Builder)) *managerHarness {
	t.Helper()
	fake := clock.Fake(epoch)
	issuer, err := jwt.NewManager(jwt.Config{
		TTL:           time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	}, fake.Now)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	h := &managerHarness{
		clock:     fake,
		provider:  identity.NewLocal(issuer),
		signal:    reachability.NewSignal(true),
		session:   localstore.NewMemory(),
		durable:   localstore.NewMemory(),
		cookies:   localstore.NewMemoryCookies(fake.Now),
		sink:      NewChannelSink(4096),
		refreshed: make(chan RefreshInfo, 8),
		failures:  make(chan error, 8),
	}

	b := New().
		WithConfig(testConfig()).
		WithIdentityProvider(h.provider).
		WithSessionStore(h.session).
		WithDurableStore(h.durable).
		WithCookies(h.cookies).
		WithReachability(h.signal).
		WithLogSink(h.sink).
		WithClock(fake).
		WithRefreshHandler(func(info RefreshInfo) { h.refreshed <- info }).
		WithRefreshErrorHandler(func(_ string, err error) { h.failures <- err })
	if mutate != nil {
		mutate(b)
	}

	m, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h.manager = m
	t.Cleanup(m.Close)
	return h
}

func (h *managerHarness) signIn(t *testing.T, uid, role string) identity.Principal {
	t.Helper()
	p, err := h.provider.SignIn(uid, role)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	return p
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBuilderRequiresProvider(t *testing.T) {
	if _, err := New().Build(); !errors.Is(err, ErrProviderRequired) {
		t.Fatalf("expected ErrProviderRequired, got %v", err)
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithIdentityProvider(identity.NewLocal(nil))
	m, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer m.Close()
	if _, err := b.Build(); !errors.Is(err, ErrBuilderUsed) {
		t.Fatalf("expected ErrBuilderUsed, got %v", err)
	}
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Policy.SessionTimeout = 0
	_, err := New().WithConfig(cfg).WithIdentityProvider(identity.NewLocal(nil)).Build()
	if err == nil {
		t.Fatal("expected config error")
	}
}

func TestInitializeAuthSessionStartsRefreshSchedule(t *testing.T) {
	h := newManagerHarness(t, nil)
	p := h.signIn(t, "u1", "admin")

	if !h.manager.InitializeAuthSession(context.Background(), p) {
		t.Fatal("expected session to initialize")
	}
	snap := h.manager.Snapshot()
	if !snap.Initialized || !snap.Authenticated || snap.PrincipalID != "u1" || !snap.LastRefreshAt.Equal(epoch) {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if uid, ok := h.manager.ActivePrincipal(); !ok || uid != "u1" {
		t.Fatalf("unexpected active principal: %q", uid)
	}
	if n := h.manager.cleanup.Len("u1"); n != 1 {
		t.Fatalf("expected schedule teardown registered, got %d", n)
	}

	h.clock.WaitForTimers(1)
	h.clock.Advance(50 * time.Minute)
	select {
	case info := <-h.refreshed:
		if info.PrincipalID != "u1" || info.Role != "admin" || !info.IssuedAt.Equal(epoch.Add(50*time.Minute)) {
			t.Fatalf("unexpected refresh: %+v", info)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled refresh did not fire")
	}

	msnap := h.manager.MetricsSnapshot()
	if msnap.Counters[MetricValidateSuccess] != 1 || msnap.Counters[MetricTokenRefreshSuccess] != 1 {
		t.Fatalf("unexpected counters: %+v", msnap.Counters)
	}
	eventually(t, func() bool {
		return h.manager.Snapshot().LastRefreshAt.Equal(epoch.Add(50 * time.Minute))
	}, "refresh not recorded in session state")
}

func TestInitializeNilPrincipalClearsState(t *testing.T) {
	h := newManagerHarness(t, nil)
	p := h.signIn(t, "u1", "admin")
	if !h.manager.InitializeAuthSession(context.Background(), p) {
		t.Fatal("expected session to initialize")
	}

	if h.manager.InitializeAuthSession(context.Background(), nil) {
		t.Fatal("nil principal must not validate")
	}
	want := Session{Initialized: true}
	if got := h.manager.Snapshot(); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if h.manager.cleanup.Len("u1") != 0 {
		t.Fatal("previous principal's teardowns not run")
	}
	if h.session.Len() != 0 || h.durable.Len() != 0 {
		t.Fatal("persisted markers not cleared")
	}
}

func TestInitializeReplacesPreviousPrincipal(t *testing.T) {
	h := newManagerHarness(t, nil)
	p1 := h.signIn(t, "u1", "admin")
	if !h.manager.InitializeAuthSession(context.Background(), p1) {
		t.Fatal("expected u1 to initialize")
	}
	p2 := h.signIn(t, "u2", "viewer")
	if !h.manager.InitializeAuthSession(context.Background(), p2) {
		t.Fatal("expected u2 to initialize")
	}

	if h.manager.cleanup.Len("u1") != 0 {
		t.Fatal("u1 teardowns still registered")
	}
	eventually(t, func() bool { return !h.manager.scheduler.Active("u1") }, "u1 schedule still running")
	if uid, _ := h.manager.ActivePrincipal(); uid != "u2" {
		t.Fatalf("expected u2 active, got %q", uid)
	}
	if h.manager.MetricsSnapshot().Counters[MetricCleanupRun] != 1 {
		t.Fatal("expected one teardown run")
	}
}

func TestOfflineSessionRevalidatesOnReconnect(t *testing.T) {
	h := newManagerHarness(t, nil)
	p := h.signIn(t, "u1", "admin")
	if !h.manager.InitializeAuthSession(context.Background(), p) {
		t.Fatal("expected online initialization")
	}

	h.clock.Advance(10 * time.Minute)
	h.signal.SetOnline(false)
	if !h.manager.InitializeAuthSession(context.Background(), p) {
		t.Fatal("expected offline cache acceptance")
	}
	if n := h.provider.Refreshes("u1"); n != 1 {
		t.Fatalf("provider contacted while offline: %d refreshes", n)
	}
	if n := h.manager.cleanup.Len("u1"); n != 2 {
		t.Fatalf("expected schedule and reconnect teardowns, got %d", n)
	}
	if n := h.signal.Subscribers(); n != 1 {
		t.Fatalf("expected one reconnect subscription, got %d", n)
	}

	h.signal.SetOnline(true)
	eventually(t, func() bool { return h.provider.Refreshes("u1") == 2 }, "no re-validation after reconnect")
	eventually(t, func() bool {
		c := h.manager.MetricsSnapshot().Counters
		return c[MetricReconnectRevalidation] == 1 && c[MetricValidateSuccess] == 2
	}, "re-validation not recorded")

	h.manager.ClearSessionState(context.Background())
	if n := h.signal.Subscribers(); n != 0 {
		t.Fatalf("reconnect subscription leaked: %d", n)
	}
}

func TestOfflineStaleCacheRejected(t *testing.T) {
	h := newManagerHarness(t, nil)
	p := h.signIn(t, "u1", "admin")
	if !h.manager.InitializeAuthSession(context.Background(), p) {
		t.Fatal("expected online initialization")
	}

	h.clock.Advance(56 * time.Minute)
	h.signal.SetOnline(false)
	if h.manager.InitializeAuthSession(context.Background(), p) {
		t.Fatal("stale cache accepted offline")
	}
	c := h.manager.MetricsSnapshot().Counters
	if c[MetricValidateOfflineRejected] != 1 || c[MetricValidateFailure] != 1 {
		t.Fatalf("unexpected counters: %+v", c)
	}
	if _, ok := h.manager.ActivePrincipal(); ok {
		t.Fatal("rejected session left active")
	}
}

func TestRefreshErrorHandlerKeepsSchedule(t *testing.T) {
	h := newManagerHarness(t, nil)
	p := h.signIn(t, "u1", "admin")
	if !h.manager.InitializeAuthSession(context.Background(), p) {
		t.Fatal("expected session to initialize")
	}
	h.provider.FailRefreshes(1)

	h.clock.WaitForTimers(1)
	h.clock.Advance(50 * time.Minute)
	select {
	case err := <-h.failures:
		if !errors.Is(err, ErrTokenRefreshFailed) || !errors.Is(err, ErrProviderUnreachable) {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("refresh error not reported")
	}
	if !h.manager.Snapshot().Authenticated {
		t.Fatal("refresh failure must not clear the session")
	}
	if h.manager.MetricsSnapshot().Counters[MetricTokenRefreshFailure] != 1 {
		t.Fatal("refresh failure not counted")
	}

	h.clock.WaitForTimers(1)
	h.clock.Advance(h.manager.config.Scheduler.RetryDelay)
	select {
	case <-h.refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("schedule did not recover after retry delay")
	}
}

func TestValidateSessionFailureEndsSession(t *testing.T) {
	h := newManagerHarness(t, nil)
	p := h.signIn(t, "u1", "admin")
	if !h.manager.InitializeAuthSession(context.Background(), p) {
		t.Fatal("expected session to initialize")
	}
	h.provider.Disable("u1")

	if h.manager.ValidateSession(context.Background(), p) {
		t.Fatal("disabled principal validated")
	}
	if _, ok := h.manager.ActivePrincipal(); ok {
		t.Fatal("session still active")
	}
	if h.manager.cleanup.Len("u1") != 0 {
		t.Fatal("teardowns not run")
	}
	if h.manager.Snapshot().Authenticated {
		t.Fatal("record still authenticated")
	}
}

func TestClearSessionStateWipesEveryScope(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := newManagerHarness(t, func(b *Builder) {
		b.WithDurableStore(nil).WithRedis(client)
	})
	_ = h.cookies.SetCookie(context.Background(), &http.Cookie{Name: "sid", Value: "x", Path: "/"})

	p := h.signIn(t, "u1", "admin")
	if !h.manager.InitializeAuthSession(context.Background(), p) {
		t.Fatal("expected session to initialize")
	}
	if got, err := mr.Get("authsession:default:k:lastPrincipalId"); err != nil || got != "u1" {
		t.Fatalf("durable principal not in redis: %q %v", got, err)
	}

	h.manager.ClearSessionState(context.Background())

	if want, got := (Session{Initialized: true}), h.manager.Snapshot(); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("redis keys left: %v", keys)
	}
	if h.session.Len() != 0 {
		t.Fatal("session markers left")
	}
	if cookies, _ := h.cookies.Cookies(context.Background()); len(cookies) != 0 {
		t.Fatalf("cookies left: %v", cookies)
	}
	eventually(t, func() bool { return !h.manager.scheduler.Active("u1") }, "schedule still running")
}

func TestResumeUsesCurrentPrincipal(t *testing.T) {
	h := newManagerHarness(t, nil)
	h.signIn(t, "u1", "admin")

	if !h.manager.Resume(context.Background()) {
		t.Fatal("expected resume to validate current principal")
	}
	if uid, _ := h.manager.ActivePrincipal(); uid != "u1" {
		t.Fatalf("unexpected active principal %q", uid)
	}

	h.provider.SignOut()
	if h.manager.Resume(context.Background()) {
		t.Fatal("resume without a principal must fail")
	}
	if h.durable.Len() != 0 {
		t.Fatal("durable state not cleared after sign-out")
	}
}

func TestCloseIsIdempotentAndRejectsCalls(t *testing.T) {
	h := newManagerHarness(t, nil)
	p := h.signIn(t, "u1", "admin")
	if !h.manager.InitializeAuthSession(context.Background(), p) {
		t.Fatal("expected session to initialize")
	}

	h.manager.Close()
	h.manager.Close()

	if h.manager.InitializeAuthSession(context.Background(), p) {
		t.Fatal("closed manager accepted a session")
	}
	if h.manager.ValidateSession(context.Background(), p) {
		t.Fatal("closed manager validated a session")
	}
	if h.session.Len() == 0 {
		t.Fatal("Close must keep persisted markers for Resume")
	}
}

func TestLogEventsCarryTraceID(t *testing.T) {
	h := newManagerHarness(t, nil)
	p := h.signIn(t, "u1", "admin")
	ctx := WithTraceID(context.Background(), "trace-123")
	if !h.manager.InitializeAuthSession(ctx, p) {
		t.Fatal("expected session to initialize")
	}
	h.manager.Close()

	found := false
	for _, ev := range drainEvents(h.sink) {
		if ev.Operation != "validate_session" || ev.Outcome != OutcomeSuccess {
			continue
		}
		if ev.TraceID != "trace-123" || ev.PrincipalID != "u1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
		found = true
	}
	if !found {
		t.Fatal("validate_session success event not emitted")
	}
	if h.manager.LogDropped() != 0 {
		t.Fatalf("unexpected dropped events: %d", h.manager.LogDropped())
	}
}

func drainEvents(sink *ChannelSink) []LogEvent {
	var out []LogEvent
	for {
		select {
		case ev := <-sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}
