// authsession-soak runs many independent session managers against an
// in-process identity provider while the shared network signal flaps, and
// prints the aggregated session metrics when the run ends.
//
// Durable markers go to Redis (--redis-addr, REDIS_ADDR, or an embedded
// miniredis when neither is set) or to a SQLite file (--sqlite).
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math"
	mrand "math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/MrEthical07/authsession"
	"github.com/MrEthical07/authsession/identity"
	"github.com/MrEthical07/authsession/jwt"
	"github.com/MrEthical07/authsession/localstore"
	"github.com/MrEthical07/authsession/metrics/export/internaldefs"
	promexport "github.com/MrEthical07/authsession/metrics/export/prometheus"
	"github.com/MrEthical07/authsession/reachability"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flagSet := pflag.NewFlagSet("authsession-soak", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "YAML file with session and soak settings")
	sessions := flagSet.IntP("sessions", "n", 0, "number of simulated clients (overrides soak.sessions)")
	duration := flagSet.DurationP("duration", "d", 0, "run length (overrides soak.duration)")
	redisAddr := flagSet.String("redis-addr", "", "redis address for durable markers")
	sqlitePath := flagSet.String("sqlite", "", "SQLite file for durable markers instead of Redis")
	metricsAddr := flagSet.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	logOutput := flagSet.String("log-output", "", "write JSON session log records to this file")
	failureRate := flagSet.Float64("refresh-failure-rate", -1, "fraction of provider refreshes that fail")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("sessions") {
		cfg.Soak.Sessions = *sessions
	}
	if flagSet.Changed("duration") {
		cfg.Soak.Duration = *duration
	}
	if flagSet.Changed("redis-addr") {
		cfg.Soak.RedisAddr = *redisAddr
	} else if cfg.Soak.RedisAddr == "" {
		cfg.Soak.RedisAddr = os.Getenv("REDIS_ADDR")
	}
	if flagSet.Changed("sqlite") {
		cfg.Soak.SQLitePath = *sqlitePath
		cfg.Soak.RedisAddr = ""
	}
	if flagSet.Changed("metrics-addr") {
		cfg.Soak.MetricsAddr = *metricsAddr
	}
	if flagSet.Changed("log-output") {
		cfg.Soak.LogOutput = *logOutput
	}
	if flagSet.Changed("refresh-failure-rate") {
		cfg.Soak.RefreshFailureRate = *failureRate
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	lint := cfg.Session.Lint()
	for _, w := range lint {
		fmt.Fprintf(os.Stderr, "config lint [%s] %s: %s\n", w.Severity, w.Code, w.Message)
	}
	if err := lint.AsError(authsession.LintHigh); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSoak(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	return s.run(ctx)
}

type soak struct {
	cfg      fileConfig
	provider *identity.Local
	signal   *reachability.Signal
	sink     authsession.LogSink

	managers fleet
	uids     []string

	closers []func()

	refreshErrors atomic.Uint64
	reinits       atomic.Uint64
	validations   atomic.Uint64
	rejected      atomic.Uint64
}

func newSoak(ctx context.Context, cfg fileConfig) (*soak, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	issuer, err := jwt.NewManager(jwt.Config{
		TTL:           time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    key,
		Issuer:        "authsession-soak",
	}, nil)
	if err != nil {
		return nil, err
	}

	s := &soak{
		cfg:      cfg,
		provider: identity.NewLocal(issuer),
		signal:   reachability.NewSignal(true),
	}

	if cfg.Soak.LogOutput != "" {
		f, err := os.Create(cfg.Soak.LogOutput)
		if err != nil {
			return nil, fmt.Errorf("opening log output: %w", err)
		}
		s.closers = append(s.closers, func() { _ = f.Close() })
		s.sink = authsession.NewJSONWriterSink(f)
	} else {
		s.sink = authsession.NewSlogSink(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	}

	durable, err := s.durableFactory(ctx)
	if err != nil {
		s.close()
		return nil, err
	}

	for i := 0; i < cfg.Soak.Sessions; i++ {
		uid := fmt.Sprintf("soak-%d", i)
		sessionCfg := cfg.Session
		sessionCfg.Storage.Namespace = uid

		b := authsession.New().
			WithConfig(sessionCfg).
			WithIdentityProvider(s.provider).
			WithReachability(s.signal).
			WithLogSink(s.sink).
			WithRefreshErrorHandler(func(string, error) { s.refreshErrors.Add(1) })
		if err := durable(ctx, b, uid); err != nil {
			s.close()
			return nil, err
		}
		m, err := b.Build()
		if err != nil {
			s.close()
			return nil, fmt.Errorf("building manager %s: %w", uid, err)
		}
		s.managers = append(s.managers, m)
		s.uids = append(s.uids, uid)
	}
	return s, nil
}

// durableFactory prepares the shared durable backend and returns a func
// that attaches it to one client's builder.
func (s *soak) durableFactory(ctx context.Context) (func(context.Context, *authsession.Builder, string) error, error) {
	if path := s.cfg.Soak.SQLitePath; path != "" {
		fmt.Printf("using sqlite at %s\n", path)
		return func(ctx context.Context, b *authsession.Builder, namespace string) error {
			store, err := localstore.OpenSQLite(ctx, path, namespace)
			if err != nil {
				return err
			}
			s.closers = append(s.closers, func() { _ = store.Close() })
			b.WithDurableStore(store)
			return nil
		}, nil
	}

	addr := s.cfg.Soak.RedisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("starting miniredis: %w", err)
		}
		s.closers = append(s.closers, mr.Close)
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	s.closers = append(s.closers, func() { _ = client.Close() })
	return func(_ context.Context, b *authsession.Builder, _ string) error {
		b.WithRedis(client)
		return nil
	}, nil
}

func (s *soak) run(ctx context.Context) error {
	if addr := s.cfg.Soak.MetricsAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           promexport.NewPrometheusExporterFromSource(s.managers).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		defer func() { _ = srv.Close() }()
		fmt.Printf("serving metrics on %s\n", addr)
	}

	started := time.Now()
	for i, m := range s.managers {
		p, err := s.provider.SignIn(s.uids[i], "member")
		if err != nil {
			return err
		}
		if !m.InitializeAuthSession(ctx, p) {
			s.rejected.Add(1)
		}
	}
	fmt.Printf("initialized %d sessions in %s\n", len(s.managers), time.Since(started).Round(time.Millisecond))

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Soak.Duration)
	defer cancel()

	var wg sync.WaitGroup
	if s.cfg.Soak.FlapInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.flap(runCtx)
		}()
	}
	s.validateLoop(runCtx)
	wg.Wait()
	s.signal.SetOnline(true)

	s.report(time.Since(started))
	return nil
}

// flap takes the shared network down for OfflineFor every FlapInterval.
func (s *soak) flap(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Soak.FlapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.signal.SetOnline(false)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.Soak.OfflineFor):
		}
		s.signal.SetOnline(true)
	}
}

// validateLoop re-validates a random client every ValidateInterval. A
// client whose session was cleared signs in again, the way a host would
// after a forced sign-out.
func (s *soak) validateLoop(ctx context.Context) {
	r := mrand.New(mrand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(s.cfg.Soak.ValidateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if r.Float64() < s.cfg.Soak.RefreshFailureRate {
			s.provider.FailRefreshes(1)
		}

		i := r.Intn(len(s.managers))
		m, uid := s.managers[i], s.uids[i]
		p := s.provider.Principal(uid)
		s.validations.Add(1)
		if m.ValidateSession(ctx, p) {
			continue
		}
		s.rejected.Add(1)
		if _, active := m.ActivePrincipal(); !active && s.signal.IsOnline() {
			s.reinits.Add(1)
			m.InitializeAuthSession(ctx, p)
		}
	}
}

func (s *soak) report(elapsed time.Duration) {
	snap := s.managers.MetricsSnapshot()

	fmt.Println("---- results ----")
	fmt.Printf("elapsed=%s sessions=%d validations=%d rejected=%d reinitialized=%d refresh_errors=%d log_dropped=%d\n",
		elapsed.Round(time.Millisecond),
		len(s.managers),
		s.validations.Load(),
		s.rejected.Load(),
		s.reinits.Load(),
		s.refreshErrors.Load(),
		s.managers.LogDropped(),
	)
	for _, def := range internaldefs.CounterDefs {
		if v := snap.Counters[def.ID]; v > 0 {
			fmt.Printf("%-48s %d\n", def.Name, v)
		}
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets := snap.Histograms[def.ID]
		if len(buckets) == 0 {
			continue
		}
		fmt.Printf("%s p50<=%s p99<=%s\n", def.Name, bucketQuantile(buckets, 0.5), bucketQuantile(buckets, 0.99))
	}
}

// bucketQuantile returns the upper bound of the bucket holding quantile q.
func bucketQuantile(buckets []uint64, q float64) string {
	var total uint64
	for _, v := range buckets {
		total += v
	}
	if total == 0 {
		return "n/a"
	}
	target := uint64(math.Ceil(q * float64(total)))
	cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(buckets))
	i := sort.Search(len(cumulative), func(i int) bool { return cumulative[i] >= target })
	if i >= len(internaldefs.HistogramUpperBounds) {
		return "+Inf"
	}
	return (time.Duration(internaldefs.HistogramUpperBounds[i] * float64(time.Second))).String()
}

func (s *soak) close() {
	for _, m := range s.managers {
		m.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
