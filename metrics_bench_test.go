package authsession

import (
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authsession/identity"
	"github.com/MrEthical07/authsession/internal/flows"
)

func benchManager(b *testing.B, histograms bool) *Manager {
	b.Helper()
	cfg := defaultConfig()
	cfg.Log.Enabled = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = histograms
	m := newManager(cfg, managerDeps{provider: identity.NewLocal(nil)})
	b.Cleanup(m.Close)
	return m
}

// validationOutcomes mirrors the mix a busy client sees: mostly online
// successes with the occasional offline acceptance and failure.
var validationOutcomes = [...]flows.ValidateResult{
	{Path: flows.ValidatePathOnline},
	{Path: flows.ValidatePathOnline},
	{Path: flows.ValidatePathOnline},
	{Path: flows.ValidatePathOfflineCache},
	{Path: flows.ValidatePathCacheTrusted},
	{Failure: flows.ValidateFailureOfflineExpired},
	{Failure: flows.ValidateFailureExpired},
	{Failure: flows.ValidateFailureRefresh},
}

func BenchmarkRecordValidationParallel(b *testing.B) {
	m := benchManager(b, false)
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		idx := 0
		for pb.Next() {
			m.recordValidation(validationOutcomes[idx])
			idx++
			if idx == len(validationOutcomes) {
				idx = 0
			}
		}
	})
}

func BenchmarkRetryHooksParallel(b *testing.B) {
	m := benchManager(b, false)
	hooks := m.executor.Hooks
	errAttempt := errors.New("attempt failed")
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		attempt := 1
		for pb.Next() {
			hooks.OnAttempt("force_refresh", attempt)
			if attempt < 3 {
				hooks.OnRetry("force_refresh", attempt, time.Second, errAttempt)
				attempt++
				continue
			}
			hooks.OnExhausted("force_refresh", errAttempt)
			attempt = 1
		}
	})
}

func BenchmarkRetryHooksMetricsDisabled(b *testing.B) {
	cfg := defaultConfig()
	cfg.Log.Enabled = false
	m := newManager(cfg, managerDeps{provider: identity.NewLocal(nil)})
	b.Cleanup(m.Close)
	hooks := m.executor.Hooks
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		hooks.OnAttempt("token_refresh", 1)
	}
}

func BenchmarkObserveRefreshLatencyParallel(b *testing.B) {
	m := benchManager(b, true)
	// spread across the buckets a provider round trip usually lands in
	latencies := [...]time.Duration{
		40 * time.Millisecond,
		90 * time.Millisecond,
		180 * time.Millisecond,
		400 * time.Millisecond,
		1200 * time.Millisecond,
	}
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		idx := 0
		for pb.Next() {
			m.metrics.Observe(MetricRefreshLatency, latencies[idx])
			idx++
			if idx == len(latencies) {
				idx = 0
			}
		}
	})
}

func BenchmarkMetricsSnapshotUnderLoad(b *testing.B) {
	m := benchManager(b, true)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				m.recordValidation(validationOutcomes[0])
				m.metrics.Observe(MetricValidateLatency, 120*time.Millisecond)
			}
		}
	}()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = m.MetricsSnapshot()
	}

	b.StopTimer()
	close(stop)
	<-done
}
