package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authsession"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type fakeSource struct {
	snapshot authsession.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authsession.MetricsSnapshot { return f.snapshot }
func (f fakeSource) LogDropped() uint64                           { return f.dropped }

func gather(t *testing.T, exp *PrometheusExporter) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := reg.Register(exp); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authsession.MetricsSnapshot{
			Counters:   map[authsession.MetricID]uint64{},
			Histograms: map[authsession.MetricID][]uint64{},
		},
	})

	if got := gather(t, exp); len(got) != 0 {
		t.Fatalf("expected no families for disabled metrics, got %d", len(got))
	}
}

func TestCollectIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authsession.MetricsSnapshot{
			Counters: map[authsession.MetricID]uint64{
				authsession.MetricValidateSuccess: 7,
			},
			Histograms: map[authsession.MetricID][]uint64{
				authsession.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	families := gather(t, exp)

	success := families["authsession_validate_success_total"]
	if success == nil || success.GetMetric()[0].GetCounter().GetValue() != 7 {
		t.Fatalf("unexpected validate_success family: %v", success)
	}

	latency := families["authsession_validate_latency_seconds"]
	if latency == nil {
		t.Fatal("validate latency histogram missing")
	}
	h := latency.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 36 {
		t.Fatalf("expected 36 samples, got %d", h.GetSampleCount())
	}
	first := h.GetBucket()[0]
	if first.GetUpperBound() != 0.05 || first.GetCumulativeCount() != 1 {
		t.Fatalf("unexpected first bucket: le=%v count=%d", first.GetUpperBound(), first.GetCumulativeCount())
	}

	if _, ok := families["authsession_refresh_latency_seconds"]; ok {
		t.Fatal("histogram without a snapshot must not be exported")
	}

	dropped := families["authsession_log_dropped_total"]
	if dropped == nil || dropped.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Fatalf("unexpected log_dropped family: %v", dropped)
	}
}

func TestHandlerServesTextExposition(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authsession.MetricsSnapshot{
			Counters:   map[authsession.MetricID]uint64{authsession.MetricSessionCleared: 1},
			Histograms: map[authsession.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected text exposition content type, got %q", got)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "authsession_session_cleared_total 1") {
		t.Fatalf("expected session_cleared counter in output, got:\n%s", body)
	}
}

func BenchmarkCollect(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authsession.MetricsSnapshot{
			Counters: map[authsession.MetricID]uint64{
				authsession.MetricValidateSuccess:     1000,
				authsession.MetricValidateFailure:     40,
				authsession.MetricTokenRefreshSuccess: 800,
				authsession.MetricTokenRefreshFailure: 10,
				authsession.MetricRetryAttempt:        900,
			},
			Histograms: map[authsession.MetricID][]uint64{
				authsession.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})
	reg := prometheus.NewRegistry()
	reg.MustRegister(exp)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = reg.Gather()
	}
}
