package authsession

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one session counter or histogram.
type MetricID uint16

const (
	// MetricValidateSuccess counts validations that accepted a refreshed token.
	MetricValidateSuccess MetricID = iota
	// MetricValidateFailure counts validations that ended in a false verdict.
	MetricValidateFailure
	// MetricValidateOfflineAccepted counts sessions accepted from cached markers while offline.
	MetricValidateOfflineAccepted
	// MetricValidateOfflineRejected counts offline validations whose cache was missing or too old.
	MetricValidateOfflineRejected
	// MetricValidateCacheTrusted counts validations that trusted the cache after a claims failure.
	MetricValidateCacheTrusted
	// MetricValidateExpired counts tokens rejected for age or an unparseable issuance time.
	MetricValidateExpired
	// MetricTokenRefreshSuccess counts scheduled refreshes that succeeded.
	MetricTokenRefreshSuccess
	// MetricTokenRefreshFailure counts scheduled refreshes that exhausted their retries.
	MetricTokenRefreshFailure
	// MetricRetryAttempt counts individual attempts made by the retry executor.
	MetricRetryAttempt
	// MetricRetryBackoff counts failed attempts that were followed by a backoff sleep.
	MetricRetryBackoff
	// MetricRetryExhausted counts retry loops that gave up.
	MetricRetryExhausted
	// MetricSessionCleared counts explicit and failure-driven clears.
	MetricSessionCleared
	// MetricCleanupRun counts teardown callbacks executed.
	MetricCleanupRun
	// MetricCleanupFailure counts teardown callbacks that failed or panicked.
	MetricCleanupFailure
	// MetricReconnectRevalidation counts re-validations triggered by the network coming back.
	MetricReconnectRevalidation
	// MetricValidateLatency is the histogram of full validation latency.
	MetricValidateLatency
	// MetricRefreshLatency is the histogram of scheduled refresh latency.
	MetricRefreshLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free session counters and latency histograms.
//
// A nil *Metrics or one built with metrics disabled accepts every call and
// records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and, when
// latency histograms are enabled, the non-cumulative bucket counts.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a Metrics sized for every MetricID.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether latency histograms are being recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc atomically increments the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram for id. Only latency metrics keep
// histograms; other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if !isHistogram(id) {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current counter value for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Histograms are included only when
// latency recording is enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range []MetricID{MetricValidateLatency, MetricRefreshLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func isHistogram(id MetricID) bool {
	return id == MetricValidateLatency || id == MetricRefreshLatency
}

// Buckets: <=50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, +Inf.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 50:
		return 0
	case ms <= 100:
		return 1
	case ms <= 250:
		return 2
	case ms <= 500:
		return 3
	case ms <= 1000:
		return 4
	case ms <= 2500:
		return 5
	case ms <= 5000:
		return 6
	default:
		return 7
	}
}
