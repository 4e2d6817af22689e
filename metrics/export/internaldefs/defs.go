package internaldefs

import (
	"github.com/MrEthical07/authsession"
)

// CounterDef names one authsession counter for exporters.
type CounterDef struct {
	ID   authsession.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram for exporters.
type HistogramDef struct {
	ID   authsession.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authsession.MetricValidateSuccess, Name: "authsession_validate_success_total", Help: "Validations that accepted a freshly refreshed token."},
	{ID: authsession.MetricValidateFailure, Name: "authsession_validate_failure_total", Help: "Validations that rejected the session."},
	{ID: authsession.MetricValidateOfflineAccepted, Name: "authsession_validate_offline_accepted_total", Help: "Sessions accepted from cached markers while offline."},
	{ID: authsession.MetricValidateOfflineRejected, Name: "authsession_validate_offline_rejected_total", Help: "Offline validations without a usable cached session."},
	{ID: authsession.MetricValidateCacheTrusted, Name: "authsession_validate_cache_trusted_total", Help: "Validations that trusted the cache after a claims failure."},
	{ID: authsession.MetricValidateExpired, Name: "authsession_validate_expired_total", Help: "Tokens rejected for age or an unparseable issuance time."},
	{ID: authsession.MetricTokenRefreshSuccess, Name: "authsession_token_refresh_success_total", Help: "Successful scheduled token refreshes."},
	{ID: authsession.MetricTokenRefreshFailure, Name: "authsession_token_refresh_failure_total", Help: "Scheduled token refreshes that exhausted their retries."},
	{ID: authsession.MetricRetryAttempt, Name: "authsession_retry_attempt_total", Help: "Attempts made by the retry executor."},
	{ID: authsession.MetricRetryBackoff, Name: "authsession_retry_backoff_total", Help: "Failed attempts followed by a backoff sleep."},
	{ID: authsession.MetricRetryExhausted, Name: "authsession_retry_exhausted_total", Help: "Retry loops that gave up."},
	{ID: authsession.MetricSessionCleared, Name: "authsession_session_cleared_total", Help: "Explicit and failure-driven session clears."},
	{ID: authsession.MetricCleanupRun, Name: "authsession_cleanup_run_total", Help: "Teardown callbacks executed."},
	{ID: authsession.MetricCleanupFailure, Name: "authsession_cleanup_failure_total", Help: "Teardown callbacks that failed or panicked."},
	{ID: authsession.MetricReconnectRevalidation, Name: "authsession_reconnect_revalidation_total", Help: "Re-validations triggered by the network coming back."},
}

var HistogramDefs = []HistogramDef{
	{ID: authsession.MetricValidateLatency, Name: "authsession_validate_latency_seconds", Help: "Session validation latency."},
	{ID: authsession.MetricRefreshLatency, Name: "authsession_refresh_latency_seconds", Help: "Scheduled token refresh latency."},
}

// LogDroppedName is the counter for log events dropped under backpressure.
const (
	LogDroppedName = "authsession_log_dropped_total"
	LogDroppedHelp = "Session log events dropped due to dispatcher backpressure."
)

// Session gauges read from the live record rather than the counters.
const (
	SessionAuthenticatedName = "authsession_session_authenticated"
	SessionAuthenticatedHelp = "1 while the in-memory session is authenticated."
	RefreshAgeName           = "authsession_session_refresh_age_seconds"
	RefreshAgeHelp           = "Seconds since the session's token was last refreshed."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// snapshot bucket is +Inf.
var HistogramUpperBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// HistogramBoundLabels are the le label values for every snapshot bucket,
// in Prometheus notation.
var HistogramBoundLabels = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
