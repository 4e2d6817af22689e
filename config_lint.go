package authsession

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authsession/internal/retry"
)

// LintSeverity ranks configuration warnings.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is one finding from Config.Lint. Code is stable and meant
// for programmatic filtering.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of findings.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError folds every warning at or above min into one error, or returns
// nil when there are none.
func (r LintResult) AsError(min LintSeverity) error {
	matched := r.BySeverity(min)
	if len(matched) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(matched))
	for _, w := range matched {
		msgs = append(msgs, fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message))
	}
	return errors.New("config lint: " + strings.Join(msgs, "; "))
}

// Lint reports settings that are valid but likely to misbehave. Lint does
// not replace Validate; run Validate first.
func (c Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, format string, args ...any) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	budget := c.Policy.RefreshThreshold + c.Policy.GracePeriod
	if worst := RetryWorstCase(c.Retry); budget > 0 && worst > budget {
		add("refresh_budget_exceeded", LintHigh,
			"a failing refresh can take %s, longer than the %s left before the token is rejected", worst, budget)
	}
	if !c.Scheduler.Enabled {
		add("scheduler_disabled", LintWarn,
			"tokens are only refreshed by explicit validation and will age out after %s", c.Policy.SessionTimeout)
	}
	if c.Policy.GracePeriod == 0 {
		add("grace_zero", LintInfo, "a token refreshed exactly at the timeout boundary will be rejected")
	}
	if c.Policy.SessionTimeout > 24*time.Hour {
		add("session_timeout_long", LintWarn,
			"cached sessions are trusted offline for %s", c.Policy.SessionTimeout)
	}
	if c.Network.ValidationWait > 2*time.Minute {
		add("network_wait_long", LintWarn,
			"validation can block for %s while offline", c.Network.ValidationWait)
	}
	if !c.Log.Enabled {
		add("log_disabled", LintWarn, "session log dispatch is disabled")
	} else if !c.Log.DropIfFull {
		add("log_blocking", LintWarn, "a slow log sink can stall validation and refresh")
	}
	if c.Storage.DurableTTL == 0 {
		add("durable_ttl_unbounded", LintInfo, "durable markers never expire on their own")
	}
	return ws
}

// RetryWorstCase is the longest a fully failing retry loop can run: every
// attempt times out and every backoff is slept.
func RetryWorstCase(rc RetryConfig) time.Duration {
	if rc.MaxAttempts <= 0 {
		return 0
	}
	total := time.Duration(rc.MaxAttempts) * rc.Timeout
	for attempt := 1; attempt < rc.MaxAttempts; attempt++ {
		total += retry.Backoff(rc.BaseDelay, attempt)
	}
	return total
}
