// Package tokenwindow decides whether a token is inside its trust window
// and when the next proactive refresh is due.
package tokenwindow

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authsession/identity"
)

// ErrInvalidTimestamp is returned for a missing or unparseable issuance
// time. Callers must treat it as "not fresh".
var ErrInvalidTimestamp = errors.New("invalid timestamp")

const (
	DefaultSessionTimeout   = 55 * time.Minute
	DefaultRefreshThreshold = 5 * time.Minute
	DefaultGracePeriod      = 5 * time.Minute
)

// Policy holds the trust window constants.
type Policy struct {
	SessionTimeout   time.Duration
	RefreshThreshold time.Duration
	GracePeriod      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		SessionTimeout:   DefaultSessionTimeout,
		RefreshThreshold: DefaultRefreshThreshold,
		GracePeriod:      DefaultGracePeriod,
	}
}

// IsTokenFresh reports now-issuedAt <= SessionTimeout. The boundary is
// inclusive. A zero issuedAt is never fresh.
func (p Policy) IsTokenFresh(issuedAt, now time.Time) bool {
	if issuedAt.IsZero() {
		return false
	}
	return now.Sub(issuedAt) <= p.SessionTimeout
}

// WithinGrace reports now-issuedAt <= SessionTimeout+GracePeriod.
func (p Policy) WithinGrace(issuedAt, now time.Time) bool {
	if issuedAt.IsZero() {
		return false
	}
	return now.Sub(issuedAt) <= p.SessionTimeout+p.GracePeriod
}

// RefreshDelay returns how long to wait before refreshing a token issued at
// issuedAt: max(0, SessionTimeout-RefreshThreshold-age).
func (p Policy) RefreshDelay(issuedAt, now time.Time) time.Duration {
	delay := p.SessionTimeout - p.RefreshThreshold - now.Sub(issuedAt)
	if delay < 0 {
		return 0
	}
	return delay
}

// FailureKind explains why Check rejected a token.
type FailureKind int

const (
	Fresh FailureKind = iota
	InvalidTimestamp
	Expired
)

func (k FailureKind) String() string {
	switch k {
	case Fresh:
		return "fresh"
	case InvalidTimestamp:
		return "invalid_timestamp"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Result is the outcome of Check.
type Result struct {
	Failure  FailureKind
	IssuedAt time.Time
	Age      time.Duration
	Err      error
}

func (r Result) Valid() bool { return r.Failure == Fresh }

// Check parses raw and applies the plain or the grace-extended window.
func (p Policy) Check(raw any, now time.Time, withGrace bool) Result {
	issuedAt, err := ParseTimestamp(raw)
	if err != nil {
		return Result{Failure: InvalidTimestamp, Err: err}
	}
	res := Result{IssuedAt: issuedAt, Age: now.Sub(issuedAt)}
	ok := p.IsTokenFresh(issuedAt, now)
	if withGrace {
		ok = p.WithinGrace(issuedAt, now)
	}
	if !ok {
		res.Failure = Expired
	}
	return res
}

var stringLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts time.Time, identity.Timestamp, a map carrying a
// numeric "seconds" key, and date strings. Every other shape fails with
// ErrInvalidTimestamp.
func ParseTimestamp(raw any) (time.Time, error) {
	var t time.Time
	switch v := raw.(type) {
	case time.Time:
		t = v
	case *time.Time:
		if v != nil {
			t = *v
		}
	case identity.Timestamp:
		t = v.Time()
	case *identity.Timestamp:
		if v != nil {
			t = v.Time()
		}
	case map[string]any:
		secs, ok := numeric(v["seconds"])
		if !ok {
			return time.Time{}, fmt.Errorf("%w: map without numeric seconds", ErrInvalidTimestamp)
		}
		nanos, _ := numeric(v["nanos"])
		whole, frac := math.Modf(secs)
		t = time.Unix(int64(whole), int64(frac*1e9)+int64(nanos)).UTC()
	case string:
		parsed, err := parseString(v)
		if err != nil {
			return time.Time{}, err
		}
		t = parsed
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidTimestamp, raw)
	}
	if t.IsZero() {
		return time.Time{}, fmt.Errorf("%w: zero time", ErrInvalidTimestamp)
	}
	return t, nil
}

func parseString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrInvalidTimestamp)
	}
	for _, layout := range stringLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable %q", ErrInvalidTimestamp, s)
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
