package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authsession/identity"
	"github.com/MrEthical07/authsession/internal/audit"
	"github.com/MrEthical07/authsession/internal/state"
	"github.com/MrEthical07/authsession/internal/tokenwindow"
)

var (
	// ErrNoPrincipal is reported when validation runs without a principal.
	ErrNoPrincipal = errors.New("no principal")
	// ErrTokenRefreshFailed wraps the terminal error of a refresh that
	// exhausted its retries.
	ErrTokenRefreshFailed = errors.New("token refresh failed")
	// ErrSessionExpired is reported when a token or cached session is
	// older than its trust window.
	ErrSessionExpired = errors.New("session expired")
	// ErrClaimsUnavailable wraps a failed claims fetch.
	ErrClaimsUnavailable = errors.New("token claims unavailable")
)

// ValidateFailureKind classifies validation failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureNoPrincipal
	ValidateFailureOfflineExpired
	ValidateFailureRefresh
	ValidateFailureClaims
	ValidateFailureInvalidTimestamp
	ValidateFailureExpired
	ValidateFailureStateWrite
)

func (k ValidateFailureKind) String() string {
	switch k {
	case ValidateFailureNone:
		return "none"
	case ValidateFailureNoPrincipal:
		return "no_principal"
	case ValidateFailureOfflineExpired:
		return "offline_expired"
	case ValidateFailureRefresh:
		return "refresh_failed"
	case ValidateFailureClaims:
		return "claims_unavailable"
	case ValidateFailureInvalidTimestamp:
		return "invalid_timestamp"
	case ValidateFailureExpired:
		return "expired"
	case ValidateFailureStateWrite:
		return "state_write"
	default:
		return "unknown"
	}
}

// ValidatePath records how a successful validation was reached.
type ValidatePath int

const (
	ValidatePathNone ValidatePath = iota
	// ValidatePathOnline: token refreshed and inside the grace window.
	ValidatePathOnline
	// ValidatePathOfflineCache: still offline, persisted markers young enough.
	ValidatePathOfflineCache
	// ValidatePathCacheTrusted: refresh succeeded, claims fetch failed, an
	// existing session marker was trusted.
	ValidatePathCacheTrusted
)

func (p ValidatePath) String() string {
	switch p {
	case ValidatePathOnline:
		return "online"
	case ValidatePathOfflineCache:
		return "offline_cache"
	case ValidatePathCacheTrusted:
		return "cache_trusted"
	default:
		return "none"
	}
}

// ValidateResult is the verdict of RunValidateSession.
type ValidateResult struct {
	Failure     ValidateFailureKind
	Path        ValidatePath
	Err         error
	PrincipalID string
	Cleared     bool
}

// OK reports whether the session is usable.
func (r ValidateResult) OK() bool {
	return r.Failure == ValidateFailureNone
}

// NetworkGate is the reachability view used by validation.
type NetworkGate interface {
	IsOnline() bool
	WaitForNetwork(ctx context.Context, timeout time.Duration) bool
}

// SessionState is the subset of the state store used by validation.
type SessionState interface {
	Markers(ctx context.Context) (state.Markers, error)
	MarkAuthenticated(ctx context.Context, principalID, role string, expiresAt time.Time) (state.Record, error)
	TrustCached(ctx context.Context, principalID string, m state.Markers) state.Record
	Clear(ctx context.Context) state.Record
}

// ValidateDeps captures session validation dependencies.
type ValidateDeps struct {
	Gate        NetworkGate
	State       SessionState
	Policy      tokenwindow.Policy
	Now         func() time.Time
	NetworkWait time.Duration
	// ForceRefresh obtains a freshly minted token, retrying as configured.
	ForceRefresh func(ctx context.Context, p identity.Principal) (string, error)
	Logger       *audit.Logger
}

// RunValidateSession decides whether principal's session is usable.
//
// A nil principal clears state. While offline, the persisted markers decide
// without mutating anything. Online, a forced refresh must succeed; the
// fresh token then has to be inside the grace window. A claims fetch that
// fails after a successful refresh is tolerated only when a session marker
// already exists.
func RunValidateSession(ctx context.Context, principal identity.Principal, deps ValidateDeps) ValidateResult {
	if principal == nil {
		deps.State.Clear(ctx)
		deps.Logger.Info(ctx, "validate_session", "", audit.Detail("result", "no_principal"))
		return ValidateResult{Failure: ValidateFailureNoPrincipal, Err: ErrNoPrincipal, Cleared: true}
	}
	uid := principal.UID()

	if !deps.Gate.IsOnline() && !deps.Gate.WaitForNetwork(ctx, deps.NetworkWait) {
		return validateOffline(ctx, uid, deps)
	}

	if _, err := deps.ForceRefresh(ctx, principal); err != nil {
		deps.State.Clear(ctx)
		err = fmt.Errorf("%w: %w", ErrTokenRefreshFailed, err)
		deps.Logger.Error(ctx, "validate_session", uid, err, audit.Detail("result", "refresh_failed"))
		return ValidateResult{Failure: ValidateFailureRefresh, Err: err, PrincipalID: uid, Cleared: true}
	}

	markers, err := deps.State.Markers(ctx)
	if err != nil {
		deps.Logger.Warn(ctx, "validate_session", uid, err, audit.Detail("step", "read_markers"))
	}
	hasCache := err == nil && markers.Authenticated

	result, claimsErr := principal.IDTokenResult(ctx)
	if claimsErr != nil {
		claimsErr = fmt.Errorf("%w: %w", ErrClaimsUnavailable, claimsErr)
		if hasCache {
			// claims were never checked, so the cached refresh time stands
			deps.State.TrustCached(ctx, uid, markers)
			deps.Logger.Warn(ctx, "validate_session", uid, claimsErr, audit.Detail("result", "cache_trusted"))
			return ValidateResult{Path: ValidatePathCacheTrusted, PrincipalID: uid}
		}
		deps.State.Clear(ctx)
		deps.Logger.Error(ctx, "validate_session", uid, claimsErr, audit.Detail("result", "claims_unavailable"))
		return ValidateResult{Failure: ValidateFailureClaims, Err: claimsErr, PrincipalID: uid, Cleared: true}
	}

	check := deps.Policy.Check(result.IssuedAtTime, deps.Now(), true)
	if !check.Valid() {
		deps.State.Clear(ctx)
		res := ValidateResult{PrincipalID: uid, Cleared: true}
		switch check.Failure {
		case tokenwindow.InvalidTimestamp:
			res.Failure = ValidateFailureInvalidTimestamp
			res.Err = check.Err
		default:
			res.Failure = ValidateFailureExpired
			res.Err = fmt.Errorf("%w: token age %s", ErrSessionExpired, check.Age)
		}
		deps.Logger.Error(ctx, "validate_session", uid, res.Err, audit.Detail(
			"result", res.Failure.String(),
			"cached", fmt.Sprint(hasCache),
		))
		return res
	}

	role := ClaimString(result.Claims, "role")
	if role == "" {
		role = markers.Role
	}
	expiresAt, _ := tokenwindow.ParseTimestamp(result.ExpirationTime)
	return markAuthenticated(ctx, uid, role, expiresAt, ValidatePathOnline, deps)
}

func validateOffline(ctx context.Context, uid string, deps ValidateDeps) ValidateResult {
	markers, err := deps.State.Markers(ctx)
	if err != nil {
		deps.Logger.Error(ctx, "validate_session", uid, err, audit.Detail("result", "offline_markers_unreadable"))
		return ValidateResult{Failure: ValidateFailureOfflineExpired, Err: err, PrincipalID: uid}
	}
	now := deps.Now()
	if markers.Authenticated && !markers.LastTokenRefresh.IsZero() &&
		now.Sub(markers.LastTokenRefresh) < deps.Policy.SessionTimeout {
		deps.Logger.Info(ctx, "validate_session", uid, audit.Detail(
			"result", "offline_cache",
			"cache_age", now.Sub(markers.LastTokenRefresh).String(),
		))
		return ValidateResult{Path: ValidatePathOfflineCache, PrincipalID: uid}
	}

	err = fmt.Errorf("%w: offline without a usable cached session", ErrSessionExpired)
	deps.Logger.Warn(ctx, "validate_session", uid, err, audit.Detail("result", "offline_expired"))
	return ValidateResult{Failure: ValidateFailureOfflineExpired, Err: err, PrincipalID: uid}
}

func markAuthenticated(ctx context.Context, uid, role string, expiresAt time.Time, path ValidatePath, deps ValidateDeps) ValidateResult {
	if _, err := deps.State.MarkAuthenticated(ctx, uid, role, expiresAt); err != nil {
		deps.State.Clear(ctx)
		deps.Logger.Error(ctx, "validate_session", uid, err, audit.Detail("result", "state_write"))
		return ValidateResult{Failure: ValidateFailureStateWrite, Err: err, PrincipalID: uid, Cleared: true}
	}
	deps.Logger.Success(ctx, "validate_session", uid, audit.Detail("result", path.String()))
	return ValidateResult{Path: path, PrincipalID: uid}
}

// ClaimString returns claims[key] when it is a string.
func ClaimString(claims map[string]any, key string) string {
	v, _ := claims[key].(string)
	return v
}
