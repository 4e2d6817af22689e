// Package identity defines the identity provider contract consumed by the
// session manager and ships two providers: Local, an in-process issuer,
// and OAuth2Provider, which refreshes against a remote token endpoint.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProviderUnreachable means the provider could not be contacted or
	// did not answer in time.
	ErrProviderUnreachable = errors.New("identity provider unreachable")
	// ErrPrincipalDisabled means the provider refused to issue tokens for
	// the principal.
	ErrPrincipalDisabled = errors.New("principal disabled")
	// ErrNoToken means the provider has no token for the principal.
	ErrNoToken = errors.New("no token available")
)

// TokenError is returned by Principal methods.
type TokenError struct {
	Op  string
	UID string
	Err error
}

func (e *TokenError) Error() string {
	if e.UID == "" {
		return fmt.Sprintf("identity: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("identity: %s %s: %v", e.Op, e.UID, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// Timestamp is the wire form {seconds, nanos} some providers use for token
// times.
type Timestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos,omitempty"`
}

// TimestampOf converts t to wire form.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Time converts the timestamp back to time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

// TokenResult describes a token and its claims. IssuedAtTime and
// ExpirationTime keep whatever shape the provider reports (time.Time,
// Timestamp, or a date string); the session layer accepts each shape.
type TokenResult struct {
	Token          string
	IssuedAtTime   any
	ExpirationTime any
	Claims         map[string]any
}

// Principal is the authenticated identity handed out by a Provider.
type Principal interface {
	UID() string
	// IDToken returns a signed ID token, contacting the provider when
	// forceRefresh is set or no usable token is cached.
	IDToken(ctx context.Context, forceRefresh bool) (string, error)
	// IDTokenResult returns the current token with its claims and times.
	IDTokenResult(ctx context.Context) (*TokenResult, error)
}

// Provider reports the currently signed-in principal, or nil.
type Provider interface {
	CurrentPrincipal(ctx context.Context) Principal
}
