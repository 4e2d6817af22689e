package authsession

import (
	"errors"

	"github.com/MrEthical07/authsession/identity"
	"github.com/MrEthical07/authsession/internal/cleanup"
	"github.com/MrEthical07/authsession/internal/flows"
	"github.com/MrEthical07/authsession/internal/retry"
	"github.com/MrEthical07/authsession/internal/tokenwindow"
	"github.com/MrEthical07/authsession/localstore"
)

var (
	// ErrNetworkUnavailable means the reachability wait before a provider
	// call ran out.
	ErrNetworkUnavailable = retry.ErrNetworkUnavailable
	// ErrAttemptTimeout means a single provider call exceeded the retry
	// timeout.
	ErrAttemptTimeout = retry.ErrAttemptTimeout
	// ErrTokenRefreshFailed wraps the last error of a refresh that
	// exhausted every retry attempt.
	ErrTokenRefreshFailed = flows.ErrTokenRefreshFailed
	// ErrSessionExpired means a token or cached session is older than its
	// trust window.
	ErrSessionExpired = flows.ErrSessionExpired
	// ErrClaimsUnavailable means the provider could not return token claims.
	ErrClaimsUnavailable = flows.ErrClaimsUnavailable
	// ErrNoPrincipal is reported when validation runs without a principal.
	ErrNoPrincipal = flows.ErrNoPrincipal
	// ErrInvalidTimestamp means a token's issuance time is missing or
	// unparseable.
	ErrInvalidTimestamp = tokenwindow.ErrInvalidTimestamp
	// ErrTeardownFailure wraps a cleanup callback that failed or panicked.
	ErrTeardownFailure = cleanup.ErrTeardownFailure
	// ErrStorageUnavailable wraps a local store backend failure.
	ErrStorageUnavailable = localstore.ErrUnavailable
	// ErrProviderUnreachable means the identity provider could not be
	// contacted.
	ErrProviderUnreachable = identity.ErrProviderUnreachable
	// ErrPrincipalDisabled means the identity provider refused the principal.
	ErrPrincipalDisabled = identity.ErrPrincipalDisabled
	// ErrManagerClosed is returned by operations on a closed Manager.
	ErrManagerClosed = errors.New("session manager closed")
	// ErrBuilderUsed is returned by a second Build call.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrProviderRequired is returned by Build without an identity provider.
	ErrProviderRequired = errors.New("identity provider required")
)
