package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/authsession/identity"
	"github.com/MrEthical07/authsession/internal/tokenwindow"
)

// RefreshResult is a freshly minted token and what the session layer needs
// from its claims.
type RefreshResult struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Role      string
}

// RunRefreshToken forces a new token from the provider and reads back its
// claims. An unparseable issuance time fails the refresh.
func RunRefreshToken(ctx context.Context, principal identity.Principal) (RefreshResult, error) {
	token, err := principal.IDToken(ctx, true)
	if err != nil {
		return RefreshResult{}, err
	}
	result, err := principal.IDTokenResult(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("%w: %w", ErrClaimsUnavailable, err)
	}
	issuedAt, err := tokenwindow.ParseTimestamp(result.IssuedAtTime)
	if err != nil {
		return RefreshResult{}, err
	}
	expiresAt, _ := tokenwindow.ParseTimestamp(result.ExpirationTime)
	if result.Token != "" {
		token = result.Token
	}
	return RefreshResult{
		Token:     token,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		Role:      ClaimString(result.Claims, "role"),
	}, nil
}

// TokenIssuedAt fetches the current token's claims and parses its issuance
// time.
func TokenIssuedAt(ctx context.Context, principal identity.Principal) (time.Time, error) {
	result, err := principal.IDTokenResult(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrClaimsUnavailable, err)
	}
	return tokenwindow.ParseTimestamp(result.IssuedAtTime)
}
