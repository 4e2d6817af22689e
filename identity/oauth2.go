package identity

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/MrEthical07/authsession/jwt"
	"golang.org/x/oauth2"
)

// ErrMissingIDToken is wrapped when a token response carries no id_token.
var ErrMissingIDToken = errors.New("token response has no id_token")

// OAuth2Provider refreshes ID tokens with the OAuth 2.0 refresh-token grant
// against a remote token endpoint.
type OAuth2Provider struct {
	config *oauth2.Config
	client *http.Client

	mu      sync.Mutex
	current *oauth2Principal
}

// NewOAuth2Provider uses client for token requests; nil uses
// http.DefaultClient.
func NewOAuth2Provider(cfg *oauth2.Config, client *http.Client) *OAuth2Provider {
	if client == nil {
		client = http.DefaultClient
	}
	return &OAuth2Provider{config: cfg, client: client}
}

// SignIn makes uid current, seeded with the token obtained by the host's
// login flow. The token must carry a refresh token.
func (p *OAuth2Provider) SignIn(uid string, token *oauth2.Token) Principal {
	principal := &oauth2Principal{provider: p, uid: uid, token: token}
	p.mu.Lock()
	p.current = principal
	p.mu.Unlock()
	return principal
}

func (p *OAuth2Provider) SignOut() {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
}

func (p *OAuth2Provider) CurrentPrincipal(context.Context) Principal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	return p.current
}

type oauth2Principal struct {
	provider *OAuth2Provider
	uid      string

	mu    sync.Mutex
	token *oauth2.Token
}

func (p *oauth2Principal) UID() string { return p.uid }

func (p *oauth2Principal) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !forceRefresh && p.token != nil && p.token.Valid() {
		if id := idTokenOf(p.token); id != "" {
			return id, nil
		}
	}
	if p.token == nil || p.token.RefreshToken == "" {
		return "", &TokenError{Op: "refresh", UID: p.uid, Err: ErrNoToken}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.provider.client)
	// a token with only a refresh token is never valid, so the source
	// always performs the grant
	src := p.provider.config.TokenSource(ctx, &oauth2.Token{RefreshToken: p.token.RefreshToken})
	next, err := src.Token()
	if err != nil {
		return "", &TokenError{Op: "refresh", UID: p.uid, Err: classifyRefreshError(err)}
	}
	id := idTokenOf(next)
	if id == "" {
		return "", &TokenError{Op: "refresh", UID: p.uid, Err: ErrMissingIDToken}
	}
	if next.RefreshToken == "" {
		next.RefreshToken = p.token.RefreshToken
	}
	p.token = next
	return id, nil
}

func (p *oauth2Principal) IDTokenResult(ctx context.Context) (*TokenResult, error) {
	id, err := p.IDToken(ctx, false)
	if err != nil {
		return nil, err
	}
	claims, err := jwt.ReadClaims(id)
	if err != nil {
		return nil, &TokenError{Op: "token-result", UID: p.uid, Err: err}
	}
	result := &TokenResult{Token: id, Claims: claims}
	if iat, err := jwt.IssuedAt(claims); err == nil {
		result.IssuedAtTime = TimestampOf(iat)
	}
	if exp, err := jwt.ExpiresAt(claims); err == nil && !exp.IsZero() {
		result.ExpirationTime = TimestampOf(exp)
	}
	return result, nil
}

func idTokenOf(t *oauth2.Token) string {
	if t == nil {
		return ""
	}
	id, _ := t.Extra("id_token").(string)
	return id
}

// classifyRefreshError maps a rejected grant to ErrPrincipalDisabled and
// everything else, transport failures included, to ErrProviderUnreachable.
func classifyRefreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_grant", "unauthorized_client", "invalid_client":
			return errors.Join(ErrPrincipalDisabled, err)
		}
	}
	return errors.Join(ErrProviderUnreachable, err)
}
