package identity

import (
	"context"
	"net/http"
	"sync"

	"github.com/MrEthical07/authsession/jwt"
)

// Local issues ID tokens in-process. It can be made unreachable, made to
// fail a number of refreshes or claim reads, and can disable principals,
// which makes it suitable for tests, demos and soak runs.
type Local struct {
	mu          sync.Mutex
	issuer      *jwt.Manager
	reachable   bool
	failRefresh int
	failClaims  int
	users       map[string]*localUser
	current     string
}

type localUser struct {
	role      string
	disabled  bool
	token     string
	refreshes int
}

// NewLocal returns a provider minting with issuer. Token times follow the
// issuer's clock.
func NewLocal(issuer *jwt.Manager) *Local {
	return &Local{
		issuer:    issuer,
		reachable: true,
		users:     make(map[string]*localUser),
	}
}

// SignIn registers uid, mints its first token and makes it current.
func (l *Local) SignIn(uid, role string) (Principal, error) {
	token, err := l.issuer.Mint(uid, role, nil)
	if err != nil {
		return nil, &TokenError{Op: "sign-in", UID: uid, Err: err}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users[uid] = &localUser{role: role, token: token}
	l.current = uid
	return &localPrincipal{provider: l, uid: uid}, nil
}

// SignOut clears the current principal. Tokens already issued stay valid.
func (l *Local) SignOut() {
	l.mu.Lock()
	l.current = ""
	l.mu.Unlock()
}

func (l *Local) CurrentPrincipal(context.Context) Principal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == "" {
		return nil
	}
	return &localPrincipal{provider: l, uid: l.current}
}

// Principal returns a handle for a signed-in uid, or nil.
func (l *Local) Principal(uid string) Principal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.users[uid]; !ok {
		return nil
	}
	return &localPrincipal{provider: l, uid: uid}
}

func (l *Local) SetReachable(reachable bool) {
	l.mu.Lock()
	l.reachable = reachable
	l.mu.Unlock()
}

// Disable makes every later token call for uid fail with
// ErrPrincipalDisabled.
func (l *Local) Disable(uid string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u, ok := l.users[uid]; ok {
		u.disabled = true
	}
}

// FailRefreshes makes the next n forced refreshes fail as unreachable.
func (l *Local) FailRefreshes(n int) {
	l.mu.Lock()
	l.failRefresh = n
	l.mu.Unlock()
}

// FailClaims makes the next n IDTokenResult calls fail as unreachable.
func (l *Local) FailClaims(n int) {
	l.mu.Lock()
	l.failClaims = n
	l.mu.Unlock()
}

// Refreshes returns how many tokens were minted for uid after sign-in.
func (l *Local) Refreshes(uid string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u, ok := l.users[uid]; ok {
		return u.refreshes
	}
	return 0
}

type localPrincipal struct {
	provider *Local
	uid      string
}

func (p *localPrincipal) UID() string { return p.uid }

func (p *localPrincipal) IDToken(_ context.Context, forceRefresh bool) (string, error) {
	l := p.provider
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[p.uid]
	if !ok {
		return "", &TokenError{Op: "id-token", UID: p.uid, Err: ErrNoToken}
	}
	if u.disabled {
		return "", &TokenError{Op: "id-token", UID: p.uid, Err: ErrPrincipalDisabled}
	}
	if !forceRefresh && u.token != "" {
		return u.token, nil
	}
	if !l.reachable {
		return "", &TokenError{Op: "refresh", UID: p.uid, Err: ErrProviderUnreachable}
	}
	if l.failRefresh > 0 {
		l.failRefresh--
		return "", &TokenError{Op: "refresh", UID: p.uid, Err: ErrProviderUnreachable}
	}

	token, err := l.issuer.Mint(p.uid, u.role, nil)
	if err != nil {
		return "", &TokenError{Op: "refresh", UID: p.uid, Err: err}
	}
	u.token = token
	u.refreshes++
	return token, nil
}

func (p *localPrincipal) IDTokenResult(ctx context.Context) (*TokenResult, error) {
	l := p.provider
	l.mu.Lock()
	if l.failClaims > 0 {
		l.failClaims--
		l.mu.Unlock()
		return nil, &TokenError{Op: "token-result", UID: p.uid, Err: ErrProviderUnreachable}
	}
	l.mu.Unlock()

	token, err := p.IDToken(ctx, false)
	if err != nil {
		return nil, err
	}
	claims, err := jwt.ReadClaims(token)
	if err != nil {
		return nil, &TokenError{Op: "token-result", UID: p.uid, Err: err}
	}

	result := &TokenResult{Token: token, Claims: claims}
	if iat, err := jwt.IssuedAt(claims); err == nil {
		result.IssuedAtTime = iat.UTC().Format(http.TimeFormat)
	}
	if exp, err := jwt.ExpiresAt(claims); err == nil && !exp.IsZero() {
		result.ExpirationTime = exp.UTC().Format(http.TimeFormat)
	}
	return result, nil
}
