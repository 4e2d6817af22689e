package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/authsession"
	"github.com/MrEthical07/authsession/identity"
)

// Mode selects how much work a guard does per request.
type Mode int

const (
	// ModeCached trusts the in-memory session record. No I/O.
	ModeCached Mode = iota
	// ModeStrict re-validates the provider's current principal on every
	// request, which may refresh its token.
	ModeStrict
)

// SessionManager is the subset of *authsession.Manager used by guards.
type SessionManager interface {
	Snapshot() authsession.Session
	ValidateSession(ctx context.Context, principal identity.Principal) bool
}

type sessionContextKey struct{}

// SessionFromContext returns the session record a guard attached to ctx.
func SessionFromContext(ctx context.Context) (authsession.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(authsession.Session)
	return s, ok
}

// Guard rejects requests with 401 unless the client holds an
// authenticated session. provider is only consulted in ModeStrict.
func Guard(m SessionManager, provider identity.Provider, mode Mode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if mode == ModeStrict {
				if provider == nil {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				principal := provider.CurrentPrincipal(r.Context())
				if principal == nil || !m.ValidateSession(r.Context(), principal) {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
			}

			session := m.Snapshot()
			if !session.Authenticated {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession guards with ModeCached.
func RequireSession(m SessionManager) func(http.Handler) http.Handler {
	return Guard(m, nil, ModeCached)
}

// RequireStrict guards with ModeStrict.
func RequireStrict(m SessionManager, provider identity.Provider) func(http.Handler) http.Handler {
	return Guard(m, provider, ModeStrict)
}
