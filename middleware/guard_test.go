package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/authsession"
	"github.com/MrEthical07/authsession/identity"
)

type fakeManager struct {
	session   authsession.Session
	valid     bool
	validated []string
}

func (f *fakeManager) Snapshot() authsession.Session { return f.session }

func (f *fakeManager) ValidateSession(_ context.Context, p identity.Principal) bool {
	f.validated = append(f.validated, p.UID())
	return f.valid
}

type fakePrincipal string

func (p fakePrincipal) UID() string { return string(p) }
func (fakePrincipal) IDToken(context.Context, bool) (string, error) {
	return "", nil
}
func (fakePrincipal) IDTokenResult(context.Context) (*identity.TokenResult, error) {
	return nil, nil
}

type fakeProvider struct{ current identity.Principal }

func (f fakeProvider) CurrentPrincipal(context.Context) identity.Principal { return f.current }

func serve(h func(http.Handler) http.Handler) (*httptest.ResponseRecorder, *authsession.Session) {
	var seen *authsession.Session
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s, ok := SessionFromContext(r.Context()); ok {
			seen = &s
		}
		w.WriteHeader(http.StatusNoContent)
	})
	rec := httptest.NewRecorder()
	h(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec, seen
}

func TestRequireSessionPassesAuthenticated(t *testing.T) {
	m := &fakeManager{session: authsession.Session{Initialized: true, Authenticated: true, PrincipalID: "u1"}}
	rec, seen := serve(RequireSession(m))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if seen == nil || seen.PrincipalID != "u1" {
		t.Fatalf("session not attached to context: %+v", seen)
	}
	if len(m.validated) != 0 {
		t.Fatal("cached guard must not validate")
	}
}

func TestRequireSessionRejectsUnauthenticated(t *testing.T) {
	rec, _ := serve(RequireSession(&fakeManager{session: authsession.Session{Initialized: true}}))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec, _ = serve(RequireSession(nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for nil manager, got %d", rec.Code)
	}
}

func TestRequireStrictValidatesCurrentPrincipal(t *testing.T) {
	m := &fakeManager{
		session: authsession.Session{Initialized: true, Authenticated: true, PrincipalID: "u1"},
		valid:   true,
	}
	rec, _ := serve(RequireStrict(m, fakeProvider{current: fakePrincipal("u1")}))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(m.validated) != 1 || m.validated[0] != "u1" {
		t.Fatalf("expected one validation of u1, got %v", m.validated)
	}
}

func TestRequireStrictRejects(t *testing.T) {
	authed := authsession.Session{Initialized: true, Authenticated: true, PrincipalID: "u1"}
	cases := map[string]struct {
		m        *fakeManager
		provider identity.Provider
	}{
		"validation fails": {m: &fakeManager{session: authed}, provider: fakeProvider{current: fakePrincipal("u1")}},
		"no principal":     {m: &fakeManager{session: authed, valid: true}, provider: fakeProvider{}},
		"no provider":      {m: &fakeManager{session: authed, valid: true}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec, _ := serve(RequireStrict(tc.m, tc.provider))
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}
