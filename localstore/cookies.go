package localstore

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"
)

// CookieJar enumerates and rewrites the cookies the client holds for its
// own origin.
type CookieJar interface {
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	SetCookie(ctx context.Context, cookie *http.Cookie) error
}

// Expired returns a copy of c rewritten with an already-past expiry so any
// cookie store honouring RFC 6265 drops it.
func Expired(c *http.Cookie) *http.Cookie {
	out := &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		Domain:   c.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
		SameSite: c.SameSite,
	}
	if out.Path == "" {
		out.Path = "/"
	}
	return out
}

// MemoryCookies is a CookieJar for a single origin. Cookies with a negative
// MaxAge or an expiry at or before now are deleted on SetCookie.
type MemoryCookies struct {
	mu      sync.Mutex
	now     func() time.Time
	cookies map[string]*http.Cookie
}

func NewMemoryCookies(now func() time.Time) *MemoryCookies {
	if now == nil {
		now = time.Now
	}
	return &MemoryCookies{
		now:     now,
		cookies: make(map[string]*http.Cookie),
	}
}

func (j *MemoryCookies) Cookies(context.Context) ([]*http.Cookie, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*http.Cookie, 0, len(j.cookies))
	for _, c := range j.cookies {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

func (j *MemoryCookies) SetCookie(_ context.Context, c *http.Cookie) error {
	if c == nil || c.Name == "" {
		return ErrEmptyKey
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(j.now())) {
		delete(j.cookies, c.Name)
		return nil
	}
	cp := *c
	j.cookies[c.Name] = &cp
	return nil
}

// HTTPJar adapts a net/http CookieJar, usually net/http/cookiejar, for one
// origin URL.
type HTTPJar struct {
	jar    http.CookieJar
	origin *url.URL
}

func NewHTTPJar(jar http.CookieJar, origin *url.URL) *HTTPJar {
	return &HTTPJar{jar: jar, origin: origin}
}

func (j *HTTPJar) Cookies(context.Context) ([]*http.Cookie, error) {
	return j.jar.Cookies(j.origin), nil
}

func (j *HTTPJar) SetCookie(_ context.Context, c *http.Cookie) error {
	if c == nil || c.Name == "" {
		return ErrEmptyKey
	}
	j.jar.SetCookies(j.origin, []*http.Cookie{c})
	return nil
}
