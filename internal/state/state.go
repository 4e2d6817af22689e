// Package state owns the in-memory session record and the persisted
// markers that back it.
package state

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/authsession/clock"
	"github.com/MrEthical07/authsession/internal/audit"
	"github.com/MrEthical07/authsession/localstore"
)

// Persisted marker keys.
const (
	KeyAuthenticated    = "isAuthenticated"
	KeyUserRole         = "userRole"
	KeyLastTokenRefresh = "lastTokenRefresh"
	KeyTokenExpiration  = "tokenExpiration"

	// KeyLastPrincipal lives in the durable store and survives restarts
	// until an explicit clear.
	KeyLastPrincipal = "lastPrincipalId"
)

// Record is the in-memory session. An empty PrincipalID and a zero
// LastRefreshAt mean "not set".
type Record struct {
	Initialized   bool
	Authenticated bool
	PrincipalID   string
	LastRefreshAt time.Time
}

// Patch lists the fields Merge should overwrite. Nil fields are left
// untouched.
type Patch struct {
	Initialized   *bool
	Authenticated *bool
	PrincipalID   *string
	LastRefreshAt *time.Time
}

// Markers is the decoded view of the persisted markers.
type Markers struct {
	Authenticated    bool
	Role             string
	LastTokenRefresh time.Time
	TokenExpiration  time.Time
}

// Store guards the record and writes markers through to the local stores.
type Store struct {
	mu      sync.Mutex
	record  Record
	session localstore.Store
	durable localstore.Store
	cookies localstore.CookieJar
	clock   clock.Clock
	log     *audit.Logger
}

// Config wires the collaborators of a Store. Session is required; Durable
// and Cookies are optional.
type Config struct {
	Session localstore.Store
	Durable localstore.Store
	Cookies localstore.CookieJar
	Clock   clock.Clock
	Logger  *audit.Logger
}

func New(cfg Config) *Store {
	if cfg.Session == nil {
		cfg.Session = localstore.NewMemory()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Store{
		session: cfg.Session,
		durable: cfg.Durable,
		cookies: cfg.Cookies,
		clock:   cfg.Clock,
		log:     cfg.Logger,
	}
}

// Get returns a copy of the record.
func (s *Store) Get() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// Merge applies p atomically and logs the non-sensitive subset of the
// resulting record.
func (s *Store) Merge(ctx context.Context, p Patch) Record {
	s.mu.Lock()
	applyPatch(&s.record, p)
	next := s.record
	s.mu.Unlock()

	s.log.Info(ctx, "session_state_merge", next.PrincipalID, summary(next))
	return next
}

func applyPatch(r *Record, p Patch) {
	if p.Initialized != nil {
		r.Initialized = *p.Initialized
	}
	if p.Authenticated != nil {
		r.Authenticated = *p.Authenticated
	}
	if p.PrincipalID != nil {
		r.PrincipalID = *p.PrincipalID
	}
	if p.LastRefreshAt != nil {
		r.LastRefreshAt = *p.LastRefreshAt
	}
}

func summary(r Record) map[string]string {
	out := map[string]string{
		"initialized":   strconv.FormatBool(r.Initialized),
		"authenticated": strconv.FormatBool(r.Authenticated),
		"has_principal": strconv.FormatBool(r.PrincipalID != ""),
	}
	if !r.LastRefreshAt.IsZero() {
		out["last_refresh"] = r.LastRefreshAt.UTC().Format(time.RFC3339)
	}
	return out
}

// Markers reads the persisted markers from the session-scoped store. A
// missing or malformed lastTokenRefresh decodes as the zero time.
func (s *Store) Markers(ctx context.Context) (Markers, error) {
	var m Markers
	flag, ok, err := s.session.Get(ctx, KeyAuthenticated)
	if err != nil {
		return m, err
	}
	m.Authenticated = ok && flag == "true"

	if role, ok, err := s.session.Get(ctx, KeyUserRole); err != nil {
		return m, err
	} else if ok {
		m.Role = role
	}
	if m.LastTokenRefresh, err = s.readMillis(ctx, KeyLastTokenRefresh); err != nil {
		return m, err
	}
	if m.TokenExpiration, err = s.readMillis(ctx, KeyTokenExpiration); err != nil {
		return m, err
	}
	return m, nil
}

func (s *Store) readMillis(ctx context.Context, key string) (time.Time, error) {
	raw, ok, err := s.session.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, err
	}
	ms, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil || ms <= 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms).UTC(), nil
}

// MarkAuthenticated persists lastTokenRefresh first, then the remaining
// markers, then merges the authenticated record. When the lastTokenRefresh
// write fails the record is left unauthenticated.
func (s *Store) MarkAuthenticated(ctx context.Context, principalID, role string, expiresAt time.Time) (Record, error) {
	now := s.clock.Now()
	if err := s.session.Set(ctx, KeyLastTokenRefresh, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		s.log.Error(ctx, "session_markers_write", principalID, err, audit.Detail("key", KeyLastTokenRefresh))
		return s.Get(), err
	}

	var errs []error
	if err := s.session.Set(ctx, KeyAuthenticated, "true"); err != nil {
		errs = append(errs, err)
	}
	if role != "" {
		if err := s.session.Set(ctx, KeyUserRole, role); err != nil {
			errs = append(errs, err)
		}
	}
	if !expiresAt.IsZero() {
		if err := s.session.Set(ctx, KeyTokenExpiration, strconv.FormatInt(expiresAt.UnixMilli(), 10)); err != nil {
			errs = append(errs, err)
		}
	}
	if s.durable != nil {
		if err := s.durable.Set(ctx, KeyLastPrincipal, principalID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Warn(ctx, "session_markers_write", principalID, err, nil)
	}

	t := true
	rec := s.Merge(ctx, Patch{
		Initialized:   &t,
		Authenticated: &t,
		PrincipalID:   &principalID,
		LastRefreshAt: &now,
	})
	return rec, nil
}

// TrustCached marks the record authenticated from markers that are
// already persisted. No marker is rewritten, so the offline trust window
// still runs from the stored lastTokenRefresh.
func (s *Store) TrustCached(ctx context.Context, principalID string, m Markers) Record {
	t := true
	p := Patch{
		Initialized:   &t,
		Authenticated: &t,
		PrincipalID:   &principalID,
	}
	if !m.LastTokenRefresh.IsZero() {
		p.LastRefreshAt = &m.LastTokenRefresh
	}
	return s.Merge(ctx, p)
}

// LastPrincipal returns the principal recorded in the durable store.
func (s *Store) LastPrincipal(ctx context.Context) (string, bool, error) {
	if s.durable == nil {
		return "", false, nil
	}
	return s.durable.Get(ctx, KeyLastPrincipal)
}

// RecordRefresh persists the markers for a scheduler refresh and advances
// LastRefreshAt without touching the authenticated flag.
func (s *Store) RecordRefresh(ctx context.Context, principalID, role string, expiresAt time.Time) error {
	now := s.clock.Now()
	var errs []error
	if err := s.session.Set(ctx, KeyLastTokenRefresh, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		errs = append(errs, err)
	}
	if role != "" {
		if err := s.session.Set(ctx, KeyUserRole, role); err != nil {
			errs = append(errs, err)
		}
	}
	if !expiresAt.IsZero() {
		if err := s.session.Set(ctx, KeyTokenExpiration, strconv.FormatInt(expiresAt.UnixMilli(), 10)); err != nil {
			errs = append(errs, err)
		}
	}
	s.Merge(ctx, Patch{LastRefreshAt: &now})
	if err := errors.Join(errs...); err != nil {
		s.log.Warn(ctx, "session_markers_write", principalID, err, nil)
		return err
	}
	return nil
}
