package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authsession/internal/audit"
	"github.com/MrEthical07/authsession/localstore"
)

// Clear wipes every storage scope and resets the record to
// {Initialized: true}. It never fails; each scope's error is logged and
// the remaining scopes still run.
func (s *Store) Clear(ctx context.Context) Record {
	principal := s.Get().PrincipalID

	if err := s.ClearSessionScope(ctx); err != nil {
		s.log.Error(ctx, "session_clear", principal, err, audit.Detail("scope", "session"))
	}
	if err := s.ClearDurableScope(ctx); err != nil {
		s.log.Error(ctx, "session_clear", principal, err, audit.Detail("scope", "durable"))
	}
	if err := s.ExpireCookies(ctx); err != nil {
		s.log.Error(ctx, "session_clear", principal, err, audit.Detail("scope", "cookies"))
	}

	rec := s.Reset()
	s.log.Success(ctx, "session_clear", principal, summary(rec))
	return rec
}

// ClearSessionScope erases the session-scoped store.
func (s *Store) ClearSessionScope(ctx context.Context) error {
	return guard(func() error { return s.session.ClearAll(ctx) })
}

// ClearDurableScope erases the durable store, if one is configured.
func (s *Store) ClearDurableScope(ctx context.Context) error {
	if s.durable == nil {
		return nil
	}
	return guard(func() error { return s.durable.ClearAll(ctx) })
}

// ExpireCookies rewrites every cookie in the jar with a past expiry.
func (s *Store) ExpireCookies(ctx context.Context) error {
	if s.cookies == nil {
		return nil
	}
	return guard(func() error {
		cookies, err := s.cookies.Cookies(ctx)
		if err != nil {
			return err
		}
		var errs []error
		for _, c := range cookies {
			if err := s.cookies.SetCookie(ctx, localstore.Expired(c)); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Reset replaces the record with {Initialized: true}.
func (s *Store) Reset() Record {
	s.mu.Lock()
	s.record = Record{Initialized: true}
	rec := s.record
	s.mu.Unlock()
	return rec
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during clear: %v", r)
		}
	}()
	return fn()
}
