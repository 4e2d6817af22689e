// Package cleanup keeps the per-principal teardown callbacks that must run
// exactly once when a session ends.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/MrEthical07/authsession/internal/audit"
)

// ErrTeardownFailure wraps an error or panic raised by a teardown.
var ErrTeardownFailure = errors.New("teardown failure")

// Teardown releases one resource tied to a principal's session.
type Teardown func() error

// Registry maps principal ids to ordered teardown lists.
type Registry struct {
	mu      sync.Mutex
	entries map[string][]Teardown
	log     *audit.Logger
	onFail  func(principalID string, err error)
}

// New returns an empty registry. onFail, if set, sees every teardown
// failure after it has been logged.
func New(log *audit.Logger, onFail func(principalID string, err error)) *Registry {
	return &Registry{
		entries: make(map[string][]Teardown),
		log:     log,
		onFail:  onFail,
	}
}

// Register appends fn to principalID's list.
func (r *Registry) Register(principalID string, fn Teardown) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.entries[principalID] = append(r.entries[principalID], fn)
	r.mu.Unlock()
}

// Run removes principalID's list and runs it in registration order. Every
// failure is logged and swallowed. Running an unknown principal is a
// no-op. It returns the number of teardowns executed.
func (r *Registry) Run(ctx context.Context, principalID string) int {
	r.mu.Lock()
	fns := r.entries[principalID]
	delete(r.entries, principalID)
	r.mu.Unlock()

	if len(fns) == 0 {
		return 0
	}
	for i, fn := range fns {
		if err := invoke(fn); err != nil {
			err = fmt.Errorf("%w: %v", ErrTeardownFailure, err)
			r.log.Error(ctx, "cleanup_teardown", principalID, err, audit.Detail("index", strconv.Itoa(i)))
			if r.onFail != nil {
				r.onFail(principalID, err)
			}
		}
	}
	r.log.Success(ctx, "cleanup_run", principalID, audit.Detail("teardowns", strconv.Itoa(len(fns))))
	return len(fns)
}

// RunAll runs every registered principal, in principal id order.
func (r *Registry) RunAll(ctx context.Context) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	total := 0
	for _, id := range ids {
		total += r.Run(ctx, id)
	}
	return total
}

// Len returns the number of teardowns pending for principalID.
func (r *Registry) Len(principalID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[principalID])
}

func invoke(fn Teardown) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}
