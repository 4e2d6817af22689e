package reachability

import (
	"context"
	"time"

	"github.com/MrEthical07/authsession/clock"
)

// Gate exposes the wait-for-network primitive over an Oracle.
type Gate struct {
	oracle Oracle
	clock  clock.Clock
}

// NewGate returns a Gate. A nil oracle is treated as always online.
func NewGate(oracle Oracle, c clock.Clock) *Gate {
	if c == nil {
		c = clock.Real()
	}
	return &Gate{oracle: oracle, clock: c}
}

func (g *Gate) IsOnline() bool {
	if g == nil || g.oracle == nil {
		return true
	}
	return g.oracle.IsOnline()
}

// WaitForNetwork returns true immediately when online. Otherwise it waits
// for an online transition (true), the timeout (false) or ctx (false). The
// subscription is removed on every path.
func (g *Gate) WaitForNetwork(ctx context.Context, timeout time.Duration) bool {
	if g.IsOnline() {
		return true
	}

	up := make(chan struct{}, 1)
	unsubscribe := g.oracle.Subscribe(func() {
		select {
		case up <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	// the transition may have happened between the check and Subscribe
	if g.oracle.IsOnline() {
		return true
	}
	if timeout <= 0 {
		return false
	}

	timer := g.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-up:
		return true
	case <-timer.C():
		return g.oracle.IsOnline()
	case <-ctx.Done():
		return false
	}
}
