package reachability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/MrEthical07/authsession/clock"
)

// CheckFunc reports whether the network is usable right now.
type CheckFunc func(ctx context.Context) bool

// HTTPCheck probes url with a HEAD request. Any response, including an
// error status, counts as reachable; only transport failures count as
// offline.
func HTTPCheck(client *http.Client, url string) CheckFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}
}

// Prober polls a CheckFunc and publishes the result through a Signal.
type Prober struct {
	*Signal

	check    CheckFunc
	interval time.Duration
	clock    clock.Clock

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewProber runs one check synchronously to seed the state, then polls
// every interval until Stop.
func NewProber(ctx context.Context, check CheckFunc, interval time.Duration, c clock.Clock) *Prober {
	if c == nil {
		c = clock.Real()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	p := &Prober{
		Signal:   NewSignal(check(ctx)),
		check:    check,
		interval: interval,
		clock:    c,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

func (p *Prober) run(ctx context.Context) {
	defer close(p.done)
	for {
		timer := p.clock.NewTimer(p.interval)
		select {
		case <-p.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}
		p.SetOnline(p.check(ctx))
	}
}

// Stop ends polling and waits for the poller to exit.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}
