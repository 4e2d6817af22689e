package reachability

import "sync"

// Oracle reports connectivity and notifies subscribers when the state
// transitions from offline to online.
type Oracle interface {
	IsOnline() bool
	// Subscribe registers fn for online transitions. The returned func
	// removes the subscription and is safe to call more than once.
	Subscribe(fn func()) (unsubscribe func())
}

// Signal is an Oracle driven by explicit SetOnline calls, typically wired
// to the host platform's connectivity events.
type Signal struct {
	mu     sync.Mutex
	online bool
	nextID uint64
	subs   map[uint64]func()
}

func NewSignal(online bool) *Signal {
	return &Signal{
		online: online,
		subs:   make(map[uint64]func()),
	}
}

func (s *Signal) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline records the current state. Subscribers run synchronously, outside
// the lock, only on an offline to online transition.
func (s *Signal) SetOnline(online bool) {
	s.mu.Lock()
	transition := online && !s.online
	s.online = online
	var fns []func()
	if transition {
		fns = make([]func(), 0, len(s.subs))
		for _, fn := range s.subs {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Signal) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (s *Signal) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
