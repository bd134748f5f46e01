package syncer

import "sync"

// Connectivity reports whether the server is reachable. Subscribers are
// called only when the value changes.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Signal is a settable Connectivity.
type Signal struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   []subscription
}

type subscription struct {
	id int
	fn func(online bool)
}

func NewSignal(online bool) *Signal {
	return &Signal{online: online}
}

func (s *Signal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set records the current state and notifies subscribers on a transition.
// Subscribers run on the caller's goroutine after the lock is released.
func (s *Signal) Set(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(online)
	}
}

func (s *Signal) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}
