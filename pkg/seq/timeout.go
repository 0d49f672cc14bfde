package seq

import (
	"sync"
	"time"
)

// supervisor holds the single live wall-clock bound on forward progress.
// Arming replaces any prior bound; every successful step advance disarms.
// Expiry is delivered as a run event stamped with a generation so a timer
// firing concurrently with its own disarm is recognized as stale.
type supervisor struct {
	post func(event)

	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
	bound time.Duration
}

func newSupervisor(post func(event)) *supervisor {
	return &supervisor{post: post}
}

func (s *supervisor) arm(bound time.Duration, onExpiry func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	s.bound = bound
	gen := s.gen
	s.timer = time.AfterFunc(bound, func() {
		if onExpiry != nil {
			onExpiry()
		}
		s.post(event{kind: evTimeout, gen: gen, bound: bound})
	})
}

func (s *supervisor) disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.bound = 0
}

// live reports whether an expiry event belongs to the currently armed bound.
func (s *supervisor) live(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil && gen == s.gen
}
