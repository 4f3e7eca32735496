// Package timer keeps one countdown per identity, usually the user id whose turn clock
// is running.
package timer

import (
	"sync"
	"time"
)

type entry struct {
	t   *time.Timer
	gen uint64
}

// Service arms and clears per-identity timers. The zero value is not usable; call New.
type Service struct {
	mu     sync.Mutex
	timers map[string]*entry
	gen    uint64
}

func New() *Service {
	return &Service{timers: make(map[string]*entry)}
}

// Arm starts a countdown for id, replacing any timer already armed for it. onExpire runs on
// its own goroutine. Clear(id) or a later Arm(id) suppresses a callback that has not started
// yet; one already running is not interrupted.
func (s *Service) Arm(id string, d time.Duration, onExpire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[id]; ok {
		old.t.Stop()
	}
	s.gen++
	gen := s.gen
	s.timers[id] = &entry{
		gen: gen,
		t: time.AfterFunc(d, func() {
			if !s.fire(id, gen) {
				return
			}
			if onExpire != nil {
				onExpire()
			}
		}),
	}
}

// fire removes the entry if it still belongs to generation gen. A stale callback, whose
// timer was replaced or cleared while it was already running, returns false.
func (s *Service) fire(id string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[id]
	if !ok || e.gen != gen {
		return false
	}
	delete(s.timers, id)
	return true
}

// Clear stops the timer for id. Clearing an identity with no timer is a no-op.
func (s *Service) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[id]; ok {
		e.t.Stop()
		delete(s.timers, id)
	}
}

// Armed reports whether a timer is pending for id.
func (s *Service) Armed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}
