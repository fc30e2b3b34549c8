/*
Package relay contains the core logic of the real-time relay.

This file defines the Scheduler, the single cancellable deadline abstraction
shared by typing expiry and call timeouts. Centralizing the timers here is
what lets explicit stops and call teardown cancel pending expirations
instead of racing ad hoc per-call-site timers.
*/
package relay

import (
	"sync"
	"time"
)

// Scheduler runs at most one pending callback per key. Scheduling an
// existing key replaces its deadline; cancelling stops the pending timer.
// Safe for concurrent use: timer callbacks fire on their own goroutines.
type Scheduler struct {
	mu     sync.Mutex
	gen    uint64
	timers map[string]*pendingTimer
}

// pendingTimer tags each timer with the generation it was scheduled under.
// A callback already past Timer.Stop but blocked on the mutex finds its
// generation replaced or removed and backs out, so a cancel followed by an
// immediate re-schedule under the same key can never fire the stale deadline.
type pendingTimer struct {
	timer *time.Timer
	gen   uint64
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[string]*pendingTimer)}
}

// Schedule arranges fn to run after d, replacing any pending timer under
// the same key. fn runs on the timer goroutine; callers re-enter the Hub
// through its public methods, never with its lock held.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[key]; ok {
		old.timer.Stop()
	}

	s.gen++
	gen := s.gen

	p := &pendingTimer{gen: gen}
	p.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		current, ok := s.timers[key]
		if !ok || current.gen != gen {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()

		fn()
	})

	s.timers[key] = p
}

// Cancel stops the pending timer under key. Returns true if one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.timers[key]
	if !ok {
		return false
	}

	p.timer.Stop()
	delete(s.timers, key)
	return true
}

// StopAll stops every pending timer. Used on shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, key)
	}
}
