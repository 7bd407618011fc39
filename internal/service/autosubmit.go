package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AutoSubmitScheduler owns one logical timer per open attempt, keyed by
// attempt ID. Schedule always cancels any previous timer for the attempt
// before arming a new one, and a canceled timer can never invoke the fire
// callback: each arm bumps a per-attempt generation, and the callback
// re-checks its generation under the registry lock before firing.
type AutoSubmitScheduler struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
	gens   map[uuid.UUID]uint64
	fire   func(attemptID uuid.UUID)
}

// NewAutoSubmitScheduler creates a scheduler. fire runs on the timer
// goroutine when a deadline passes; it must be safe to call concurrently
// for different attempts.
func NewAutoSubmitScheduler(fire func(attemptID uuid.UUID)) *AutoSubmitScheduler {
	return &AutoSubmitScheduler{
		timers: make(map[uuid.UUID]*time.Timer),
		gens:   make(map[uuid.UUID]uint64),
		fire:   fire,
	}
}

// Schedule arms (or re-arms) the attempt's timer to fire after d. A
// non-positive d fires immediately on the timer goroutine.
func (s *AutoSubmitScheduler) Schedule(attemptID uuid.UUID, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[attemptID]; ok {
		t.Stop()
	}
	s.gens[attemptID]++
	gen := s.gens[attemptID]

	if d < 0 {
		d = 0
	}
	s.timers[attemptID] = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.gens[attemptID] != gen {
			// Canceled or rescheduled after this timer was armed.
			s.mu.Unlock()
			return
		}
		delete(s.timers, attemptID)
		delete(s.gens, attemptID)
		s.mu.Unlock()

		s.fire(attemptID)
	})
}

// Cancel disarms the attempt's pending timer, if any. After Cancel returns,
// the previously armed timer will not fire.
func (s *AutoSubmitScheduler) Cancel(attemptID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[attemptID]; ok {
		t.Stop()
		delete(s.timers, attemptID)
	}
	// Invalidate in-flight callbacks that already fired but have not passed
	// the generation check yet.
	s.gens[attemptID]++
}

// Pending reports whether a timer is currently armed for the attempt.
func (s *AutoSubmitScheduler) Pending(attemptID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[attemptID]
	return ok
}
