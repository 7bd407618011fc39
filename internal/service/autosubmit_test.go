package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSchedulerFires(t *testing.T) {
	fired := make(chan uuid.UUID, 1)
	s := NewAutoSubmitScheduler(func(id uuid.UUID) { fired <- id })

	id := uuid.New()
	s.Schedule(id, 10*time.Millisecond)

	select {
	case got := <-fired:
		if got != id {
			t.Fatalf("fired for wrong attempt: %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	if s.Pending(id) {
		t.Fatal("fired timer still pending")
	}
}

func TestSchedulerCancelPreventsFire(t *testing.T) {
	var fires int32
	s := NewAutoSubmitScheduler(func(uuid.UUID) { atomic.AddInt32(&fires, 1) })

	id := uuid.New()
	s.Schedule(id, 20*time.Millisecond)
	s.Cancel(id)

	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&fires); n != 0 {
		t.Fatalf("canceled timer fired %d times", n)
	}
}

func TestSchedulerRescheduleReplacesTimer(t *testing.T) {
	var fires int32
	s := NewAutoSubmitScheduler(func(uuid.UUID) { atomic.AddInt32(&fires, 1) })

	id := uuid.New()
	// The first short timer must be superseded by the longer one, so nothing
	// fires inside the observation window.
	s.Schedule(id, 10*time.Millisecond)
	s.Schedule(id, time.Hour)

	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&fires); n != 0 {
		t.Fatalf("superseded timer fired %d times", n)
	}
	if !s.Pending(id) {
		t.Fatal("rescheduled timer not pending")
	}
	s.Cancel(id)
}

func TestSchedulerImmediateForPastDeadline(t *testing.T) {
	fired := make(chan struct{}, 1)
	s := NewAutoSubmitScheduler(func(uuid.UUID) { fired <- struct{}{} })

	s.Schedule(uuid.New(), -time.Minute)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("past-deadline timer never fired")
	}
}
