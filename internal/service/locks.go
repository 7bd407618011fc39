package service

import (
	"sync"

	"github.com/google/uuid"
)

// attemptLocks serializes all mutating operations per attempt. Entries are
// reference-counted so the table does not grow with finished attempts.
type attemptLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newAttemptLocks() *attemptLocks {
	return &attemptLocks{entries: make(map[uuid.UUID]*lockEntry)}
}

// acquire blocks until the per-attempt lock is held and returns the release
// function. Different attempts never contend with each other.
func (l *attemptLocks) acquire(id uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &lockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
