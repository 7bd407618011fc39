package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionCache records cache interactions for assertions without touching
// Redis.
type SessionCache struct {
	mu        sync.Mutex
	deadlines map[uuid.UUID]time.Time
	reconcile []uuid.UUID
}

// NewSessionCache creates an empty SessionCache.
func NewSessionCache() *SessionCache {
	return &SessionCache{deadlines: make(map[uuid.UUID]time.Time)}
}

func (c *SessionCache) SetDeadline(_ context.Context, attemptID uuid.UUID, deadline time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines[attemptID] = deadline
}

func (c *SessionCache) ClearDeadline(_ context.Context, attemptID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.deadlines, attemptID)
}

func (c *SessionCache) EnqueueReconcile(_ context.Context, attemptID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcile = append(c.reconcile, attemptID)
}

// Deadline returns the recorded deadline for an attempt, if any.
func (c *SessionCache) Deadline(attemptID uuid.UUID) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.deadlines[attemptID]
	return d, ok
}

// ReconcileQueue returns a copy of the enqueued attempt IDs.
func (c *SessionCache) ReconcileQueue() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uuid.UUID, len(c.reconcile))
	copy(out, c.reconcile)
	return out
}
