package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/quizrun/quizrun-backend/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SessionCache mirrors attempt deadlines into Redis and feeds the reconcile
// queue. Everything here is best-effort: the database row is authoritative,
// so cache failures are logged and swallowed instead of failing the state
// transition they accompany.
type SessionCache struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewSessionCache creates a new SessionCache.
func NewSessionCache(rdb *redis.Client, log zerolog.Logger) *SessionCache {
	return &SessionCache{
		rdb: rdb,
		log: log.With().Str("component", "session_cache").Logger(),
	}
}

// SetDeadline mirrors the attempt's wall-clock deadline. The key expires
// shortly after the deadline itself, so stale mirrors clean themselves up.
func (c *SessionCache) SetDeadline(ctx context.Context, attemptID uuid.UUID, deadline time.Time) {
	ttl := time.Until(deadline) + time.Minute
	if ttl <= 0 {
		return
	}
	key := config.CacheKey.AttemptDeadlineKey(attemptID.String())
	if err := c.rdb.Set(ctx, key, deadline.UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Deadline cache write failed")
	}
}

// ClearDeadline drops the mirrored deadline.
func (c *SessionCache) ClearDeadline(ctx context.Context, attemptID uuid.UUID) {
	key := config.CacheKey.AttemptDeadlineKey(attemptID.String())
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Deadline cache delete failed")
	}
}

// EnqueueReconcile pushes the attempt onto the reconcile queue consumed by
// worker.ReconcileWorker.
func (c *SessionCache) EnqueueReconcile(ctx context.Context, attemptID uuid.UUID) {
	if err := c.rdb.RPush(ctx, config.WorkerKey.ReconcileScoresQueue, attemptID.String()).Err(); err != nil {
		c.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Reconcile enqueue failed")
	}
}
