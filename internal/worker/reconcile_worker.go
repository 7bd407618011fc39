package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/quizrun/quizrun-backend/internal/config"
	"github.com/quizrun/quizrun-backend/internal/model"
	"github.com/quizrun/quizrun-backend/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	ReconcilePollTimeout = 1 * time.Second
	// ReconcileRequeueDelay spaces retries of attempts whose rescoring keeps
	// failing, so a broken quiz does not spin the loop. The delay runs off
	// the worker goroutine; other queue entries keep draining meanwhile.
	ReconcileRequeueDelay = 5 * time.Second
)

// ReconcileWorker drains the reconcile queue. Two kinds of entries land
// here: attempts the auto-submit trigger degraded to EXPIRED (deadline
// enforced, score missing), which are rescored and promoted to
// AUTO_SUBMITTED; and attempts the trigger could not even load or claim,
// which are still open past their deadline and are closed here. Rescoring
// uses the same scorer as the submit paths, so a reconciled attempt is
// indistinguishable from one scored on time.
type ReconcileWorker struct {
	rdb       *redis.Client
	attempts  service.AttemptStore
	responses service.ResponseStore
	bank      service.QuestionBank
	log       zerolog.Logger
}

// NewReconcileWorker creates a new ReconcileWorker.
func NewReconcileWorker(
	rdb *redis.Client,
	attempts service.AttemptStore,
	responses service.ResponseStore,
	bank service.QuestionBank,
	log zerolog.Logger,
) *ReconcileWorker {
	return &ReconcileWorker{
		rdb:       rdb,
		attempts:  attempts,
		responses: responses,
		bank:      bank,
		log:       log.With().Str("component", "reconcile_worker").Logger(),
	}
}

// Start runs the worker loop until ctx is canceled. Remaining queue entries
// are left in Redis; they survive restarts.
func (w *ReconcileWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ReconcileWorker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ReconcileWorker stopped")
			return

		default:
			item, err := w.rdb.BLPop(ctx, ReconcilePollTimeout, config.WorkerKey.ReconcileScoresQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			attemptID, err := uuid.Parse(item[1])
			if err != nil {
				w.log.Warn().Str("raw", item[1]).Msg("Dropping malformed queue entry")
				continue
			}

			if err := w.reconcile(ctx, attemptID); err != nil {
				w.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Reconcile failed, requeueing")
				w.requeue(attemptID)
			}
		}
	}
}

// reconcile settles one attempt. Attempts that need nothing are acknowledged
// silently so duplicate queue entries are harmless.
func (w *ReconcileWorker) reconcile(ctx context.Context, attemptID uuid.UUID) error {
	a, err := w.attempts.Get(ctx, attemptID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			w.log.Warn().Str("attempt_id", attemptID.String()).Msg("Queued attempt no longer exists")
			return nil
		}
		return err
	}

	if a.IsOpen() {
		if service.Remaining(a, time.Now()) > 0 {
			// Not due yet; the auto-submit timer owns it.
			return nil
		}
		return w.closeOverdue(ctx, a)
	}

	if a.Status != model.AttemptStatusExpired || !a.NeedsReconciliation {
		return nil
	}

	score, err := w.score(ctx, a)
	if err != nil {
		return err
	}
	res := service.TerminalResult{
		Score:          &score.Score,
		CorrectAnswers: &score.CorrectAnswers,
		AutoSubmitted:  true,
	}
	promoted, err := w.attempts.Reconcile(ctx, a.ID, res)
	if err != nil {
		return err
	}
	if promoted {
		w.log.Info().
			Str("attempt_id", a.ID.String()).
			Float64("score", score.Score).
			Msg("Degraded attempt rescored")
	}
	return nil
}

// closeOverdue drives an attempt that is still open past its deadline to
// AUTO_SUBMITTED. Entries like this appear when the deadline trigger could
// not load or claim the attempt and its process may no longer be running.
func (w *ReconcileWorker) closeOverdue(ctx context.Context, a *model.Attempt) error {
	score, err := w.score(ctx, a)
	if err != nil {
		return err
	}
	res := service.TerminalResult{
		FinishedAt:     time.Now(),
		Score:          &score.Score,
		CorrectAnswers: &score.CorrectAnswers,
		AutoSubmitted:  true,
	}
	claimed, err := w.attempts.ClaimTerminal(ctx, a.ID, model.AttemptStatusAutoSubmitted, res)
	if err != nil {
		return err
	}
	if claimed {
		w.log.Info().
			Str("attempt_id", a.ID.String()).
			Float64("score", score.Score).
			Msg("Overdue open attempt closed")
	}
	return nil
}

func (w *ReconcileWorker) score(ctx context.Context, a *model.Attempt) (service.ScoreResult, error) {
	key, err := w.bank.AnswerKey(ctx, a.QuizID)
	if err != nil {
		return service.ScoreResult{}, err
	}
	responses, err := w.responses.ListByAttempt(ctx, a.ID)
	if err != nil {
		return service.ScoreResult{}, err
	}
	return service.ScoreResponses(key, responses, a.TotalQuestions), nil
}

func (w *ReconcileWorker) requeue(attemptID uuid.UUID) {
	time.AfterFunc(ReconcileRequeueDelay, func() {
		if err := w.rdb.RPush(context.Background(), config.WorkerKey.ReconcileScoresQueue, attemptID.String()).Err(); err != nil {
			w.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Requeue failed")
		}
	})
}
