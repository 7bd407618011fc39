package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/quizrun/quizrun-backend/internal/model"
)

// TerminalResult carries the (possibly degraded) outcome committed together
// with a terminal transition.
type TerminalResult struct {
	FinishedAt          time.Time
	Score               *float64
	CorrectAnswers      *int
	AutoSubmitted       bool
	NeedsReconciliation bool
}

// AttemptStore persists attempt records. Implementations: Postgres
// (internal/repository) and in-memory (internal/repository/memory).
type AttemptStore interface {
	// Create inserts a new attempt. Returns ErrOpenAttemptExists when the
	// student already has an open attempt for the quiz.
	Create(ctx context.Context, a *model.Attempt) error
	Get(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	// GetOpenByQuizAndStudent returns the student's IN_PROGRESS or PAUSED
	// attempt for the quiz, or ErrNotFound.
	GetOpenByQuizAndStudent(ctx context.Context, quizID uuid.UUID, studentID int) (*model.Attempt, error)
	// SaveProgress updates the mutable non-terminal fields (status, pause
	// bookkeeping, question cursor) of a still-open attempt.
	SaveProgress(ctx context.Context, a *model.Attempt) error
	// ClaimTerminal atomically moves an open attempt to a terminal state and
	// writes the result. Returns false when the attempt was no longer open —
	// the caller lost the submit/expire race and must not apply side effects.
	ClaimTerminal(ctx context.Context, id uuid.UUID, to model.AttemptStatus, res TerminalResult) (bool, error)
	// Reconcile rescores a degraded EXPIRED attempt and promotes it to
	// AUTO_SUBMITTED. Returns false when the attempt no longer needs it.
	Reconcile(ctx context.Context, id uuid.UUID, res TerminalResult) (bool, error)
	// ListInProgress returns attempts whose auto-submit timers must be
	// rescheduled after a restart. PAUSED attempts carry no pending timer.
	ListInProgress(ctx context.Context) ([]model.Attempt, error)
}

// ResponseStore is the response ledger: at most one record per
// (attempt, question) pair.
type ResponseStore interface {
	Upsert(ctx context.Context, r *model.Response) error
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Response, error)
}

// QuestionBank is the read-only accessor for quiz content. Authoring lives
// outside this service; the engine only ever reads ordered questions, the
// answer key, and the time limit.
type QuestionBank interface {
	OrderedQuestions(ctx context.Context, quizID uuid.UUID) ([]model.QuestionRef, error)
	AnswerKey(ctx context.Context, quizID uuid.UUID) (map[uuid.UUID]model.QuestionKey, error)
	TimeLimit(ctx context.Context, quizID uuid.UUID) (time.Duration, error)
}

// SessionCache mirrors hot session facts into a shared cache and feeds the
// reconcile queue. All methods are best-effort: failures are logged by the
// implementation and never fail the state transition they accompany.
type SessionCache interface {
	SetDeadline(ctx context.Context, attemptID uuid.UUID, deadline time.Time)
	ClearDeadline(ctx context.Context, attemptID uuid.UUID)
	EnqueueReconcile(ctx context.Context, attemptID uuid.UUID)
}
