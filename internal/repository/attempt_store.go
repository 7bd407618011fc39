package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizrun/quizrun-backend/internal/model"
	"github.com/quizrun/quizrun-backend/internal/service"
)

const attemptColumns = `id, quiz_id, student_id, status, started_at, finished_at,
	 paused_seconds, paused_at, time_limit_seconds,
	 current_question_index, total_questions, correct_answers, score,
	 auto_submitted, needs_reconciliation`

// AttemptStore is the Postgres-backed attempt store. A partial unique index
// on (quiz_id, student_id) over open rows enforces the single-open-attempt
// rule at the storage layer.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore creates a new AttemptStore.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

// Create inserts a new attempt. The open-attempt unique index maps to
// service.ErrOpenAttemptExists.
func (r *AttemptStore) Create(ctx context.Context, a *model.Attempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempts (id, quiz_id, student_id, status, started_at,
		     paused_seconds, time_limit_seconds, current_question_index, total_questions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.QuizID, a.StudentID, a.Status, a.StartedAt,
		a.PausedSeconds, a.TimeLimitSeconds, a.CurrentQuestionIndex, a.TotalQuestions,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrOpenAttemptExists
		}
		return err
	}
	return nil
}

// Get retrieves an attempt by ID.
func (r *AttemptStore) Get(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id,
	).Scan(
		&a.ID, &a.QuizID, &a.StudentID, &a.Status, &a.StartedAt, &a.FinishedAt,
		&a.PausedSeconds, &a.PausedAt, &a.TimeLimitSeconds,
		&a.CurrentQuestionIndex, &a.TotalQuestions, &a.CorrectAnswers, &a.Score,
		&a.AutoSubmitted, &a.NeedsReconciliation,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetOpenByQuizAndStudent retrieves the student's open attempt for a quiz.
func (r *AttemptStore) GetOpenByQuizAndStudent(ctx context.Context, quizID uuid.UUID, studentID int) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE quiz_id = $1 AND student_id = $2 AND status IN ('IN_PROGRESS', 'PAUSED')`,
		quizID, studentID,
	).Scan(
		&a.ID, &a.QuizID, &a.StudentID, &a.Status, &a.StartedAt, &a.FinishedAt,
		&a.PausedSeconds, &a.PausedAt, &a.TimeLimitSeconds,
		&a.CurrentQuestionIndex, &a.TotalQuestions, &a.CorrectAnswers, &a.Score,
		&a.AutoSubmitted, &a.NeedsReconciliation,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// SaveProgress updates the mutable fields of a still-open attempt. The
// status guard keeps a racing terminal transition from being overwritten.
func (r *AttemptStore) SaveProgress(ctx context.Context, a *model.Attempt) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $1, paused_seconds = $2, paused_at = $3, current_question_index = $4
		 WHERE id = $5 AND status IN ('IN_PROGRESS', 'PAUSED')`,
		a.Status, a.PausedSeconds, a.PausedAt, a.CurrentQuestionIndex, a.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrInvalidState
	}
	return nil
}

// ClaimTerminal atomically moves an open attempt to a terminal state.
// The conditional UPDATE is the cross-process arbiter of the submit/expire
// race: exactly one caller observes claimed = true.
func (r *AttemptStore) ClaimTerminal(ctx context.Context, id uuid.UUID, to model.AttemptStatus, res service.TerminalResult) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $1, finished_at = $2, score = $3, correct_answers = $4,
		     auto_submitted = $5, needs_reconciliation = $6, paused_at = NULL
		 WHERE id = $7 AND status IN ('IN_PROGRESS', 'PAUSED')`,
		to, res.FinishedAt, res.Score, res.CorrectAnswers,
		res.AutoSubmitted, res.NeedsReconciliation, id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Reconcile writes the recomputed score of a degraded EXPIRED attempt and
// promotes it to AUTO_SUBMITTED.
func (r *AttemptStore) Reconcile(ctx context.Context, id uuid.UUID, res service.TerminalResult) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $1, score = $2, correct_answers = $3, needs_reconciliation = FALSE
		 WHERE id = $4 AND status = $5 AND needs_reconciliation`,
		model.AttemptStatusAutoSubmitted, res.Score, res.CorrectAnswers,
		id, model.AttemptStatusExpired,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListInProgress returns all IN_PROGRESS attempts for timer recovery.
func (r *AttemptStore) ListInProgress(ctx context.Context) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE status = 'IN_PROGRESS'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(
			&a.ID, &a.QuizID, &a.StudentID, &a.Status, &a.StartedAt, &a.FinishedAt,
			&a.PausedSeconds, &a.PausedAt, &a.TimeLimitSeconds,
			&a.CurrentQuestionIndex, &a.TotalQuestions, &a.CorrectAnswers, &a.Score,
			&a.AutoSubmitted, &a.NeedsReconciliation,
		); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
