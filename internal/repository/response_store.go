package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizrun/quizrun-backend/internal/model"
)

// ResponseStore is the Postgres-backed response ledger. The primary key
// (attempt_id, question_id) makes re-answering an upsert.
type ResponseStore struct {
	pool *pgxpool.Pool
}

// NewResponseStore creates a new ResponseStore.
func NewResponseStore(pool *pgxpool.Pool) *ResponseStore {
	return &ResponseStore{pool: pool}
}

// Upsert writes one response, overwriting any earlier answer to the same
// question within the attempt.
func (r *ResponseStore) Upsert(ctx context.Context, resp *model.Response) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO responses (attempt_id, question_id, answer, is_correct, answered_at, position)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (attempt_id, question_id)
		 DO UPDATE SET answer = EXCLUDED.answer,
		               is_correct = EXCLUDED.is_correct,
		               answered_at = EXCLUDED.answered_at`,
		resp.AttemptID, resp.QuestionID, resp.Answer, resp.IsCorrect, resp.AnsweredAt, resp.Position,
	)
	return err
}

// ListByAttempt retrieves all responses of an attempt in question order.
func (r *ResponseStore) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Response, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, question_id, answer, is_correct, answered_at, position
		 FROM responses
		 WHERE attempt_id = $1
		 ORDER BY position ASC`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []model.Response
	for rows.Next() {
		var resp model.Response
		if err := rows.Scan(
			&resp.AttemptID, &resp.QuestionID, &resp.Answer,
			&resp.IsCorrect, &resp.AnsweredAt, &resp.Position,
		); err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}
