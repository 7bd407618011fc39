package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizrun/quizrun-backend/internal/model"
	"github.com/quizrun/quizrun-backend/internal/service"
)

// QuestionBank is the Postgres-backed read side of quiz content. Wrap it in
// CachedQuestionBank for serving traffic; the raw bank is the fallback and
// the source the cache is primed from.
type QuestionBank struct {
	pool *pgxpool.Pool
}

// NewQuestionBank creates a new QuestionBank.
func NewQuestionBank(pool *pgxpool.Pool) *QuestionBank {
	return &QuestionBank{pool: pool}
}

// OrderedQuestions returns the quiz's questions in position order, without
// answer keys.
func (r *QuestionBank) OrderedQuestions(ctx context.Context, quizID uuid.UUID) ([]model.QuestionRef, error) {
	if err := r.ensureQuiz(ctx, quizID); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, position FROM questions WHERE quiz_id = $1 ORDER BY position ASC`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []model.QuestionRef
	for rows.Next() {
		var ref model.QuestionRef
		if err := rows.Scan(&ref.ID, &ref.Position); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// AnswerKey returns the quiz's full answer key by question ID.
func (r *QuestionBank) AnswerKey(ctx context.Context, quizID uuid.UUID) (map[uuid.UUID]model.QuestionKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, correct_answer, type, position
		 FROM questions WHERE quiz_id = $1`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	key := make(map[uuid.UUID]model.QuestionKey)
	for rows.Next() {
		var (
			id     uuid.UUID
			answer string
			qType  model.QuestionType
			pos    int
		)
		if err := rows.Scan(&id, &answer, &qType, &pos); err != nil {
			return nil, err
		}
		key[id] = model.NewQuestionKey(id, answer, qType, pos)
	}
	return key, rows.Err()
}

// TimeLimit returns the quiz's time limit.
func (r *QuestionBank) TimeLimit(ctx context.Context, quizID uuid.UUID) (time.Duration, error) {
	var seconds int
	err := r.pool.QueryRow(ctx,
		`SELECT time_limit_seconds FROM quizzes WHERE id = $1`, quizID,
	).Scan(&seconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, service.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}

func (r *QuestionBank) ensureQuiz(ctx context.Context, quizID uuid.UUID) error {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM quizzes WHERE id = $1)`, quizID,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return service.ErrNotFound
	}
	return nil
}
