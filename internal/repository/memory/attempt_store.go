// Package memory provides in-memory store implementations used by tests and
// local experiments. They honor the same contracts as the Postgres stores,
// including the single-open-attempt rule and the atomic terminal claim.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/quizrun/quizrun-backend/internal/model"
	"github.com/quizrun/quizrun-backend/internal/service"
)

// AttemptStore is a map-backed attempt store.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[uuid.UUID]model.Attempt
}

// NewAttemptStore creates an empty AttemptStore.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[uuid.UUID]model.Attempt)}
}

func (s *AttemptStore) Create(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.attempts {
		if existing.QuizID == a.QuizID && existing.StudentID == a.StudentID && existing.IsOpen() {
			return service.ErrOpenAttemptExists
		}
	}
	s.attempts[a.ID] = *a
	return nil
}

func (s *AttemptStore) Get(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[id]
	if !ok {
		return nil, service.ErrNotFound
	}
	return &a, nil
}

func (s *AttemptStore) GetOpenByQuizAndStudent(_ context.Context, quizID uuid.UUID, studentID int) (*model.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.attempts {
		if a.QuizID == quizID && a.StudentID == studentID && a.IsOpen() {
			found := a
			return &found, nil
		}
	}
	return nil, service.ErrNotFound
}

func (s *AttemptStore) SaveProgress(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.attempts[a.ID]
	if !ok {
		return service.ErrNotFound
	}
	if !stored.IsOpen() {
		return service.ErrInvalidState
	}

	stored.Status = a.Status
	stored.PausedSeconds = a.PausedSeconds
	stored.PausedAt = a.PausedAt
	stored.CurrentQuestionIndex = a.CurrentQuestionIndex
	s.attempts[a.ID] = stored
	return nil
}

func (s *AttemptStore) ClaimTerminal(_ context.Context, id uuid.UUID, to model.AttemptStatus, res service.TerminalResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.attempts[id]
	if !ok {
		return false, service.ErrNotFound
	}
	if !stored.IsOpen() {
		return false, nil
	}

	finishedAt := res.FinishedAt
	stored.Status = to
	stored.FinishedAt = &finishedAt
	stored.Score = res.Score
	stored.CorrectAnswers = res.CorrectAnswers
	stored.AutoSubmitted = res.AutoSubmitted
	stored.NeedsReconciliation = res.NeedsReconciliation
	stored.PausedAt = nil
	s.attempts[id] = stored
	return true, nil
}

func (s *AttemptStore) Reconcile(_ context.Context, id uuid.UUID, res service.TerminalResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.attempts[id]
	if !ok {
		return false, service.ErrNotFound
	}
	if stored.Status != model.AttemptStatusExpired || !stored.NeedsReconciliation {
		return false, nil
	}

	stored.Status = model.AttemptStatusAutoSubmitted
	stored.Score = res.Score
	stored.CorrectAnswers = res.CorrectAnswers
	stored.NeedsReconciliation = false
	s.attempts[id] = stored
	return true, nil
}

func (s *AttemptStore) ListInProgress(_ context.Context) ([]model.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []model.Attempt
	for _, a := range s.attempts {
		if a.Status == model.AttemptStatusInProgress {
			open = append(open, a)
		}
	}
	return open, nil
}
