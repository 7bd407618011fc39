package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/quizrun/quizrun-backend/internal/model"
)

type responseKey struct {
	attemptID  uuid.UUID
	questionID uuid.UUID
}

// ResponseStore is a map-backed response ledger.
type ResponseStore struct {
	mu        sync.RWMutex
	responses map[responseKey]model.Response
}

// NewResponseStore creates an empty ResponseStore.
func NewResponseStore() *ResponseStore {
	return &ResponseStore{responses: make(map[responseKey]model.Response)}
}

func (s *ResponseStore) Upsert(_ context.Context, r *model.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[responseKey{r.AttemptID, r.QuestionID}] = *r
	return nil
}

func (s *ResponseStore) ListByAttempt(_ context.Context, attemptID uuid.UUID) ([]model.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Response
	for k, r := range s.responses {
		if k.attemptID == attemptID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}
