package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quizrun/quizrun-backend/internal/model"
	"github.com/quizrun/quizrun-backend/internal/service"
)

// StaticQuiz is one quiz's full content for the static question bank.
type StaticQuiz struct {
	TimeLimit time.Duration
	Questions []model.QuestionKey
}

// StaticQuestionBank serves fixed quiz content from memory.
type StaticQuestionBank struct {
	mu      sync.RWMutex
	quizzes map[uuid.UUID]StaticQuiz
}

// NewStaticQuestionBank creates an empty StaticQuestionBank.
func NewStaticQuestionBank() *StaticQuestionBank {
	return &StaticQuestionBank{quizzes: make(map[uuid.UUID]StaticQuiz)}
}

// PutQuiz registers or replaces a quiz's content.
func (b *StaticQuestionBank) PutQuiz(quizID uuid.UUID, quiz StaticQuiz) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quizzes[quizID] = quiz
}

func (b *StaticQuestionBank) OrderedQuestions(_ context.Context, quizID uuid.UUID) ([]model.QuestionRef, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	quiz, ok := b.quizzes[quizID]
	if !ok {
		return nil, service.ErrNotFound
	}

	refs := make([]model.QuestionRef, 0, len(quiz.Questions))
	for _, q := range quiz.Questions {
		refs = append(refs, model.QuestionRef{ID: q.QuestionID, Position: q.Position})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Position < refs[j].Position })
	return refs, nil
}

func (b *StaticQuestionBank) AnswerKey(_ context.Context, quizID uuid.UUID) (map[uuid.UUID]model.QuestionKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	quiz, ok := b.quizzes[quizID]
	if !ok {
		return nil, service.ErrNotFound
	}

	key := make(map[uuid.UUID]model.QuestionKey, len(quiz.Questions))
	for _, q := range quiz.Questions {
		key[q.QuestionID] = q
	}
	return key, nil
}

func (b *StaticQuestionBank) TimeLimit(_ context.Context, quizID uuid.UUID) (time.Duration, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	quiz, ok := b.quizzes[quizID]
	if !ok {
		return 0, service.ErrNotFound
	}
	return quiz.TimeLimit, nil
}
