package model

import (
	"time"

	"github.com/google/uuid"
)

// Quiz is the authored container the engine runs attempts against. Authoring
// happens upstream; this service only reads quizzes.
type Quiz struct {
	ID               uuid.UUID `json:"id"`
	Title            string    `json:"title"`
	TimeLimitSeconds int       `json:"time_limit_seconds"`
	CreatedAt        time.Time `json:"created_at"`
}

// Question is one authored quiz question, including its answer key. The key
// never leaves the repository layer.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	QuizID        uuid.UUID    `json:"quiz_id"`
	Position      int          `json:"position"`
	Type          QuestionType `json:"type"`
	Prompt        string       `json:"prompt"`
	CorrectAnswer string       `json:"-"`
}
