package model

import (
	"time"

	"github.com/google/uuid"
)

// Response is one student's recorded answer to one question within one
// attempt. The (AttemptID, QuestionID) pair is unique; re-answering while the
// attempt is still IN_PROGRESS overwrites the earlier record.
type Response struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	QuestionID uuid.UUID `json:"question_id"`
	Answer     string    `json:"answer"`
	IsCorrect  bool      `json:"is_correct"`
	AnsweredAt time.Time `json:"answered_at"`
	// Position mirrors the question's order in the quiz so responses sort
	// without a join back to the question bank.
	Position int `json:"position"`
}
