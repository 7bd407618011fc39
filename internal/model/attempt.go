package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates quiz attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress    AttemptStatus = "IN_PROGRESS"
	AttemptStatusPaused        AttemptStatus = "PAUSED"
	AttemptStatusCompleted     AttemptStatus = "COMPLETED"
	AttemptStatusAutoSubmitted AttemptStatus = "AUTO_SUBMITTED"
	// AttemptStatusExpired marks attempts the auto-submit trigger closed past
	// the deadline but could not score. They carry a null score until the
	// reconcile worker rescores them and promotes them to AUTO_SUBMITTED.
	AttemptStatusExpired AttemptStatus = "EXPIRED"
)

// IsTerminal reports whether no further mutation of the attempt is permitted.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusCompleted || s == AttemptStatusAutoSubmitted || s == AttemptStatusExpired
}

// Attempt represents one student's timed, resumable run through one quiz.
type Attempt struct {
	ID        uuid.UUID     `json:"id"`
	QuizID    uuid.UUID     `json:"quiz_id"`
	StudentID int           `json:"student_id"`
	Status    AttemptStatus `json:"status"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// PausedSeconds accumulates completed pause intervals. PausedAt is set
	// while the attempt is PAUSED and folded into PausedSeconds on resume,
	// so the clock stays frozen for the whole pause.
	PausedSeconds    int        `json:"paused_seconds"`
	PausedAt         *time.Time `json:"paused_at,omitempty"`
	TimeLimitSeconds int        `json:"time_limit_seconds"`

	CurrentQuestionIndex int      `json:"current_question_index"`
	TotalQuestions       int      `json:"total_questions"`
	CorrectAnswers       *int     `json:"correct_answers,omitempty"`
	Score                *float64 `json:"score,omitempty"`

	AutoSubmitted       bool `json:"auto_submitted"`
	NeedsReconciliation bool `json:"needs_reconciliation"`
}

// IsOpen reports whether the attempt can still transition.
func (a *Attempt) IsOpen() bool {
	return !a.Status.IsTerminal()
}

// AttemptView is the read-only session payload returned by getSession.
type AttemptView struct {
	Attempt
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// SubmitAnswerRequest is the payload for answering one question.
type SubmitAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	Answer     string `json:"answer" binding:"required,max=4000"`
}
