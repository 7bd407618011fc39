package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer Action = "answer"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest is sent by the client to save a single answer.
type AnswerRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id"`
	Answer string `json:"ans"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSaved   Event = "saved"
	EventPaused  Event = "paused"
	EventResumed Event = "resumed"
	EventGraded  Event = "graded"
	EventPong    Event = "pong"
)

// SavedResponse acknowledges a stored answer.
type SavedResponse struct {
	Event            Event   `json:"event"`
	QID              string  `json:"q_id"`
	IsCorrect        bool    `json:"is_correct"`
	QuestionIndex    int     `json:"question_index"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// ClockResponse reports the frozen/running clock after pause or resume.
type ClockResponse struct {
	Event            Event   `json:"event"`
	Status           string  `json:"status"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// GradedResponse reports the terminal score after submission.
type GradedResponse struct {
	Event          Event   `json:"event"`
	Status         string  `json:"status"`
	Score          float64 `json:"score"`
	CorrectAnswers int     `json:"correct_answers"`
	AutoSubmitted  bool    `json:"auto_submitted"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
