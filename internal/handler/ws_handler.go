package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/quizrun/quizrun-backend/internal/middleware"
	"github.com/quizrun/quizrun-backend/internal/model"
	"github.com/quizrun/quizrun-backend/internal/service"
	ws "github.com/quizrun/quizrun-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the WebSocket attempt stream.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:attempt_id/stream
// Upgrades to WebSocket for low-latency answering, pause/resume, and
// submission over one connection. Every action goes through the same state
// machine as the HTTP endpoints.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt ID"})
		return
	}

	// Reject before upgrading so the client sees a proper HTTP status.
	if _, err := h.attemptService.GetSession(c.Request.Context(), attemptID, claims.StudentID); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, service.ErrNotOwner):
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": "attempt unavailable"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.StudentID

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("attempt_id", attemptID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.AnswerRequest
		err := ws.ReadJSON(conn, &msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(conn, wsLog, attemptID, studentID, &msg)
		case ws.ActionPause:
			h.handlePause(conn, wsLog, attemptID, studentID)
		case ws.ActionResume:
			h.handleResume(conn, wsLog, attemptID, studentID)
		case ws.ActionSubmit:
			h.handleSubmit(conn, wsLog, attemptID, studentID)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "UNKNOWN_ACTION", "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAnswer(conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int, msg *ws.AnswerRequest) {
	if msg.QID == "" || msg.Answer == "" {
		ws.WriteError(conn, "VALIDATION_ERROR", "q_id and ans are required")
		return
	}
	if _, err := uuid.Parse(msg.QID); err != nil {
		ws.WriteError(conn, "VALIDATION_ERROR", "invalid q_id format")
		return
	}

	result, err := h.attemptService.SubmitAnswer(context.Background(), attemptID, studentID, model.SubmitAnswerRequest{
		QuestionID: msg.QID,
		Answer:     msg.Answer,
	})
	if err != nil {
		writeEngineError(conn, wsLog, err, "save failed")
		return
	}

	ws.WriteTyped(conn, ws.SavedResponse{
		Event:            ws.EventSaved,
		QID:              msg.QID,
		IsCorrect:        result.Response.IsCorrect,
		QuestionIndex:    result.CurrentQuestionIndex,
		RemainingSeconds: result.RemainingSeconds,
	})
}

func (h *WSHandler) handlePause(conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int) {
	view, err := h.attemptService.Pause(context.Background(), attemptID, studentID)
	if err != nil {
		writeEngineError(conn, wsLog, err, "pause failed")
		return
	}
	ws.WriteTyped(conn, ws.ClockResponse{
		Event:            ws.EventPaused,
		Status:           string(view.Status),
		RemainingSeconds: view.RemainingSeconds,
	})
}

func (h *WSHandler) handleResume(conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int) {
	view, err := h.attemptService.Resume(context.Background(), attemptID, studentID)
	if err != nil {
		writeEngineError(conn, wsLog, err, "resume failed")
		return
	}
	ws.WriteTyped(conn, ws.ClockResponse{
		Event:            ws.EventResumed,
		Status:           string(view.Status),
		RemainingSeconds: view.RemainingSeconds,
	})
}

func (h *WSHandler) handleSubmit(conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int) {
	view, err := h.attemptService.Submit(context.Background(), attemptID, studentID)
	if err != nil {
		writeEngineError(conn, wsLog, err, "submit failed")
		return
	}

	var score float64
	if view.Score != nil {
		score = *view.Score
	}
	var correct int
	if view.CorrectAnswers != nil {
		correct = *view.CorrectAnswers
	}

	wsLog.Info().
		Float64("score", score).
		Int("correct", correct).
		Msg("Attempt submitted over WebSocket")

	ws.WriteTyped(conn, ws.GradedResponse{
		Event:          ws.EventGraded,
		Status:         string(view.Status),
		Score:          score,
		CorrectAnswers: correct,
		AutoSubmitted:  view.AutoSubmitted,
	})
}

// writeEngineError maps session engine errors to WebSocket error events.
func writeEngineError(conn *websocket.Conn, wsLog zerolog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrInvalidState):
		ws.WriteError(conn, "INVALID_STATE", "operation not permitted in current state")
	case errors.Is(err, service.ErrAttemptExpired):
		ws.WriteError(conn, "ATTEMPT_EXPIRED", "attempt deadline has passed")
	case errors.Is(err, service.ErrNotFound):
		ws.WriteError(conn, "NOT_FOUND", "not found")
	case errors.Is(err, service.ErrNotOwner):
		ws.WriteError(conn, "FORBIDDEN", "forbidden")
	default:
		wsLog.Error().Err(err).Msg("WebSocket operation failed")
		ws.WriteError(conn, "INTERNAL_ERROR", fallback)
	}
}
