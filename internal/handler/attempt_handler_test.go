package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quizrun/quizrun-backend/internal/config"
	"github.com/quizrun/quizrun-backend/internal/handler"
	"github.com/quizrun/quizrun-backend/internal/model"
	"github.com/quizrun/quizrun-backend/internal/repository/memory"
	"github.com/quizrun/quizrun-backend/internal/router"
	"github.com/quizrun/quizrun-backend/internal/service"
	"github.com/quizrun/quizrun-backend/internal/validator"
	"github.com/rs/zerolog"
)

type apiFixture struct {
	engine  *gin.Engine
	tokens  *service.TokenService
	quizID  uuid.UUID
	answers []model.QuestionKey
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	validator.Setup()

	cfg := &config.Config{
		GinMode:          gin.TestMode,
		JWTSecret:        "test-secret",
		JWTExpiry:        time.Hour,
		ExpireMaxRetries: 3,
		ExpireRetryBase:  time.Millisecond,
	}

	quizID := uuid.New()
	answers := []model.QuestionKey{
		model.NewQuestionKey(uuid.New(), "A", model.QuestionTypeMultipleChoice, 0),
		model.NewQuestionKey(uuid.New(), "Jakarta", model.QuestionTypeText, 1),
	}
	bank := memory.NewStaticQuestionBank()
	bank.PutQuiz(quizID, memory.StaticQuiz{TimeLimit: 600 * time.Second, Questions: answers})

	attemptService := service.NewAttemptService(
		cfg,
		memory.NewAttemptStore(),
		memory.NewResponseStore(),
		bank,
		memory.NewSessionCache(),
		zerolog.Nop(),
	)
	tokens := service.NewTokenService(cfg)

	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService),
		WS:      handler.NewWSHandler(attemptService, zerolog.Nop(), nil),
	}

	return &apiFixture{
		engine:  router.SetupRouter(tokens, handlers, cfg),
		tokens:  tokens,
		quizID:  quizID,
		answers: answers,
	}
}

func (f *apiFixture) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Data  map[string]json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return env
}

func (f *apiFixture) startAttempt(t *testing.T, token string) model.AttemptView {
	t.Helper()
	w := f.request(t, http.MethodPost, fmt.Sprintf("/api/v1/quizzes/%s/attempts", f.quizID), token, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("start returned %d: %s", w.Code, w.Body.String())
	}
	var view model.AttemptView
	if err := json.Unmarshal(decode(t, w).Data["attempt"], &view); err != nil {
		t.Fatalf("decode attempt: %v", err)
	}
	return view
}

func TestAttemptEndpointsRequireAuth(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(t, http.MethodPost, fmt.Sprintf("/api/v1/quizzes/%s/attempts", f.quizID), "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAttemptLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	token, err := f.tokens.GenerateStudentToken(1)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	view := f.startAttempt(t, token)
	if view.Status != model.AttemptStatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", view.Status)
	}

	// Starting again returns the same open attempt.
	again := f.startAttempt(t, token)
	if again.ID != view.ID {
		t.Fatalf("duplicate attempt created: %s vs %s", again.ID, view.ID)
	}

	// Answer both questions.
	base := fmt.Sprintf("/api/v1/attempts/%s", view.ID)
	w := f.request(t, http.MethodPost, base+"/answers", token, model.SubmitAnswerRequest{
		QuestionID: f.answers[0].QuestionID.String(),
		Answer:     "A",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("answer returned %d: %s", w.Code, w.Body.String())
	}
	w = f.request(t, http.MethodPost, base+"/answers", token, model.SubmitAnswerRequest{
		QuestionID: f.answers[1].QuestionID.String(),
		Answer:     "jakarta",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("answer returned %d: %s", w.Code, w.Body.String())
	}

	// Pause, then resume.
	if w = f.request(t, http.MethodPost, base+"/pause", token, nil); w.Code != http.StatusOK {
		t.Fatalf("pause returned %d: %s", w.Code, w.Body.String())
	}
	if w = f.request(t, http.MethodPost, base+"/resume", token, nil); w.Code != http.StatusOK {
		t.Fatalf("resume returned %d: %s", w.Code, w.Body.String())
	}

	// Submit and verify the terminal view.
	w = f.request(t, http.MethodPost, base+"/submit", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("submit returned %d: %s", w.Code, w.Body.String())
	}
	var final model.AttemptView
	if err := json.Unmarshal(decode(t, w).Data["attempt"], &final); err != nil {
		t.Fatalf("decode final attempt: %v", err)
	}
	if final.Status != model.AttemptStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", final.Status)
	}
	if final.Score == nil || *final.Score != 100.0 {
		t.Fatalf("expected score 100, got %v", final.Score)
	}

	// Re-submission conflicts.
	w = f.request(t, http.MethodPost, base+"/submit", token, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on re-submit, got %d", w.Code)
	}
	if env := decode(t, w); env.Error == nil || env.Error.Code != "INVALID_STATE" {
		t.Fatalf("expected INVALID_STATE, got %+v", env.Error)
	}
}

func TestSubmitAnswerValidation(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.tokens.GenerateStudentToken(1)
	view := f.startAttempt(t, token)

	w := f.request(t, http.MethodPost, fmt.Sprintf("/api/v1/attempts/%s/answers", view.ID), token, map[string]string{
		"question_id": "not-a-uuid",
		"answer":      "A",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if env := decode(t, w); env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %+v", env.Error)
	}
}

func TestAttemptOwnershipOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	ownerToken, _ := f.tokens.GenerateStudentToken(1)
	otherToken, _ := f.tokens.GenerateStudentToken(2)

	view := f.startAttempt(t, ownerToken)

	w := f.request(t, http.MethodGet, fmt.Sprintf("/api/v1/attempts/%s", view.ID), otherToken, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestUnknownAttemptOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.tokens.GenerateStudentToken(1)

	w := f.request(t, http.MethodGet, fmt.Sprintf("/api/v1/attempts/%s", uuid.New()), token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
