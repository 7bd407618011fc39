package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quizrun/quizrun-backend/internal/config"
	"github.com/quizrun/quizrun-backend/internal/model"
	"github.com/rs/zerolog"
)

// AttemptService is the session state machine. It owns every attempt
// lifecycle transition, validates each mutating operation against the
// current state and the deadline, and is the single authority for whether
// an attempt is still answerable.
//
// All mutating operations on the same attempt are serialized through a
// per-attempt lock, so explicit submission and the deadline trigger never
// score the same attempt twice; the store's ClaimTerminal is the second
// guard across processes.
type AttemptService struct {
	cfg       *config.Config
	attempts  AttemptStore
	responses ResponseStore
	bank      QuestionBank
	cache     SessionCache
	sched     *AutoSubmitScheduler
	locks     *attemptLocks
	log       zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewAttemptService creates a new AttemptService and its auto-submit
// scheduler. Call RescheduleOpenAttempts once after construction to re-arm
// timers for attempts that were open when the process last stopped.
func NewAttemptService(
	cfg *config.Config,
	attempts AttemptStore,
	responses ResponseStore,
	bank QuestionBank,
	cache SessionCache,
	log zerolog.Logger,
) *AttemptService {
	s := &AttemptService{
		cfg:       cfg,
		attempts:  attempts,
		responses: responses,
		bank:      bank,
		cache:     cache,
		locks:     newAttemptLocks(),
		log:       log.With().Str("component", "attempt_service").Logger(),
		now:       time.Now,
	}
	s.sched = NewAutoSubmitScheduler(s.handleDeadline)
	return s
}

// AnswerResult is returned by SubmitAnswer.
type AnswerResult struct {
	Response             model.Response `json:"response"`
	CurrentQuestionIndex int            `json:"current_question_index"`
	RemainingSeconds     float64        `json:"remaining_seconds"`
}

// Start opens an attempt for the student on the quiz. If the student
// already has an open attempt for this quiz, that attempt is returned
// instead of creating a duplicate with its own timer.
func (s *AttemptService) Start(ctx context.Context, quizID uuid.UUID, studentID int) (*model.AttemptView, error) {
	if existing, err := s.attempts.GetOpenByQuizAndStudent(ctx, quizID, studentID); err == nil {
		return s.view(existing), nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check open attempt: %w", err)
	}

	questions, err := s.bank.OrderedQuestions(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrQuizHasNoQuestions
	}

	timeLimit, err := s.bank.TimeLimit(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("load time limit: %w", err)
	}

	now := s.now()
	a := &model.Attempt{
		ID:               uuid.New(),
		QuizID:           quizID,
		StudentID:        studentID,
		Status:           model.AttemptStatusInProgress,
		StartedAt:        now,
		TimeLimitSeconds: int(timeLimit / time.Second),
		TotalQuestions:   len(questions),
	}

	if err := s.attempts.Create(ctx, a); err != nil {
		if errors.Is(err, ErrOpenAttemptExists) {
			// Lost a concurrent start race; the winner owns the timer.
			existing, gerr := s.attempts.GetOpenByQuizAndStudent(ctx, quizID, studentID)
			if gerr != nil {
				return nil, fmt.Errorf("fetch racing attempt: %w", gerr)
			}
			return s.view(existing), nil
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.sched.Schedule(a.ID, timeLimit)
	s.cache.SetDeadline(ctx, a.ID, Deadline(a, now))

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Str("quiz_id", quizID.String()).
		Int("student_id", studentID).
		Int("time_limit_seconds", a.TimeLimitSeconds).
		Msg("Attempt started")

	return s.view(a), nil
}

// GetSession returns the current attempt view, including remaining time.
func (s *AttemptService) GetSession(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptView, error) {
	a, err := s.getOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	return s.view(a), nil
}

// SubmitAnswer records (or overwrites) the student's answer to one question.
// Only IN_PROGRESS attempts accept answers; a call arriving at or past the
// deadline closes the attempt and fails with ErrAttemptExpired.
func (s *AttemptService) SubmitAnswer(ctx context.Context, attemptID uuid.UUID, studentID int, req model.SubmitAnswerRequest) (*AnswerResult, error) {
	release := s.locks.acquire(attemptID)
	defer release()

	a, err := s.getOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil, ErrInvalidState
	}

	now := s.now()
	if Remaining(a, now) <= 0 {
		// The timer is about to fire (or was lost); close the attempt here
		// so no answer is ever written past the deadline.
		s.expireLocked(ctx, a)
		return nil, ErrAttemptExpired
	}

	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		return nil, ErrNotFound
	}

	key, err := s.bank.AnswerKey(ctx, a.QuizID)
	if err != nil {
		return nil, fmt.Errorf("load answer key: %w", err)
	}
	k, ok := key[questionID]
	if !ok {
		return nil, ErrNotFound
	}

	resp := model.Response{
		AttemptID:  a.ID,
		QuestionID: questionID,
		Answer:     req.Answer,
		IsCorrect:  k.Matches(req.Answer),
		AnsweredAt: now,
		Position:   k.Position,
	}
	if err := s.responses.Upsert(ctx, &resp); err != nil {
		return nil, fmt.Errorf("save response: %w", err)
	}

	// Advance the cursor when the student answers the question they are on;
	// revisiting an earlier question leaves the cursor alone.
	if k.Position == a.CurrentQuestionIndex {
		a.CurrentQuestionIndex++
		if err := s.attempts.SaveProgress(ctx, a); err != nil {
			return nil, fmt.Errorf("save progress: %w", err)
		}
	}

	return &AnswerResult{
		Response:             resp,
		CurrentQuestionIndex: a.CurrentQuestionIndex,
		RemainingSeconds:     Remaining(a, now).Seconds(),
	}, nil
}

// Pause freezes the attempt clock. The pending auto-submit timer is
// canceled; it is rescheduled from the remaining time on resume.
func (s *AttemptService) Pause(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptView, error) {
	release := s.locks.acquire(attemptID)
	defer release()

	a, err := s.getOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil, ErrInvalidState
	}

	now := s.now()
	if Remaining(a, now) <= 0 {
		s.expireLocked(ctx, a)
		return nil, ErrAttemptExpired
	}

	a.Status = model.AttemptStatusPaused
	a.PausedAt = &now
	if err := s.attempts.SaveProgress(ctx, a); err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}

	s.sched.Cancel(a.ID)
	// The wall-clock deadline recedes while paused; drop the cached one.
	s.cache.ClearDeadline(ctx, a.ID)

	s.log.Info().Str("attempt_id", a.ID.String()).Msg("Attempt paused")
	return s.view(a), nil
}

// Resume unfreezes the clock: the completed pause interval is folded into
// PausedSeconds and the auto-submit timer is rescheduled from the remaining
// time, which equals the remaining time at the moment of pause.
func (s *AttemptService) Resume(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptView, error) {
	release := s.locks.acquire(attemptID)
	defer release()

	a, err := s.getOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AttemptStatusPaused {
		return nil, ErrInvalidState
	}

	now := s.now()
	if a.PausedAt != nil {
		a.PausedSeconds += int(now.Sub(*a.PausedAt) / time.Second)
		a.PausedAt = nil
	}
	a.Status = model.AttemptStatusInProgress

	remaining := Remaining(a, now)
	if remaining <= 0 {
		// Pause requires remaining > 0, so this only happens on clock skew
		// or hand-edited records. Close out instead of resuming a dead clock.
		s.expireLocked(ctx, a)
		return nil, ErrAttemptExpired
	}

	if err := s.attempts.SaveProgress(ctx, a); err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}

	s.sched.Schedule(a.ID, remaining)
	s.cache.SetDeadline(ctx, a.ID, now.Add(remaining))

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Float64("remaining_seconds", remaining.Seconds()).
		Msg("Attempt resumed")
	return s.view(a), nil
}

// Submit is the explicit submission path: IN_PROGRESS or PAUSED to
// COMPLETED. Re-invoking on a terminal attempt fails with ErrInvalidState
// and never rescores.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptView, error) {
	release := s.locks.acquire(attemptID)
	defer release()

	a, err := s.getOwned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if !a.IsOpen() {
		return nil, ErrInvalidState
	}

	score, err := s.scoreAttempt(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("score attempt: %w", err)
	}

	now := s.now()
	res := TerminalResult{
		FinishedAt:     now,
		Score:          &score.Score,
		CorrectAnswers: &score.CorrectAnswers,
	}
	claimed, err := s.attempts.ClaimTerminal(ctx, a.ID, model.AttemptStatusCompleted, res)
	if err != nil {
		return nil, fmt.Errorf("claim terminal: %w", err)
	}
	if !claimed {
		return nil, ErrInvalidState
	}

	s.sched.Cancel(a.ID)
	s.cache.ClearDeadline(ctx, a.ID)

	s.applyTerminal(a, model.AttemptStatusCompleted, res)
	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Float64("score", score.Score).
		Int("correct_answers", score.CorrectAnswers).
		Msg("Attempt submitted")
	return s.view(a), nil
}

// RescheduleOpenAttempts re-arms auto-submit timers after a restart. An
// attempt whose deadline already passed while the process was down is closed
// immediately on its timer goroutine.
func (s *AttemptService) RescheduleOpenAttempts(ctx context.Context) error {
	open, err := s.attempts.ListInProgress(ctx)
	if err != nil {
		return fmt.Errorf("list in-progress attempts: %w", err)
	}

	now := s.now()
	for i := range open {
		a := &open[i]
		s.sched.Schedule(a.ID, Remaining(a, now))
	}

	s.log.Info().Int("count", len(open)).Msg("Rescheduled open attempt timers")
	return nil
}

// handleDeadline runs on the scheduler's timer goroutine when an attempt's
// deadline passes.
func (s *AttemptService) handleDeadline(attemptID uuid.UUID) {
	ctx := context.Background()

	release := s.locks.acquire(attemptID)
	defer release()

	a, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		// The attempt must not stay open past its deadline just because one
		// load failed: re-arm the timer so the close is retried in-process,
		// and queue the attempt so the reconcile worker closes it if this
		// process dies first.
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Deadline fired but attempt load failed")
		s.sched.Schedule(attemptID, s.cfg.ExpireRetryBase)
		s.cache.EnqueueReconcile(ctx, attemptID)
		return
	}
	if !a.IsOpen() {
		return // Explicit submit won the race.
	}
	if remaining := Remaining(a, s.now()); remaining > 0 {
		// Stale timer (e.g. paused after the timer was read). Re-arm from
		// the live clock.
		if a.Status == model.AttemptStatusInProgress {
			s.sched.Schedule(a.ID, remaining)
		}
		return
	}

	s.expireLocked(ctx, a)
}

// expireLocked drives an open, past-deadline attempt to AUTO_SUBMITTED,
// scoring whatever responses exist. Scoring reads are retried with doubling
// backoff; when retries are exhausted the attempt is degraded to EXPIRED
// with a null score and handed to the reconcile queue so it never stays
// answerable past its deadline. Caller must hold the attempt lock.
func (s *AttemptService) expireLocked(ctx context.Context, a *model.Attempt) {
	s.sched.Cancel(a.ID)

	var (
		score   ScoreResult
		lastErr error
	)
	backoff := s.cfg.ExpireRetryBase
	for attempt := 0; attempt < s.cfg.ExpireMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		score, lastErr = s.scoreAttempt(ctx, a)
		if lastErr == nil {
			break
		}
		s.log.Warn().Err(lastErr).
			Str("attempt_id", a.ID.String()).
			Int("try", attempt+1).
			Msg("Auto-submit scoring failed")
	}

	now := s.now()
	if lastErr != nil {
		res := TerminalResult{
			FinishedAt:          now,
			AutoSubmitted:       true,
			NeedsReconciliation: true,
		}
		claimed, err := s.attempts.ClaimTerminal(ctx, a.ID, model.AttemptStatusExpired, res)
		if err != nil {
			s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Degrade to EXPIRED failed")
			s.cache.EnqueueReconcile(ctx, a.ID)
			return
		}
		if claimed {
			s.applyTerminal(a, model.AttemptStatusExpired, res)
			s.cache.ClearDeadline(ctx, a.ID)
			s.cache.EnqueueReconcile(ctx, a.ID)
			s.log.Error().
				Str("attempt_id", a.ID.String()).
				Msg("Attempt expired without score, queued for reconciliation")
		}
		return
	}

	res := TerminalResult{
		FinishedAt:     now,
		Score:          &score.Score,
		CorrectAnswers: &score.CorrectAnswers,
		AutoSubmitted:  true,
	}
	claimed, err := s.attempts.ClaimTerminal(ctx, a.ID, model.AttemptStatusAutoSubmitted, res)
	if err != nil {
		s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Auto-submit claim failed")
		s.cache.EnqueueReconcile(ctx, a.ID)
		return
	}
	if !claimed {
		return
	}

	s.applyTerminal(a, model.AttemptStatusAutoSubmitted, res)
	s.cache.ClearDeadline(ctx, a.ID)
	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Float64("score", score.Score).
		Msg("Attempt auto-submitted")
}

// scoreAttempt grades the attempt from its stored responses.
func (s *AttemptService) scoreAttempt(ctx context.Context, a *model.Attempt) (ScoreResult, error) {
	key, err := s.bank.AnswerKey(ctx, a.QuizID)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("load answer key: %w", err)
	}
	responses, err := s.responses.ListByAttempt(ctx, a.ID)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("list responses: %w", err)
	}
	return ScoreResponses(key, responses, a.TotalQuestions), nil
}

func (s *AttemptService) getOwned(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.Attempt, error) {
	a, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.StudentID != studentID {
		return nil, ErrNotOwner
	}
	return a, nil
}

func (s *AttemptService) applyTerminal(a *model.Attempt, to model.AttemptStatus, res TerminalResult) {
	a.Status = to
	a.FinishedAt = &res.FinishedAt
	a.Score = res.Score
	a.CorrectAnswers = res.CorrectAnswers
	a.AutoSubmitted = res.AutoSubmitted
	a.NeedsReconciliation = res.NeedsReconciliation
	a.PausedAt = nil
}

func (s *AttemptService) view(a *model.Attempt) *model.AttemptView {
	v := &model.AttemptView{Attempt: *a}
	if a.IsOpen() {
		v.RemainingSeconds = Remaining(a, s.now()).Seconds()
		if v.RemainingSeconds < 0 {
			v.RemainingSeconds = 0
		}
	}
	return v
}
