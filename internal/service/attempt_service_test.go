package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quizrun/quizrun-backend/internal/config"
	"github.com/quizrun/quizrun-backend/internal/model"
	"github.com/rs/zerolog"
)

// ─── Test doubles ───────────────────────────────────────────────────

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeAttemptStore can be told to fail loads or terminal claims, to drive
// the deadline trigger's storage-failure paths.
type fakeAttemptStore struct {
	mu         sync.Mutex
	attempts   map[uuid.UUID]model.Attempt
	failGets   bool
	failClaims bool
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{attempts: make(map[uuid.UUID]model.Attempt)}
}

func (s *fakeAttemptStore) setFailGets(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGets = v
}

func (s *fakeAttemptStore) setFailClaims(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failClaims = v
}

func (s *fakeAttemptStore) Create(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.attempts {
		if existing.QuizID == a.QuizID && existing.StudentID == a.StudentID && existing.IsOpen() {
			return ErrOpenAttemptExists
		}
	}
	s.attempts[a.ID] = *a
	return nil
}

func (s *fakeAttemptStore) Get(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGets {
		return nil, errors.New("storage unavailable")
	}
	a, ok := s.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *fakeAttemptStore) GetOpenByQuizAndStudent(_ context.Context, quizID uuid.UUID, studentID int) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.QuizID == quizID && a.StudentID == studentID && a.IsOpen() {
			found := a
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeAttemptStore) SaveProgress(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.attempts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if !stored.IsOpen() {
		return ErrInvalidState
	}
	stored.Status = a.Status
	stored.PausedSeconds = a.PausedSeconds
	stored.PausedAt = a.PausedAt
	stored.CurrentQuestionIndex = a.CurrentQuestionIndex
	s.attempts[a.ID] = stored
	return nil
}

func (s *fakeAttemptStore) ClaimTerminal(_ context.Context, id uuid.UUID, to model.AttemptStatus, res TerminalResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failClaims {
		return false, errors.New("storage unavailable")
	}
	stored, ok := s.attempts[id]
	if !ok {
		return false, ErrNotFound
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

func (s *fakeAttemptStore) Reconcile(_ context.Context, id uuid.UUID, res TerminalResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.attempts[id]
	if !ok {
		return false, ErrNotFound
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

func (s *fakeAttemptStore) ListInProgress(_ context.Context) ([]model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []model.Attempt
	for _, a := range s.attempts {
		if a.Status == model.AttemptStatusInProgress {
			open = append(open, a)
		}
	}
	return open, nil
}

type fakeResponseStore struct {
	mu        sync.Mutex
	responses map[uuid.UUID]map[uuid.UUID]model.Response
}

func newFakeResponseStore() *fakeResponseStore {
	return &fakeResponseStore{responses: make(map[uuid.UUID]map[uuid.UUID]model.Response)}
}

func (s *fakeResponseStore) Upsert(_ context.Context, r *model.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byAttempt, ok := s.responses[r.AttemptID]
	if !ok {
		byAttempt = make(map[uuid.UUID]model.Response)
		s.responses[r.AttemptID] = byAttempt
	}
	byAttempt[r.QuestionID] = *r
	return nil
}

func (s *fakeResponseStore) ListByAttempt(_ context.Context, attemptID uuid.UUID) ([]model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Response
	for _, r := range s.responses[attemptID] {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeResponseStore) count(attemptID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses[attemptID])
}

// fakeQuestionBank serves one quiz and can be told to fail key loads, to
// drive the degraded auto-submit path. keyCalls counts scoring reads.
type fakeQuestionBank struct {
	quizID    uuid.UUID
	questions []model.QuestionKey
	limit     time.Duration

	failKeys bool
	keyCalls int32
}

func (b *fakeQuestionBank) OrderedQuestions(_ context.Context, quizID uuid.UUID) ([]model.QuestionRef, error) {
	if quizID != b.quizID {
		return nil, ErrNotFound
	}
	refs := make([]model.QuestionRef, 0, len(b.questions))
	for _, q := range b.questions {
		refs = append(refs, model.QuestionRef{ID: q.QuestionID, Position: q.Position})
	}
	return refs, nil
}

func (b *fakeQuestionBank) AnswerKey(_ context.Context, quizID uuid.UUID) (map[uuid.UUID]model.QuestionKey, error) {
	atomic.AddInt32(&b.keyCalls, 1)
	if b.failKeys {
		return nil, errors.New("storage unavailable")
	}
	if quizID != b.quizID {
		return nil, ErrNotFound
	}
	key := make(map[uuid.UUID]model.QuestionKey, len(b.questions))
	for _, q := range b.questions {
		key[q.QuestionID] = q
	}
	return key, nil
}

func (b *fakeQuestionBank) TimeLimit(_ context.Context, quizID uuid.UUID) (time.Duration, error) {
	if quizID != b.quizID {
		return 0, ErrNotFound
	}
	return b.limit, nil
}

type fakeSessionCache struct {
	mu        sync.Mutex
	deadlines map[uuid.UUID]time.Time
	reconcile []uuid.UUID
}

func newFakeSessionCache() *fakeSessionCache {
	return &fakeSessionCache{deadlines: make(map[uuid.UUID]time.Time)}
}

func (c *fakeSessionCache) SetDeadline(_ context.Context, attemptID uuid.UUID, deadline time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines[attemptID] = deadline
}

func (c *fakeSessionCache) ClearDeadline(_ context.Context, attemptID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.deadlines, attemptID)
}

func (c *fakeSessionCache) EnqueueReconcile(_ context.Context, attemptID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcile = append(c.reconcile, attemptID)
}

func (c *fakeSessionCache) hasDeadline(attemptID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.deadlines[attemptID]
	return ok
}

func (c *fakeSessionCache) reconcileQueue() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uuid.UUID, len(c.reconcile))
	copy(out, c.reconcile)
	return out
}

// ─── Fixture ────────────────────────────────────────────────────────

type engineFixture struct {
	svc     *AttemptService
	clock   *fakeClock
	store   *fakeAttemptStore
	ledger  *fakeResponseStore
	bank    *fakeQuestionBank
	cache   *fakeSessionCache
	quizID  uuid.UUID
	answers []model.QuestionKey
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	quizID := uuid.New()
	answers := []model.QuestionKey{
		model.NewQuestionKey(uuid.New(), "A", model.QuestionTypeMultipleChoice, 0),
		model.NewQuestionKey(uuid.New(), "B", model.QuestionTypeMultipleChoice, 1),
		model.NewQuestionKey(uuid.New(), "Jakarta", model.QuestionTypeText, 2),
		model.NewQuestionKey(uuid.New(), "2,3,5", model.QuestionTypeMultiSelect, 3),
	}

	f := &engineFixture{
		clock:   newFakeClock(),
		store:   newFakeAttemptStore(),
		ledger:  newFakeResponseStore(),
		bank:    &fakeQuestionBank{quizID: quizID, questions: answers, limit: 600 * time.Second},
		cache:   newFakeSessionCache(),
		quizID:  quizID,
		answers: answers,
	}

	cfg := &config.Config{ExpireMaxRetries: 3, ExpireRetryBase: time.Millisecond}
	f.svc = NewAttemptService(cfg, f.store, f.ledger, f.bank, f.cache, zerolog.Nop())
	f.svc.now = f.clock.Now
	return f
}

func (f *engineFixture) start(t *testing.T, studentID int) *model.AttemptView {
	t.Helper()
	view, err := f.svc.Start(context.Background(), f.quizID, studentID)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	return view
}

func (f *engineFixture) answer(t *testing.T, attemptID uuid.UUID, studentID int, q model.QuestionKey, ans string) *AnswerResult {
	t.Helper()
	result, err := f.svc.SubmitAnswer(context.Background(), attemptID, studentID, model.SubmitAnswerRequest{
		QuestionID: q.QuestionID.String(),
		Answer:     ans,
	})
	if err != nil {
		t.Fatalf("submit answer failed: %v", err)
	}
	return result
}

// ─── Lifecycle ──────────────────────────────────────────────────────

func TestStartCreatesAttempt(t *testing.T) {
	f := newEngineFixture(t)

	view := f.start(t, 1)
	if view.Status != model.AttemptStatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", view.Status)
	}
	if view.TotalQuestions != 4 || view.TimeLimitSeconds != 600 {
		t.Fatalf("snapshot wrong: %d questions, %d limit", view.TotalQuestions, view.TimeLimitSeconds)
	}
	if view.RemainingSeconds != 600 {
		t.Fatalf("expected 600s remaining, got %v", view.RemainingSeconds)
	}
	if !f.cache.hasDeadline(view.ID) {
		t.Fatal("deadline not mirrored to cache")
	}
	if !f.svc.sched.Pending(view.ID) {
		t.Fatal("auto-submit timer not armed")
	}
}

func TestStartReturnsExistingOpenAttempt(t *testing.T) {
	f := newEngineFixture(t)

	first := f.start(t, 1)
	second := f.start(t, 1)
	if first.ID != second.ID {
		t.Fatalf("expected existing attempt %s, got new %s", first.ID, second.ID)
	}

	// A different student gets their own attempt.
	other := f.start(t, 2)
	if other.ID == first.ID {
		t.Fatal("attempts shared across students")
	}
}

func TestStartRejectsQuizWithoutQuestions(t *testing.T) {
	f := newEngineFixture(t)
	f.bank.questions = nil

	_, err := f.svc.Start(context.Background(), f.quizID, 1)
	if !errors.Is(err, ErrQuizHasNoQuestions) {
		t.Fatalf("expected ErrQuizHasNoQuestions, got %v", err)
	}
}

func TestStartUnknownQuiz(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.svc.Start(context.Background(), uuid.New(), 1)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ─── Answering ──────────────────────────────────────────────────────

func TestSubmitAnswerAdvancesCursor(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)

	result := f.answer(t, view.ID, 1, f.answers[0], "A")
	if !result.Response.IsCorrect {
		t.Fatal("expected correct answer")
	}
	if result.CurrentQuestionIndex != 1 {
		t.Fatalf("expected cursor 1, got %d", result.CurrentQuestionIndex)
	}

	// Revisiting an earlier question does not move the cursor.
	result = f.answer(t, view.ID, 1, f.answers[0], "B")
	if result.Response.IsCorrect {
		t.Fatal("overwritten answer should be incorrect")
	}
	if result.CurrentQuestionIndex != 1 {
		t.Fatalf("cursor moved on revisit: %d", result.CurrentQuestionIndex)
	}

	// Answering ahead of the cursor does not move it either.
	result = f.answer(t, view.ID, 1, f.answers[2], "jakarta")
	if result.CurrentQuestionIndex != 1 {
		t.Fatalf("cursor moved on out-of-order answer: %d", result.CurrentQuestionIndex)
	}

	if got := f.ledger.count(view.ID); got != 2 {
		t.Fatalf("expected 2 ledger entries (one overwritten), got %d", got)
	}
}

func TestSubmitAnswerUnknownQuestion(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)

	_, err := f.svc.SubmitAnswer(context.Background(), view.ID, 1, model.SubmitAnswerRequest{
		QuestionID: uuid.New().String(),
		Answer:     "A",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitAnswerOwnershipEnforced(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)

	_, err := f.svc.SubmitAnswer(context.Background(), view.ID, 2, model.SubmitAnswerRequest{
		QuestionID: f.answers[0].QuestionID.String(),
		Answer:     "A",
	})
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestSubmitAnswerRejectedAfterDeadline(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)

	f.clock.Advance(601 * time.Second)

	_, err := f.svc.SubmitAnswer(context.Background(), view.ID, 1, model.SubmitAnswerRequest{
		QuestionID: f.answers[0].QuestionID.String(),
		Answer:     "A",
	})
	if !errors.Is(err, ErrAttemptExpired) {
		t.Fatalf("expected ErrAttemptExpired, got %v", err)
	}

	// The attempt was closed on the spot and no response was written.
	a, _ := f.store.Get(context.Background(), view.ID)
	if a.Status != model.AttemptStatusAutoSubmitted {
		t.Fatalf("expected AUTO_SUBMITTED, got %s", a.Status)
	}
	if !a.AutoSubmitted {
		t.Fatal("auto_submitted flag not set")
	}
	if got := f.ledger.count(view.ID); got != 0 {
		t.Fatalf("response written past deadline: %d entries", got)
	}
}

func TestSubmitAnswerRejectedWhilePaused(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)

	if _, err := f.svc.Pause(context.Background(), view.ID, 1); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	_, err := f.svc.SubmitAnswer(context.Background(), view.ID, 1, model.SubmitAnswerRequest{
		QuestionID: f.answers[0].QuestionID.String(),
		Answer:     "A",
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

// ─── Pause / Resume ─────────────────────────────────────────────────

func TestPauseFreezesClock(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)

	f.clock.Advance(40 * time.Second)
	paused, err := f.svc.Pause(context.Background(), view.ID, 1)
	if err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if paused.Status != model.AttemptStatusPaused {
		t.Fatalf("expected PAUSED, got %s", paused.Status)
	}
	if f.svc.sched.Pending(view.ID) {
		t.Fatal("timer still armed while paused")
	}
	if f.cache.hasDeadline(view.ID) {
		t.Fatal("stale deadline left in cache while paused")
	}

	// An hour of pause consumes no attempt time.
	f.clock.Advance(time.Hour)
	session, err := f.svc.GetSession(context.Background(), view.ID, 1)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if session.RemainingSeconds != 560 {
		t.Fatalf("expected frozen 560s remaining, got %v", session.RemainingSeconds)
	}
}

func TestPauseRequiresInProgress(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)

	if _, err := f.svc.Pause(context.Background(), view.ID, 1); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if _, err := f.svc.Pause(context.Background(), view.ID, 1); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double pause, got %v", err)
	}
}

func TestResumeRestoresClockAndTimer(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)

	f.clock.Advance(40 * time.Second)
	if _, err := f.svc.Pause(context.Background(), view.ID, 1); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	f.clock.Advance(100 * time.Second)
	resumed, err := f.svc.Resume(context.Background(), view.ID, 1)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.Status != model.AttemptStatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", resumed.Status)
	}
	if resumed.PausedSeconds != 100 {
		t.Fatalf("expected 100 paused seconds, got %d", resumed.PausedSeconds)
	}
	if resumed.RemainingSeconds != 560 {
		t.Fatalf("expected 560s remaining after resume, got %v", resumed.RemainingSeconds)
	}
	if !f.svc.sched.Pending(view.ID) {
		t.Fatal("timer not re-armed on resume")
	}
	if !f.cache.hasDeadline(view.ID) {
		t.Fatal("deadline not re-mirrored on resume")
	}
}

func TestResumeRequiresPaused(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)

	if _, err := f.svc.Resume(context.Background(), view.ID, 1); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

// ─── Submission and scoring ─────────────────────────────────────────

func TestExplicitSubmitScenario(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)

	f.clock.Advance(10 * time.Second)
	f.answer(t, view.ID, 1, f.answers[0], "A") // correct
	f.clock.Advance(10 * time.Second)
	f.answer(t, view.ID, 1, f.answers[1], "C") // incorrect
	f.clock.Advance(10 * time.Second)
	f.answer(t, view.ID, 1, f.answers[2], "jakarta") // correct (folded)
	// answers[3] never answered

	f.clock.Advance(10 * time.Second)
	if _, err := f.svc.Pause(context.Background(), view.ID, 1); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	f.clock.Advance(100 * time.Second)
	if _, err := f.svc.Resume(context.Background(), view.ID, 1); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	f.clock.Advance(10 * time.Second)
	final, err := f.svc.Submit(context.Background(), view.ID, 1)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if final.Status != model.AttemptStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", final.Status)
	}
	if final.CorrectAnswers == nil || *final.CorrectAnswers != 2 {
		t.Fatalf("expected 2 correct, got %v", final.CorrectAnswers)
	}
	if final.Score == nil || *final.Score != 50.0 {
		t.Fatalf("expected score 50.0, got %v", final.Score)
	}
	if final.AutoSubmitted {
		t.Fatal("explicit submit flagged as auto-submitted")
	}
	if final.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}
	if f.svc.sched.Pending(view.ID) {
		t.Fatal("timer left armed after submit")
	}
}

func TestSubmitFromPaused(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)

	if _, err := f.svc.Pause(context.Background(), view.ID, 1); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	final, err := f.svc.Submit(context.Background(), view.ID, 1)
	if err != nil {
		t.Fatalf("submit from paused failed: %v", err)
	}
	if final.Status != model.AttemptStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", final.Status)
	}
}

func TestDoubleSubmitRejectedWithoutRescoring(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)
	f.answer(t, view.ID, 1, f.answers[0], "A")

	first, err := f.svc.Submit(context.Background(), view.ID, 1)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	calls := atomic.LoadInt32(&f.bank.keyCalls)

	_, err = f.svc.Submit(context.Background(), view.ID, 1)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on re-submit, got %v", err)
	}
	if got := atomic.LoadInt32(&f.bank.keyCalls); got != calls {
		t.Fatalf("re-submit performed scoring: %d -> %d key loads", calls, got)
	}

	a, _ := f.store.Get(context.Background(), view.ID)
	if *a.Score != *first.Score {
		t.Fatalf("score changed on re-submit: %v -> %v", *first.Score, *a.Score)
	}
}

// ─── Deadline trigger ───────────────────────────────────────────────

func TestDeadlineAutoSubmits(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)
	f.answer(t, view.ID, 1, f.answers[0], "A")
	f.answer(t, view.ID, 1, f.answers[1], "B")

	f.clock.Advance(601 * time.Second)
	f.svc.handleDeadline(view.ID)

	a, _ := f.store.Get(context.Background(), view.ID)
	if a.Status != model.AttemptStatusAutoSubmitted {
		t.Fatalf("expected AUTO_SUBMITTED, got %s", a.Status)
	}
	if !a.AutoSubmitted {
		t.Fatal("auto_submitted flag not set")
	}
	if a.Score == nil || *a.Score != 50.0 {
		t.Fatalf("expected score 50.0 over 2 answered + 2 unanswered, got %v", a.Score)
	}
	if f.cache.hasDeadline(view.ID) {
		t.Fatal("deadline left in cache after auto-submit")
	}
}

func TestDeadlineNoopBeforeExpiry(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)

	// A stale timer firing early must not close the attempt.
	f.clock.Advance(10 * time.Second)
	f.svc.handleDeadline(view.ID)

	a, _ := f.store.Get(context.Background(), view.ID)
	if a.Status != model.AttemptStatusInProgress {
		t.Fatalf("early fire closed attempt: %s", a.Status)
	}
	if !f.svc.sched.Pending(view.ID) {
		t.Fatal("timer not re-armed after early fire")
	}
}

func TestSubmitExpireRaceScoresOnce(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)
	f.clock.Advance(601 * time.Second)

	before := atomic.LoadInt32(&f.bank.keyCalls)

	var wg sync.WaitGroup
	var submitErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, submitErr = f.svc.Submit(context.Background(), view.ID, 1)
	}()
	go func() {
		defer wg.Done()
		f.svc.handleDeadline(view.ID)
	}()
	wg.Wait()

	a, _ := f.store.Get(context.Background(), view.ID)
	if !a.Status.IsTerminal() {
		t.Fatalf("no terminal state reached: %s", a.Status)
	}
	switch a.Status {
	case model.AttemptStatusCompleted:
		if submitErr != nil {
			t.Fatalf("completed but submit errored: %v", submitErr)
		}
		if a.AutoSubmitted {
			t.Fatal("completed attempt flagged auto-submitted")
		}
	case model.AttemptStatusAutoSubmitted:
		if submitErr == nil {
			t.Fatal("both submit and expire claimed the attempt")
		}
	default:
		t.Fatalf("unexpected terminal state %s", a.Status)
	}

	if got := atomic.LoadInt32(&f.bank.keyCalls) - before; got != 1 {
		t.Fatalf("expected exactly one scoring computation, got %d", got)
	}
	if a.Score == nil {
		t.Fatal("winner did not record a score")
	}
}

// ─── Degraded expiry and recovery ───────────────────────────────────

func TestExpireDegradesWhenScoringFails(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)

	f.bank.failKeys = true
	f.clock.Advance(601 * time.Second)
	f.svc.handleDeadline(view.ID)

	a, _ := f.store.Get(context.Background(), view.ID)
	if a.Status != model.AttemptStatusExpired {
		t.Fatalf("expected EXPIRED, got %s", a.Status)
	}
	if a.Score != nil {
		t.Fatalf("degraded attempt has a score: %v", *a.Score)
	}
	if !a.NeedsReconciliation {
		t.Fatal("needs_reconciliation not set")
	}
	if !a.AutoSubmitted {
		t.Fatal("deadline closure must still flag auto_submitted")
	}
	if a.FinishedAt == nil {
		t.Fatal("finished_at not set on degraded closure")
	}

	queue := f.cache.reconcileQueue()
	if len(queue) != 1 || queue[0] != view.ID {
		t.Fatalf("reconcile queue wrong: %v", queue)
	}
	// Bounded retries: initial try plus retries, no more.
	if got := atomic.LoadInt32(&f.bank.keyCalls); got != 3 {
		t.Fatalf("expected 3 scoring tries, got %d", got)
	}

	// A degraded attempt accepts no further operations.
	if _, err := f.svc.Submit(context.Background(), view.ID, 1); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on submit after expiry, got %v", err)
	}
}

func TestDeadlineRearmsWhenAttemptLoadFails(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)
	f.clock.Advance(601 * time.Second)

	f.store.setFailGets(true)
	f.svc.handleDeadline(view.ID)

	// The attempt is still open, but the trigger must not give up on it: a
	// retry timer stays armed and the reconcile worker gets a queue entry.
	if !f.svc.sched.Pending(view.ID) {
		t.Fatal("no retry timer armed after failed attempt load")
	}
	queue := f.cache.reconcileQueue()
	if len(queue) != 1 || queue[0] != view.ID {
		t.Fatalf("reconcile queue wrong after failed load: %v", queue)
	}

	// Once storage recovers, the retried trigger closes the attempt.
	f.store.setFailGets(false)
	f.svc.handleDeadline(view.ID)

	a, err := f.store.Get(context.Background(), view.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if a.Status != model.AttemptStatusAutoSubmitted {
		t.Fatalf("expected AUTO_SUBMITTED after retry, got %s", a.Status)
	}
}

func TestDegradeClaimFailureQueuesReconcile(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)

	// Scoring exhausts its retries, then the degrade claim fails too. The
	// only recovery possible is the reconcile queue.
	f.bank.failKeys = true
	f.store.setFailClaims(true)
	f.clock.Advance(601 * time.Second)
	f.svc.handleDeadline(view.ID)

	queue := f.cache.reconcileQueue()
	if len(queue) != 1 || queue[0] != view.ID {
		t.Fatalf("reconcile queue wrong after failed degrade claim: %v", queue)
	}
}

func TestRescheduleOpenAttempts(t *testing.T) {
	f := newEngineFixture(t)
	view := f.start(t, 1)

	// Simulate a restart: fresh service over the same stores, with the
	// deadline already past.
	f.clock.Advance(601 * time.Second)
	cfg := &config.Config{ExpireMaxRetries: 3, ExpireRetryBase: time.Millisecond}
	revived := NewAttemptService(cfg, f.store, f.ledger, f.bank, f.cache, zerolog.Nop())
	revived.now = f.clock.Now

	if err := revived.RescheduleOpenAttempts(context.Background()); err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}

	// The past-due timer fires immediately on its own goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for {
		a, _ := f.store.Get(context.Background(), view.ID)
		if a.Status == model.AttemptStatusAutoSubmitted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("attempt not closed after recovery, status %s", a.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
