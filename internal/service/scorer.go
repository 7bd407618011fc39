package service

import (
	"github.com/google/uuid"
	"github.com/quizrun/quizrun-backend/internal/model"
)

// ScoreResult aggregates per-question correctness at submission time.
type ScoreResult struct {
	CorrectAnswers int
	TotalQuestions int
	// Score is 0..100. The start precondition guarantees at least one
	// question, so the division is safe; an empty quiz still yields 0.
	Score float64
}

// ScoreResponses grades an attempt from its stored responses and the quiz's
// answer key. The divisor is totalQuestions, the question count snapshotted
// when the attempt started, so a later authoring change never shifts an
// already-recorded denominator. Every question without a response counts as
// incorrect. Correctness is re-derived from the submitted answer text
// instead of trusting Response.IsCorrect, so analytics can recompute scores
// from the ledger alone and always get the same result.
func ScoreResponses(key map[uuid.UUID]model.QuestionKey, responses []model.Response, totalQuestions int) ScoreResult {
	byQuestion := make(map[uuid.UUID]*model.Response, len(responses))
	for i := range responses {
		byQuestion[responses[i].QuestionID] = &responses[i]
	}

	correct := 0
	for qid, k := range key {
		resp, ok := byQuestion[qid]
		if !ok {
			continue
		}
		if k.Matches(resp.Answer) {
			correct++
		}
	}

	if totalQuestions <= 0 {
		totalQuestions = len(key)
	}
	var score float64
	if totalQuestions > 0 {
		score = 100.0 * float64(correct) / float64(totalQuestions)
	}

	return ScoreResult{
		CorrectAnswers: correct,
		TotalQuestions: totalQuestions,
		Score:          score,
	}
}
