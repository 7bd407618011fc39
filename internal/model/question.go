package model

import (
	"strings"

	"github.com/google/uuid"
)

// QuestionType selects how a submitted answer is compared against the key.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeText           QuestionType = "TEXT"
	QuestionTypeMultiSelect    QuestionType = "MULTI_SELECT"
)

// AnswerComparator reports whether a submitted answer matches the key.
type AnswerComparator func(submitted, key string) bool

// Comparator resolves the comparison function for a question type. Unknown
// types fall back to exact matching.
func (t QuestionType) Comparator() AnswerComparator {
	switch t {
	case QuestionTypeText:
		return compareTextFold
	case QuestionTypeMultiSelect:
		return compareSelectionSet
	default:
		return compareExact
	}
}

func compareExact(submitted, key string) bool {
	return submitted == key
}

func compareTextFold(submitted, key string) bool {
	return strings.EqualFold(strings.TrimSpace(submitted), strings.TrimSpace(key))
}

// compareSelectionSet treats both sides as comma-separated selections and
// requires set equality, so order and duplicates do not matter.
func compareSelectionSet(submitted, key string) bool {
	sub := selectionSet(submitted)
	return sub != nil && equalSets(sub, selectionSet(key))
}

func selectionSet(raw string) map[string]struct{} {
	parts := strings.Split(raw, ",")
	set := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func equalSets(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// QuestionRef is a quiz question as seen by the session engine: identity and
// order only, never the key.
type QuestionRef struct {
	ID       uuid.UUID `json:"id"`
	Position int       `json:"position"`
}

// QuestionKey is one entry of a quiz's answer key. The comparator is resolved
// once when the key is loaded, not on every comparison.
type QuestionKey struct {
	QuestionID uuid.UUID
	Answer     string
	Type       QuestionType
	Position   int

	compare AnswerComparator
}

// NewQuestionKey builds a key entry with its comparator resolved.
func NewQuestionKey(questionID uuid.UUID, answer string, questionType QuestionType, position int) QuestionKey {
	return QuestionKey{
		QuestionID: questionID,
		Answer:     answer,
		Type:       questionType,
		Position:   position,
		compare:    questionType.Comparator(),
	}
}

// Matches reports whether a submitted answer is correct for this question.
func (k QuestionKey) Matches(submitted string) bool {
	cmp := k.compare
	if cmp == nil {
		cmp = k.Type.Comparator()
	}
	return cmp(submitted, k.Answer)
}
