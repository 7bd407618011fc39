package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// QuizAnswerKeyKey returns the cache key for a quiz's answer key hash.
func (r *CacheKeyStruct) QuizAnswerKeyKey(quizID string) string {
	return fmt.Sprintf("quiz:%s:key", quizID)
}

// QuizQuestionsKey returns the cache key for a quiz's ordered question refs.
func (r *CacheKeyStruct) QuizQuestionsKey(quizID string) string {
	return fmt.Sprintf("quiz:%s:questions", quizID)
}

// QuizTimeLimitKey returns the cache key for a quiz's time limit in seconds.
func (r *CacheKeyStruct) QuizTimeLimitKey(quizID string) string {
	return fmt.Sprintf("quiz:%s:time_limit", quizID)
}

// AttemptDeadlineKey returns the cache key mirroring an attempt's deadline.
func (r *CacheKeyStruct) AttemptDeadlineKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:deadline", attemptID)
}

var CacheKey = NewCacheKeyStruct()
