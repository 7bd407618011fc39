package service

import "errors"

// Session engine errors. These are the synchronous contract of every
// state-machine operation; the HTTP and WebSocket layers map them to codes.
var (
	// ErrNotFound is returned for unknown attempt, quiz, or question IDs.
	ErrNotFound = errors.New("resource not found")
	// ErrNotOwner is returned when a student touches someone else's attempt.
	ErrNotOwner = errors.New("attempt belongs to another student")
	// ErrInvalidState is returned when an operation is not permitted in the
	// attempt's current state. Never retried.
	ErrInvalidState = errors.New("operation not permitted in current attempt state")
	// ErrAttemptExpired is returned when an operation arrives at or after the
	// deadline. The attempt has been (or is being) auto-submitted; callers
	// should re-fetch the session.
	ErrAttemptExpired = errors.New("attempt deadline has passed")
	// ErrQuizHasNoQuestions rejects starting an attempt on an empty quiz.
	ErrQuizHasNoQuestions = errors.New("quiz has no questions")
	// ErrOpenAttemptExists is returned by stores when an open attempt already
	// exists for the same quiz and student. The engine resolves it by
	// returning the existing attempt.
	ErrOpenAttemptExists = errors.New("open attempt already exists for this quiz and student")
)
