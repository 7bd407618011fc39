package service

import (
	"time"

	"github.com/quizrun/quizrun-backend/internal/model"
)

// The attempt clock is a pure function of attempt fields. While the attempt
// is PAUSED the elapsed value is frozen: the running pause interval
// (now − PausedAt) is excluded along with the already-accumulated
// PausedSeconds.

// Elapsed returns the active (non-paused) time the attempt has consumed.
func Elapsed(a *model.Attempt, now time.Time) time.Duration {
	elapsed := now.Sub(a.StartedAt) - time.Duration(a.PausedSeconds)*time.Second
	if a.PausedAt != nil {
		elapsed -= now.Sub(*a.PausedAt)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Remaining returns how much of the time limit is left. The deadline is
// reached when Remaining is zero or negative.
func Remaining(a *model.Attempt, now time.Time) time.Duration {
	return time.Duration(a.TimeLimitSeconds)*time.Second - Elapsed(a, now)
}

// Deadline returns the wall-clock instant the attempt expires, as of now.
// For a PAUSED attempt the deadline keeps receding, which is why pending
// timers are canceled on pause and rescheduled from Remaining on resume.
func Deadline(a *model.Attempt, now time.Time) time.Time {
	return now.Add(Remaining(a, now))
}
