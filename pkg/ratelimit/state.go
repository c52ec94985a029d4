// Package ratelimit implements the two gates every batch worker passes through:
// a global pacing gate that spaces external calls to stay under a
// requests-per-minute ceiling, and a concurrency gate that bounds how many
// workers are active at once.
package ratelimit

import (
	"time"
)

// PacingState is the single mutable timestamp shared by all workers of a run.
// It is owned by a Pacer and only touched while the Pacer's mutex is held.
type PacingState struct {
	// Interval is the minimum spacing between two dispatches.
	// Derived from requests per minute as 60s / rpm.
	Interval time.Duration

	// LastDispatch is the instant the previous slot was granted.
	// Zero until the first grant, which makes the first acquisition free.
	LastDispatch time.Time

	// Granted counts slots handed out during the run.
	Granted int64
}

// IntervalForRPM converts a requests-per-minute ceiling into a dispatch interval.
// Returns 0 for non-positive input.
func IntervalForRPM(rpm float64) time.Duration {
	if rpm <= 0 {
		return 0
	}
	return time.Duration(float64(time.Minute) / rpm)
}

// TimeUntilNext returns how long a caller arriving at now must wait before
// it may take a slot. Returns 0 if a slot is available immediately.
func (s *PacingState) TimeUntilNext(now time.Time) time.Duration {
	if s.LastDispatch.IsZero() {
		return 0
	}
	wait := s.Interval - now.Sub(s.LastDispatch)
	if wait < 0 {
		return 0
	}
	return wait
}

// Stamp records a grant at now.
func (s *PacingState) Stamp(now time.Time) {
	s.LastDispatch = now
	s.Granted++
}
