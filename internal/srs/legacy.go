package srs

import "time"

// Conversion between FSRS difficulty and the SM-2 ease factor. The mapping
// is linear: difficulty 1 corresponds to ease 2.5 and each difficulty point
// above 1 shaves 0.17 off the ease, bounded to the classic [1.3, 3.0] range.

func difficultyToEase(d float64) float64 {
	ease := 2.5 - (clampDifficulty(d)-1)*0.17
	if ease < 1.3 {
		return 1.3
	}
	if ease > 3.0 {
		return 3.0
	}
	return ease
}

func easeToDifficulty(ease float64) float64 {
	if ease < 1.3 {
		ease = 1.3
	}
	if ease > 3.0 {
		ease = 3.0
	}
	return clampDifficulty(1 + (2.5-ease)/0.17)
}

// LegacyState is the SM-2 view of a card's schedule, used by callers that
// still persist ease factor and interval columns.
type LegacyState struct {
	IntervalDays int
	EaseFactor   float64
	Repetitions  int
}

// AdvanceLegacy runs the scheduler on a card known only through its SM-2
// columns and returns the updated columns. The computation itself is FSRS:
// the legacy state is lifted into a MemoryState, advanced, and projected
// back, so mixed-schema stores stay numerically consistent with Advance.
func AdvanceLegacy(state LegacyState, rating Rating, now time.Time) (LegacyState, time.Time) {
	mem := MemoryState{
		Difficulty:   easeToDifficulty(state.EaseFactor),
		Repetitions:  state.Repetitions,
		EaseFactor:   state.EaseFactor,
		IntervalDays: state.IntervalDays,
	}
	if state.Repetitions > 0 {
		// Reconstruct stability from the interval: at the default
		// retention target the interval is the rounded stability.
		mem.Stability = float64(state.IntervalDays)
		last := now.AddDate(0, 0, -state.IntervalDays)
		mem.LastReviewedAt = &last
	}

	next, due := Advance(mem, rating, now)
	return LegacyState{
		IntervalDays: next.IntervalDays,
		EaseFactor:   next.EaseFactor,
		Repetitions:  next.Repetitions,
	}, due
}
