package srs

import (
	"math"
	"time"
)

// MemoryState is the per-card scheduling memory.
//
// Stability and Difficulty are the FSRS state proper. EaseFactor,
// IntervalDays and Repetitions mirror the same schedule in the older SM-2
// vocabulary for callers still reading that contract; Advance keeps both
// representations in agreement on the computed next review time.
type MemoryState struct {
	Stability      float64    `json:"stability"`
	Difficulty     float64    `json:"difficulty"`
	LapseCount     int        `json:"lapse_count"`
	Repetitions    int        `json:"repetitions"`
	LastReviewedAt *time.Time `json:"last_reviewed_at,omitempty"`

	// Legacy mirror fields.
	EaseFactor   float64 `json:"ease_factor"`
	IntervalDays int     `json:"interval_days"`
}

// NewMemoryState returns the state of a never-reviewed card.
func NewMemoryState() MemoryState {
	return MemoryState{Difficulty: 5.0, EaseFactor: 2.5}
}

const hoursPerDay = 24.0

// Advance computes the next memory state for a card reviewed with rating at
// now. It is a total, deterministic function: out-of-range inputs are
// clamped, never rejected. The returned time is the next review due date,
// always at least one day after now.
func Advance(state MemoryState, rating Rating, now time.Time) (MemoryState, time.Time) {
	return DefaultParams().Advance(state, rating, now)
}

// Advance is the parameterised form of the package-level Advance.
func (p Params) Advance(state MemoryState, rating Rating, now time.Time) (MemoryState, time.Time) {
	if !rating.IsValid() {
		rating = ClampRating(int(rating))
	}

	next := state
	if state.LastReviewedAt == nil || state.Repetitions == 0 {
		next.Stability = clampStability(p.W[rating])
		next.Difficulty = p.initDifficulty(rating)
		next.Repetitions = 1
		if rating.IsLapse() {
			next.LapseCount = state.LapseCount + 1
		}
	} else {
		elapsed := now.Sub(*state.LastReviewedAt).Hours() / hoursPerDay
		if elapsed < 0 {
			elapsed = 0
		}
		s := clampStability(state.Stability)
		d := clampDifficulty(state.Difficulty)
		r := p.Retrievability(elapsed, s)

		next.Difficulty = p.nextDifficulty(d, rating)
		if rating.IsLapse() {
			next.Stability = p.lapseStability(d, s, r)
			next.LapseCount = state.LapseCount + 1
		} else {
			next.Stability = p.recallStability(d, s, r, rating)
		}
		next.Repetitions = state.Repetitions + 1
	}

	reviewedAt := now
	next.LastReviewedAt = &reviewedAt

	days := p.interval(next.Stability)
	next.IntervalDays = days
	next.EaseFactor = difficultyToEase(next.Difficulty)

	return next, now.AddDate(0, 0, days)
}

// initDifficulty seeds difficulty from the first rating.
func (p Params) initDifficulty(rating Rating) float64 {
	g := float64(rating) + 1 // formulas use 1-based grades
	return clampDifficulty(p.W[4] - (g-3)*p.W[5])
}

// nextDifficulty nudges difficulty toward a rating-dependent asymptote with
// mean reversion toward the initial difficulty, clamped to [1, 10].
func (p Params) nextDifficulty(d float64, rating Rating) float64 {
	g := float64(rating) + 1
	dPrime := d - p.W[6]*(g-3)
	return clampDifficulty(p.W[7]*p.initDifficulty(rating) + (1-p.W[7])*dPrime)
}

// recallStability grows stability after a successful recall. Hard dampens
// growth, Easy amplifies it.
func (p Params) recallStability(d, s, r float64, rating Rating) float64 {
	hardPenalty := 1.0
	if rating == Hard {
		hardPenalty = p.W[15]
	}
	easyBonus := 1.0
	if rating == Easy {
		easyBonus = p.W[16]
	}
	grown := s * (1 + math.Exp(p.W[8])*
		(11-d)*
		math.Pow(s, -p.W[9])*
		(math.Exp((1-r)*p.W[10])-1)*
		hardPenalty*easyBonus)
	return clampStability(grown)
}

// lapseStability shrinks stability after forgetting. The result never
// exceeds the pre-lapse stability.
func (p Params) lapseStability(d, s, r float64) float64 {
	shrunk := p.W[11] *
		math.Pow(d, -p.W[12]) *
		(math.Pow(s+1, p.W[13]) - 1) *
		math.Exp((1-r)*p.W[14])
	return math.Min(math.Max(shrunk, 0.1), s)
}
