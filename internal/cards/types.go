package cards

import (
	"context"
	"sort"
	"time"

	"github.com/vocim/vocim/internal/srs"
)

// Card is one flashcard with its scheduling columns. The SM-2 columns
// (EaseFactor, IntervalDays, Repetitions) and the FSRS columns
// (Stability, Difficulty, Lapses) describe the same schedule; SaveReview
// writes both from a single scheduler result.
type Card struct {
	ID           string     `json:"id"`
	Front        string     `json:"front"`
	Back         string     `json:"back"`
	SourceID     string     `json:"source_id,omitempty"`
	EaseFactor   float64    `json:"ease_factor"`
	IntervalDays int        `json:"interval"`
	Repetitions  int        `json:"repetitions"`
	Stability    float64    `json:"stability"`
	Difficulty   float64    `json:"difficulty"`
	Lapses       int        `json:"lapses"`
	NextReview   time.Time  `json:"next_review"`
	LastReview   *time.Time `json:"last_review,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewCard returns a card due immediately with fresh scheduling state.
func NewCard(id, front, back string) Card {
	now := time.Now().UTC()
	return Card{
		ID:         id,
		Front:      front,
		Back:       back,
		EaseFactor: 2.5,
		Difficulty: 5.0,
		NextReview: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Memory lifts the card's scheduling columns into scheduler state.
func (c Card) Memory() srs.MemoryState {
	return srs.MemoryState{
		Stability:      c.Stability,
		Difficulty:     c.Difficulty,
		LapseCount:     c.Lapses,
		Repetitions:    c.Repetitions,
		LastReviewedAt: c.LastReview,
		EaseFactor:     c.EaseFactor,
		IntervalDays:   c.IntervalDays,
	}
}

// ApplyMemory writes a scheduler result back onto the card's columns.
func (c *Card) ApplyMemory(state srs.MemoryState, nextReview time.Time) {
	c.Stability = state.Stability
	c.Difficulty = state.Difficulty
	c.Lapses = state.LapseCount
	c.Repetitions = state.Repetitions
	c.LastReview = state.LastReviewedAt
	c.EaseFactor = state.EaseFactor
	c.IntervalDays = state.IntervalDays
	c.NextReview = nextReview
	if state.LastReviewedAt != nil {
		c.UpdatedAt = *state.LastReviewedAt
	}
}

// Retrievability is the modeled recall probability of the card at now.
func (c Card) Retrievability(now time.Time) float64 {
	if c.LastReview == nil || c.Stability <= 0 {
		return 0
	}
	elapsed := now.Sub(*c.LastReview).Hours() / 24
	if elapsed < 0 {
		elapsed = 0
	}
	return srs.DefaultParams().Retrievability(elapsed, c.Stability)
}

// weakestFirst orders due cards by ascending retrievability and then cuts
// the result to limit. The cut must follow the sort: truncating earlier
// would select by due date instead of recall risk.
func weakestFirst(due []Card, now time.Time, limit int) []Card {
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Retrievability(now) < due[j].Retrievability(now)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due
}

// Review is one graded answer, kept as history alongside the card update.
type Review struct {
	ID            string    `json:"id"`
	CardID        string    `json:"card_id"`
	Rating        int       `json:"rating"`
	UserAnswer    string    `json:"user_answer,omitempty"`
	LLMEvaluation string    `json:"llm_evaluation,omitempty"`
	ReviewedAt    time.Time `json:"reviewed_at"`
}

// Store persists cards and review history.
type Store interface {
	// DueCards returns up to limit cards due at now, ordered by ascending
	// retrievability so the cards most at risk of being forgotten come
	// first.
	DueCards(ctx context.Context, now time.Time, limit int) ([]Card, error)
	// SaveReview atomically writes the card's updated scheduling columns
	// and appends the review history row.
	SaveReview(ctx context.Context, card Card, review Review) error
	Close() error
}
