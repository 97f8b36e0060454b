package cards

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process card store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	cards   map[string]Card
	reviews []Review
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{cards: make(map[string]Card)}
}

// Put inserts or replaces a card. Used by tests and dev seeding.
func (s *InMemoryStore) Put(card Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[card.ID] = card
}

func (s *InMemoryStore) DueCards(_ context.Context, now time.Time, limit int) ([]Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	due := make([]Card, 0, limit)
	for _, c := range s.cards {
		if !c.NextReview.After(now) {
			due = append(due, c)
		}
	}
	return weakestFirst(due, now, limit), nil
}

func (s *InMemoryStore) SaveReview(_ context.Context, card Card, review Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cards[card.ID]; !ok {
		return fmt.Errorf("unknown card %q", card.ID)
	}
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	if review.ReviewedAt.IsZero() {
		review.ReviewedAt = time.Now().UTC()
	}
	s.cards[card.ID] = card
	s.reviews = append(s.reviews, review)
	return nil
}

// Get returns a stored card by id. Used by tests.
func (s *InMemoryStore) Get(id string) (Card, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	return c, ok
}

// Reviews returns a copy of the recorded review history. Used by tests.
func (s *InMemoryStore) Reviews() []Review {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Review, len(s.reviews))
	copy(out, s.reviews)
	return out
}

func (s *InMemoryStore) Close() error { return nil }
