package cards

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists cards and reviews in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cards (
			id TEXT PRIMARY KEY,
			front TEXT NOT NULL,
			back TEXT NOT NULL,
			source_id TEXT,
			ease_factor DOUBLE PRECISION NOT NULL DEFAULT 2.5,
			interval INTEGER NOT NULL DEFAULT 0,
			repetitions INTEGER NOT NULL DEFAULT 0,
			stability DOUBLE PRECISION NOT NULL DEFAULT 0,
			difficulty DOUBLE PRECISION NOT NULL DEFAULT 5,
			lapses INTEGER NOT NULL DEFAULT 0,
			next_review TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_review TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cards_next_review ON cards (next_review);`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id TEXT PRIMARY KEY,
			card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
			rating INTEGER NOT NULL,
			user_answer TEXT,
			llm_evaluation TEXT,
			reviewed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reviews_card_reviewed ON reviews (card_id, reviewed_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) DueCards(ctx context.Context, now time.Time, limit int) ([]Card, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, front, back, COALESCE(source_id, ''), ease_factor, interval, repetitions,
		        stability, difficulty, lapses, next_review, last_review, created_at, updated_at
		 FROM cards WHERE next_review <= $1`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("query due cards: %w", err)
	}
	defer rows.Close()

	due := make([]Card, 0, limit)
	for rows.Next() {
		var c Card
		if err := rows.Scan(&c.ID, &c.Front, &c.Back, &c.SourceID, &c.EaseFactor, &c.IntervalDays,
			&c.Repetitions, &c.Stability, &c.Difficulty, &c.Lapses, &c.NextReview, &c.LastReview,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan card row: %w", err)
		}
		due = append(due, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate card rows: %w", err)
	}

	// Retrievability is a model-side quantity, so the weakest-first order
	// and the limit cut are applied here rather than in SQL.
	return weakestFirst(due, now, limit), nil
}

func (s *PostgresStore) SaveReview(ctx context.Context, card Card, review Review) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	if review.ReviewedAt.IsZero() {
		review.ReviewedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin review tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE cards SET ease_factor=$2, interval=$3, repetitions=$4, stability=$5, difficulty=$6,
		        lapses=$7, next_review=$8, last_review=$9, updated_at=$10
		 WHERE id=$1`,
		card.ID,
		card.EaseFactor,
		card.IntervalDays,
		card.Repetitions,
		card.Stability,
		card.Difficulty,
		card.Lapses,
		card.NextReview,
		card.LastReview,
		card.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO reviews (id, card_id, rating, user_answer, llm_evaluation, reviewed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		review.ID,
		review.CardID,
		review.Rating,
		review.UserAnswer,
		review.LLMEvaluation,
		review.ReviewedAt,
	)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit review tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
