package judge

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
)

// SQLRatingStore applies rating outcomes to the users table.
type SQLRatingStore struct {
	db *sqlx.DB
}

// NewSQLRatingStore creates a rating store over the given database.
func NewSQLRatingStore(db *sqlx.DB) *SQLRatingStore {
	return &SQLRatingStore{db: db}
}

// ApplyMatchOutcome locks both user rows, then updates rating, wins,
// losses and total_matches inside a single transaction. Row locks are
// taken in id order so two concurrent completions cannot deadlock.
func (s *SQLRatingStore) ApplyMatchOutcome(ctx context.Context, o RatingOutcome) error {
	if s.db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var rows []struct {
		ID     string `db:"id"`
		Rating int    `db:"rating"`
	}
	if err := tx.SelectContext(ctx, &rows,
		`SELECT id, rating FROM users WHERE id IN ($1,$2) ORDER BY id FOR UPDATE`,
		o.Player1ID, o.Player2ID); err != nil {
		return err
	}
	if len(rows) != 2 {
		return fmt.Errorf("expected 2 users for rating update, got %d", len(rows))
	}

	apply := func(playerID string, delta int) error {
		won := o.WinnerID == playerID
		lost := o.WinnerID != "" && !won
		_, err := tx.ExecContext(ctx,
			`UPDATE users SET rating = GREATEST(0, rating + $1), wins = wins + $2, losses = losses + $3, total_matches = total_matches + 1 WHERE id = $4`,
			delta, boolInt(won), boolInt(lost), playerID)
		return err
	}
	if err := apply(o.Player1ID, o.Player1Delta); err != nil {
		return err
	}
	if err := apply(o.Player2ID, o.Player2Delta); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("[RATING] Applied outcome: p1=%s d=%+d p2=%s d=%+d winner=%q",
		o.Player1ID, o.Player1Delta, o.Player2ID, o.Player2Delta, o.WinnerID)
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
