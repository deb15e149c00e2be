package models

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// User represents a registered player
type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Rating       int       `db:"rating" json:"rating"`
	Wins         int       `db:"wins" json:"wins"`
	Losses       int       `db:"losses" json:"losses"`
	TotalMatches int       `db:"total_matches" json:"total_matches"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Challenge represents a published coding problem
type Challenge struct {
	ID               string         `db:"id" json:"id"`
	Title            string         `db:"title" json:"title"`
	Description      string         `db:"description" json:"description"`
	Difficulty       string         `db:"difficulty" json:"difficulty"`
	TimeLimitSeconds int            `db:"time_limit_seconds" json:"time_limit_seconds"`
	StarterCode      types.JSONText `db:"starter_code" json:"starter_code"`
	Published        bool           `db:"published" json:"published"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// TestCase represents one test case of a challenge. Hidden cases are
// excluded from client-facing payloads but count toward scoring.
type TestCase struct {
	ID             string         `db:"id" json:"id"`
	ChallengeID    string         `db:"challenge_id" json:"challenge_id"`
	Ordinal        int            `db:"ordinal" json:"ordinal"`
	Input          types.JSONText `db:"input" json:"input"`
	ExpectedOutput types.JSONText `db:"expected_output" json:"expected_output"`
	Hidden         bool           `db:"hidden" json:"hidden"`
	Weight         int            `db:"weight" json:"weight"`
}

// Match represents a 1v1 duel between two players
type Match struct {
	ID              string          `db:"id" json:"id"`
	ChallengeID     string          `db:"challenge_id" json:"challenge_id"`
	Player1ID       string          `db:"player1_id" json:"player1_id"`
	Player2ID       string          `db:"player2_id" json:"player2_id"`
	Status          string          `db:"status" json:"status"`
	Player1Language string          `db:"player1_language" json:"player1_language"`
	Player2Language string          `db:"player2_language" json:"player2_language"`
	StartedAt       sql.NullTime    `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     sql.NullTime    `db:"completed_at" json:"completed_at,omitempty"`
	WinnerID        sql.NullString  `db:"winner_id" json:"winner_id,omitempty"`
	Player1Score    sql.NullFloat64 `db:"player1_score" json:"player1_score,omitempty"`
	Player2Score    sql.NullFloat64 `db:"player2_score" json:"player2_score,omitempty"`
	Player1Code     sql.NullString  `db:"player1_code" json:"player1_code,omitempty"`
	Player2Code     sql.NullString  `db:"player2_code" json:"player2_code,omitempty"`
	DurationMs      sql.NullInt64   `db:"duration_ms" json:"duration_ms,omitempty"`
	Fallback        bool            `db:"fallback" json:"fallback"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// MatchEvent represents one replay event in a match's timeline.
// TsMs is milliseconds since the match's started_at.
type MatchEvent struct {
	ID        int64          `db:"id" json:"id"`
	MatchID   string         `db:"match_id" json:"match_id"`
	PlayerID  string         `db:"player_id" json:"player_id"`
	EventType string         `db:"event_type" json:"event_type"`
	TsMs      int64          `db:"ts_ms" json:"ts_ms"`
	Data      types.JSONText `db:"data" json:"data"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// GhostRecording represents a persisted replay timeline playable as an
// opponent in ghost races. Immutable once saved.
type GhostRecording struct {
	ID          string         `db:"id" json:"id"`
	ChallengeID string         `db:"challenge_id" json:"challenge_id"`
	OwnerID     sql.NullString `db:"owner_id" json:"owner_id,omitempty"`
	Username    string         `db:"username" json:"username"`
	Score       float64        `db:"score" json:"score"`
	DurationMs  int64          `db:"duration_ms" json:"duration_ms"`
	IsAI        bool           `db:"is_ai" json:"is_ai"`
	Events      types.JSONText `db:"events" json:"events"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}
