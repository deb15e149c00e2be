package handlers

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/codeclash/backend/internal/game"
	"github.com/codeclash/backend/internal/middleware"
	"github.com/codeclash/backend/internal/models"
)

// GetMatch returns a durable match row. Live code is only visible to the
// two participants; completed matches are public.
func GetMatch(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var match models.Match
		err := db.Get(&match, `
			SELECT id, challenge_id, player1_id, player2_id, status,
			       player1_language, player2_language, started_at, completed_at,
			       winner_id, player1_score, player2_score, player1_code, player2_code,
			       duration_ms, fallback, created_at
			FROM matches WHERE id = $1`, c.Param("id"))
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load match"})
			return
		}

		playerID := middleware.PlayerID(c)
		if match.Status != "completed" && playerID != match.Player1ID && playerID != match.Player2ID {
			match.Player1Code = sql.NullString{}
			match.Player2Code = sql.NullString{}
		}
		c.JSON(http.StatusOK, match)
	}
}

// GetMatchReplay returns the ordered event timeline of a completed match.
func GetMatchReplay(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		matchID := c.Param("id")

		var status string
		err := db.Get(&status, `SELECT status FROM matches WHERE id = $1`, matchID)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load match"})
			return
		}
		if status != "completed" {
			c.JSON(http.StatusConflict, gin.H{
				"error": "replay available after the match completes",
				"code":  "MATCH_NOT_COMPLETED",
			})
			return
		}

		events, err := game.EventsForMatch(db, matchID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load replay"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"matchId": matchID, "events": events})
	}
}

// ListPlayerMatches returns a player's recent match history.
func ListPlayerMatches(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID := c.Param("id")
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
		if err != nil || limit < 1 || limit > 100 {
			limit = 20
		}

		matches := []models.Match{}
		err = db.Select(&matches, `
			SELECT id, challenge_id, player1_id, player2_id, status,
			       player1_language, player2_language, started_at, completed_at,
			       winner_id, player1_score, player2_score, duration_ms, fallback, created_at
			FROM matches
			WHERE (player1_id = $1 OR player2_id = $1) AND status = 'completed'
			ORDER BY completed_at DESC
			LIMIT $2`, playerID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load matches"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": matches})
	}
}
