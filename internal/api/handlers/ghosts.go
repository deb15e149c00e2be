package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

type ghostSummary struct {
	ID         string  `db:"id" json:"id"`
	Username   string  `db:"username" json:"username"`
	Score      float64 `db:"score" json:"score"`
	DurationMs int64   `db:"duration_ms" json:"durationMs"`
	IsAI       bool    `db:"is_ai" json:"isAI"`
}

// ListGhosts returns the recordings available to race against for a
// challenge, best score first. Event timelines are omitted; they are
// streamed when a race starts.
func ListGhosts(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
		if err != nil || limit < 1 || limit > 100 {
			limit = 20
		}

		ghosts := []ghostSummary{}
		err = db.Select(&ghosts, `
			SELECT id, username, score, duration_ms, is_ai
			FROM ghost_recordings
			WHERE challenge_id = $1
			ORDER BY score DESC, created_at ASC
			LIMIT $2`, c.Param("id"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load ghosts"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ghosts": ghosts})
	}
}
