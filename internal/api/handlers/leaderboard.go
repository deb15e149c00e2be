package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

type leaderboardRow struct {
	Rank         int    `db:"rank" json:"rank"`
	ID           string `db:"id" json:"id"`
	Username     string `db:"username" json:"username"`
	Rating       int    `db:"rating" json:"rating"`
	Wins         int    `db:"wins" json:"wins"`
	Losses       int    `db:"losses" json:"losses"`
	TotalMatches int    `db:"total_matches" json:"total_matches"`
}

// GetLeaderboard returns the top players by rating. Ties break by
// win count, then username for a stable order.
func GetLeaderboard(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit < 1 || limit > 200 {
			limit = 50
		}

		rows := []leaderboardRow{}
		err = db.Select(&rows, `
			SELECT RANK() OVER (ORDER BY rating DESC, wins DESC, username ASC) AS rank,
			       id, username, rating, wins, losses, total_matches
			FROM users
			ORDER BY rating DESC, wins DESC, username ASC
			LIMIT $1`, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load leaderboard"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"leaderboard": rows})
	}
}
