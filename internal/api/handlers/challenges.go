package handlers

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/codeclash/backend/internal/models"
)

// ListChallenges returns the published challenge catalog, optionally
// filtered by difficulty.
func ListChallenges(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := `
			SELECT id, title, description, difficulty, time_limit_seconds, starter_code, published, created_at
			FROM challenges WHERE published = true`
		args := []interface{}{}
		if difficulty := c.Query("difficulty"); difficulty != "" {
			query += ` AND difficulty = $1`
			args = append(args, difficulty)
		}
		query += ` ORDER BY difficulty, title`

		challenges := []models.Challenge{}
		if err := db.Select(&challenges, query, args...); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load challenges"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"challenges": challenges})
	}
}

// GetChallenge returns one challenge with its visible test cases. Hidden
// cases never leave the server.
func GetChallenge(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var challenge models.Challenge
		err := db.Get(&challenge, `
			SELECT id, title, description, difficulty, time_limit_seconds, starter_code, published, created_at
			FROM challenges WHERE id = $1 AND published = true`, c.Param("id"))
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "challenge not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load challenge"})
			return
		}

		tests := []models.TestCase{}
		err = db.Select(&tests, `
			SELECT id, challenge_id, ordinal, input, expected_output, hidden, weight
			FROM test_cases WHERE challenge_id = $1 AND hidden = false
			ORDER BY ordinal`, challenge.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load test cases"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"challenge": challenge, "testCases": tests})
	}
}
