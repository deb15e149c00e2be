package handlers

import (
	"database/sql"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/codeclash/backend/internal/auth"
	"github.com/codeclash/backend/internal/config"
	"github.com/codeclash/backend/internal/middleware"
	"github.com/codeclash/backend/internal/models"
)

var validUsername = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

// Register creates a player account and issues an identity token.
func Register(db *sqlx.DB, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
			return
		}

		req.Username = strings.TrimSpace(req.Username)
		if !validUsername.MatchString(req.Username) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "username must be 3-20 characters: letters, digits, underscore",
			})
			return
		}
		if len(req.Password) < 8 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
			return
		}

		var user models.User
		err = db.Get(&user, `
			INSERT INTO users (id, username, password_hash)
			VALUES ($1, $2, $3)
			RETURNING id, username, rating, wins, losses, total_matches, created_at`,
			uuid.New().String(), req.Username, string(hash))
		if err != nil {
			if strings.Contains(err.Error(), "duplicate key") {
				c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
				return
			}
			log.Printf("[AUTH] Failed to create user %q: %v", req.Username, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
			return
		}

		token, err := auth.GenerateToken(cfg, user.ID, user.Username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
			return
		}

		log.Printf("[AUTH] Registered player %s (%s)", user.Username, user.ID)
		c.JSON(http.StatusCreated, gin.H{"token": token, "user": user})
	}
}

// Login verifies credentials and issues an identity token.
func Login(db *sqlx.DB, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
			return
		}

		var user models.User
		err := db.Get(&user, `
			SELECT id, username, password_hash, rating, wins, losses, total_matches, created_at
			FROM users WHERE username = $1`, req.Username)
		if err == sql.ErrNoRows {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}

		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		token, err := auth.GenerateToken(cfg, user.ID, user.Username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
	}
}

// Me returns the authenticated player's profile.
func Me(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID := middleware.PlayerID(c)

		var user models.User
		err := db.Get(&user, `
			SELECT id, username, rating, wins, losses, total_matches, created_at
			FROM users WHERE id = $1`, playerID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}
