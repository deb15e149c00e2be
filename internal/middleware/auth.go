package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codeclash/backend/internal/auth"
	"github.com/codeclash/backend/internal/config"
)

// RequireAuth verifies the Bearer token and stashes the caller's identity
// on the request context.
func RequireAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing bearer token",
				"code":  "AUTH_REQUIRED",
			})
			return
		}

		claims, err := auth.VerifyToken(cfg, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
				"code":  "AUTH_REQUIRED",
			})
			return
		}

		c.Set("playerId", claims.PlayerID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

// PlayerID returns the authenticated player's id, or "" when the request
// skipped RequireAuth.
func PlayerID(c *gin.Context) string {
	if v, ok := c.Get("playerId"); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
