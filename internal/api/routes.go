package api

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/codeclash/backend/internal/api/handlers"
	"github.com/codeclash/backend/internal/config"
	"github.com/codeclash/backend/internal/middleware"
	"github.com/codeclash/backend/internal/ws"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, db *sqlx.DB, rdb *redis.Client, cfg *config.Config) {
	router.Use(middleware.CORSMiddleware(cfg))

	if cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
			c.Next()
		})
		log.Println("[DEV MODE] No-cache headers enabled for all routes")
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadyCheck(db, rdb))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket entry point. The client authenticates with its JWT as a
	// query parameter since browsers cannot set headers on upgrade; the
	// origin check replaces CORS, which browsers skip for upgrades.
	router.GET("/ws", middleware.WebSocketCORSCheck(cfg), ws.HandleWebSocket)

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Health check (also available at /api/v1/health)
		v1.GET("/health", handlers.HealthCheck)

		// Auth endpoints
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", handlers.Register(db, cfg))
			authGroup.POST("/login", handlers.Login(db, cfg))
			authGroup.GET("/me", middleware.RequireAuth(cfg), handlers.Me(db))
		}

		// Challenge catalog
		challenges := v1.Group("/challenges")
		{
			challenges.GET("", handlers.ListChallenges(db))
			challenges.GET("/:id", handlers.GetChallenge(db))
			challenges.GET("/:id/ghosts", handlers.ListGhosts(db))
		}

		// Match history and replays
		matches := v1.Group("/matches")
		matches.Use(middleware.RequireAuth(cfg))
		{
			matches.GET("/:id", handlers.GetMatch(db))
			matches.GET("/:id/replay", handlers.GetMatchReplay(db))
		}

		// Player endpoints
		players := v1.Group("/players")
		{
			players.GET("/:id/matches", handlers.ListPlayerMatches(db))
		}

		v1.GET("/leaderboard", handlers.GetLeaderboard(db))
	}
}
