package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/codeclash/backend/internal/ai"
	"github.com/codeclash/backend/internal/api"
	"github.com/codeclash/backend/internal/config"
	"github.com/codeclash/backend/internal/database"
	"github.com/codeclash/backend/internal/game"
	"github.com/codeclash/backend/internal/judge"
	"github.com/codeclash/backend/internal/migrations"
	"github.com/codeclash/backend/internal/redis"
	"github.com/codeclash/backend/internal/sandbox"
	"github.com/codeclash/backend/internal/ws"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations on start if requested
	if os.Getenv("MIGRATE_ON_START") == "true" {
		log.Println("↗ Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Initialize Redis
	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	// Initialize sandbox runner client (if configured)
	sandboxClient := sandbox.NewClient(cfg)
	if sandboxClient != nil {
		log.Printf("[SANDBOX] Runner client initialized (base=%s)", cfg.SandboxURL)
	}

	// Initialize AI coach client (if configured). It serves code quality
	// grading, hints and ghost reference solutions.
	aiClient := ai.NewClient(cfg)
	if aiClient != nil {
		log.Printf("[AI] Coach client initialized (base=%s)", cfg.AIServiceURL)
	}

	// Build the judging pipeline
	pipeline := judge.NewPipeline(
		sandboxClient,
		aiClient,
		judge.NewSQLRatingStore(db),
		judge.Limits{
			PerCase:   time.Duration(cfg.TestCaseTimeoutSecs) * time.Second,
			PerPlayer: time.Duration(cfg.SubmissionTimeoutSecs) * time.Second,
			Watchdog:  time.Duration(cfg.JudgingTimeoutSecs) * time.Second,
		},
	)

	// Initialize Game Manager with Redis, config and the judging pipeline
	game.InitializeManager(db, rdb, cfg, pipeline, aiClient, aiClient)

	// Wire the WS layer: Redis-backed sessions, cross-instance relay,
	// and the hub as the manager's event sink.
	ws.SetRedisClient(rdb, cfg)
	game.Manager.SetSink(ws.GameHub)
	ws.StartRelaySubscriber(context.Background())

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Initialize API handlers
	api.SetupRoutes(router, db, rdb, cfg)

	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Printf("Starting CodeClash server on port %s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Block until we get a shutdown signal, then drain in-flight requests
	// and flush the replay buffer before exiting.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	game.Manager.Shutdown()
	log.Println("Server exited")
}
