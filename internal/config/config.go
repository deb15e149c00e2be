package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Match settings
	CountdownSeconds          int
	TimerSyncIntervalSecs     int
	DisconnectGracePeriodSecs int
	MaxCodeLength             int
	CodeUpdateIntervalMs      int
	MatchStateTTLMinutes      int
	QueueEntryTTLMinutes      int

	// Matchmaking
	RatingTolerance     int
	RatingToleranceStep int
	RatingToleranceMax  int
	ToleranceWidenSecs  int
	QueueFeedbackSecs   int

	// Power-ups
	PowerUpCooldownSecs  int
	TimeFreezeSecs       int
	DebugShieldCharges   int

	// Hints
	HintLimit        int
	HintCooldownSecs int

	// Replay log
	ReplayBatchSize int
	ReplayFlushSecs int

	// Judging
	TestCaseTimeoutSecs   int
	SubmissionTimeoutSecs int
	JudgingTimeoutSecs    int

	// Sandbox runner
	SandboxURL    string
	SandboxAPIKey string

	// AI grader / hinter
	AIServiceURL    string
	AIServiceAPIKey string
	AITimeoutSecs   int

	// Security
	JWTSecret        string
	TokenExpiryHours int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/codeclash?sslmode=disable"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Match settings
		CountdownSeconds:          getEnvInt("MATCH_COUNTDOWN_SECONDS", 30),
		TimerSyncIntervalSecs:     getEnvInt("TIMER_SYNC_INTERVAL_SECONDS", 5),
		DisconnectGracePeriodSecs: getEnvInt("DISCONNECT_GRACE_PERIOD_SECONDS", 5),
		MaxCodeLength:             getEnvInt("MAX_CODE_LENGTH", 5000),
		CodeUpdateIntervalMs:      getEnvInt("CODE_UPDATE_INTERVAL_MS", 100),
		MatchStateTTLMinutes:      getEnvInt("MATCH_STATE_TTL_MINUTES", 120),
		QueueEntryTTLMinutes:      getEnvInt("QUEUE_ENTRY_TTL_MINUTES", 60),

		// Matchmaking
		RatingTolerance:     getEnvInt("RATING_TOLERANCE", 100),
		RatingToleranceStep: getEnvInt("RATING_TOLERANCE_STEP", 100),
		RatingToleranceMax:  getEnvInt("RATING_TOLERANCE_MAX", 500),
		ToleranceWidenSecs:  getEnvInt("RATING_TOLERANCE_WIDEN_SECONDS", 10),
		QueueFeedbackSecs:   getEnvInt("QUEUE_FEEDBACK_SECONDS", 3),

		// Power-ups
		PowerUpCooldownSecs: getEnvInt("POWERUP_COOLDOWN_SECONDS", 60),
		TimeFreezeSecs:      getEnvInt("TIME_FREEZE_SECONDS", 10),
		DebugShieldCharges:  getEnvInt("DEBUG_SHIELD_CHARGES", 3),

		// Hints
		HintLimit:        getEnvInt("HINT_LIMIT", 3),
		HintCooldownSecs: getEnvInt("HINT_COOLDOWN_SECONDS", 60),

		// Replay log
		ReplayBatchSize: getEnvInt("REPLAY_BATCH_SIZE", 10),
		ReplayFlushSecs: getEnvInt("REPLAY_FLUSH_SECONDS", 5),

		// Judging
		TestCaseTimeoutSecs:   getEnvInt("TEST_CASE_TIMEOUT_SECONDS", 15),
		SubmissionTimeoutSecs: getEnvInt("SUBMISSION_TIMEOUT_SECONDS", 45),
		JudgingTimeoutSecs:    getEnvInt("JUDGING_TIMEOUT_SECONDS", 60),

		// Sandbox runner
		SandboxURL:    getEnv("SANDBOX_URL", "http://localhost:8090"),
		SandboxAPIKey: getEnv("SANDBOX_API_KEY", ""),

		// AI grader / hinter
		AIServiceURL:    getEnv("AI_SERVICE_URL", ""),
		AIServiceAPIKey: getEnv("AI_SERVICE_API_KEY", ""),
		AITimeoutSecs:   getEnvInt("AI_TIMEOUT_SECONDS", 20),

		// Security
		JWTSecret:        getEnv("JWT_SECRET", "change-me-in-production"),
		TokenExpiryHours: getEnvInt("TOKEN_EXPIRY_HOURS", 72),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
