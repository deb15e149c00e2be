package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codeclash_ws_active_connections",
		Help: "Number of live websocket connections",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "codeclash_queue_depth",
		Help: "Players waiting in a matchmaking bucket",
	}, []string{"bucket"})

	MatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codeclash_matches_created_total",
		Help: "Matches created by the matchmaker",
	})

	MatchesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codeclash_matches_completed_total",
		Help: "Matches completed, labeled by outcome (scored, fallback)",
	}, []string{"outcome"})

	PairingWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codeclash_pairing_wait_seconds",
		Help:    "Time players spent queued before pairing",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	JudgingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codeclash_judging_duration_seconds",
		Help:    "Wall-clock duration of the judging pipeline per match",
		Buckets: prometheus.DefBuckets,
	})

	SandboxExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codeclash_sandbox_executions_total",
		Help: "Sandbox test-case executions, labeled by result",
	}, []string{"result"})

	PowerUpActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codeclash_powerup_activations_total",
		Help: "Successful power-up activations by type",
	}, []string{"type"})

	HintsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codeclash_hints_served_total",
		Help: "Hints successfully generated and delivered",
	})

	GhostRacesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codeclash_ghost_races_started_total",
		Help: "Ghost races started, including AI-synthesized ghosts",
	})

	ReplayEventsBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codeclash_replay_events_buffered_total",
		Help: "Replay events accepted into the flush buffer",
	})

	ReplayEventsFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codeclash_replay_events_flushed_total",
		Help: "Replay events written to the durable store",
	})

	ReplayFlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codeclash_replay_flush_failures_total",
		Help: "Replay flush attempts that failed and re-queued their batch",
	})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codeclash_ws_events_dropped_total",
		Help: "Outbound events dropped because a client send buffer was full",
	}, []string{"reason"})
)
