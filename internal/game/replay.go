package game

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/codeclash/backend/internal/metrics"
)

// ReplayEvent is one entry in a match's timeline. TsMs is milliseconds
// since the match's startedAt.
type ReplayEvent struct {
	MatchID   string         `json:"matchId" db:"match_id"`
	PlayerID  string         `json:"playerId" db:"player_id"`
	EventType string         `json:"type" db:"event_type"`
	TsMs      int64          `json:"timestamp" db:"ts_ms"`
	Data      types.JSONText `json:"data" db:"data"`
}

// ReplayBuffer batches replay events and flushes them to the durable
// store when the batch fills, on a periodic timer, and once more at
// shutdown. A failed flush re-queues its batch at the head so ordering
// survives retries.
type ReplayBuffer struct {
	db        *sqlx.DB
	batchSize int
	interval  time.Duration

	mu      sync.Mutex
	pending []ReplayEvent

	kick chan struct{}
}

// NewReplayBuffer creates a buffer flushing every interval or whenever
// batchSize events are pending.
func NewReplayBuffer(db *sqlx.DB, batchSize int, interval time.Duration) *ReplayBuffer {
	if batchSize < 1 {
		batchSize = 1
	}
	return &ReplayBuffer{
		db:        db,
		batchSize: batchSize,
		interval:  interval,
		kick:      make(chan struct{}, 1),
	}
}

// Append queues one event. A full batch wakes the flusher immediately.
func (rb *ReplayBuffer) Append(ev ReplayEvent) {
	if len(ev.Data) == 0 {
		ev.Data = types.JSONText("{}")
	}

	rb.mu.Lock()
	rb.pending = append(rb.pending, ev)
	n := len(rb.pending)
	rb.mu.Unlock()

	metrics.ReplayEventsBuffered.Inc()

	if n >= rb.batchSize {
		select {
		case rb.kick <- struct{}{}:
		default:
		}
	}
}

// Pending reports the number of unflushed events.
func (rb *ReplayBuffer) Pending() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.pending)
}

// Run drives the flush loop until ctx is cancelled, then flushes whatever
// is left so shutdown loses nothing.
func (rb *ReplayBuffer) Run(ctx context.Context) {
	ticker := time.NewTicker(rb.interval)
	defer ticker.Stop()

	log.Println("[REPLAY] Flush worker started")
	for {
		select {
		case <-ctx.Done():
			rb.Flush()
			log.Println("[REPLAY] Flush worker stopped")
			return
		case <-rb.kick:
			rb.Flush()
		case <-ticker.C:
			rb.Flush()
		}
	}
}

// Flush writes all pending events in one multi-row insert. On failure
// the batch is put back at the head of the queue.
func (rb *ReplayBuffer) Flush() {
	rb.mu.Lock()
	batch := rb.pending
	rb.pending = nil
	rb.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := rb.insert(batch); err != nil {
		metrics.ReplayFlushFailures.Inc()
		log.Printf("[REPLAY] Flush of %d events failed, re-queueing: %v", len(batch), err)
		rb.mu.Lock()
		rb.pending = append(batch, rb.pending...)
		rb.mu.Unlock()
		return
	}

	metrics.ReplayEventsFlushed.Add(float64(len(batch)))
}

func (rb *ReplayBuffer) insert(batch []ReplayEvent) error {
	if rb.db == nil {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO match_events (match_id, player_id, event_type, ts_ms, data) VALUES `)
	args := make([]interface{}, 0, len(batch)*5)
	for i, ev := range batch {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, ev.MatchID, ev.PlayerID, ev.EventType, ev.TsMs, ev.Data)
	}

	_, err := rb.db.Exec(sb.String(), args...)
	return err
}

// EventsForMatch reads a match's timeline back, ordered by timestamp.
func EventsForMatch(db *sqlx.DB, matchID string) ([]ReplayEvent, error) {
	var events []ReplayEvent
	err := db.Select(&events,
		`SELECT match_id, player_id, event_type, ts_ms, data FROM match_events WHERE match_id=$1 ORDER BY ts_ms ASC, id ASC`,
		matchID)
	return events, err
}
