package game

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/codeclash/backend/internal/metrics"
)

// Matchmaking keyspace. Each (difficulty, language) pair gets its own
// FIFO bucket; a sorted set scored by enqueue time keeps arrival order.
// The entry blob doubles as the player -> bucket reverse index.
const queueBucketsKey = "queue:buckets"

func queueEntryKey(playerID string) string {
	return "queue:entry:" + playerID
}

func queueBucketKey(difficulty, language string) string {
	return "queue:" + difficulty + ":" + language
}

// claimPairScript atomically removes two queued players and their entry
// blobs. Both must still be present; a concurrent claim of either member
// aborts the whole claim so nobody gets paired twice.
const claimPairScript = `
if redis.call('ZSCORE', KEYS[1], ARGV[1]) and redis.call('ZSCORE', KEYS[1], ARGV[2]) then
	redis.call('ZREM', KEYS[1], ARGV[1], ARGV[2])
	redis.call('DEL', KEYS[2], KEYS[3])
	return 1
end
return 0
`

// QueueEntry is one player waiting in a matchmaking bucket.
type QueueEntry struct {
	PlayerID   string `json:"playerId"`
	Username   string `json:"username"`
	Rating     int    `json:"rating"`
	Difficulty string `json:"difficulty"`
	Language   string `json:"language"`
	EnqueuedAt int64  `json:"enqueuedAt"` // unix ms
}

func (e *QueueEntry) bucket() string {
	return queueBucketKey(e.Difficulty, e.Language)
}

// normalizeFilter maps an absent or blank preference to the "any" bucket.
func normalizeFilter(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "any"
	}
	return v
}

// JoinQueue enqueues a player and immediately attempts pairing in their
// bucket. Duplicate joins and joins while a match is live are rejected.
func (gm *GameManager) JoinQueue(playerID, username, difficulty, language string) error {
	ctx := context.Background()

	if matchID := gm.activeMatchID(ctx, playerID); matchID != "" {
		if st, err := gm.store.Get(ctx, matchID); err == nil && st.Status != StatusCompleted {
			return Errf(CodeInvalidMatchState, "finish your current match before queueing")
		}
	}
	if gm.queueEntry(ctx, playerID) != nil {
		return Errf(CodeAlreadyInQueue, "already in the matchmaking queue")
	}

	user, err := gm.loadUser(playerID)
	if err != nil {
		log.Printf("[MATCHMAKER] Failed to load player %s: %v", playerID, err)
		return Errf(CodeExecutionFailed, "failed to join queue")
	}
	if username == "" {
		username = user.Username
	}

	entry := &QueueEntry{
		PlayerID:   playerID,
		Username:   username,
		Rating:     user.Rating,
		Difficulty: normalizeFilter(difficulty),
		Language:   normalizeFilter(language),
		EnqueuedAt: gm.cacheNowMs(ctx),
	}

	blob, _ := json.Marshal(entry)
	ttl := time.Duration(gm.config.QueueEntryTTLMinutes) * time.Minute
	if err := gm.rdb.Set(ctx, queueEntryKey(playerID), blob, ttl).Err(); err != nil {
		return Errf(CodeExecutionFailed, "failed to join queue")
	}

	bucket := entry.bucket()
	pipe := gm.rdb.Pipeline()
	pipe.ZAdd(ctx, bucket, redis.Z{Score: float64(entry.EnqueuedAt), Member: playerID})
	pipe.SAdd(ctx, queueBucketsKey, bucket)
	if _, err := pipe.Exec(ctx); err != nil {
		gm.rdb.Del(ctx, queueEntryKey(playerID))
		return Errf(CodeExecutionFailed, "failed to join queue")
	}

	log.Printf("[MATCHMAKER] Player %s (%s, rating %d) queued in %s",
		playerID, entry.Username, entry.Rating, bucket)

	pos := gm.queuePosition(ctx, entry)
	gm.sink.SendToPlayer(playerID, "queue_position", queuePositionPayload(pos, gm.config.ToleranceWidenSecs))
	metrics.QueueDepth.WithLabelValues(bucket).Inc()

	gm.tryPairBucket(ctx, bucket)
	return nil
}

// LeaveQueue removes a player from matchmaking. Safe to call when the
// player is not queued.
func (gm *GameManager) LeaveQueue(playerID string) error {
	ctx := context.Background()
	if !gm.removeFromQueue(ctx, playerID) {
		return Errf(CodeInvalidData, "not in the matchmaking queue")
	}
	gm.sink.SendToPlayer(playerID, "queue_left", map[string]interface{}{})
	log.Printf("[MATCHMAKER] Player %s left the queue", playerID)
	return nil
}

// queueEntry loads a player's queue entry, or nil when not queued.
func (gm *GameManager) queueEntry(ctx context.Context, playerID string) *QueueEntry {
	blob, err := gm.rdb.Get(ctx, queueEntryKey(playerID)).Bytes()
	if err != nil {
		return nil
	}
	var entry QueueEntry
	if err := json.Unmarshal(blob, &entry); err != nil {
		return nil
	}
	return &entry
}

// removeFromQueue drops a player's entry and bucket membership. Returns
// whether the player was queued.
func (gm *GameManager) removeFromQueue(ctx context.Context, playerID string) bool {
	entry := gm.queueEntry(ctx, playerID)
	if entry == nil {
		return false
	}
	pipe := gm.rdb.Pipeline()
	pipe.ZRem(ctx, entry.bucket(), playerID)
	pipe.Del(ctx, queueEntryKey(playerID))
	pipe.Exec(ctx)
	metrics.QueueDepth.WithLabelValues(entry.bucket()).Dec()
	return true
}

// queuePosition is the player's 1-based FIFO rank in their bucket.
func (gm *GameManager) queuePosition(ctx context.Context, entry *QueueEntry) int {
	rank, err := gm.rdb.ZRank(ctx, entry.bucket(), entry.PlayerID).Result()
	if err != nil {
		return 1
	}
	return int(rank) + 1
}

func queuePositionPayload(position, widenSecs int) map[string]interface{} {
	if position < 1 {
		position = 1
	}
	return map[string]interface{}{
		"position":      position,
		"estimatedWait": position * widenSecs,
	}
}

// ratingTolerance widens the acceptable rating gap the longer a player
// has waited, up to a hard cap.
func (gm *GameManager) ratingTolerance(waitedMs int64) int {
	widen := int64(gm.config.ToleranceWidenSecs) * 1000
	if widen <= 0 {
		widen = 10000
	}
	steps := int(waitedMs / widen)
	tol := gm.config.RatingTolerance + steps*gm.config.RatingToleranceStep
	if tol > gm.config.RatingToleranceMax {
		tol = gm.config.RatingToleranceMax
	}
	return tol
}

// tryPairBucket scans the oldest waiting players in one bucket and pairs
// the first two whose ratings fall inside the widening tolerance window.
// Repeats until no pair fits.
func (gm *GameManager) tryPairBucket(ctx context.Context, bucket string) {
	for {
		members, err := gm.rdb.ZRangeWithScores(ctx, bucket, 0, 9).Result()
		if err != nil || len(members) < 2 {
			return
		}

		entries := make([]*QueueEntry, 0, len(members))
		for _, m := range members {
			playerID, _ := m.Member.(string)
			entry := gm.queueEntry(ctx, playerID)
			if entry == nil {
				// Entry blob expired; drop the stale bucket member.
				gm.rdb.ZRem(ctx, bucket, playerID)
				metrics.QueueDepth.WithLabelValues(bucket).Dec()
				continue
			}
			entries = append(entries, entry)
		}
		if len(entries) < 2 {
			return
		}

		nowMs := gm.cacheNowMs(ctx)
		a, b := gm.findPair(entries, nowMs)
		if a == nil {
			return
		}
		if !gm.claimPair(ctx, bucket, a, b) {
			// Lost the race to another instance; rescan.
			continue
		}
		gm.createMatch(ctx, a, b, nowMs)
	}
}

// findPair returns the first FIFO-ordered pair within tolerance, using
// the longer-waiting player's window so stale entries keep widening.
func (gm *GameManager) findPair(entries []*QueueEntry, nowMs int64) (*QueueEntry, *QueueEntry) {
	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			waited := nowMs - entries[i].EnqueuedAt
			if w := nowMs - entries[j].EnqueuedAt; w > waited {
				waited = w
			}
			tol := gm.ratingTolerance(waited)
			diff := entries[i].Rating - entries[j].Rating
			if diff < 0 {
				diff = -diff
			}
			if diff <= tol {
				return entries[i], entries[j]
			}
		}
	}
	return nil, nil
}

func (gm *GameManager) claimPair(ctx context.Context, bucket string, a, b *QueueEntry) bool {
	res, err := gm.rdb.Eval(ctx, claimPairScript,
		[]string{bucket, queueEntryKey(a.PlayerID), queueEntryKey(b.PlayerID)},
		a.PlayerID, b.PlayerID).Int()
	if err != nil {
		log.Printf("[MATCHMAKER] Pair claim failed in %s: %v", bucket, err)
		return false
	}
	if res != 1 {
		return false
	}
	metrics.QueueDepth.WithLabelValues(bucket).Sub(2)
	return true
}

// pickChallenge selects a published challenge uniformly at random,
// honoring a difficulty filter when one is set.
func (gm *GameManager) pickChallenge(difficulty string) (*ChallengeSummary, error) {
	var ch ChallengeSummary
	var err error
	if difficulty == "" || difficulty == "any" {
		err = gm.db.Get(&ch, `
			SELECT id, title, difficulty, time_limit_seconds
			FROM challenges WHERE published = true
			ORDER BY RANDOM() LIMIT 1`)
	} else {
		err = gm.db.Get(&ch, `
			SELECT id, title, difficulty, time_limit_seconds
			FROM challenges WHERE published = true AND difficulty = $1
			ORDER BY RANDOM() LIMIT 1`, difficulty)
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// ChallengeSummary is the slim challenge view sent in match_found.
type ChallengeSummary struct {
	ID               string `db:"id" json:"id"`
	Title            string `db:"title" json:"title"`
	Difficulty       string `db:"difficulty" json:"difficulty"`
	TimeLimitSeconds int    `db:"time_limit_seconds" json:"timeLimit"`
}

// matchedLanguage resolves a bucket language filter to a concrete editor
// language for the match.
func matchedLanguage(filter string) string {
	if filter == "" || filter == "any" {
		return "javascript"
	}
	return filter
}

// createMatch allocates a challenge, writes the durable row, seeds the
// cache state and power-up inventories, and notifies both players.
func (gm *GameManager) createMatch(ctx context.Context, a, b *QueueEntry, nowMs int64) {
	difficulty := a.Difficulty
	if difficulty == "any" {
		difficulty = b.Difficulty
	}

	challenge, err := gm.pickChallenge(difficulty)
	if err != nil {
		log.Printf("[MATCHMAKER] No published challenge for difficulty %q: %v", difficulty, err)
		gm.requeue(ctx, a, b)
		return
	}

	matchID := uuid.New().String()
	lang1 := matchedLanguage(a.Language)
	lang2 := matchedLanguage(b.Language)

	_, err = gm.db.Exec(`
		INSERT INTO matches (id, challenge_id, player1_id, player2_id, status, player1_language, player2_language)
		VALUES ($1, $2, $3, $4, 'lobby', $5, $6)`,
		matchID, challenge.ID, a.PlayerID, b.PlayerID, lang1, lang2)
	if err != nil {
		log.Printf("[MATCHMAKER] Failed to create match row: %v", err)
		gm.requeue(ctx, a, b)
		return
	}

	st := &MatchState{
		MatchID:          matchID,
		ChallengeID:      challenge.ID,
		Status:           StatusLobby,
		TimeLimitSeconds: challenge.TimeLimitSeconds,
		Player1ID:        a.PlayerID,
		Player1Username:  a.Username,
		Player1Rating:    a.Rating,
		Player1Language:  lang1,
		Player2ID:        b.PlayerID,
		Player2Username:  b.Username,
		Player2Rating:    b.Rating,
		Player2Language:  lang2,
	}
	if err := gm.store.Create(ctx, st); err != nil {
		log.Printf("[MATCHMAKER] Failed to seed match state %s: %v", matchID, err)
	}
	gm.initPowerUps(ctx, matchID, a.PlayerID, b.PlayerID)
	gm.setPlayerMatch(ctx, a.PlayerID, matchID)
	gm.setPlayerMatch(ctx, b.PlayerID, matchID)

	metrics.MatchesCreated.Inc()
	metrics.PairingWait.Observe(float64(nowMs-a.EnqueuedAt) / 1000)
	metrics.PairingWait.Observe(float64(nowMs-b.EnqueuedAt) / 1000)

	log.Printf("[MATCHMAKER] Match %s created: %s (%d) vs %s (%d) on %q",
		matchID, a.Username, a.Rating, b.Username, b.Rating, challenge.Title)

	gm.sink.SendToPlayer(a.PlayerID, "match_found", matchFoundPayload(matchID, b, challenge))
	gm.sink.SendToPlayer(b.PlayerID, "match_found", matchFoundPayload(matchID, a, challenge))
}

func matchFoundPayload(matchID string, opponent *QueueEntry, challenge *ChallengeSummary) map[string]interface{} {
	return map[string]interface{}{
		"matchId": matchID,
		"opponent": map[string]interface{}{
			"id":       opponent.PlayerID,
			"username": opponent.Username,
			"rating":   opponent.Rating,
		},
		"challenge": challenge,
	}
}

// requeue puts a claimed pair back after a downstream failure so they do
// not silently vanish from matchmaking.
func (gm *GameManager) requeue(ctx context.Context, entries ...*QueueEntry) {
	ttl := time.Duration(gm.config.QueueEntryTTLMinutes) * time.Minute
	for _, e := range entries {
		blob, _ := json.Marshal(e)
		gm.rdb.Set(ctx, queueEntryKey(e.PlayerID), blob, ttl)
		gm.rdb.ZAdd(ctx, e.bucket(), redis.Z{Score: float64(e.EnqueuedAt), Member: e.PlayerID})
		metrics.QueueDepth.WithLabelValues(e.bucket()).Inc()
	}
}

// runQueueFeedback periodically re-attempts pairing in every known
// bucket (tolerance windows widen with time, so pairs form without new
// arrivals) and pushes queue_position updates to waiting players.
func (gm *GameManager) runQueueFeedback(ctx context.Context) {
	interval := time.Duration(gm.config.QueueFeedbackSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[MATCHMAKER] Queue feedback worker started (every %v)", interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("[MATCHMAKER] Queue feedback worker stopped")
			return
		case <-ticker.C:
			gm.sweepQueues(ctx)
		}
	}
}

func (gm *GameManager) sweepQueues(ctx context.Context) {
	buckets, err := gm.rdb.SMembers(ctx, queueBucketsKey).Result()
	if err != nil {
		return
	}
	for _, bucket := range buckets {
		gm.tryPairBucket(ctx, bucket)

		members, err := gm.rdb.ZRange(ctx, bucket, 0, -1).Result()
		if err != nil {
			continue
		}
		if len(members) == 0 {
			gm.rdb.SRem(ctx, queueBucketsKey, bucket)
			metrics.QueueDepth.WithLabelValues(bucket).Set(0)
			continue
		}
		metrics.QueueDepth.WithLabelValues(bucket).Set(float64(len(members)))
		for i, playerID := range members {
			if gm.sink.IsConnected(playerID) {
				gm.sink.SendToPlayer(playerID, "queue_position",
					queuePositionPayload(i+1, gm.config.ToleranceWidenSecs))
			}
		}
	}
}
