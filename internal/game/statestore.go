package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStateNotFound is returned when a match has no live state in Redis.
var ErrStateNotFound = errors.New("match state not found")

// StateStore keeps live match state in a Redis hash, one hash per match.
// Field-level writes let both players' connections mutate concurrently
// without read-modify-write races on the whole record.
type StateStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStateStore creates a store whose hashes expire after ttl.
func NewStateStore(rdb *redis.Client, ttl time.Duration) *StateStore {
	return &StateStore{rdb: rdb, ttl: ttl}
}

func stateKey(matchID string) string {
	return "match:" + matchID + ":state"
}

// pfield maps a player slot (1 or 2) to its hash field name.
func pfield(slot int, suffix string) string {
	if slot == 1 {
		return "p1_" + suffix
	}
	return "p2_" + suffix
}

// Create writes the full initial hash for a fresh match and arms the TTL.
func (s *StateStore) Create(ctx context.Context, st *MatchState) error {
	p1Cursor, _ := json.Marshal(st.Player1Cursor)
	p2Cursor, _ := json.Marshal(st.Player2Cursor)

	fields := map[string]interface{}{
		"match_id":           st.MatchID,
		"challenge_id":       st.ChallengeID,
		"status":             string(st.Status),
		"p1_id":              st.Player1ID,
		"p2_id":              st.Player2ID,
		"p1_username":        st.Player1Username,
		"p2_username":        st.Player2Username,
		"p1_rating":          st.Player1Rating,
		"p2_rating":          st.Player2Rating,
		"p1_language":        st.Player1Language,
		"p2_language":        st.Player2Language,
		"p1_code":            st.Player1Code,
		"p2_code":            st.Player2Code,
		"p1_cursor":          string(p1Cursor),
		"p2_cursor":          string(p2Cursor),
		"p1_ready":           boolField(st.Player1Ready),
		"p2_ready":           boolField(st.Player2Ready),
		"p1_submitted":       boolField(st.Player1Submitted),
		"p2_submitted":       boolField(st.Player2Submitted),
		"started_at":         st.StartedAt,
		"countdown_ends_at":  st.CountdownEndsAt,
		"time_limit_seconds": st.TimeLimitSeconds,
		"p1_extra_ms":        st.Player1ExtraMs,
		"p2_extra_ms":        st.Player2ExtraMs,
	}

	key := stateKey(st.MatchID)
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, s.ttl).Err()
}

// Get loads and parses the full hash. Returns ErrStateNotFound when the
// match never existed or its state already expired.
func (s *StateStore) Get(ctx context.Context, matchID string) (*MatchState, error) {
	data, err := s.rdb.HGetAll(ctx, stateKey(matchID)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrStateNotFound
	}
	return parseMatchState(data), nil
}

// parseMatchState reconstructs state from hash fields with safe parsing;
// missing or malformed fields fall back to zero values.
func parseMatchState(data map[string]string) *MatchState {
	st := &MatchState{
		MatchID:         data["match_id"],
		ChallengeID:     data["challenge_id"],
		Status:          MatchStatus(data["status"]),
		Player1ID:       data["p1_id"],
		Player2ID:       data["p2_id"],
		Player1Username: data["p1_username"],
		Player2Username: data["p2_username"],
		Player1Language: data["p1_language"],
		Player2Language: data["p2_language"],
		Player1Code:     data["p1_code"],
		Player2Code:     data["p2_code"],
	}

	st.Player1Rating, _ = strconv.Atoi(data["p1_rating"])
	st.Player2Rating, _ = strconv.Atoi(data["p2_rating"])
	st.TimeLimitSeconds, _ = strconv.Atoi(data["time_limit_seconds"])
	st.StartedAt, _ = strconv.ParseInt(data["started_at"], 10, 64)
	st.CountdownEndsAt, _ = strconv.ParseInt(data["countdown_ends_at"], 10, 64)
	st.Player1ExtraMs, _ = strconv.ParseInt(data["p1_extra_ms"], 10, 64)
	st.Player2ExtraMs, _ = strconv.ParseInt(data["p2_extra_ms"], 10, 64)

	st.Player1Ready = data["p1_ready"] == "1"
	st.Player2Ready = data["p2_ready"] == "1"
	st.Player1Submitted = data["p1_submitted"] == "1"
	st.Player2Submitted = data["p2_submitted"] == "1"

	if raw := data["p1_cursor"]; raw != "" {
		json.Unmarshal([]byte(raw), &st.Player1Cursor)
	}
	if raw := data["p2_cursor"]; raw != "" {
		json.Unmarshal([]byte(raw), &st.Player2Cursor)
	}

	return st
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// SetCode stores a player's latest code snapshot and cursor.
func (s *StateStore) SetCode(ctx context.Context, matchID string, slot int, code string, cursor Cursor) error {
	raw, _ := json.Marshal(cursor)
	return s.rdb.HSet(ctx, stateKey(matchID),
		pfield(slot, "code"), code,
		pfield(slot, "cursor"), string(raw),
	).Err()
}

// SetCursor moves a player's cursor without touching the code snapshot.
func (s *StateStore) SetCursor(ctx context.Context, matchID string, slot int, cursor Cursor) error {
	raw, _ := json.Marshal(cursor)
	return s.rdb.HSet(ctx, stateKey(matchID), pfield(slot, "cursor"), string(raw)).Err()
}

// SetReady flags a player ready and reports whether both players now are.
// Double-fire under a tie is tolerated; the countdown claim makes the
// transition exactly-once.
func (s *StateStore) SetReady(ctx context.Context, matchID string, slot int) (bothReady bool, err error) {
	key := stateKey(matchID)
	if err := s.rdb.HSet(ctx, key, pfield(slot, "ready"), "1").Err(); err != nil {
		return false, err
	}
	vals, err := s.rdb.HMGet(ctx, key, "p1_ready", "p2_ready").Result()
	if err != nil {
		return false, err
	}
	return flagSet(vals[0]) && flagSet(vals[1]), nil
}

// MarkSubmitted flags a player's final submission and reports whether both
// players have now submitted. The completion claim deduplicates the race
// where both callers observe bothSubmitted=true.
func (s *StateStore) MarkSubmitted(ctx context.Context, matchID string, slot int) (bothSubmitted bool, err error) {
	key := stateKey(matchID)
	if err := s.rdb.HSet(ctx, key, pfield(slot, "submitted"), "1").Err(); err != nil {
		return false, err
	}
	vals, err := s.rdb.HMGet(ctx, key, "p1_submitted", "p2_submitted").Result()
	if err != nil {
		return false, err
	}
	return flagSet(vals[0]) && flagSet(vals[1]), nil
}

func flagSet(v interface{}) bool {
	s, ok := v.(string)
	return ok && s == "1"
}

// HasSubmitted reads a single player's submission flag.
func (s *StateStore) HasSubmitted(ctx context.Context, matchID string, slot int) (bool, error) {
	v, err := s.rdb.HGet(ctx, stateKey(matchID), pfield(slot, "submitted")).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// SetStatus updates the lifecycle field.
func (s *StateStore) SetStatus(ctx context.Context, matchID string, status MatchStatus) error {
	return s.rdb.HSet(ctx, stateKey(matchID), "status", string(status)).Err()
}

// SetCountdownEndsAt records the countdown deadline (unix ms) so late
// joiners and reconnects can re-derive the remaining time.
func (s *StateStore) SetCountdownEndsAt(ctx context.Context, matchID string, endsAt int64) error {
	return s.rdb.HSet(ctx, stateKey(matchID), "countdown_ends_at", endsAt).Err()
}

// SetStartedAt records the authoritative match start (unix ms) together
// with the status flip to active.
func (s *StateStore) SetStartedAt(ctx context.Context, matchID string, startedAt int64) error {
	return s.rdb.HSet(ctx, stateKey(matchID),
		"status", string(StatusActive),
		"started_at", startedAt,
	).Err()
}

// AddExtraTimeMs credits a player's clock, used by time freeze. HIncrBy
// keeps concurrent credits atomic.
func (s *StateStore) AddExtraTimeMs(ctx context.Context, matchID string, slot int, ms int64) error {
	return s.rdb.HIncrBy(ctx, stateKey(matchID), pfield(slot, "extra_ms"), ms).Err()
}

// ClaimCountdown is an exactly-once gate for starting the lobby countdown.
// Only the first caller per match gets true.
func (s *StateStore) ClaimCountdown(ctx context.Context, matchID string) (bool, error) {
	return s.rdb.SetNX(ctx, "match:"+matchID+":countdown_claim", "1", s.ttl).Result()
}

// ClaimCompletion is an exactly-once gate for running the completion
// pipeline (judging, persistence, ratings).
func (s *StateStore) ClaimCompletion(ctx context.Context, matchID string) (bool, error) {
	return s.rdb.SetNX(ctx, "match:"+matchID+":completion_claim", "1", s.ttl).Result()
}

// ReleaseCompletion hands the completion claim back after a failure
// before anything was judged or persisted, so a later trigger can
// finish the match instead of it sticking in active forever.
func (s *StateStore) ReleaseCompletion(ctx context.Context, matchID string) {
	// Best effort; the claim TTL still bounds how long a stuck match waits.
	s.rdb.Del(ctx, "match:"+matchID+":completion_claim")
}

// ExpireSoon shortens the TTL on everything keyed to a finished match so
// late spectators can still read the result before it evaporates.
func (s *StateStore) ExpireSoon(ctx context.Context, matchID string, after time.Duration) {
	keys := []string{
		stateKey(matchID),
		"match:" + matchID + ":countdown_claim",
		"match:" + matchID + ":completion_claim",
	}
	for _, k := range keys {
		s.rdb.Expire(ctx, k, after)
	}
}

// GetJSON loads an arbitrary JSON value (power-up, hint, race records).
// found=false means the key does not exist.
func (s *StateStore) GetJSON(ctx context.Context, key string, dest interface{}) (found bool, err error) {
	raw, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores an arbitrary JSON value with the store TTL.
func (s *StateStore) SetJSON(ctx context.Context, key string, val interface{}) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, raw, s.ttl).Err()
}
