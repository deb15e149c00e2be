package game

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/codeclash/backend/internal/config"
	"github.com/codeclash/backend/internal/judge"
	"github.com/codeclash/backend/internal/models"
)

// EventSink delivers events to connected clients. The websocket hub
// implements it; tests substitute in-memory fakes.
type EventSink interface {
	SendToPlayer(playerID, event string, payload interface{})
	Broadcast(room, event string, payload interface{})
	BroadcastExceptPlayer(room, exceptPlayerID, event string, payload interface{})
	JoinPlayerToRoom(playerID, room string)
	RemovePlayerFromRoom(playerID, room string)
	IsConnected(playerID string) bool
}

// Judger runs code against test cases and produces match verdicts.
// Satisfied by *judge.Pipeline.
type Judger interface {
	JudgeMatch(ctx context.Context, req judge.MatchRequest) *judge.Verdict
	RunTests(ctx context.Context, code, language string, tests []judge.TestCase) (*judge.RunReport, error)
}

// HintGenerator produces coaching hints for a player's current code.
// Satisfied by *ai.Client.
type HintGenerator interface {
	GenerateHint(ctx context.Context, challengeTitle, challengeDescription, currentCode, language string, hintLevel int) (string, error)
}

// SolutionGenerator produces a reference solution for a challenge, used
// to synthesize ghost opponents. Satisfied by *ai.Client.
type SolutionGenerator interface {
	GenerateSolution(ctx context.Context, challengeTitle, challengeDescription, language string) (string, error)
}

// GameManager coordinates matchmaking, live matches, judging, hints and
// ghost races. One instance per process; all shared state lives in Redis
// so any instance can serve any player.
type GameManager struct {
	db        *sqlx.DB
	rdb       *redis.Client
	config    *config.Config
	store     *StateStore
	replay    *ReplayBuffer
	judger    Judger
	hints     HintGenerator
	solutions SolutionGenerator
	sink      EventSink

	mu     sync.Mutex
	clocks map[string]*matchClock // match ID -> running match clock
	races  map[string]*ghostRace  // race ID -> ghost playback

	workerCtx    context.Context
	workerCancel context.CancelFunc
}

// Manager is the global game manager instance
var Manager *GameManager

// NewGameManager creates a new game manager
func NewGameManager(db *sqlx.DB, rdb *redis.Client, cfg *config.Config, judger Judger, hints HintGenerator, solutions SolutionGenerator) *GameManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &GameManager{
		db:           db,
		rdb:          rdb,
		config:       cfg,
		store:        NewStateStore(rdb, time.Duration(cfg.MatchStateTTLMinutes)*time.Minute),
		replay:       NewReplayBuffer(db, cfg.ReplayBatchSize, time.Duration(cfg.ReplayFlushSecs)*time.Second),
		judger:       judger,
		hints:        hints,
		solutions:    solutions,
		sink:         noopSink{},
		clocks:       make(map[string]*matchClock),
		races:        make(map[string]*ghostRace),
		workerCtx:    ctx,
		workerCancel: cancel,
	}
}

// InitializeManager creates the global manager and starts its background
// workers: replay flushing, queue feedback and the disconnect grace sweep.
func InitializeManager(db *sqlx.DB, rdb *redis.Client, cfg *config.Config, judger Judger, hints HintGenerator, solutions SolutionGenerator) {
	Manager = NewGameManager(db, rdb, cfg, judger, hints, solutions)
	go Manager.replay.Run(Manager.workerCtx)
	go Manager.runQueueFeedback(Manager.workerCtx)
	go Manager.runGraceSweep(Manager.workerCtx)
	log.Println("[GAME] Manager initialized")
}

// SetSink wires the event sink once the websocket hub exists.
func (gm *GameManager) SetSink(sink EventSink) {
	gm.sink = sink
}

// Shutdown stops background workers and flushes buffered replay events.
func (gm *GameManager) Shutdown() {
	gm.workerCancel()
	gm.replay.Flush()
}

// noopSink drops all events. It stands in until SetSink is called so the
// manager never has to nil-check its sink.
type noopSink struct{}

func (noopSink) SendToPlayer(string, string, interface{})             {}
func (noopSink) Broadcast(string, string, interface{})                {}
func (noopSink) BroadcastExceptPlayer(string, string, string, interface{}) {}
func (noopSink) JoinPlayerToRoom(string, string)                      {}
func (noopSink) RemovePlayerFromRoom(string, string)                  {}
func (noopSink) IsConnected(string) bool                              { return false }

// cacheNowMs reads the cache server's clock so deadlines and cooldowns
// agree across instances. Falls back to local time if the call fails.
func (gm *GameManager) cacheNowMs(ctx context.Context) int64 {
	if t, err := gm.rdb.Time(ctx).Result(); err == nil {
		return t.UnixMilli()
	}
	return time.Now().UnixMilli()
}

func playerMatchKey(playerID string) string {
	return "player:match:" + playerID
}

func (gm *GameManager) setPlayerMatch(ctx context.Context, playerID, matchID string) {
	ttl := time.Duration(gm.config.MatchStateTTLMinutes) * time.Minute
	if err := gm.rdb.Set(ctx, playerMatchKey(playerID), matchID, ttl).Err(); err != nil {
		log.Printf("[GAME] Failed to index player %s -> match %s: %v", playerID, matchID, err)
	}
}

// activeMatchID returns the match a player is currently bound to, or "".
func (gm *GameManager) activeMatchID(ctx context.Context, playerID string) string {
	matchID, err := gm.rdb.Get(ctx, playerMatchKey(playerID)).Result()
	if err != nil {
		return ""
	}
	return matchID
}

func (gm *GameManager) clearPlayerMatch(ctx context.Context, playerIDs ...string) {
	for _, id := range playerIDs {
		gm.rdb.Del(ctx, playerMatchKey(id))
	}
}

// loadUser fetches a player's account row.
func (gm *GameManager) loadUser(playerID string) (*models.User, error) {
	var u models.User
	err := gm.db.Get(&u, `
		SELECT id, username, rating, wins, losses, total_matches, created_at
		FROM users WHERE id = $1`, playerID)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// loadChallengeBundle fetches a challenge and its test cases in ordinal order.
func (gm *GameManager) loadChallengeBundle(challengeID string) (*models.Challenge, []models.TestCase, error) {
	var ch models.Challenge
	err := gm.db.Get(&ch, `
		SELECT id, title, description, difficulty, time_limit_seconds, starter_code, published, created_at
		FROM challenges WHERE id = $1`, challengeID)
	if err != nil {
		return nil, nil, err
	}
	var tests []models.TestCase
	err = gm.db.Select(&tests, `
		SELECT id, challenge_id, ordinal, input, expected_output, hidden, weight
		FROM test_cases WHERE challenge_id = $1 ORDER BY ordinal`, challengeID)
	if err != nil {
		return nil, nil, err
	}
	return &ch, tests, nil
}

// judgeTests converts stored test cases into the judging pipeline's shape.
func judgeTests(tests []models.TestCase) []judge.TestCase {
	out := make([]judge.TestCase, 0, len(tests))
	for _, tc := range tests {
		out = append(out, judge.TestCase{
			Ordinal:  tc.Ordinal,
			Input:    string(tc.Input),
			Expected: string(tc.ExpectedOutput),
			Hidden:   tc.Hidden,
			Weight:   float64(tc.Weight),
		})
	}
	return out
}

// visibleTests filters out hidden cases for client-triggered runs.
func visibleTests(tests []models.TestCase) []judge.TestCase {
	out := make([]judge.TestCase, 0, len(tests))
	for _, tc := range judgeTests(tests) {
		if !tc.Hidden {
			out = append(out, tc)
		}
	}
	return out
}

// matchSnapshot builds the client-facing view of a match. Participants
// (slot 1 or 2) see their own power-up and hint state; spectators see
// both editors and the shared clock.
func (gm *GameManager) matchSnapshot(ctx context.Context, st *MatchState, playerID string) map[string]interface{} {
	nowMs := gm.cacheNowMs(ctx)
	slot := st.PlayerSlot(playerID)

	snap := map[string]interface{}{
		"matchId":     st.MatchID,
		"challengeId": st.ChallengeID,
		"status":      string(st.Status),
		"timeLimit":   st.TimeLimitSeconds,
		"players": []map[string]interface{}{
			{
				"id":        st.Player1ID,
				"username":  st.Player1Username,
				"rating":    st.Player1Rating,
				"language":  st.Player1Language,
				"ready":     st.Player1Ready,
				"submitted": st.Player1Submitted,
			},
			{
				"id":        st.Player2ID,
				"username":  st.Player2Username,
				"rating":    st.Player2Rating,
				"language":  st.Player2Language,
				"ready":     st.Player2Ready,
				"submitted": st.Player2Submitted,
			},
		},
	}

	if st.Status == StatusLobby && st.CountdownEndsAt > 0 {
		remaining := st.CountdownEndsAt - nowMs
		if remaining < 0 {
			remaining = 0
		}
		snap["countdownRemaining"] = remaining
	}

	if st.Status == StatusActive {
		snap["startedAt"] = st.StartedAt
		snap["remaining"] = st.RemainingMs(slot, nowMs)
		if slot != 0 {
			snap["yourCode"] = st.CodeFor(slot)
			snap["opponentCode"] = st.CodeFor(3 - slot)
			ps := gm.powerUpState(ctx, st.MatchID, playerID)
			snap["powerUps"] = map[string]interface{}{
				"inventory":     ps.Inventory,
				"cooldownUntil": ps.CooldownUntil,
				"activeEffect":  ps.ActiveEffect,
			}
			snap["hintsUsed"] = gm.hintsUsed(ctx, st.MatchID, playerID)
		} else {
			snap["player1Code"] = st.Player1Code
			snap["player2Code"] = st.Player2Code
		}
	}

	return snap
}

// JoinLobby puts a match participant into the match room and replays the
// lobby snapshot. The opponent is told the player arrived.
func (gm *GameManager) JoinLobby(playerID, matchID string) error {
	ctx := context.Background()
	st, err := gm.store.Get(ctx, matchID)
	if err == ErrStateNotFound {
		return Errf(CodeMatchNotFound, "match %s not found", matchID)
	}
	if err != nil {
		return err
	}
	slot := st.PlayerSlot(playerID)
	if slot == 0 {
		return Errf(CodeUnauthorized, "you are not a player in this match")
	}

	gm.sink.JoinPlayerToRoom(playerID, MatchRoom(matchID))
	gm.setPlayerMatch(ctx, playerID, matchID)
	gm.sink.SendToPlayer(playerID, "lobby_state", gm.matchSnapshot(ctx, st, playerID))

	username, rating := st.Player1Username, st.Player1Rating
	if slot == 2 {
		username, rating = st.Player2Username, st.Player2Rating
	}
	gm.sink.SendToPlayer(st.OpponentID(playerID), "opponent_joined", map[string]interface{}{
		"id":       playerID,
		"username": username,
		"rating":   rating,
	})

	log.Printf("[GAME] Player %s joined lobby for match %s", playerID, matchID)
	return nil
}

// JoinSpectate subscribes any authenticated user to a match's spectator
// room and sends the current state. Spectators never see power-up or hint
// internals, only the editors and the clock.
func (gm *GameManager) JoinSpectate(playerID, username, matchID string) error {
	ctx := context.Background()
	st, err := gm.store.Get(ctx, matchID)
	if err == ErrStateNotFound {
		return Errf(CodeMatchNotFound, "match %s not found", matchID)
	}
	if err != nil {
		return err
	}
	if st.PlayerSlot(playerID) != 0 {
		return Errf(CodeUnauthorized, "players cannot spectate their own match")
	}

	room := SpectatorRoom(matchID)
	gm.sink.JoinPlayerToRoom(playerID, room)
	gm.sink.SendToPlayer(playerID, "spectate_state", gm.matchSnapshot(ctx, st, playerID))
	gm.sink.BroadcastExceptPlayer(room, playerID, "spectator_joined", map[string]interface{}{
		"username": username,
	})

	log.Printf("[GAME] %s spectating match %s", username, matchID)
	return nil
}

// LeaveSpectate drops a spectator from a match's spectator room.
func (gm *GameManager) LeaveSpectate(playerID, matchID string) {
	gm.sink.RemovePlayerFromRoom(playerID, SpectatorRoom(matchID))
}

// HandleReconnect restores a returning player's context: match room
// membership and a full snapshot when a match is live, else their ghost
// race, else their queue position. Called by the hub after a rebind.
func (gm *GameManager) HandleReconnect(playerID string) {
	ctx := context.Background()

	if matchID := gm.activeMatchID(ctx, playerID); matchID != "" {
		st, err := gm.store.Get(ctx, matchID)
		if err == nil && st.Status != StatusCompleted && st.PlayerSlot(playerID) != 0 {
			gm.sink.JoinPlayerToRoom(playerID, MatchRoom(matchID))
			gm.sink.SendToPlayer(playerID, "reconnected", map[string]interface{}{
				"matchState": gm.matchSnapshot(ctx, st, playerID),
			})
			log.Printf("[GAME] Player %s reconnected to match %s", playerID, matchID)
			return
		}
	}

	if gm.rejoinRace(ctx, playerID) {
		return
	}

	if entry := gm.queueEntry(ctx, playerID); entry != nil {
		pos := gm.queuePosition(ctx, entry)
		gm.sink.SendToPlayer(playerID, "queue_position", queuePositionPayload(pos, gm.config.ToleranceWidenSecs))
		log.Printf("[GAME] Player %s reconnected to queue (position %d)", playerID, pos)
	}
}

// handleDisconnectExpired runs once a disconnect outlives the grace
// window with no rebind. Queued players are removed and ghost races are
// abandoned; live matches are left alone because the server clock
// finishes them regardless of who is connected.
func (gm *GameManager) handleDisconnectExpired(playerID string) {
	ctx := context.Background()
	if gm.removeFromQueue(ctx, playerID) {
		log.Printf("[GRACE] Removed disconnected player %s from matchmaking queue", playerID)
	}
	gm.abandonRaceForPlayer(ctx, playerID)
}
