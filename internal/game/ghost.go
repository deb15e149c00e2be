package game

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"

	"github.com/codeclash/backend/internal/judge"
	"github.com/codeclash/backend/internal/metrics"
	"github.com/codeclash/backend/internal/models"
)

// GhostEvent is one step of a recorded timeline, relative to its start.
type GhostEvent struct {
	EventType string         `json:"eventType"`
	TsMs      int64          `json:"tsMs"`
	Data      types.JSONText `json:"data"`
}

// ghostRace is the per-instance playback goroutine handle.
type ghostRace struct {
	raceID string
	cancel context.CancelFunc
}

func raceKey(raceID string) string {
	return "race:" + raceID
}

func playerRaceKey(playerID string) string {
	return "player:race:" + playerID
}

// saveWinnerGhost persists the winner's timeline as a playable recording.
// Called after the replay buffer flushed, so the durable timeline is
// complete.
func (gm *GameManager) saveWinnerGhost(ctx context.Context, st *MatchState, verdict *judge.Verdict) {
	if verdict.WinnerID == "" {
		return
	}
	username, score := st.Player1Username, 0.0
	if verdict.Player1 != nil && verdict.WinnerID == st.Player1ID {
		score = verdict.Player1.Final
	}
	if verdict.WinnerID == st.Player2ID {
		username = st.Player2Username
		if verdict.Player2 != nil {
			score = verdict.Player2.Final
		}
	}

	events, err := EventsForMatch(gm.db, st.MatchID)
	if err != nil {
		log.Printf("[GHOST] Failed to load timeline for match %s: %v", st.MatchID, err)
		return
	}
	timeline := make([]GhostEvent, 0, len(events))
	for _, ev := range events {
		if ev.PlayerID != verdict.WinnerID {
			continue
		}
		timeline = append(timeline, GhostEvent{EventType: ev.EventType, TsMs: ev.TsMs, Data: ev.Data})
	}
	if len(timeline) == 0 {
		return
	}

	blob, err := json.Marshal(timeline)
	if err != nil {
		return
	}
	_, err = gm.db.Exec(`
		INSERT INTO ghost_recordings (id, challenge_id, owner_id, username, score, duration_ms, is_ai, events)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7)`,
		uuid.New().String(), st.ChallengeID, verdict.WinnerID, username, score, verdict.DurationMs, types.JSONText(blob))
	if err != nil {
		log.Printf("[GHOST] Failed to save recording for match %s: %v", st.MatchID, err)
		return
	}
	log.Printf("[GHOST] Saved recording of %s (score %.1f) for challenge %s", username, score, st.ChallengeID)
}

// loadGhost picks the recording to race: an explicit id, else the best
// human recording for the challenge, else an AI-synthesized one.
func (gm *GameManager) loadGhost(ctx context.Context, challengeID, ghostID string) (*models.GhostRecording, error) {
	var rec models.GhostRecording
	if ghostID != "" {
		if err := gm.db.Get(&rec, `
			SELECT id, challenge_id, owner_id, username, score, duration_ms, is_ai, events, created_at
			FROM ghost_recordings WHERE id = $1`, ghostID); err != nil {
			return nil, Errf(CodeRaceNotFound, "ghost recording %s not found", ghostID)
		}
		return &rec, nil
	}

	err := gm.db.Get(&rec, `
		SELECT id, challenge_id, owner_id, username, score, duration_ms, is_ai, events, created_at
		FROM ghost_recordings WHERE challenge_id = $1
		ORDER BY score DESC, created_at ASC LIMIT 1`, challengeID)
	if err == nil {
		return &rec, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}
	return gm.synthesizeAIGhost(ctx, challengeID)
}

// synthesizeAIGhost builds a ghost from a reference solution when nobody
// has raced the challenge yet. The generated timeline types the solution
// out in bursts, like a quick human would.
func (gm *GameManager) synthesizeAIGhost(ctx context.Context, challengeID string) (*models.GhostRecording, error) {
	challenge, _, err := gm.loadChallengeBundle(challengeID)
	if err != nil {
		return nil, Errf(CodeMatchNotFound, "challenge %s not found", challengeID)
	}

	language := "javascript"
	solution := ""
	if gm.solutions != nil {
		aiCtx, cancel := context.WithTimeout(ctx, time.Duration(gm.config.AITimeoutSecs)*time.Second)
		solution, err = gm.solutions.GenerateSolution(aiCtx, challenge.Title, challenge.Description, language)
		cancel()
		if err != nil {
			log.Printf("[GHOST] AI solution for challenge %s failed: %v", challengeID, err)
			solution = ""
		}
	}
	if solution == "" {
		solution = starterCodeFor(challenge, language)
	}
	if solution == "" {
		return nil, Errf(CodeRaceNotFound, "no ghost available for this challenge")
	}

	timeline, durationMs := synthesizeGhostEvents(solution, language)
	blob, err := json.Marshal(timeline)
	if err != nil {
		return nil, err
	}

	rec := &models.GhostRecording{
		ID:          uuid.New().String(),
		ChallengeID: challengeID,
		Username:    "AI Ghost",
		Score:       aiGhostScore,
		DurationMs:  durationMs,
		IsAI:        true,
		Events:      types.JSONText(blob),
	}
	_, err = gm.db.Exec(`
		INSERT INTO ghost_recordings (id, challenge_id, owner_id, username, score, duration_ms, is_ai, events)
		VALUES ($1, $2, NULL, $3, $4, $5, true, $6)`,
		rec.ID, rec.ChallengeID, rec.Username, rec.Score, rec.DurationMs, rec.Events)
	if err != nil {
		log.Printf("[GHOST] Failed to save AI ghost for challenge %s: %v", challengeID, err)
	}
	log.Printf("[GHOST] Synthesized AI ghost for challenge %s (%d events)", challengeID, len(timeline))
	return rec, nil
}

// aiGhostScore is a solid-but-beatable target for synthesized ghosts.
const aiGhostScore = 750.0

// synthesizeGhostEvents turns a solution into growing code_update
// snapshots ending in a submission, paced at a plausible typing rhythm.
func synthesizeGhostEvents(solution, language string) ([]GhostEvent, int64) {
	const chunkSize = 40
	const chunkIntervalMs = 900

	events := make([]GhostEvent, 0, len(solution)/chunkSize+2)
	ts := int64(chunkIntervalMs)
	for i := chunkSize; i < len(solution); i += chunkSize {
		snapshot := solution[:i]
		line := strings.Count(snapshot, "\n")
		data, _ := json.Marshal(map[string]interface{}{
			"code":   snapshot,
			"cursor": Cursor{Line: line, Column: i - strings.LastIndex(snapshot, "\n") - 1},
		})
		events = append(events, GhostEvent{EventType: EventCodeUpdate, TsMs: ts, Data: data})
		ts += chunkIntervalMs
	}

	full, _ := json.Marshal(map[string]interface{}{
		"code":   solution,
		"cursor": Cursor{Line: strings.Count(solution, "\n"), Column: 0},
	})
	events = append(events, GhostEvent{EventType: EventCodeUpdate, TsMs: ts, Data: full})
	ts += chunkIntervalMs

	sub, _ := json.Marshal(map[string]interface{}{"code": solution, "language": language})
	events = append(events, GhostEvent{EventType: EventSubmission, TsMs: ts, Data: sub})
	return events, ts
}

// starterCodeFor extracts a language's starter snippet from the
// challenge's per-language map.
func starterCodeFor(ch *models.Challenge, language string) string {
	if len(ch.StarterCode) == 0 {
		return ""
	}
	var byLang map[string]string
	if err := json.Unmarshal(ch.StarterCode, &byLang); err != nil {
		return ""
	}
	return byLang[language]
}

// JoinGhostRace starts a race against a recording. A player can run only
// one race at a time; joining again abandons the previous one.
func (gm *GameManager) JoinGhostRace(playerID, username, challengeID, ghostID string) error {
	ctx := context.Background()

	if matchID := gm.activeMatchID(ctx, playerID); matchID != "" {
		if st, err := gm.store.Get(ctx, matchID); err == nil && st.Status != StatusCompleted {
			return Errf(CodeInvalidMatchState, "finish your current match before ghost racing")
		}
	}
	gm.abandonRaceForPlayer(ctx, playerID)

	rec, err := gm.loadGhost(ctx, challengeID, ghostID)
	if err != nil {
		if ge, ok := err.(*Error); ok {
			return ge
		}
		return err
	}

	challenge, _, err := gm.loadChallengeBundle(rec.ChallengeID)
	if err != nil {
		return Errf(CodeMatchNotFound, "challenge %s not found", rec.ChallengeID)
	}

	var timeline []GhostEvent
	if err := json.Unmarshal(rec.Events, &timeline); err != nil {
		return Errf(CodeRaceNotFound, "ghost recording is not playable")
	}

	race := &RaceState{
		RaceID:      uuid.New().String(),
		PlayerID:    playerID,
		Username:    username,
		GhostID:     rec.ID,
		ChallengeID: rec.ChallengeID,
		Status:      RaceActive,
		StartedAt:   gm.cacheNowMs(ctx),
		GhostScore:  rec.Score,
	}
	if err := gm.store.SetJSON(ctx, raceKey(race.RaceID), race); err != nil {
		return Errf(CodeExecutionFailed, "failed to start race")
	}
	ttl := time.Duration(gm.config.MatchStateTTLMinutes) * time.Minute
	gm.rdb.Set(ctx, playerRaceKey(playerID), race.RaceID, ttl)

	gm.sink.JoinPlayerToRoom(playerID, GhostRoom(race.RaceID))
	gm.sink.SendToPlayer(playerID, "ghost_race_joined", map[string]interface{}{
		"raceId": race.RaceID,
		"ghost": map[string]interface{}{
			"id":         rec.ID,
			"username":   rec.Username,
			"score":      rec.Score,
			"durationMs": rec.DurationMs,
			"isAI":       rec.IsAI,
		},
		"challenge": map[string]interface{}{
			"id":          challenge.ID,
			"title":       challenge.Title,
			"description": challenge.Description,
			"difficulty":  challenge.Difficulty,
			"timeLimit":   challenge.TimeLimitSeconds,
			"starterCode": challenge.StarterCode,
		},
	})

	raceCtx, cancel := context.WithCancel(gm.workerCtx)
	gm.mu.Lock()
	gm.races[race.RaceID] = &ghostRace{raceID: race.RaceID, cancel: cancel}
	gm.mu.Unlock()
	go gm.runGhostPlayback(raceCtx, race, timeline)

	metrics.GhostRacesStarted.Inc()
	log.Printf("[GHOST] Player %s racing ghost %s (%s) on challenge %s",
		playerID, rec.ID, rec.Username, rec.ChallengeID)
	return nil
}

// runGhostPlayback streams recorded events in real time. Each tick emits
// every event whose offset has elapsed, so playback survives slow ticks
// without skipping anything.
func (gm *GameManager) runGhostPlayback(ctx context.Context, race *RaceState, timeline []GhostEvent) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	idx := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := gm.cacheNowMs(ctx) - race.StartedAt
			for idx < len(timeline) && timeline[idx].TsMs <= elapsed {
				gm.sink.SendToPlayer(race.PlayerID, "ghost_event", map[string]interface{}{
					"type": timeline[idx].EventType,
					"tsMs": timeline[idx].TsMs,
					"data": timeline[idx].Data,
				})
				idx++
			}
			if idx >= len(timeline) {
				gm.sink.SendToPlayer(race.PlayerID, "ghost_finished", map[string]interface{}{
					"score":      race.GhostScore,
					"durationMs": timeline[len(timeline)-1].TsMs,
				})
				gm.dropRaceHandle(race.RaceID)
				return
			}
		}
	}
}

func (gm *GameManager) dropRaceHandle(raceID string) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	if r, ok := gm.races[raceID]; ok {
		r.cancel()
		delete(gm.races, raceID)
	}
}

func (gm *GameManager) raceState(ctx context.Context, raceID string) (*RaceState, error) {
	var race RaceState
	found, err := gm.store.GetJSON(ctx, raceKey(raceID), &race)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, Errf(CodeRaceNotFound, "race %s not found", raceID)
	}
	return &race, nil
}

// GhostRaceCode stores the racer's editor snapshot.
func (gm *GameManager) GhostRaceCode(playerID, raceID, code string) error {
	if len(code) > gm.config.MaxCodeLength {
		return Errf(CodeCodeTooLong, "code exceeds %d characters", gm.config.MaxCodeLength)
	}
	ctx := context.Background()
	race, err := gm.raceState(ctx, raceID)
	if err != nil {
		return err
	}
	if race.PlayerID != playerID {
		return Errf(CodeUnauthorized, "not your race")
	}
	if race.Status != RaceActive {
		return Errf(CodeInvalidMatchState, "race is not active")
	}
	race.PlayerCode = code
	return gm.store.SetJSON(ctx, raceKey(raceID), race)
}

// SubmitGhostRace runs the racer's code against the visible tests and
// settles the race against the ghost's stored score.
func (gm *GameManager) SubmitGhostRace(playerID, raceID, code string) error {
	if len(code) > gm.config.MaxCodeLength {
		return Errf(CodeCodeTooLong, "code exceeds %d characters", gm.config.MaxCodeLength)
	}
	ctx := context.Background()
	race, err := gm.raceState(ctx, raceID)
	if err != nil {
		return err
	}
	if race.PlayerID != playerID {
		return Errf(CodeUnauthorized, "not your race")
	}
	if race.Status != RaceActive {
		return Errf(CodeInvalidMatchState, "race is not active")
	}

	_, tests, err := gm.loadChallengeBundle(race.ChallengeID)
	if err != nil {
		return Errf(CodeExecutionFailed, "failed to load test cases")
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(gm.config.SubmissionTimeoutSecs)*time.Second)
	defer cancel()
	report, err := gm.judger.RunTests(runCtx, code, "javascript", visibleTests(tests))
	if err != nil {
		return Errf(CodeExecutionFailed, "test run failed")
	}

	nowMs := gm.cacheNowMs(ctx)
	playerScore := judge.CorrectnessScore(report.Results) / judge.MaxCorrectness * 1000

	race.Status = RaceCompleted
	race.PlayerCode = code
	gm.store.SetJSON(ctx, raceKey(raceID), race)
	gm.rdb.Del(ctx, playerRaceKey(playerID))
	gm.dropRaceHandle(raceID)

	gm.sink.SendToPlayer(playerID, "ghost_race_result", map[string]interface{}{
		"raceId":      raceID,
		"playerScore": playerScore,
		"ghostScore":  race.GhostScore,
		"won":         playerScore > race.GhostScore,
		"durationMs":  nowMs - race.StartedAt,
		"results":     report.Results,
		"passed":      report.Passed,
		"total":       report.Total,
	})
	gm.sink.RemovePlayerFromRoom(playerID, GhostRoom(raceID))

	log.Printf("[GHOST] Race %s settled: player %.1f vs ghost %.1f", raceID, playerScore, race.GhostScore)
	return nil
}

// rejoinRace restores playback context after a reconnect. The playback
// goroutine keeps running through the grace window, so only the room
// membership and a state snapshot need restoring.
func (gm *GameManager) rejoinRace(ctx context.Context, playerID string) bool {
	raceID, err := gm.rdb.Get(ctx, playerRaceKey(playerID)).Result()
	if err != nil || raceID == "" {
		return false
	}
	race, err := gm.raceState(ctx, raceID)
	if err != nil || race.Status != RaceActive {
		return false
	}
	gm.sink.JoinPlayerToRoom(playerID, GhostRoom(raceID))
	gm.sink.SendToPlayer(playerID, "reconnected", map[string]interface{}{
		"raceState": race,
	})
	log.Printf("[GHOST] Player %s reconnected to race %s", playerID, raceID)
	return true
}

// abandonRaceForPlayer tears down a player's active race, if any.
func (gm *GameManager) abandonRaceForPlayer(ctx context.Context, playerID string) {
	raceID, err := gm.rdb.Get(ctx, playerRaceKey(playerID)).Result()
	if err != nil || raceID == "" {
		return
	}
	if race, err := gm.raceState(ctx, raceID); err == nil && race.Status == RaceActive {
		race.Status = RaceAbandoned
		gm.store.SetJSON(ctx, raceKey(raceID), race)
	}
	gm.rdb.Del(ctx, playerRaceKey(playerID))
	gm.dropRaceHandle(raceID)
	gm.sink.RemovePlayerFromRoom(playerID, GhostRoom(raceID))
	log.Printf("[GHOST] Abandoned race %s for player %s", raceID, playerID)
}
