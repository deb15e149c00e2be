package game

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/codeclash/backend/internal/judge"
	"github.com/codeclash/backend/internal/metrics"
)

// matchClock is the per-match timer goroutine handle on this instance.
// The instance that wins the countdown claim owns the clock; state stays
// in Redis so a reconnect to any instance still reads correct remaining.
type matchClock struct {
	matchID string
	cancel  context.CancelFunc
}

func (gm *GameManager) startClock(matchID string, countdownEndsMs int64) {
	ctx, cancel := context.WithCancel(gm.workerCtx)
	gm.mu.Lock()
	if old, ok := gm.clocks[matchID]; ok {
		old.cancel()
	}
	gm.clocks[matchID] = &matchClock{matchID: matchID, cancel: cancel}
	gm.mu.Unlock()
	go gm.runMatchClock(ctx, matchID, countdownEndsMs)
}

func (gm *GameManager) stopClock(matchID string) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	if c, ok := gm.clocks[matchID]; ok {
		c.cancel()
		delete(gm.clocks, matchID)
	}
}

// appendReplay records one timeline event relative to the match start.
// Events before the start timestamp exists are not part of the replay.
func (gm *GameManager) appendReplay(st *MatchState, playerID, eventType string, nowMs int64, data interface{}) {
	if st.StartedAt == 0 {
		return
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return
	}
	gm.replay.Append(ReplayEvent{
		MatchID:   st.MatchID,
		PlayerID:  playerID,
		EventType: eventType,
		TsMs:      nowMs - st.StartedAt,
		Data:      types.JSONText(blob),
	})
}

// ReadyUp marks a lobby player ready. The attempt that observes both
// ready flags claims the countdown; any later attempt is answered with
// the countdown already in flight instead of starting a second one.
func (gm *GameManager) ReadyUp(playerID, matchID string) error {
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
	if st.Status != StatusLobby {
		return Errf(CodeInvalidMatchState, "match is no longer in lobby")
	}

	bothReady, err := gm.store.SetReady(ctx, matchID, slot)
	if err != nil {
		return err
	}
	gm.sink.SendToPlayer(st.OpponentID(playerID), "opponent_ready", map[string]interface{}{
		"isReady": true,
	})
	if !bothReady {
		return nil
	}

	claimed, err := gm.store.ClaimCountdown(ctx, matchID)
	if err != nil {
		return err
	}
	nowMs := gm.cacheNowMs(ctx)

	if !claimed {
		cur, err := gm.store.Get(ctx, matchID)
		if err == nil && cur.CountdownEndsAt > 0 {
			remaining := cur.CountdownEndsAt - nowMs
			if remaining < 0 {
				remaining = 0
			}
			gm.sink.SendToPlayer(playerID, "match_starting", map[string]interface{}{
				"countdown": (remaining + 999) / 1000,
				"endsAt":    cur.CountdownEndsAt,
			})
		}
		return nil
	}

	endsAt := nowMs + int64(gm.config.CountdownSeconds)*1000
	if err := gm.store.SetCountdownEndsAt(ctx, matchID, endsAt); err != nil {
		return err
	}
	payload := map[string]interface{}{
		"countdown": gm.config.CountdownSeconds,
		"endsAt":    endsAt,
	}
	gm.sink.Broadcast(MatchRoom(matchID), "match_starting", payload)
	gm.sink.Broadcast(SpectatorRoom(matchID), "match_starting", payload)
	log.Printf("[MATCH] Countdown started for match %s (%ds)", matchID, gm.config.CountdownSeconds)

	gm.startClock(matchID, endsAt)
	return nil
}

func (gm *GameManager) runMatchClock(ctx context.Context, matchID string, countdownEndsMs int64) {
	if delay := time.Duration(countdownEndsMs-gm.cacheNowMs(ctx)) * time.Millisecond; delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	if err := gm.startMatch(ctx, matchID); err != nil {
		log.Printf("[MATCH] Failed to start match %s: %v", matchID, err)
		gm.stopClock(matchID)
		return
	}

	ticker := time.NewTicker(time.Duration(gm.config.TimerSyncIntervalSecs) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if gm.tickMatch(ctx, matchID) {
				return
			}
		}
	}
}

// startStampCache is the slice of the state store startMatch needs;
// narrowed so stampMatchStart can be exercised without a live cache.
type startStampCache interface {
	SetStartedAt(ctx context.Context, matchID string, startedAt int64) error
}

// stampMatchStart flips the durable row to active and mirrors startedAt
// into the cache. The durable row is written first so the cache can
// always be rebuilt from it; if the cache write fails even on retry, the
// durable flip is undone so startedAt is unset in both places for the
// next attempt rather than half-set.
func stampMatchStart(ctx context.Context, db *sqlx.DB, cache startStampCache, matchID string, t0 int64) error {
	res, err := db.Exec(`
		UPDATE matches SET status = 'active', started_at = to_timestamp($1 / 1000.0)
		WHERE id = $2 AND status = 'lobby'`, t0, matchID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("match %s is not in lobby", matchID)
	}

	if err := cache.SetStartedAt(ctx, matchID, t0); err != nil {
		if err = cache.SetStartedAt(ctx, matchID, t0); err != nil {
			if _, rbErr := db.Exec(`
				UPDATE matches SET status = 'lobby', started_at = NULL
				WHERE id = $1 AND status = 'active'`, matchID); rbErr != nil {
				log.Printf("[MATCH] Start rollback failed for match %s: %v", matchID, rbErr)
			}
			return err
		}
	}
	return nil
}

// startMatch stamps the authoritative start time and announces it. The
// cache state is read up front so a dead cache aborts before anything
// durable happens.
func (gm *GameManager) startMatch(ctx context.Context, matchID string) error {
	st, err := gm.store.Get(ctx, matchID)
	if err != nil {
		return err
	}
	t0 := gm.cacheNowMs(ctx)

	if err := stampMatchStart(ctx, gm.db, gm.store, matchID, t0); err != nil {
		return err
	}

	payload := map[string]interface{}{
		"startTime": t0,
		"timeLimit": st.TimeLimitSeconds,
		"remaining": int64(st.TimeLimitSeconds) * 1000,
	}
	gm.sink.Broadcast(MatchRoom(matchID), "match_started", payload)
	gm.sink.Broadcast(SpectatorRoom(matchID), "match_started", payload)
	log.Printf("[MATCH] Match %s started (limit %ds)", matchID, st.TimeLimitSeconds)
	return nil
}

// tickMatch pushes per-player clock corrections and fires expiry
// auto-submits. Time freezes give the two players different deadlines,
// so each gets their own remaining. Returns true once the clock is done.
func (gm *GameManager) tickMatch(ctx context.Context, matchID string) bool {
	st, err := gm.store.Get(ctx, matchID)
	if err != nil {
		return true
	}
	if st.Status != StatusActive {
		return st.Status == StatusCompleted
	}

	nowMs := gm.cacheNowMs(ctx)
	expired := 0
	for slot := 1; slot <= 2; slot++ {
		playerID, submitted := st.Player1ID, st.Player1Submitted
		if slot == 2 {
			playerID, submitted = st.Player2ID, st.Player2Submitted
		}
		remaining := st.RemainingMs(slot, nowMs)
		gm.sink.SendToPlayer(playerID, "timer_sync", map[string]interface{}{
			"remaining": remaining,
		})
		if remaining <= 0 {
			expired++
			if !submitted {
				gm.autoSubmit(ctx, st, slot, nowMs)
			}
		}
	}
	gm.sink.Broadcast(SpectatorRoom(matchID), "timer_sync", map[string]interface{}{
		"remaining": st.RemainingMs(0, nowMs),
	})
	return expired == 2
}

// CodeUpdate stores a full code snapshot and fans it out. Snapshots that
// arrive outside active play are absorbed silently; the next accepted
// one carries the complete state anyway.
func (gm *GameManager) CodeUpdate(playerID, matchID, code string, line, column int) error {
	if len(code) > gm.config.MaxCodeLength {
		return Errf(CodeCodeTooLong, "code exceeds %d characters", gm.config.MaxCodeLength)
	}
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
	if st.Status != StatusActive {
		return nil
	}

	cursor := Cursor{Line: line, Column: column}
	if err := gm.store.SetCode(ctx, matchID, slot, code, cursor); err != nil {
		return err
	}

	gm.sink.SendToPlayer(st.OpponentID(playerID), "opponent_code_update", map[string]interface{}{
		"code":   code,
		"cursor": cursor,
	})
	gm.sink.Broadcast(SpectatorRoom(matchID), "code_update", map[string]interface{}{
		"playerId": playerID,
		"code":     code,
		"cursor":   cursor,
	})

	gm.appendReplay(st, playerID, EventCodeUpdate, gm.cacheNowMs(ctx), map[string]interface{}{
		"code":   code,
		"cursor": cursor,
	})
	return nil
}

// CursorMove updates a player's cursor between snapshots so spectators
// and the replay timeline see movement without a full code resend.
func (gm *GameManager) CursorMove(playerID, matchID string, line, column int) error {
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
	if st.Status != StatusActive {
		return nil
	}

	cursor := Cursor{Line: line, Column: column}
	if err := gm.store.SetCursor(ctx, matchID, slot, cursor); err != nil {
		return err
	}

	gm.sink.SendToPlayer(st.OpponentID(playerID), "opponent_cursor_move", map[string]interface{}{
		"cursor": cursor,
	})
	gm.sink.Broadcast(SpectatorRoom(matchID), "cursor_move", map[string]interface{}{
		"playerId": playerID,
		"cursor":   cursor,
	})

	gm.appendReplay(st, playerID, EventCursorMove, gm.cacheNowMs(ctx), map[string]interface{}{
		"cursor": cursor,
	})
	return nil
}

// RunCode executes a player's code against the visible test cases. An
// active debug shield spends one charge and marks this run's failures
// as shielded.
func (gm *GameManager) RunCode(playerID, matchID, code string) error {
	if len(code) > gm.config.MaxCodeLength {
		return Errf(CodeCodeTooLong, "code exceeds %d characters", gm.config.MaxCodeLength)
	}
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
	if st.Status != StatusActive {
		return Errf(CodeMatchNotActive, "match is not active")
	}

	cursor := st.Player1Cursor
	if slot == 2 {
		cursor = st.Player2Cursor
	}
	gm.store.SetCode(ctx, matchID, slot, code, cursor)

	opponentID := st.OpponentID(playerID)
	gm.sink.SendToPlayer(opponentID, "opponent_test_run", map[string]interface{}{"isRunning": true})

	_, tests, err := gm.loadChallengeBundle(st.ChallengeID)
	if err != nil {
		gm.sink.SendToPlayer(opponentID, "opponent_test_run", map[string]interface{}{"isRunning": false})
		return Errf(CodeExecutionFailed, "failed to load test cases")
	}

	shield := gm.consumeShieldCharge(ctx, matchID, playerID)

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(gm.config.SubmissionTimeoutSecs)*time.Second)
	defer cancel()
	report, err := gm.judger.RunTests(runCtx, code, st.LanguageFor(slot), visibleTests(tests))
	gm.sink.SendToPlayer(opponentID, "opponent_test_run", map[string]interface{}{"isRunning": false})
	if err != nil {
		return Errf(CodeExecutionFailed, "test run failed")
	}

	if shield.WasConsumed {
		for i := range report.Results {
			if !report.Results[i].Passed {
				report.Results[i].Shielded = true
			}
		}
		gm.sink.SendToPlayer(playerID, "powerup_state_update", map[string]interface{}{
			"type":             PowerUpDebugShield,
			"isActive":         shield.IsActive,
			"remainingCharges": shield.RemainingCharges,
		})
	}

	nowMs := gm.cacheNowMs(ctx)
	gm.sink.SendToPlayer(playerID, "test_result", map[string]interface{}{
		"results":                report.Results,
		"passed":                 report.Passed,
		"total":                  report.Total,
		"debugShieldActive":      shield.IsActive,
		"shieldChargesRemaining": shield.RemainingCharges,
	})
	gm.sink.Broadcast(SpectatorRoom(matchID), "test_run", map[string]interface{}{
		"playerId": playerID,
		"passed":   report.Passed,
		"total":    report.Total,
	})

	gm.appendReplay(st, playerID, EventTestRun, nowMs, map[string]interface{}{
		"results": report.Results,
		"passed":  report.Passed,
		"total":   report.Total,
	})
	return nil
}

// SubmitSolution locks in a player's final answer. The submission that
// completes the pair triggers judging exactly once.
func (gm *GameManager) SubmitSolution(playerID, matchID, code string) error {
	if len(code) > gm.config.MaxCodeLength {
		return Errf(CodeCodeTooLong, "code exceeds %d characters", gm.config.MaxCodeLength)
	}
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
	if st.Status != StatusActive {
		return Errf(CodeMatchNotActive, "match is not active")
	}
	if submitted, _ := gm.store.HasSubmitted(ctx, matchID, slot); submitted {
		return Errf(CodeAlreadySubmitted, "solution already submitted")
	}

	cursor := st.Player1Cursor
	if slot == 2 {
		cursor = st.Player2Cursor
	}
	if err := gm.store.SetCode(ctx, matchID, slot, code, cursor); err != nil {
		return err
	}

	nowMs := gm.cacheNowMs(ctx)
	gm.appendReplay(st, playerID, EventSubmission, nowMs, map[string]interface{}{
		"code":     code,
		"language": st.LanguageFor(slot),
	})

	both, err := gm.store.MarkSubmitted(ctx, matchID, slot)
	if err != nil {
		return err
	}

	log.Printf("[MATCH] Player %s submitted in match %s (both=%v)", playerID, matchID, both)
	gm.sink.SendToPlayer(playerID, "solution_submitted", map[string]interface{}{
		"waitingForOpponent": !both,
	})
	gm.sink.SendToPlayer(st.OpponentID(playerID), "opponent_submitted", map[string]interface{}{})

	if both {
		go gm.completeMatch(matchID)
	}
	return nil
}

// autoSubmit locks in a player's current editor state when their clock
// runs out.
func (gm *GameManager) autoSubmit(ctx context.Context, st *MatchState, slot int, nowMs int64) {
	playerID, code, language := st.Player1ID, st.Player1Code, st.Player1Language
	if slot == 2 {
		playerID, code, language = st.Player2ID, st.Player2Code, st.Player2Language
	}

	gm.appendReplay(st, playerID, EventSubmission, nowMs, map[string]interface{}{
		"code":     code,
		"language": language,
		"auto":     true,
	})

	both, err := gm.store.MarkSubmitted(ctx, st.MatchID, slot)
	if err != nil {
		log.Printf("[MATCH] Auto-submit failed for player %s in match %s: %v", playerID, st.MatchID, err)
		return
	}
	log.Printf("[MATCH] Time expired for player %s in match %s, auto-submitted", playerID, st.MatchID)

	gm.sink.SendToPlayer(playerID, "time_expired", map[string]interface{}{"autoSubmitted": true})
	gm.sink.SendToPlayer(st.OpponentID(playerID), "opponent_submitted", map[string]interface{}{})

	if both {
		go gm.completeMatch(st.MatchID)
	}
}

// completeMatch drives judging and the terminal transition. Concurrent
// triggers coalesce on the completion claim; whatever happens afterward
// the match ends up completed, possibly with a fallback verdict.
func (gm *GameManager) completeMatch(matchID string) {
	ctx := context.Background()

	claimed, err := gm.store.ClaimCompletion(ctx, matchID)
	if err != nil || !claimed {
		return
	}
	gm.stopClock(matchID)

	st, err := gm.store.Get(ctx, matchID)
	if err != nil {
		st, err = gm.store.Get(ctx, matchID)
	}
	if err != nil {
		// The claim is held, so a completion must still land. The durable
		// row supplies the players for a null-winner fallback.
		log.Printf("[MATCH] Completion lost match state for %s: %v", matchID, err)
		gm.completeFromRow(ctx, matchID)
		return
	}

	challenge, tests, err := gm.loadChallengeBundle(st.ChallengeID)
	req := judge.MatchRequest{
		MatchID:       matchID,
		Player1Rating: st.Player1Rating,
		Player2Rating: st.Player2Rating,
		Player1: judge.Submission{
			PlayerID:  st.Player1ID,
			Code:      st.Player1Code,
			Language:  st.Player1Language,
			HintsUsed: gm.hintsUsed(ctx, matchID, st.Player1ID),
		},
		Player2: judge.Submission{
			PlayerID:  st.Player2ID,
			Code:      st.Player2Code,
			Language:  st.Player2Language,
			HintsUsed: gm.hintsUsed(ctx, matchID, st.Player2ID),
		},
	}
	if err != nil {
		log.Printf("[MATCH] Failed to load challenge for match %s: %v", matchID, err)
	} else {
		req.ChallengeTitle = challenge.Title
		req.ChallengeDescription = challenge.Description
		req.Tests = judgeTests(tests)
	}

	verdict := gm.judger.JudgeMatch(ctx, req)

	nowMs := gm.cacheNowMs(ctx)
	durationMs := int64(0)
	if st.StartedAt > 0 {
		durationMs = nowMs - st.StartedAt
	}
	verdict.DurationMs = durationMs

	gm.persistCompletion(st, verdict, nowMs, durationMs)
	gm.store.SetStatus(ctx, matchID, StatusCompleted)
	gm.store.ExpireSoon(ctx, matchID, 2*time.Minute)
	gm.clearPlayerMatch(ctx, st.Player1ID, st.Player2ID)

	// Make the timeline durable before anything reads it back for ghosts.
	gm.replay.Flush()

	if verdict.Fallback {
		failure := map[string]interface{}{
			"code":    CodeJudgingTimeout,
			"message": "judging did not finish in time",
		}
		gm.sink.Broadcast(MatchRoom(matchID), "analysis_error", failure)
		gm.sink.Broadcast(SpectatorRoom(matchID), "analysis_error", failure)
		metrics.MatchesCompleted.WithLabelValues("fallback").Inc()
	} else {
		gm.saveWinnerGhost(ctx, st, verdict)
		gm.sink.Broadcast(MatchRoom(matchID), "analysis_ready", map[string]interface{}{
			"matchId": matchID,
		})
		metrics.MatchesCompleted.WithLabelValues("scored").Inc()
	}

	gm.sink.Broadcast(MatchRoom(matchID), "match_result", verdict)
	gm.sink.Broadcast(SpectatorRoom(matchID), "match_result", verdict)
	log.Printf("[MATCH] Match %s completed (winner=%q fallback=%v duration=%dms)",
		matchID, verdict.WinnerID, verdict.Fallback, durationMs)
}

// completeFromRow finishes a match whose cache state is unreadable,
// using the durable row for the players and a null-winner fallback
// verdict. Only when even the durable row is unreadable is the claim
// released for a later trigger to retry.
func (gm *GameManager) completeFromRow(ctx context.Context, matchID string) {
	var row struct {
		Player1ID string `db:"player1_id"`
		Player2ID string `db:"player2_id"`
	}
	if err := gm.db.Get(&row, `SELECT player1_id, player2_id FROM matches WHERE id = $1`, matchID); err != nil {
		gm.store.ReleaseCompletion(ctx, matchID)
		log.Printf("[MATCH] Completion fallback failed for match %s, claim released: %v", matchID, err)
		return
	}

	verdict := &judge.Verdict{
		MatchID:        matchID,
		Player1:        &judge.Scorecard{PlayerID: row.Player1ID, TestResults: []judge.CaseOutcome{}},
		Player2:        &judge.Scorecard{PlayerID: row.Player2ID, TestResults: []judge.CaseOutcome{}},
		Fallback:       true,
		FallbackReason: "match state unavailable",
	}
	nowMs := gm.cacheNowMs(ctx)
	gm.persistCompletion(&MatchState{MatchID: matchID}, verdict, nowMs, 0)
	gm.store.SetStatus(ctx, matchID, StatusCompleted)
	gm.clearPlayerMatch(ctx, row.Player1ID, row.Player2ID)

	failure := map[string]interface{}{
		"code":    CodeJudgingTimeout,
		"message": "judging did not finish in time",
	}
	gm.sink.Broadcast(MatchRoom(matchID), "analysis_error", failure)
	gm.sink.Broadcast(SpectatorRoom(matchID), "analysis_error", failure)
	gm.sink.Broadcast(MatchRoom(matchID), "match_result", verdict)
	gm.sink.Broadcast(SpectatorRoom(matchID), "match_result", verdict)
	metrics.MatchesCompleted.WithLabelValues("fallback").Inc()
	log.Printf("[MATCH] Match %s completed from durable row (fallback, no cache state)", matchID)
}

// persistCompletion writes the terminal match row. Completion must land
// even when judging fell back, so errors are logged, not propagated.
func (gm *GameManager) persistCompletion(st *MatchState, verdict *judge.Verdict, nowMs, durationMs int64) {
	var winner sql.NullString
	if verdict.WinnerID != "" {
		winner = sql.NullString{String: verdict.WinnerID, Valid: true}
	}
	var score1, score2 sql.NullFloat64
	if verdict.Player1 != nil {
		score1 = sql.NullFloat64{Float64: verdict.Player1.Final, Valid: true}
	}
	if verdict.Player2 != nil {
		score2 = sql.NullFloat64{Float64: verdict.Player2.Final, Valid: true}
	}

	_, err := gm.db.Exec(`
		UPDATE matches
		SET status = 'completed',
		    completed_at = to_timestamp($1 / 1000.0),
		    winner_id = $2,
		    player1_score = $3,
		    player2_score = $4,
		    player1_code = $5,
		    player2_code = $6,
		    duration_ms = $7,
		    fallback = $8
		WHERE id = $9 AND status != 'completed'`,
		nowMs, winner, score1, score2, st.Player1Code, st.Player2Code,
		durationMs, verdict.Fallback, st.MatchID)
	if err != nil {
		log.Printf("[MATCH] Failed to persist completion for match %s: %v", st.MatchID, err)
	}
}
