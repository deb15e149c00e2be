package game

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeclash/backend/internal/metrics"
)

func powerUpKey(matchID, playerID string) string {
	return "match:" + matchID + ":powerups:" + playerID
}

func validPowerUp(t string) bool {
	switch t {
	case PowerUpTimeFreeze, PowerUpCodePeek, PowerUpDebugShield:
		return true
	}
	return false
}

// NewPowerUpState is the allocation every player starts a match with:
// one of each type, no cooldown, no active effect.
func NewPowerUpState() *PlayerPowerUpState {
	return &PlayerPowerUpState{
		Inventory: map[string]int{
			PowerUpTimeFreeze:  1,
			PowerUpCodePeek:    1,
			PowerUpDebugShield: 1,
		},
	}
}

func (gm *GameManager) initPowerUps(ctx context.Context, matchID string, playerIDs ...string) {
	for _, pid := range playerIDs {
		if err := gm.store.SetJSON(ctx, powerUpKey(matchID, pid), NewPowerUpState()); err != nil {
			log.Printf("[POWERUP] Failed to init state for player %s in match %s: %v", pid, matchID, err)
		}
	}
}

// powerUpState reads a player's record, defaulting to the starting
// allocation when the key is missing.
func (gm *GameManager) powerUpState(ctx context.Context, matchID, playerID string) *PlayerPowerUpState {
	var st PlayerPowerUpState
	found, err := gm.store.GetJSON(ctx, powerUpKey(matchID, playerID), &st)
	if err != nil {
		log.Printf("[POWERUP] Failed to read state for player %s in match %s: %v", playerID, matchID, err)
	}
	if err != nil || !found {
		return NewPowerUpState()
	}
	return &st
}

// activationResult is everything a successful activation changed.
type activationResult struct {
	Type          string
	CooldownUntil int64
	Effect        *ActiveEffect
	Inventory     map[string]int
}

// validateActivation applies the eligibility checks in order: inventory
// first, then the shared cooldown, so an empty slot always answers
// NO_POWERUP even mid-cooldown.
func validateActivation(st *PlayerPowerUpState, powerUpType string, nowMs int64) *Error {
	if st.Inventory[powerUpType] <= 0 {
		return Errf(CodeNoPowerUp, "no %s remaining", powerUpType)
	}
	if st.CooldownUntil > nowMs {
		return &Error{
			Code:    CodeOnCooldown,
			Message: "power-ups are cooling down",
			Data:    map[string]interface{}{"cooldownRemaining": st.CooldownUntil - nowMs},
		}
	}
	return nil
}

// activatePowerUp applies one activation under optimistic concurrency:
// WATCH the player's record, validate, commit; a concurrent write to the
// same record retries the whole check. Validation failures come back as
// a typed error with nothing consumed.
func (gm *GameManager) activatePowerUp(ctx context.Context, matchID, playerID, powerUpType string, nowMs int64) (*activationResult, *Error) {
	key := powerUpKey(matchID, playerID)
	var result *activationResult
	var typed *Error

	txn := func(tx *redis.Tx) error {
		result, typed = nil, nil

		raw, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			typed = Errf(CodeNoPowerUp, "no power-ups allocated for this match")
			return nil
		}
		if err != nil {
			return err
		}

		var st PlayerPowerUpState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return err
		}

		if typed = validateActivation(&st, powerUpType, nowMs); typed != nil {
			return nil
		}

		st.Inventory[powerUpType]--
		st.CooldownUntil = nowMs + int64(gm.config.PowerUpCooldownSecs)*1000

		switch powerUpType {
		case PowerUpTimeFreeze:
			st.ActiveEffect = &ActiveEffect{
				Type:        PowerUpTimeFreeze,
				ActivatedAt: nowMs,
				ExpiresAt:   nowMs + int64(gm.config.TimeFreezeSecs)*1000,
			}
		case PowerUpDebugShield:
			st.ActiveEffect = &ActiveEffect{
				Type:             PowerUpDebugShield,
				ActivatedAt:      nowMs,
				RemainingCharges: gm.config.DebugShieldCharges,
			}
		case PowerUpCodePeek:
			// Momentary; the display window is client-side only.
		}

		updated, err := json.Marshal(&st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, gm.store.ttl)
			return nil
		})
		if err != nil {
			return err
		}

		result = &activationResult{
			Type:          powerUpType,
			CooldownUntil: st.CooldownUntil,
			Effect:        st.ActiveEffect,
			Inventory:     st.Inventory,
		}
		return nil
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := gm.rdb.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, Errf(CodeActivationFailed, "activation failed: %v", err)
		}
		return result, typed
	}
	return nil, Errf(CodeActivationFailed, "activation contention, try again")
}

// ShieldConsumption reports the shield's state after a test run.
type ShieldConsumption struct {
	IsActive         bool `json:"isActive"`
	RemainingCharges int  `json:"remainingCharges"`
	WasConsumed      bool `json:"wasConsumed"`
}

// consumeShieldCharge spends exactly one charge per test run while a
// shield is active. Inactive or empty shields are a silent no-op.
func (gm *GameManager) consumeShieldCharge(ctx context.Context, matchID, playerID string) ShieldConsumption {
	key := powerUpKey(matchID, playerID)
	var out ShieldConsumption

	txn := func(tx *redis.Tx) error {
		out = ShieldConsumption{}

		raw, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}

		var st PlayerPowerUpState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return err
		}

		eff := st.ActiveEffect
		if eff == nil || eff.Type != PowerUpDebugShield || eff.RemainingCharges <= 0 {
			return nil
		}

		eff.RemainingCharges--
		out.WasConsumed = true
		if eff.RemainingCharges <= 0 {
			st.ActiveEffect = nil
			out.IsActive = false
			out.RemainingCharges = 0
		} else {
			out.IsActive = true
			out.RemainingCharges = eff.RemainingCharges
		}

		updated, err := json.Marshal(&st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, gm.store.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := gm.rdb.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			log.Printf("[POWERUP] Shield consume failed for player %s in match %s: %v", playerID, matchID, err)
		}
		break
	}
	return out
}

// clearEffect removes a player's active effect when it still matches the
// given type and activation time, so an expiry timer never clears a newer
// effect. Reports whether anything was cleared.
func (gm *GameManager) clearEffect(ctx context.Context, matchID, playerID, effectType string, activatedAt int64) bool {
	key := powerUpKey(matchID, playerID)
	cleared := false

	txn := func(tx *redis.Tx) error {
		cleared = false

		raw, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}

		var st PlayerPowerUpState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return err
		}
		eff := st.ActiveEffect
		if eff == nil || eff.Type != effectType || eff.ActivatedAt != activatedAt {
			return nil
		}

		st.ActiveEffect = nil
		updated, err := json.Marshal(&st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, gm.store.ttl)
			return nil
		})
		if err == nil {
			cleared = true
		}
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := gm.rdb.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			log.Printf("[POWERUP] Effect clear failed for player %s in match %s: %v", playerID, matchID, err)
		}
		break
	}
	return cleared
}

// ActivatePowerUp validates and applies a power-up activation, then fans
// out the result. The activating player gets full detail, the opponent a
// bare type notification, spectators an attributed summary. Validation
// failures surface as in-band powerup_error events so the client's
// power-up panel can react without a generic error path.
func (gm *GameManager) ActivatePowerUp(playerID, matchID, powerUpType string) error {
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
	if !validPowerUp(powerUpType) {
		return Errf(CodeInvalidType, "unknown power-up type %q", powerUpType)
	}

	nowMs := gm.cacheNowMs(ctx)
	res, perr := gm.activatePowerUp(ctx, matchID, playerID, powerUpType, nowMs)
	if perr != nil {
		payload := map[string]interface{}{
			"code":    perr.Code,
			"message": perr.Message,
		}
		for k, v := range perr.Data {
			payload[k] = v
		}
		gm.sink.SendToPlayer(playerID, "powerup_error", payload)
		return nil
	}

	detail := map[string]interface{}{
		"playerId":      playerID,
		"type":          powerUpType,
		"cooldownUntil": res.CooldownUntil,
		"inventory":     res.Inventory,
	}

	switch powerUpType {
	case PowerUpTimeFreeze:
		freezeMs := int64(gm.config.TimeFreezeSecs) * 1000
		if err := gm.store.AddExtraTimeMs(ctx, matchID, slot, freezeMs); err != nil {
			log.Printf("[POWERUP] Failed to credit freeze time for player %s in match %s: %v",
				playerID, matchID, err)
		}
		detail["freezeExpiresAt"] = res.Effect.ExpiresAt
		go gm.expireFreeze(matchID, playerID, res.Effect)

	case PowerUpCodePeek:
		// Re-read so the peek reflects the opponent's code at activation
		// time, not at the start of validation.
		opponentCode := st.CodeFor(3 - slot)
		if fresh, err := gm.store.Get(ctx, matchID); err == nil {
			opponentCode = fresh.CodeFor(3 - slot)
		}
		detail["opponentCode"] = opponentCode

	case PowerUpDebugShield:
		detail["shieldCharges"] = res.Effect.RemainingCharges
	}

	username := st.Player1Username
	if slot == 2 {
		username = st.Player2Username
	}

	gm.sink.SendToPlayer(playerID, "powerup_activated", detail)
	gm.sink.SendToPlayer(st.OpponentID(playerID), "opponent_used_powerup", map[string]interface{}{
		"type": powerUpType,
	})
	gm.sink.Broadcast(SpectatorRoom(matchID), "powerup_activated", map[string]interface{}{
		"playerId":  playerID,
		"username":  username,
		"type":      powerUpType,
		"timestamp": nowMs,
	})

	metrics.PowerUpActivations.WithLabelValues(powerUpType).Inc()
	log.Printf("[POWERUP] Player %s activated %s in match %s", playerID, powerUpType, matchID)
	return nil
}

// expireFreeze clears a time freeze once its window closes and tells the
// match room. The guard on activation time means a newer effect written
// in the meantime is left untouched.
func (gm *GameManager) expireFreeze(matchID, playerID string, effect *ActiveEffect) {
	ctx := gm.workerCtx
	if delay := time.Duration(effect.ExpiresAt-gm.cacheNowMs(ctx)) * time.Millisecond; delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	if !gm.clearEffect(ctx, matchID, playerID, PowerUpTimeFreeze, effect.ActivatedAt) {
		return
	}
	gm.sink.Broadcast(MatchRoom(matchID), "powerup_effect_expired", map[string]interface{}{
		"playerId": playerID,
		"type":     PowerUpTimeFreeze,
	})
}
