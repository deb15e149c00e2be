package game

import "testing"

func TestNewPowerUpStateAllocation(t *testing.T) {
	st := NewPowerUpState()
	for _, typ := range []string{PowerUpTimeFreeze, PowerUpCodePeek, PowerUpDebugShield} {
		if st.Inventory[typ] != 1 {
			t.Errorf("inventory[%s] = %d, want 1", typ, st.Inventory[typ])
		}
	}
	if st.CooldownUntil != 0 {
		t.Errorf("fresh state has cooldown %d", st.CooldownUntil)
	}
	if st.ActiveEffect != nil {
		t.Errorf("fresh state has active effect %+v", st.ActiveEffect)
	}
}

func TestValidPowerUp(t *testing.T) {
	for _, typ := range []string{PowerUpTimeFreeze, PowerUpCodePeek, PowerUpDebugShield} {
		if !validPowerUp(typ) {
			t.Errorf("%s should be valid", typ)
		}
	}
	for _, typ := range []string{"", "wallhack", "TIME_FREEZE"} {
		if validPowerUp(typ) {
			t.Errorf("%q should be invalid", typ)
		}
	}
}

func TestValidateActivationOrder(t *testing.T) {
	nowMs := int64(1_000_000)
	st := &PlayerPowerUpState{
		Inventory:     map[string]int{PowerUpTimeFreeze: 0, PowerUpCodePeek: 1},
		CooldownUntil: nowMs + 30_000,
	}

	// An empty slot answers NO_POWERUP even while the cooldown is running.
	if e := validateActivation(st, PowerUpTimeFreeze, nowMs); e == nil || e.Code != CodeNoPowerUp {
		t.Errorf("empty slot under cooldown = %+v, want %s", e, CodeNoPowerUp)
	}

	// A stocked slot under cooldown gets ON_COOLDOWN with the remaining ms.
	e := validateActivation(st, PowerUpCodePeek, nowMs)
	if e == nil || e.Code != CodeOnCooldown {
		t.Fatalf("stocked slot under cooldown = %+v, want %s", e, CodeOnCooldown)
	}
	if remaining := e.Data["cooldownRemaining"]; remaining != int64(30_000) {
		t.Errorf("cooldownRemaining = %v, want 30000", remaining)
	}

	st.CooldownUntil = nowMs
	if e := validateActivation(st, PowerUpCodePeek, nowMs); e != nil {
		t.Errorf("eligible activation rejected: %+v", e)
	}
}

func TestPowerUpKeyShape(t *testing.T) {
	if got := powerUpKey("m1", "p1"); got != "match:m1:powerups:p1" {
		t.Errorf("key = %q", got)
	}
	if got := hintKey("m1", "p1"); got != "match:m1:hints:p1" {
		t.Errorf("hint key = %q", got)
	}
}
