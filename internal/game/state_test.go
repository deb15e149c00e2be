package game

import "testing"

func TestRemainingMsBeforeStart(t *testing.T) {
	st := &MatchState{TimeLimitSeconds: 600}
	// Until the clock starts every player has the full budget.
	if got := st.RemainingMs(1, 99999); got != 600000 {
		t.Errorf("remaining before start = %d, want 600000", got)
	}
}

func TestRemainingMsCountsDown(t *testing.T) {
	st := &MatchState{TimeLimitSeconds: 600, StartedAt: 1000}

	if got := st.RemainingMs(1, 1000); got != 600000 {
		t.Errorf("remaining at start = %d, want 600000", got)
	}
	if got := st.RemainingMs(1, 301000); got != 300000 {
		t.Errorf("remaining at halftime = %d, want 300000", got)
	}
	// Never negative, even long after the deadline.
	if got := st.RemainingMs(1, 9999999); got != 0 {
		t.Errorf("remaining after deadline = %d, want 0", got)
	}
}

func TestRemainingMsFreezeCreditExtendsOwnClockOnly(t *testing.T) {
	st := &MatchState{
		TimeLimitSeconds: 600,
		StartedAt:        1000,
		Player1ExtraMs:   10000,
	}
	if got := st.RemainingMs(1, 601000); got != 10000 {
		t.Errorf("player 1 remaining = %d, want 10000", got)
	}
	if got := st.RemainingMs(2, 601000); got != 0 {
		t.Errorf("player 2 remaining = %d, want 0", got)
	}
}

func TestPlayerSlotAndOpponent(t *testing.T) {
	st := &MatchState{Player1ID: "a", Player2ID: "b"}

	if got := st.PlayerSlot("a"); got != 1 {
		t.Errorf("slot for a = %d, want 1", got)
	}
	if got := st.PlayerSlot("b"); got != 2 {
		t.Errorf("slot for b = %d, want 2", got)
	}
	if got := st.PlayerSlot("spectator"); got != 0 {
		t.Errorf("slot for outsider = %d, want 0", got)
	}

	if got := st.OpponentID("a"); got != "b" {
		t.Errorf("opponent of a = %q, want b", got)
	}
	if got := st.OpponentID("b"); got != "a" {
		t.Errorf("opponent of b = %q, want a", got)
	}
	if got := st.OpponentID("spectator"); got != "" {
		t.Errorf("opponent of outsider = %q, want empty", got)
	}
}

func TestReadyAndSubmittedFlags(t *testing.T) {
	st := &MatchState{Player1Ready: true}
	if st.BothReady() {
		t.Error("one ready should not be both ready")
	}
	st.Player2Ready = true
	if !st.BothReady() {
		t.Error("both flags set should be both ready")
	}

	st.Player1Submitted = true
	st.Player2Submitted = true
	if !st.BothSubmitted() {
		t.Error("both submitted flags set should report both submitted")
	}
}

func TestRoomLabels(t *testing.T) {
	if got := MatchRoom("m7"); got != "match:m7" {
		t.Errorf("match room = %q", got)
	}
	if got := SpectatorRoom("m7"); got != "match:m7:spectators" {
		t.Errorf("spectator room = %q", got)
	}
	if got := GhostRoom("r3"); got != "ghost_race:r3" {
		t.Errorf("ghost room = %q", got)
	}
}

func TestErrfCarriesCode(t *testing.T) {
	err := Errf(CodeMatchNotFound, "match %s not found", "m1")
	if err.Code != CodeMatchNotFound {
		t.Errorf("code = %q, want %q", err.Code, CodeMatchNotFound)
	}
	if err.Error() != "match m1 not found" {
		t.Errorf("message = %q", err.Error())
	}
}
