package game

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx/types"

	"github.com/codeclash/backend/internal/models"
)

func TestSynthesizeGhostEventsShape(t *testing.T) {
	solution := strings.Repeat("const x = 1;\n", 8) // 104 chars
	events, durationMs := synthesizeGhostEvents(solution, "javascript")

	if len(events) < 3 {
		t.Fatalf("expected growing snapshots plus submission, got %d events", len(events))
	}

	// Timestamps strictly increase and the last event closes the timeline.
	var prev int64
	for i, ev := range events {
		if ev.TsMs <= prev {
			t.Fatalf("event %d timestamp %d not after %d", i, ev.TsMs, prev)
		}
		prev = ev.TsMs
	}
	if durationMs != events[len(events)-1].TsMs {
		t.Errorf("duration %d != last event ts %d", durationMs, events[len(events)-1].TsMs)
	}

	// Everything before the end is a code snapshot; the final event submits.
	last := events[len(events)-1]
	if last.EventType != EventSubmission {
		t.Errorf("last event = %s, want %s", last.EventType, EventSubmission)
	}
	for _, ev := range events[:len(events)-1] {
		if ev.EventType != EventCodeUpdate {
			t.Errorf("timeline event = %s, want %s", ev.EventType, EventCodeUpdate)
		}
	}

	var sub struct {
		Code     string `json:"code"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(last.Data, &sub); err != nil {
		t.Fatalf("submission data: %v", err)
	}
	if sub.Code != solution || sub.Language != "javascript" {
		t.Errorf("submission carries language %q and %d bytes of code", sub.Language, len(sub.Code))
	}

	// The second-to-last snapshot already holds the complete solution.
	var snap struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(events[len(events)-2].Data, &snap); err != nil {
		t.Fatalf("snapshot data: %v", err)
	}
	if snap.Code != solution {
		t.Error("final snapshot should hold the whole solution")
	}
}

func TestSynthesizeGhostEventsGrowsMonotonically(t *testing.T) {
	solution := strings.Repeat("x", 200)
	events, _ := synthesizeGhostEvents(solution, "python")

	prevLen := 0
	for _, ev := range events {
		if ev.EventType != EventCodeUpdate {
			continue
		}
		var snap struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(ev.Data, &snap); err != nil {
			t.Fatalf("snapshot data: %v", err)
		}
		if len(snap.Code) <= prevLen {
			t.Fatalf("snapshot shrank: %d then %d", prevLen, len(snap.Code))
		}
		prevLen = len(snap.Code)
	}
}

func TestSynthesizeGhostEventsShortSolution(t *testing.T) {
	// Below one chunk there is just the full snapshot and the submission.
	events, _ := synthesizeGhostEvents("tiny", "javascript")
	if len(events) != 2 {
		t.Fatalf("short solution events = %d, want 2", len(events))
	}
}

func TestStarterCodeFor(t *testing.T) {
	ch := &models.Challenge{
		StarterCode: types.JSONText(`{"javascript":"function solve() {}","python":"def solve():"}`),
	}
	if got := starterCodeFor(ch, "python"); got != "def solve():" {
		t.Errorf("python starter = %q", got)
	}
	if got := starterCodeFor(ch, "rust"); got != "" {
		t.Errorf("unknown language starter = %q, want empty", got)
	}

	if got := starterCodeFor(&models.Challenge{}, "python"); got != "" {
		t.Errorf("missing starter map = %q, want empty", got)
	}
	broken := &models.Challenge{StarterCode: types.JSONText(`[not json`)}
	if got := starterCodeFor(broken, "python"); got != "" {
		t.Errorf("broken starter map = %q, want empty", got)
	}
}

func TestRaceKeys(t *testing.T) {
	if got := raceKey("r1"); got != "race:r1" {
		t.Errorf("race key = %q", got)
	}
	if got := playerRaceKey("p1"); got != "player:race:p1" {
		t.Errorf("player race key = %q", got)
	}
}
