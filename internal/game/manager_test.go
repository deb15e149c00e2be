package game

import (
	"testing"

	"github.com/jmoiron/sqlx/types"

	"github.com/codeclash/backend/internal/models"
)

func sampleTestCases() []models.TestCase {
	return []models.TestCase{
		{Ordinal: 1, Input: types.JSONText(`[1,2]`), ExpectedOutput: types.JSONText(`3`), Weight: 1},
		{Ordinal: 2, Input: types.JSONText(`[5,5]`), ExpectedOutput: types.JSONText(`10`), Weight: 2, Hidden: true},
	}
}

func TestJudgeTestsConversion(t *testing.T) {
	out := judgeTests(sampleTestCases())
	if len(out) != 2 {
		t.Fatalf("converted %d cases, want 2", len(out))
	}
	if out[0].Input != `[1,2]` || out[0].Expected != `3` {
		t.Errorf("case 1 = %+v", out[0])
	}
	if out[1].Weight != 2 {
		t.Errorf("case 2 weight = %v, want 2", out[1].Weight)
	}
	if !out[1].Hidden {
		t.Error("hidden flag should survive conversion")
	}
}

func TestVisibleTestsFiltersHidden(t *testing.T) {
	out := visibleTests(sampleTestCases())
	if len(out) != 1 {
		t.Fatalf("visible cases = %d, want 1", len(out))
	}
	if out[0].Ordinal != 1 {
		t.Errorf("kept ordinal %d, want 1", out[0].Ordinal)
	}
}

func TestPlayerMatchKey(t *testing.T) {
	if got := playerMatchKey("p9"); got != "player:match:p9" {
		t.Errorf("key = %q", got)
	}
}
