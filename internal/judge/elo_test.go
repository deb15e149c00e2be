package judge

import (
	"math"
	"testing"
)

func TestEloExpectedSymmetry(t *testing.T) {
	// Equal ratings give each side a 50% expectation.
	if got := EloExpected(1000, 1000); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("equal ratings expectation = %v, want 0.5", got)
	}

	// The two sides' expectations always sum to 1.
	ea := EloExpected(1200, 900)
	eb := EloExpected(900, 1200)
	if math.Abs(ea+eb-1) > 1e-9 {
		t.Errorf("expectations sum = %v, want 1", ea+eb)
	}
	if ea <= eb {
		t.Errorf("higher-rated side should be favored: %v vs %v", ea, eb)
	}
}

func TestEloDeltaEqualRatings(t *testing.T) {
	if got := EloDelta(1000, 1000, OutcomeWin); got != 16 {
		t.Errorf("win at equal ratings = %+d, want +16", got)
	}
	if got := EloDelta(1000, 1000, OutcomeLoss); got != -16 {
		t.Errorf("loss at equal ratings = %+d, want -16", got)
	}
	if got := EloDelta(1000, 1000, OutcomeTie); got != 0 {
		t.Errorf("tie at equal ratings = %+d, want 0", got)
	}
}

func TestEloDeltaUpsetPaysMore(t *testing.T) {
	underdog := EloDelta(900, 1200, OutcomeWin)
	favorite := EloDelta(1200, 900, OutcomeWin)
	if underdog <= favorite {
		t.Errorf("upset win %+d should beat expected win %+d", underdog, favorite)
	}
	if underdog <= 16 {
		t.Errorf("upset win %+d should exceed the even-match gain", underdog)
	}
	if favorite < 0 {
		t.Errorf("winning never costs rating, got %+d", favorite)
	}
}

func TestOutcomeFor(t *testing.T) {
	if got := OutcomeFor("p1", "p1"); got != OutcomeWin {
		t.Errorf("winner outcome = %v, want %v", got, OutcomeWin)
	}
	if got := OutcomeFor("p2", "p1"); got != OutcomeLoss {
		t.Errorf("loser outcome = %v, want %v", got, OutcomeLoss)
	}
	if got := OutcomeFor("p1", ""); got != OutcomeTie {
		t.Errorf("tie outcome = %v, want %v", got, OutcomeTie)
	}
}
