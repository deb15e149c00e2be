package game

import (
	"strings"
	"testing"

	"github.com/jmoiron/sqlx/types"

	"github.com/codeclash/backend/internal/models"
)

func TestCheckHintAllowanceFreshState(t *testing.T) {
	a := CheckHintAllowance(&HintState{}, 3, 60000, 1000)
	if !a.Allowed {
		t.Fatalf("fresh state should be allowed: %+v", a)
	}
	if a.HintsRemaining != 3 {
		t.Errorf("remaining = %d, want 3", a.HintsRemaining)
	}
}

func TestCheckHintAllowanceLimitReached(t *testing.T) {
	a := CheckHintAllowance(&HintState{HintsUsed: 3}, 3, 60000, 1000)
	if a.Allowed {
		t.Fatal("exhausted quota should be denied")
	}
	if a.HintsRemaining != 0 {
		t.Errorf("remaining = %d, want 0", a.HintsRemaining)
	}
	if a.Reason == "" {
		t.Error("denial should carry a reason")
	}
}

func TestCheckHintAllowanceCooldown(t *testing.T) {
	hs := &HintState{HintsUsed: 1, LastHintAt: 100000}

	// 20s into a 60s cooldown: denied with 40s left.
	a := CheckHintAllowance(hs, 3, 60000, 120000)
	if a.Allowed {
		t.Fatal("cooldown should deny")
	}
	if a.CooldownRemainingMs != 40000 {
		t.Errorf("cooldown remaining = %d, want 40000", a.CooldownRemainingMs)
	}
	if a.HintsRemaining != 2 {
		t.Errorf("remaining = %d, want 2", a.HintsRemaining)
	}

	// Exactly at expiry the hint is allowed again.
	a = CheckHintAllowance(hs, 3, 60000, 160000)
	if !a.Allowed {
		t.Fatalf("expired cooldown should allow: %+v", a)
	}
}

func TestHiddenSecretsCollectsHiddenCasesOnly(t *testing.T) {
	tests := []models.TestCase{
		{Input: types.JSONText(`[1,2]`), ExpectedOutput: types.JSONText(`3`), Hidden: false},
		{Input: types.JSONText(`[9,9]`), ExpectedOutput: types.JSONText(`18`), Hidden: true},
	}
	secrets := HiddenSecrets(tests)
	if len(secrets) != 2 {
		t.Fatalf("secrets = %v, want the hidden case's input and output", secrets)
	}
	if secrets[0] != `[9,9]` || secrets[1] != `18` {
		t.Errorf("secrets = %v", secrets)
	}
}

func TestRedactHiddenData(t *testing.T) {
	hint := `Try the input [9,9] first; note that "Magic" is the expected token.`
	secrets := []string{`[9,9]`, `"Magic"`}

	got := RedactHiddenData(hint, secrets)
	if strings.Contains(got, "[9,9]") {
		t.Errorf("hidden input leaked: %q", got)
	}
	// The quoted form also redacts its unquoted occurrence.
	if strings.Contains(strings.ToLower(got), "magic") {
		t.Errorf("hidden output leaked: %q", got)
	}
	if !strings.Contains(got, "[REDACTED]") {
		t.Errorf("no redaction marker in %q", got)
	}
}

func TestRedactHiddenDataIsCaseInsensitive(t *testing.T) {
	got := RedactHiddenData("answer is HELLO WORLD today", []string{"hello world"})
	if strings.Contains(got, "HELLO") {
		t.Errorf("case-folded secret leaked: %q", got)
	}
}

func TestRedactHiddenDataIgnoresTinySecrets(t *testing.T) {
	// One- and two-character secrets would shred the hint text.
	got := RedactHiddenData("a plan with 42 steps", []string{"a", "42"})
	if got != "a plan with 42 steps" {
		t.Errorf("tiny secrets should be left alone: %q", got)
	}
}

func TestIndexFold(t *testing.T) {
	if got := indexFold("Hello World", "world"); got != 6 {
		t.Errorf("indexFold = %d, want 6", got)
	}
	if got := indexFold("abc", "zzz"); got != -1 {
		t.Errorf("miss = %d, want -1", got)
	}
	if got := indexFold("ab", "abc"); got != -1 {
		t.Errorf("needle longer than haystack = %d, want -1", got)
	}
}
