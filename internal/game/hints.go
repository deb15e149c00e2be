package game

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/codeclash/backend/internal/metrics"
	"github.com/codeclash/backend/internal/models"
)

func hintKey(matchID, playerID string) string {
	return "match:" + matchID + ":hints:" + playerID
}

// HintAllowance is the answer to "may this player have a hint right now".
type HintAllowance struct {
	Allowed             bool   `json:"allowed"`
	CooldownRemainingMs int64  `json:"cooldownRemaining"`
	HintsRemaining      int    `json:"hintsRemaining"`
	Reason              string `json:"reason,omitempty"`
}

// CheckHintAllowance evaluates the quota and cooldown rules at nowMs.
func CheckHintAllowance(hs *HintState, limit int, cooldownMs, nowMs int64) HintAllowance {
	remaining := limit - hs.HintsUsed
	if remaining <= 0 {
		return HintAllowance{HintsRemaining: 0, Reason: "hint limit reached"}
	}
	if hs.LastHintAt > 0 {
		if elapsed := nowMs - hs.LastHintAt; elapsed < cooldownMs {
			return HintAllowance{
				HintsRemaining:      remaining,
				CooldownRemainingMs: cooldownMs - elapsed,
				Reason:              "hint cooldown active",
			}
		}
	}
	return HintAllowance{Allowed: true, HintsRemaining: remaining}
}

// RequestHint serves one coaching hint, enforcing the per-match quota and
// cooldown. A failed generation preserves the player's allowance. Hidden
// test data is stripped from the hint before delivery.
func (gm *GameManager) RequestHint(playerID, matchID, currentCode, language string) error {
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

	nowMs := gm.cacheNowMs(ctx)
	var hs HintState
	if _, err := gm.store.GetJSON(ctx, hintKey(matchID, playerID), &hs); err != nil {
		return err
	}

	allowance := CheckHintAllowance(&hs, gm.config.HintLimit, int64(gm.config.HintCooldownSecs)*1000, nowMs)
	if !allowance.Allowed {
		gm.sink.SendToPlayer(playerID, "hint_error", allowance)
		return nil
	}

	if language == "" {
		language = st.LanguageFor(slot)
	}
	if currentCode == "" {
		currentCode = st.CodeFor(slot)
	}

	challenge, tests, err := gm.loadChallengeBundle(st.ChallengeID)
	if err != nil {
		log.Printf("[HINT] Failed to load challenge %s: %v", st.ChallengeID, err)
		gm.sink.SendToPlayer(playerID, "hint_error", HintAllowance{
			HintsRemaining: allowance.HintsRemaining,
			Reason:         "hint unavailable right now",
		})
		return nil
	}

	level := hs.HintsUsed + 1
	hintCtx, cancel := context.WithTimeout(ctx, time.Duration(gm.config.AITimeoutSecs)*time.Second)
	content, err := gm.hints.GenerateHint(hintCtx, challenge.Title, challenge.Description, currentCode, language, level)
	cancel()
	if err != nil {
		// Allowance is preserved: no increment, no cooldown.
		log.Printf("[HINT] Generation failed for player %s in match %s: %v", playerID, matchID, err)
		gm.sink.SendToPlayer(playerID, "hint_error", HintAllowance{
			HintsRemaining: allowance.HintsRemaining,
			Reason:         "hint generation failed, your allowance is unchanged",
		})
		return nil
	}

	content = RedactHiddenData(content, HiddenSecrets(tests))

	hs.HintsUsed++
	hs.LastHintAt = nowMs
	if err := gm.store.SetJSON(ctx, hintKey(matchID, playerID), &hs); err != nil {
		log.Printf("[HINT] Failed to persist hint state for player %s in match %s: %v", playerID, matchID, err)
	}

	metrics.HintsServed.Inc()

	gm.sink.SendToPlayer(playerID, "hint_response", map[string]interface{}{
		"hint":  content,
		"level": level,
	})
	gm.sink.SendToPlayer(playerID, "hint_status_update", map[string]interface{}{
		"used":      hs.HintsUsed,
		"remaining": gm.config.HintLimit - hs.HintsUsed,
	})
	return nil
}

// hintsUsed reads the quota a player has consumed, for scoring.
func (gm *GameManager) hintsUsed(ctx context.Context, matchID, playerID string) int {
	var hs HintState
	if _, err := gm.store.GetJSON(ctx, hintKey(matchID, playerID), &hs); err != nil {
		log.Printf("[HINT] Failed to read hint state for player %s in match %s: %v", playerID, matchID, err)
	}
	return hs.HintsUsed
}

// HiddenSecrets collects the JSON-serialized inputs and expected outputs
// of hidden test cases.
func HiddenSecrets(tests []models.TestCase) []string {
	var secrets []string
	for _, tc := range tests {
		if !tc.Hidden {
			continue
		}
		secrets = append(secrets, string(tc.Input), string(tc.ExpectedOutput))
	}
	return secrets
}

// RedactHiddenData replaces any occurrence of a secret in the hint with
// [REDACTED]. Matching is case-insensitive; secrets of length two or
// less are ignored. Quoted JSON strings also match without their quotes.
func RedactHiddenData(hint string, secrets []string) string {
	for _, s := range secrets {
		for _, form := range secretForms(s) {
			if len(form) <= 2 {
				continue
			}
			hint = replaceFold(hint, form, "[REDACTED]")
		}
	}
	return hint
}

func secretForms(s string) []string {
	s = strings.TrimSpace(s)
	forms := []string{s}
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		forms = append(forms, s[1:len(s)-1])
	}
	return forms
}

func replaceFold(s, old, repl string) string {
	if old == "" {
		return s
	}
	var sb strings.Builder
	for {
		i := indexFold(s, old)
		if i < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		sb.WriteString(s[:i])
		sb.WriteString(repl)
		s = s[i+len(old):]
	}
}

func indexFold(s, substr string) int {
	n := len(substr)
	if n == 0 || n > len(s) {
		return -1
	}
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}
