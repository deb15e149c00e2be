package judge

import "math"

// EloK is the fixed K-factor for rating updates.
const EloK = 32

// Actual-outcome terms for the Elo update.
const (
	OutcomeWin  = 1.0
	OutcomeTie  = 0.5
	OutcomeLoss = 0.0
)

// EloExpected is the logistic win expectation of a player rated ra
// against an opponent rated rb.
func EloExpected(ra, rb int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(rb-ra)/400.0))
}

// EloDelta is the rounded rating movement for one player given the
// actual outcome term.
func EloDelta(ra, rb int, actual float64) int {
	return int(math.Round(EloK * (actual - EloExpected(ra, rb))))
}

// OutcomeFor maps a winner id to the actual term for the given player.
// An empty winner id means a tie.
func OutcomeFor(playerID, winnerID string) float64 {
	switch winnerID {
	case "":
		return OutcomeTie
	case playerID:
		return OutcomeWin
	}
	return OutcomeLoss
}
