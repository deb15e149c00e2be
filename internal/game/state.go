package game

import "fmt"

// MatchStatus represents the lifecycle state of a match. Transitions are
// monotone: lobby -> active -> completed.
type MatchStatus string

const (
	StatusLobby     MatchStatus = "lobby"
	StatusActive    MatchStatus = "active"
	StatusCompleted MatchStatus = "completed"
)

// Ghost race statuses.
const (
	RaceActive    = "active"
	RaceCompleted = "completed"
	RaceAbandoned = "abandoned"
)

// Power-up types.
const (
	PowerUpTimeFreeze  = "time_freeze"
	PowerUpCodePeek    = "code_peek"
	PowerUpDebugShield = "debug_shield"
)

// Replay event types.
const (
	EventCodeUpdate = "code_update"
	EventTestRun    = "test_run"
	EventSubmission = "submission"
	EventCursorMove = "cursor_move"
)

// MatchRoom returns the room label for a match's players.
func MatchRoom(matchID string) string {
	return "match:" + matchID
}

// SpectatorRoom returns the room label for a match's spectators.
func SpectatorRoom(matchID string) string {
	return "match:" + matchID + ":spectators"
}

// GhostRoom returns the room label for a ghost race.
func GhostRoom(raceID string) string {
	return "ghost_race:" + raceID
}

// Cursor is an editor position inside a player's code.
type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// MatchState is the shared-cache mirror of a match's live fields. Two
// connections write it concurrently; all mutation goes through the
// field-level StateStore operations.
type MatchState struct {
	MatchID          string      `json:"matchId"`
	ChallengeID      string      `json:"challengeId"`
	Status           MatchStatus `json:"status"`
	Player1ID        string      `json:"player1Id"`
	Player2ID        string      `json:"player2Id"`
	Player1Username  string      `json:"player1Username"`
	Player2Username  string      `json:"player2Username"`
	Player1Rating    int         `json:"player1Rating"`
	Player2Rating    int         `json:"player2Rating"`
	Player1Language  string      `json:"player1Language"`
	Player2Language  string      `json:"player2Language"`
	Player1Code      string      `json:"player1Code"`
	Player2Code      string      `json:"player2Code"`
	Player1Cursor    Cursor      `json:"player1Cursor"`
	Player2Cursor    Cursor      `json:"player2Cursor"`
	Player1Ready     bool        `json:"player1Ready"`
	Player2Ready     bool        `json:"player2Ready"`
	Player1Submitted bool        `json:"player1Submitted"`
	Player2Submitted bool        `json:"player2Submitted"`
	StartedAt        int64       `json:"startedAt"`       // unix ms; 0 until active
	CountdownEndsAt  int64       `json:"countdownEndsAt"` // unix ms; 0 until countdown
	TimeLimitSeconds int         `json:"timeLimitSeconds"`
	Player1ExtraMs   int64       `json:"player1ExtraMs"` // clock credit from time freezes
	Player2ExtraMs   int64       `json:"player2ExtraMs"`
}

// RemainingMs computes a player's remaining clock time at nowMs. Time
// freeze credit extends the player's own deadline.
func (s *MatchState) RemainingMs(slot int, nowMs int64) int64 {
	if s.StartedAt == 0 {
		return int64(s.TimeLimitSeconds) * 1000
	}
	var extra int64
	switch slot {
	case 1:
		extra = s.Player1ExtraMs
	case 2:
		extra = s.Player2ExtraMs
	}
	deadline := s.StartedAt + int64(s.TimeLimitSeconds)*1000 + extra
	remaining := deadline - nowMs
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// PlayerSlot returns 1 or 2 for the given player, 0 if not a participant.
func (s *MatchState) PlayerSlot(playerID string) int {
	switch playerID {
	case s.Player1ID:
		return 1
	case s.Player2ID:
		return 2
	}
	return 0
}

// OpponentID returns the other participant's id, or "" if playerID is not
// a participant.
func (s *MatchState) OpponentID(playerID string) string {
	switch playerID {
	case s.Player1ID:
		return s.Player2ID
	case s.Player2ID:
		return s.Player1ID
	}
	return ""
}

// CodeFor returns the stored code snapshot for a player slot.
func (s *MatchState) CodeFor(slot int) string {
	if slot == 1 {
		return s.Player1Code
	}
	return s.Player2Code
}

// LanguageFor returns the configured language for a player slot.
func (s *MatchState) LanguageFor(slot int) string {
	if slot == 1 {
		return s.Player1Language
	}
	return s.Player2Language
}

// BothReady reports whether both players have readied up.
func (s *MatchState) BothReady() bool {
	return s.Player1Ready && s.Player2Ready
}

// BothSubmitted reports whether both players have submitted.
func (s *MatchState) BothSubmitted() bool {
	return s.Player1Submitted && s.Player2Submitted
}

// ActiveEffect is a live power-up effect on a player.
type ActiveEffect struct {
	Type             string `json:"type"`
	ActivatedAt      int64  `json:"activatedAt"` // unix ms
	ExpiresAt        int64  `json:"expiresAt,omitempty"`
	RemainingCharges int    `json:"remainingCharges,omitempty"`
}

// PlayerPowerUpState is the per-match, per-player power-up record.
type PlayerPowerUpState struct {
	Inventory     map[string]int `json:"inventory"`
	CooldownUntil int64          `json:"cooldownUntil"` // unix ms; 0 = none
	ActiveEffect  *ActiveEffect  `json:"activeEffect,omitempty"`
}

// HintState is the per-match, per-player hint allowance record.
type HintState struct {
	HintsUsed  int   `json:"hintsUsed"`
	LastHintAt int64 `json:"lastHintAt"` // unix ms; 0 = never
}

// RaceState is the shared-cache record of a ghost race.
type RaceState struct {
	RaceID      string  `json:"raceId"`
	PlayerID    string  `json:"playerId"`
	Username    string  `json:"username"`
	GhostID     string  `json:"ghostId"`
	ChallengeID string  `json:"challengeId"`
	Status      string  `json:"status"`
	StartedAt   int64   `json:"startedAt"` // unix ms
	PlayerCode  string  `json:"playerCode"`
	GhostScore  float64 `json:"ghostScore"`
}

// Error is a player-visible failure with a wire code. The transport maps
// it to an error event; anything else is reported as EXECUTION_FAILED.
// Data carries optional extra wire fields such as cooldownRemaining.
type Error struct {
	Code    string
	Message string
	Data    map[string]interface{}
}

func (e *Error) Error() string {
	return e.Message
}

// Errf builds a typed wire error.
func Errf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wire error codes.
const (
	CodeAuthRequired      = "AUTH_REQUIRED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeMatchNotFound     = "MATCH_NOT_FOUND"
	CodeMatchNotActive    = "MATCH_NOT_ACTIVE"
	CodeInvalidMatchState = "INVALID_MATCH_STATE"
	CodeAlreadyInQueue    = "ALREADY_IN_QUEUE"
	CodeAlreadySubmitted  = "ALREADY_SUBMITTED"
	CodeInvalidData       = "INVALID_DATA"
	CodeCodeTooLong       = "CODE_TOO_LONG"
	CodeNoPowerUp         = "NO_POWERUP"
	CodeOnCooldown        = "ON_COOLDOWN"
	CodeActivationFailed  = "ACTIVATION_FAILED"
	CodeHintLimit         = "HINT_LIMIT_REACHED"
	CodeHintCooldown      = "HINT_COOLDOWN"
	CodeJudgingTimeout    = "JUDGING_TIMEOUT"
	CodeJudgingFailed     = "JUDGING_FAILED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeExecutionFailed   = "EXECUTION_FAILED"
	CodeRaceNotFound      = "RACE_NOT_FOUND"
	CodeInvalidType       = "INVALID_TYPE"
)
