package ws

import "encoding/json"

// Envelope is the wire format for every message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server payloads

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type JoinQueuePayload struct {
	Difficulty string `json:"difficulty,omitempty"`
	Language   string `json:"language,omitempty"`
}

type MatchPayload struct {
	MatchID string `json:"matchId"`
}

type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type CodeUpdatePayload struct {
	MatchID string `json:"matchId"`
	Code    string `json:"code"`
	Cursor  Cursor `json:"cursor"`
}

type CursorMovePayload struct {
	MatchID string `json:"matchId"`
	Cursor  Cursor `json:"cursor"`
}

type RunCodePayload struct {
	MatchID string `json:"matchId"`
	Code    string `json:"code"`
}

type SubmitSolutionPayload struct {
	MatchID string `json:"matchId"`
	Code    string `json:"code"`
}

type RequestHintPayload struct {
	MatchID     string `json:"matchId"`
	CurrentCode string `json:"currentCode"`
	Language    string `json:"language"`
}

type ActivatePowerUpPayload struct {
	MatchID     string `json:"matchId"`
	PowerUpType string `json:"powerUpType"`
}

type SpectatorMessagePayload struct {
	MatchID string `json:"matchId"`
	Message string `json:"message,omitempty"`
	Emoji   string `json:"emoji,omitempty"`
}

type JoinGhostRacePayload struct {
	ChallengeID string `json:"challengeId"`
	GhostID     string `json:"ghostId,omitempty"`
}

type GhostRaceCodePayload struct {
	RaceID string `json:"raceId"`
	Code   string `json:"code"`
}

// Server -> client error payload. Every player-visible failure uses this
// shape; Code is one of the wire error codes.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// newEvent marshals an envelope once for fan-out.
func newEvent(event string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}
