package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/codeclash/backend/internal/auth"
	"github.com/codeclash/backend/internal/game"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin is validated by the upgrade middleware
	},
}

// Client represents a connected WebSocket client
type Client struct {
	conn           *websocket.Conn
	connID         string
	playerID       string
	username       string
	sessionVersion int64
	send           chan []byte
	rooms          map[string]bool // guarded by the hub mutex

	codeLimiter *rate.Limiter
	chatLimiter *rate.Limiter
}

// GameHub is the single hub for all connections.
var GameHub *Hub

func init() {
	GameHub = NewHub()
	go GameHub.Run()
}

// HandleWebSocket upgrades the connection and binds the session when a
// token is presented at connect time. Clients without a token must send
// an authenticate event before anything else.
func HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	client := &Client{
		conn:        conn,
		connID:      uuid.NewString(),
		send:        make(chan []byte, 256),
		rooms:       make(map[string]bool),
		codeLimiter: newCodeLimiter(),
		chatLimiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}

	GameHub.register <- client

	go client.writePump()
	go client.readPump()

	if token := c.Query("token"); token != "" {
		client.authenticate(token)
	}
}

func newCodeLimiter() *rate.Limiter {
	intervalMs := 100
	if wsConfig != nil && wsConfig.CodeUpdateIntervalMs > 0 {
		intervalMs = wsConfig.CodeUpdateIntervalMs
	}
	return rate.NewLimiter(rate.Every(time.Duration(intervalMs)*time.Millisecond), 1)
}

// authenticate verifies a token and binds the session directory entry.
func (c *Client) authenticate(token string) {
	if wsConfig == nil {
		c.sendError("AUTH_REQUIRED", "authentication unavailable")
		return
	}
	claims, err := auth.VerifyToken(wsConfig, token)
	if err != nil {
		c.sendError("AUTH_REQUIRED", "invalid or expired token")
		return
	}

	c.playerID = claims.PlayerID
	c.username = claims.Username
	GameHub.BindPlayer(c)

	c.sendEvent("authenticated", map[string]interface{}{
		"playerId": c.playerID,
		"username": c.username,
	})

	game.Manager.HandleReconnect(c.playerID)
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Channel closed: the connection is being replaced or cleaned up.
				// Best-effort close frame; ignore errors (conn may already be closed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] Write error for player %s: %v", c.playerID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[WS] Ping error for player %s: %v", c.playerID, err)
				return
			}
		}
	}
}

// readPump reads inbound envelopes and dispatches them.
func (c *Client) readPump() {
	defer func() {
		GameHub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error (unexpected) for player %s: %v", c.playerID, err)
			}
			break
		}

		var msg Envelope
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("INVALID_DATA", "malformed message")
			continue
		}

		c.handleEvent(msg)
	}
}

// handleEvent dispatches one inbound event to the match orchestrator.
func (c *Client) handleEvent(msg Envelope) {
	if msg.Event == "ping" {
		c.sendEvent("pong", nil)
		return
	}

	if msg.Event == "authenticate" {
		var data AuthenticatePayload
		if err := json.Unmarshal(msg.Payload, &data); err != nil || data.Token == "" {
			c.sendError("INVALID_DATA", "token required")
			return
		}
		c.authenticate(data.Token)
		return
	}

	if c.playerID == "" {
		c.sendError("AUTH_REQUIRED", "authenticate before sending events")
		return
	}

	var err error

	switch msg.Event {
	case "join_queue":
		var data JoinQueuePayload
		if err = json.Unmarshal(msg.Payload, &data); err == nil {
			err = game.Manager.JoinQueue(c.playerID, c.username, data.Difficulty, data.Language)
		}

	case "leave_queue":
		err = game.Manager.LeaveQueue(c.playerID)

	case "join_lobby":
		var data MatchPayload
		if err = json.Unmarshal(msg.Payload, &data); err == nil {
			err = game.Manager.JoinLobby(c.playerID, data.MatchID)
		}

	case "ready_up":
		var data MatchPayload
		if err = json.Unmarshal(msg.Payload, &data); err == nil {
			err = game.Manager.ReadyUp(c.playerID, data.MatchID)
		}

	case "code_update":
		// Throttled edge: excess snapshots are dropped silently, the next
		// accepted one carries the full state anyway.
		if !c.codeLimiter.Allow() {
			return
		}
		var data CodeUpdatePayload
		if err = json.Unmarshal(msg.Payload, &data); err == nil {
			err = game.Manager.CodeUpdate(c.playerID, data.MatchID, data.Code, data.Cursor.Line, data.Cursor.Column)
		}

	case "cursor_move":
		// Shares the code_update throttle; cursor spam is the same firehose.
		if !c.codeLimiter.Allow() {
			return
		}
		var data CursorMovePayload
		if err = json.Unmarshal(msg.Payload, &data); err == nil {
			err = game.Manager.CursorMove(c.playerID, data.MatchID, data.Cursor.Line, data.Cursor.Column)
		}

	case "run_code":
		var data RunCodePayload
		if err = json.Unmarshal(msg.Payload, &data); err == nil {
			err = game.Manager.RunCode(c.playerID, data.MatchID, data.Code)
		}

	case "submit_solution":
		var data SubmitSolutionPayload
		if err = json.Unmarshal(msg.Payload, &data); err == nil {
			err = game.Manager.SubmitSolution(c.playerID, data.MatchID, data.Code)
		}

	case "request_hint":
		var data RequestHintPayload
		if err = json.Unmarshal(msg.Payload, &data); err == nil {
			err = game.Manager.RequestHint(c.playerID, data.MatchID, data.CurrentCode, data.Language)
		}

	case "activate_powerup":
		var data ActivatePowerUpPayload
		if err = json.Unmarshal(msg.Payload, &data); err == nil {
			err = game.Manager.ActivatePowerUp(c.playerID, data.MatchID, data.PowerUpType)
		}

	case "join_spectate":
		var data MatchPayload
		if err = json.Unmarshal(msg.Payload, &data); err == nil {
			err = game.Manager.JoinSpectate(c.playerID, c.username, data.MatchID)
		}

	case "spectator_message", "spectator_reaction":
		var data SpectatorMessagePayload
		if err = json.Unmarshal(msg.Payload, &data); err == nil {
			c.relaySpectator(msg.Event, data)
		}

	case "join_ghost_race":
		var data JoinGhostRacePayload
		if err = json.Unmarshal(msg.Payload, &data); err == nil {
			err = game.Manager.JoinGhostRace(c.playerID, c.username, data.ChallengeID, data.GhostID)
		}

	case "ghost_race_code":
		var data GhostRaceCodePayload
		if err = json.Unmarshal(msg.Payload, &data); err == nil {
			err = game.Manager.GhostRaceCode(c.playerID, data.RaceID, data.Code)
		}

	case "submit_ghost_race":
		var data GhostRaceCodePayload
		if err = json.Unmarshal(msg.Payload, &data); err == nil {
			err = game.Manager.SubmitGhostRace(c.playerID, data.RaceID, data.Code)
		}

	default:
		c.sendError("INVALID_TYPE", "unknown event: "+msg.Event)
		return
	}

	if err != nil {
		if ge, ok := err.(*game.Error); ok {
			c.sendError(ge.Code, ge.Message)
		} else {
			log.Printf("[WS] %s failed for player %s: %v", msg.Event, c.playerID, err)
			c.sendError("EXECUTION_FAILED", "internal error")
		}
	}
}

// relaySpectator fans a chat message or reaction to the spectator room.
func (c *Client) relaySpectator(event string, data SpectatorMessagePayload) {
	if !c.chatLimiter.Allow() {
		c.sendError("RATE_LIMITED", "slow down")
		return
	}
	if data.MatchID == "" {
		c.sendError("INVALID_DATA", "matchId required")
		return
	}

	GameHub.Broadcast(game.SpectatorRoom(data.MatchID), event, map[string]interface{}{
		"playerId":  c.playerID,
		"username":  c.username,
		"message":   data.Message,
		"emoji":     data.Emoji,
		"timestamp": time.Now().UnixMilli(),
	})
}

// sendEvent queues an event on this connection.
func (c *Client) sendEvent(event string, payload interface{}) {
	data, err := newEvent(event, payload)
	if err != nil {
		log.Printf("[WS] Error marshaling %s event: %v", event, err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("[WS] Send buffer full for player %s, dropping %s", c.playerID, event)
	}
}

// sendError sends a typed error event to the client
func (c *Client) sendError(code, message string) {
	c.sendEvent("error", ErrorPayload{Code: code, Message: message})
}
