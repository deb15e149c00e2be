package ws

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/codeclash/backend/internal/metrics"
)

// Hub maintains the set of active connections, the player session
// directory, and the named multicast rooms.
type Hub struct {
	clients    map[string]*Client            // connectionID -> Client
	players    map[string]*Client            // playerID -> Client (at most one live session per player)
	rooms      map[string]map[string]*Client // room label -> connectionID -> Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		players:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes connection registration and teardown.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.connID] = client
			h.mu.Unlock()
			metrics.ActiveConnections.Inc()

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// BindPlayer installs the playerId -> connection binding, evicting any
// prior connection for the same player. The evicted socket is told it was
// replaced and closed; its pending unregister is ignored by the identity
// check in removeClient.
func (h *Hub) BindPlayer(client *Client) {
	h.mu.Lock()
	if oldClient, exists := h.players[client.playerID]; exists && oldClient != client {
		log.Printf("[WS] Player %s rebinding - closing old connection %s", client.playerID, oldClient.connID)
		if err := oldClient.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced by new connection"), time.Now().Add(5*time.Second)); err != nil {
			log.Printf("[WS] Error writing close control to old client %s: %v", oldClient.playerID, err)
		}
		oldClient.conn.Close()
		h.leaveAllRoomsLocked(oldClient)
		delete(h.clients, oldClient.connID)
		select {
		case <-oldClient.send:
		default:
			close(oldClient.send)
		}
	}
	h.players[client.playerID] = client
	h.mu.Unlock()

	client.sessionVersion = bumpSessionVersion(client.playerID)
	mirrorSession(client.playerID, client.connID)

	log.Printf("[WS] Player %s bound to connection %s", client.playerID, client.connID)
}

// removeClient tears down a connection. Downstream cleanup (queue removal,
// race abandonment) is deferred to the disconnect grace sweep so a quick
// reconnect preserves the player's state.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.connID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.connID)
	h.leaveAllRoomsLocked(client)

	wasCurrent := false
	if client.playerID != "" {
		if cur, ok := h.players[client.playerID]; ok && cur == client {
			delete(h.players, client.playerID)
			wasCurrent = true
		}
	}
	select {
	case <-client.send:
	default:
		close(client.send)
	}
	h.mu.Unlock()
	metrics.ActiveConnections.Dec()

	if wasCurrent {
		log.Printf("[WS] Player %s disconnected (connection %s)", client.playerID, client.connID)
		scheduleGraceCleanup(client.playerID, client.sessionVersion)
	}
}

// Lookup returns the live connection id for a player, if any.
func (h *Hub) Lookup(playerID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if client, ok := h.players[playerID]; ok {
		return client.connID, true
	}
	return "", false
}

// IsConnected reports whether the player currently has a bound session.
func (h *Hub) IsConnected(playerID string) bool {
	_, ok := h.Lookup(playerID)
	return ok
}

// JoinRoom adds a connection to a named room.
func (h *Hub) JoinRoom(room string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.rooms[room]; !exists {
		h.rooms[room] = make(map[string]*Client)
	}
	h.rooms[room][client.connID] = client
	client.rooms[room] = true
}

// LeaveRoom removes a connection from a named room.
func (h *Hub) LeaveRoom(room string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(room, client)
}

func (h *Hub) leaveRoomLocked(room string, client *Client) {
	if members, exists := h.rooms[room]; exists {
		delete(members, client.connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(client.rooms, room)
}

func (h *Hub) leaveAllRoomsLocked(client *Client) {
	for room := range client.rooms {
		h.leaveRoomLocked(room, client)
	}
}

// RoomSize returns the number of connections in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// JoinPlayerToRoom adds a player's current session to a room, if connected.
func (h *Hub) JoinPlayerToRoom(playerID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.players[playerID]
	if !ok {
		return
	}
	if _, exists := h.rooms[room]; !exists {
		h.rooms[room] = make(map[string]*Client)
	}
	h.rooms[room][client.connID] = client
	client.rooms[room] = true
}

// RemovePlayerFromRoom removes a player's current session from a room.
func (h *Hub) RemovePlayerFromRoom(playerID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.players[playerID]; ok {
		h.leaveRoomLocked(room, client)
	}
}

// BroadcastExceptPlayer sends an event to a room excluding the given
// player's connection.
func (h *Hub) BroadcastExceptPlayer(room, playerID, event string, payload interface{}) {
	h.mu.RLock()
	exceptConnID := ""
	if client, ok := h.players[playerID]; ok {
		exceptConnID = client.connID
	}
	h.mu.RUnlock()
	h.BroadcastExcept(room, exceptConnID, event, payload)
}

// Broadcast sends an event to every connection in a room and relays it to
// sibling instances.
func (h *Hub) Broadcast(room, event string, payload interface{}) {
	h.broadcastLocal(room, "", event, payload)
	publishRelay(relayEnvelope{Kind: "room", Target: room, Event: event, Payload: payload})
}

// BroadcastExcept sends an event to every connection in a room except one.
func (h *Hub) BroadcastExcept(room, exceptConnID, event string, payload interface{}) {
	h.broadcastLocal(room, exceptConnID, event, payload)
	publishRelay(relayEnvelope{Kind: "room", Target: room, ExceptConn: exceptConnID, Event: event, Payload: payload})
}

// SendToPlayer sends an event to a player's current session, relaying in
// case the player is bound on a sibling instance.
func (h *Hub) SendToPlayer(playerID, event string, payload interface{}) {
	delivered := h.sendToPlayerLocal(playerID, event, payload)
	if !delivered {
		publishRelay(relayEnvelope{Kind: "player", Target: playerID, Event: event, Payload: payload})
	}
}

func (h *Hub) broadcastLocal(room, exceptConnID, event string, payload interface{}) {
	data, err := newEvent(event, payload)
	if err != nil {
		log.Printf("[WS] Error marshaling %s event: %v", event, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if members, exists := h.rooms[room]; exists {
		for connID, client := range members {
			if connID == exceptConnID {
				continue
			}
			select {
			case client.send <- data:
			default:
				// Client's buffer is full
				metrics.EventsDropped.WithLabelValues("buffer_full").Inc()
				log.Printf("[WS] Send buffer full for player %s in room %s, dropping %s", client.playerID, room, event)
			}
		}
	}
}

func (h *Hub) sendToPlayerLocal(playerID, event string, payload interface{}) bool {
	data, err := newEvent(event, payload)
	if err != nil {
		log.Printf("[WS] Error marshaling %s event: %v", event, err)
		return true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	client, exists := h.players[playerID]
	if !exists {
		return false
	}
	select {
	case client.send <- data:
	default:
		metrics.EventsDropped.WithLabelValues("buffer_full").Inc()
		log.Printf("[WS] SendToPlayer dropped %s for player %s (buffer full)", event, playerID)
	}
	return true
}

// bumpSessionVersion increments the per-player session version token used
// to decide the rebind-vs-cleanup race for the disconnect grace window.
func bumpSessionVersion(playerID string) int64 {
	if rdbClient == nil {
		return 0
	}
	ctx := context.Background()
	version, err := rdbClient.Incr(ctx, "session:version:"+playerID).Result()
	if err != nil {
		log.Printf("[WS] Failed to bump session version for %s: %v", playerID, err)
		return 0
	}
	return version
}

// mirrorSession records the instance holding the player's session.
func mirrorSession(playerID, connID string) {
	if rdbClient == nil {
		return
	}
	ctx := context.Background()
	if err := rdbClient.Set(ctx, "session:"+playerID, instanceID+":"+connID, 2*time.Hour).Err(); err != nil {
		log.Printf("[WS] Failed to mirror session for %s: %v", playerID, err)
	}
}

// scheduleGraceCleanup enqueues the player on the disconnect grace ZSet.
// The sweep performs downstream cleanup only if the session version is
// unchanged (no rebind happened within the window).
func scheduleGraceCleanup(playerID string, version int64) {
	if rdbClient == nil || wsConfig == nil {
		return
	}
	ctx := context.Background()
	deadline := time.Now().Add(time.Duration(wsConfig.DisconnectGracePeriodSecs) * time.Second)
	member := fmt.Sprintf("%s:%d", playerID, version)
	if err := rdbClient.ZAdd(ctx, "disconnect:grace", redis.Z{Score: float64(deadline.UnixMilli()), Member: member}).Err(); err != nil {
		log.Printf("[WS] Failed to schedule grace cleanup for %s: %v", playerID, err)
		return
	}
	rdbClient.Del(ctx, "session:"+playerID)
}
