package ws

import (
	"encoding/json"
	"testing"
)

func newTestClient(playerID string) *Client {
	return &Client{
		connID:   playerID + "-conn",
		playerID: playerID,
		send:     make(chan []byte, 8),
		rooms:    make(map[string]bool),
	}
}

// bindTestClient installs a client the way Run plus BindPlayer would,
// without needing a live socket.
func bindTestClient(h *Hub, c *Client) {
	h.mu.Lock()
	h.clients[c.connID] = c
	h.players[c.playerID] = c
	h.mu.Unlock()
}

func receiveEnvelope(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case data := <-c.send:
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		return env
	default:
		t.Fatalf("no message queued for %s", c.playerID)
		return Envelope{}
	}
}

func TestBroadcastReachesRoomMembers(t *testing.T) {
	h := NewHub()
	a := newTestClient("a")
	b := newTestClient("b")
	bindTestClient(h, a)
	bindTestClient(h, b)
	h.JoinRoom("match:m1", a)
	h.JoinRoom("match:m1", b)

	h.Broadcast("match:m1", "match_started", map[string]string{"matchId": "m1"})

	for _, c := range []*Client{a, b} {
		env := receiveEnvelope(t, c)
		if env.Event != "match_started" {
			t.Errorf("%s got event %q", c.playerID, env.Event)
		}
	}
}

func TestBroadcastExceptPlayerSkipsSender(t *testing.T) {
	h := NewHub()
	a := newTestClient("a")
	b := newTestClient("b")
	bindTestClient(h, a)
	bindTestClient(h, b)
	h.JoinRoom("match:m1", a)
	h.JoinRoom("match:m1", b)

	h.BroadcastExceptPlayer("match:m1", "a", "opponent_code_updated", nil)

	if len(a.send) != 0 {
		t.Error("sender should not receive its own update")
	}
	env := receiveEnvelope(t, b)
	if env.Event != "opponent_code_updated" {
		t.Errorf("b got event %q", env.Event)
	}
}

func TestSendToPlayer(t *testing.T) {
	h := NewHub()
	a := newTestClient("a")
	bindTestClient(h, a)

	h.SendToPlayer("a", "hint_response", map[string]string{"hint": "loop it"})

	env := receiveEnvelope(t, a)
	if env.Event != "hint_response" {
		t.Errorf("event = %q", env.Event)
	}
	var payload map[string]string
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["hint"] != "loop it" {
		t.Errorf("payload = %v", payload)
	}
}

func TestSendToPlayerDropsWhenBufferFull(t *testing.T) {
	h := NewHub()
	a := newTestClient("a")
	a.send = make(chan []byte, 1)
	bindTestClient(h, a)

	// The second send must not block the hub.
	h.SendToPlayer("a", "timer_sync", nil)
	h.SendToPlayer("a", "timer_sync", nil)

	if len(a.send) != 1 {
		t.Errorf("queued = %d, want 1", len(a.send))
	}
}

func TestLeaveRoomDropsEmptyRooms(t *testing.T) {
	h := NewHub()
	a := newTestClient("a")
	bindTestClient(h, a)
	h.JoinRoom("match:m1", a)

	if got := h.RoomSize("match:m1"); got != 1 {
		t.Fatalf("room size = %d, want 1", got)
	}
	h.LeaveRoom("match:m1", a)
	if got := h.RoomSize("match:m1"); got != 0 {
		t.Errorf("room size after leave = %d, want 0", got)
	}
	if a.rooms["match:m1"] {
		t.Error("client should forget the room")
	}
}

func TestJoinPlayerToRoomRequiresBinding(t *testing.T) {
	h := NewHub()

	// Unknown player: no room should appear.
	h.JoinPlayerToRoom("nobody", "match:m1")
	if got := h.RoomSize("match:m1"); got != 0 {
		t.Errorf("room size = %d, want 0", got)
	}

	a := newTestClient("a")
	bindTestClient(h, a)
	h.JoinPlayerToRoom("a", "match:m1")
	if got := h.RoomSize("match:m1"); got != 1 {
		t.Errorf("room size = %d, want 1", got)
	}
	h.RemovePlayerFromRoom("a", "match:m1")
	if got := h.RoomSize("match:m1"); got != 0 {
		t.Errorf("room size after removal = %d, want 0", got)
	}
}

func TestRemoveClientUnbindsAndLeavesRooms(t *testing.T) {
	h := NewHub()
	a := newTestClient("a")
	bindTestClient(h, a)
	h.JoinRoom("match:m1", a)

	h.removeClient(a)

	if h.IsConnected("a") {
		t.Error("player should be unbound after removal")
	}
	if got := h.RoomSize("match:m1"); got != 0 {
		t.Errorf("room size = %d, want 0", got)
	}
	// A duplicate unregister for the same connection is a no-op.
	h.removeClient(a)
}

func TestRemoveClientKeepsNewerBinding(t *testing.T) {
	h := NewHub()
	old := newTestClient("a")
	bindTestClient(h, old)

	// The player rebinds on a new connection; the stale one unregisters.
	fresh := &Client{connID: "a-conn-2", playerID: "a", send: make(chan []byte, 8), rooms: make(map[string]bool)}
	bindTestClient(h, fresh)

	h.removeClient(old)

	if !h.IsConnected("a") {
		t.Error("newer binding should survive the old connection's teardown")
	}
	if id, _ := h.Lookup("a"); id != "a-conn-2" {
		t.Errorf("bound connection = %q, want a-conn-2", id)
	}
}

func TestNewEventEnvelope(t *testing.T) {
	data, err := newEvent("match_completed", map[string]int{"score": 900})
	if err != nil {
		t.Fatalf("newEvent: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Event != "match_completed" {
		t.Errorf("event = %q", env.Event)
	}

	// Nil payloads omit the field entirely.
	data, err = newEvent("pong", nil)
	if err != nil {
		t.Fatalf("newEvent: %v", err)
	}
	if string(data) != `{"event":"pong"}` {
		t.Errorf("envelope = %s", data)
	}
}
