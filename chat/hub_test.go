// kapchan/chat/hub_test.go
package chat

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub([]string{"yleinen", "aihevapaa"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func recv(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a hub event")
		return nil
	}
}

func TestHubConnectAnnouncesJoin(t *testing.T) {
	hub := testHub(t)

	out1 := make(chan []byte, 8)
	id1 := hub.Connect("alice", out1)
	assert.NotZero(t, id1)

	var joined Message
	assert.NoError(t, json.Unmarshal(recv(t, out1), &joined))
	assert.Equal(t, EventUserJoined, joined.Event)
	assert.Equal(t, "alice", joined.Username)

	out2 := make(chan []byte, 8)
	id2 := hub.Connect("bob", out2)
	assert.NotEqual(t, id1, id2)

	// Both sessions see bob arrive.
	assert.NoError(t, json.Unmarshal(recv(t, out1), &joined))
	assert.Equal(t, "bob", joined.Username)
	assert.NoError(t, json.Unmarshal(recv(t, out2), &joined))
	assert.Equal(t, "bob", joined.Username)
}

func TestHubDisconnectAnnouncesLeave(t *testing.T) {
	hub := testHub(t)

	out1 := make(chan []byte, 8)
	id1 := hub.Connect("alice", out1)
	recv(t, out1) // own join

	out2 := make(chan []byte, 8)
	hub.Connect("bob", out2)
	recv(t, out1) // bob's join
	recv(t, out2)

	hub.Disconnect(id1)
	var left Message
	assert.NoError(t, json.Unmarshal(recv(t, out2), &left))
	assert.Equal(t, EventUserLeft, left.Event)
	assert.Equal(t, "alice", left.Username)

	assert.Equal(t, []string{"bob"}, hub.Users())
}

func TestHubRoomsAndUsers(t *testing.T) {
	hub := testHub(t)
	assert.Equal(t, []string{"yleinen", "aihevapaa"}, hub.Rooms())
	assert.Empty(t, hub.Users())

	out := make(chan []byte, 8)
	hub.Connect("alice", out)
	assert.Equal(t, []string{"alice"}, hub.Users())
}

func TestHubBroadcastReachesEveryone(t *testing.T) {
	hub := testHub(t)

	out1 := make(chan []byte, 8)
	hub.Connect("alice", out1)
	recv(t, out1)
	out2 := make(chan []byte, 8)
	hub.Connect("bob", out2)
	recv(t, out1)
	recv(t, out2)

	payload := marshalEvent(Message{Event: EventNewMessage, Username: "alice", Message: "moi", Room: "yleinen"})
	hub.Broadcast(payload)

	for _, out := range []chan []byte{out1, out2} {
		var msg Message
		assert.NoError(t, json.Unmarshal(recv(t, out), &msg))
		assert.Equal(t, EventNewMessage, msg.Event)
		assert.Equal(t, "moi", msg.Message)
		assert.Equal(t, "yleinen", msg.Room)
	}
}

func TestHubStopThenSessionTeardown(t *testing.T) {
	hub := testHub(t)

	out := make(chan []byte, 8)
	id := hub.Connect("alice", out)
	assert.NotZero(t, id)
	recv(t, out) // own join

	hub.Stop()

	// Hijacked websocket connections outlive server shutdown, so
	// sessions may still call into the hub after Stop. None of these
	// may panic or block.
	hub.Disconnect(id)
	hub.Broadcast([]byte(`{"event":3}`))
	assert.Zero(t, hub.Connect("late", make(chan []byte, 1)))
	assert.Nil(t, hub.Users())
	assert.Nil(t, hub.Rooms())

	// Stop stays idempotent.
	hub.Stop()
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	hub := testHub(t)

	full := make(chan []byte) // unbuffered and never drained
	hub.Connect("stuck", full)

	healthy := make(chan []byte, 8)
	hub.Connect("alice", healthy)
	recv(t, healthy) // own join

	// The stuck session must not block delivery to the healthy one.
	hub.Broadcast([]byte(`{"event":3}`))
	var msg Message
	assert.NoError(t, json.Unmarshal(recv(t, healthy), &msg))
	assert.Equal(t, EventNewMessage, msg.Event)
}
