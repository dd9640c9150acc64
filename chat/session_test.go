// kapchan/chat/session_test.go
package chat

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestSession(t *testing.T, hub *Hub, username string) *websocket.Conn {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go NewSession(hub, conn, username, logger).Run()
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return data
}

func TestSessionMessageRoundTrip(t *testing.T) {
	hub := testHub(t)
	conn := dialTestSession(t, hub, "alice")

	var joined Message
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &joined))
	assert.Equal(t, EventUserJoined, joined.Event)
	assert.Equal(t, "alice", joined.Username)

	require.NoError(t, conn.WriteJSON(ClientFrame{Event: EventNewMessage, Message: "moi kaikki", Room: "yleinen"}))

	var msg Message
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &msg))
	assert.Equal(t, EventNewMessage, msg.Event)
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, "moi kaikki", msg.Message)
	assert.Equal(t, "yleinen", msg.Room)
}

func TestSessionAcceptsLargeMessage(t *testing.T) {
	hub := testHub(t)
	conn := dialTestSession(t, hub, "alice")
	readFrame(t, conn) // own join

	// Well past a single 128 KiB frame; the read limit covers the
	// reassembled message, not one frame.
	text := strings.Repeat("k", 200*1024)
	require.NoError(t, conn.WriteJSON(ClientFrame{Event: EventNewMessage, Message: text, Room: "yleinen"}))

	var msg Message
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &msg))
	assert.Equal(t, EventNewMessage, msg.Event)
	assert.Equal(t, text, msg.Message)
}

func TestSessionListRooms(t *testing.T) {
	hub := testHub(t)
	conn := dialTestSession(t, hub, "alice")
	readFrame(t, conn) // own join

	require.NoError(t, conn.WriteJSON(ClientFrame{Event: EventListRoomsReply}))

	var reply ListReply
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &reply))
	assert.Equal(t, EventListRoomsReply, reply.Event)
	assert.Equal(t, []string{"yleinen", "aihevapaa"}, reply.Data)
}

func TestSessionUnknownCommand(t *testing.T) {
	hub := testHub(t)
	conn := dialTestSession(t, hub, "alice")
	readFrame(t, conn) // own join

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("this is not json")))
	assert.Equal(t, "unknown command!", string(readFrame(t, conn)))

	require.NoError(t, conn.WriteJSON(ClientFrame{Event: 99}))
	assert.Equal(t, "unknown command!", string(readFrame(t, conn)))
}
