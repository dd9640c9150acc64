// kapchan/chat/session.go
package chat

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Disconnect when the peer shows no life within this window.
	pongWait = 10 * time.Second

	// Heartbeat period. Must be less than pongWait.
	pingPeriod = 5 * time.Second

	// Maximum reassembled inbound message size. Gorilla applies the
	// read limit to the whole message, continuation frames included.
	maxMessageSize = 2 << 20

	// Outbound queue depth per session.
	sendQueueSize = 64
)

var unknownCommandReply = []byte("unknown command!")

// ClientFrame is the inbound command shape.
type ClientFrame struct {
	Event   uint8  `json:"event"`
	Message string `json:"message"`
	Room    string `json:"room"`
}

// Session owns one websocket connection: an inbound dispatch loop and
// an outbound drain loop with heartbeats.
type Session struct {
	hub      *Hub
	conn     *websocket.Conn
	username string
	send     chan []byte
	logger   *slog.Logger
}

// NewSession wraps an upgraded connection. Run starts the pumps.
func NewSession(hub *Hub, conn *websocket.Conn, username string, logger *slog.Logger) *Session {
	return &Session{
		hub:      hub,
		conn:     conn,
		username: username,
		send:     make(chan []byte, sendQueueSize),
		logger:   logger,
	}
}

// Run registers with the hub and blocks until the connection dies.
func (s *Session) Run() {
	connID := s.hub.Connect(s.username, s.send)
	if connID == 0 {
		// Hub already stopped; the server is shutting down.
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("Failed to close chat connection", "error", err)
		}
		return
	}
	defer s.hub.Disconnect(connID)

	go s.writePump()
	s.readPump()
}

// readPump dispatches inbound frames until error or heartbeat timeout.
func (s *Session) readPump() {
	defer func() {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("Failed to close chat connection", "error", err)
		}
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Chat read error", "username", s.username, "error", err)
			}
			return
		}
		// Any inbound traffic counts as liveness.
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatch(data)
	}
}

// dispatch handles one inbound frame. Unknown or unparseable commands
// get a plain-text reply instead of killing the session.
func (s *Session) dispatch(data []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		frame.Event = EventUnknownCommand
	}

	switch frame.Event {
	case EventNewMessage:
		s.hub.Broadcast(marshalEvent(Message{
			Event:    EventNewMessage,
			Username: s.username,
			Message:  frame.Message,
			Room:     frame.Room,
		}))

	case EventListUsersReply:
		s.trySend(marshalEvent(ListReply{Event: EventListUsersReply, Data: s.hub.Users()}))

	case EventListRoomsReply:
		s.trySend(marshalEvent(ListReply{Event: EventListRoomsReply, Data: s.hub.Rooms()}))

	default:
		s.trySend(unknownCommandReply)
	}
}

// writePump drains the outbound queue and keeps the heartbeat going.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("Failed to close chat connection", "error", err)
		}
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) trySend(payload []byte) {
	select {
	case s.send <- payload:
	default:
		s.logger.Warn("Chat session send queue full, dropping reply", "username", s.username)
	}
}
