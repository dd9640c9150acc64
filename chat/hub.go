// kapchan/chat/hub.go
//
// Package chat is the websocket chat subsystem. The Hub is a single
// actor goroutine owning all session and room state; everything else
// talks to it through its command channel.
package chat

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"sync"
)

// Wire opcodes shared by inbound commands and outbound events.
const (
	EventUnknownCommand uint8 = 0
	EventUserJoined     uint8 = 1
	EventUserLeft       uint8 = 2
	EventNewMessage     uint8 = 3
	EventListUsersReply uint8 = 4
	EventListRoomsReply uint8 = 5
)

// ListReply is the outbound shape for user/room listings.
type ListReply struct {
	Event uint8    `json:"event"`
	Data  []string `json:"data"`
}

// Message is the outbound shape for chat messages and presence events.
type Message struct {
	Event    uint8  `json:"event"`
	Username string `json:"username"`
	Message  string `json:"message,omitempty"`
	Room     string `json:"room,omitempty"`
}

// Commands accepted by the hub actor. Each querying command carries a
// one-shot reply channel.
type command interface{ isCommand() }

type connectCmd struct {
	username string
	out      chan []byte
	reply    chan uint64
}

type disconnectCmd struct{ connID uint64 }

type listRoomsCmd struct{ reply chan []string }

type listUsersCmd struct{ reply chan []string }

type broadcastCmd struct{ payload []byte }

func (connectCmd) isCommand()    {}
func (disconnectCmd) isCommand() {}
func (listRoomsCmd) isCommand()  {}
func (listUsersCmd) isCommand()  {}
func (broadcastCmd) isCommand()  {}

// Hub fans chat events out to every connected session. State is owned
// exclusively by Run; after Stop the public methods become no-ops, so
// sessions that outlive the server shutdown tear down safely.
type Hub struct {
	commands chan command
	rooms    []string
	logger   *slog.Logger
	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
}

// NewHub creates a hub serving the given room list.
func NewHub(rooms []string, logger *slog.Logger) *Hub {
	return &Hub{
		commands: make(chan command, 64),
		rooms:    rooms,
		logger:   logger,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run processes commands until Stop. Call it in its own goroutine.
func (h *Hub) Run() {
	sessions := make(map[uint64]chan []byte)
	users := make(map[uint64]string)
	defer close(h.done)

	for {
		var cmd command
		select {
		case <-h.quit:
			return
		case cmd = <-h.commands:
		}

		switch c := cmd.(type) {
		case connectCmd:
			id := newConnID(sessions)
			sessions[id] = c.out
			users[id] = c.username
			c.reply <- id
			h.fanOut(sessions, marshalEvent(Message{Event: EventUserJoined, Username: c.username}))
			h.logger.Info("Chat session connected", "conn_id", id, "username", c.username)

		case disconnectCmd:
			username, ok := users[c.connID]
			if !ok {
				continue
			}
			delete(sessions, c.connID)
			delete(users, c.connID)
			h.fanOut(sessions, marshalEvent(Message{Event: EventUserLeft, Username: username}))
			h.logger.Info("Chat session disconnected", "conn_id", c.connID, "username", username)

		case listRoomsCmd:
			c.reply <- append([]string(nil), h.rooms...)

		case listUsersCmd:
			names := make([]string, 0, len(users))
			for _, name := range users {
				names = append(names, name)
			}
			c.reply <- names

		case broadcastCmd:
			h.fanOut(sessions, c.payload)
		}
	}
}

// Stop signals Run to exit and waits for it. The command channel is
// never closed, so sessions dying after shutdown cannot panic the hub.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	<-h.done
}

// submit enqueues a command unless the hub has stopped.
func (h *Hub) submit(cmd command) bool {
	select {
	case <-h.quit:
		return false
	default:
	}
	select {
	case h.commands <- cmd:
		return true
	case <-h.quit:
		return false
	}
}

// Connect registers a session's outbound queue and returns its conn
// id, or zero when the hub has already stopped.
func (h *Hub) Connect(username string, out chan []byte) uint64 {
	reply := make(chan uint64, 1)
	if !h.submit(connectCmd{username: username, out: out, reply: reply}) {
		return 0
	}
	select {
	case id := <-reply:
		return id
	case <-h.done:
		return 0
	}
}

// Disconnect removes a session and announces its departure.
func (h *Hub) Disconnect(connID uint64) {
	h.submit(disconnectCmd{connID: connID})
}

// Rooms returns the configured room names.
func (h *Hub) Rooms() []string {
	reply := make(chan []string, 1)
	if !h.submit(listRoomsCmd{reply: reply}) {
		return nil
	}
	select {
	case rooms := <-reply:
		return rooms
	case <-h.done:
		return nil
	}
}

// Users returns the display names of all connected sessions.
func (h *Hub) Users() []string {
	reply := make(chan []string, 1)
	if !h.submit(listUsersCmd{reply: reply}) {
		return nil
	}
	select {
	case names := <-reply:
		return names
	case <-h.done:
		return nil
	}
}

// Broadcast sends a payload to every connected session.
func (h *Hub) Broadcast(payload []byte) {
	h.submit(broadcastCmd{payload: payload})
}

// fanOut delivers to every session queue, dropping for sessions whose
// queue is full rather than blocking the actor.
func (h *Hub) fanOut(sessions map[uint64]chan []byte, payload []byte) {
	if payload == nil {
		return
	}
	for id, out := range sessions {
		select {
		case out <- payload:
		default:
			h.logger.Warn("Chat session queue full, dropping event", "conn_id", id)
		}
	}
}

func marshalEvent(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// newConnID draws random 64-bit ids until one is free.
func newConnID(sessions map[uint64]chan []byte) uint64 {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			continue
		}
		id := binary.BigEndian.Uint64(buf[:])
		if id == 0 {
			continue
		}
		if _, taken := sessions[id]; !taken {
			return id
		}
	}
}
