package devserver

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omochice/roomchat/pkg/protocol"
)

const outgoingBuffer = 256

// Client is one connected user.
type Client struct {
	User     protocol.User
	Conn     Conn
	Outgoing chan []byte

	rooms map[*Room]bool
}

// NewClient creates a client for an accepted connection.
func NewClient(conn Conn, user protocol.User) *Client {
	return &Client{
		User:     user,
		Conn:     conn,
		Outgoing: make(chan []byte, outgoingBuffer),
		rooms:    make(map[*Room]bool),
	}
}

// Room is a server-side room.
type Room struct {
	ID      string
	Name    string
	Private bool

	members map[*Client]bool
}

func (r *Room) ref() *protocol.RoomRef {
	return &protocol.RoomRef{ID: r.ID, Name: r.Name, Private: r.Private}
}

// serverFrame is the shape of every frame the server emits.
type serverFrame struct {
	Action  protocol.Action   `json:"action"`
	Message string            `json:"message"`
	Target  *protocol.RoomRef `json:"target,omitempty"`
	Sender  *protocol.User    `json:"sender,omitempty"`
}

// Hub tracks clients and rooms and routes frames between them.
type Hub struct {
	clients map[*Client]bool
	rooms   map[string]*Room
	closed  bool
	mu      sync.Mutex
	log     zerolog.Logger
}

// NewHub creates an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		rooms:   make(map[string]*Room),
		log:     log,
	}
}

// Register adds a client, announces it to everyone else and lists the users
// already online to the newcomer. It returns false once the hub has been shut down.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	joined := h.encode(serverFrame{Action: protocol.ActionUserJoin, Sender: userRef(c)})
	for other := range h.clients {
		h.enqueue(other, joined)
		h.enqueue(c, h.encode(serverFrame{Action: protocol.ActionUserJoin, Sender: userRef(other)}))
	}
	h.clients[c] = true
	h.log.Info().Str("user", c.User.Name).Str("id", c.User.ID).Str("addr", c.Conn.RemoteAddr()).Msg("client registered")
	return true
}

// Unregister removes a client from the hub and every room, announces the departure
// and closes its outgoing queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		delete(room.members, c)
	}
	c.rooms = map[*Room]bool{}

	left := h.encode(serverFrame{Action: protocol.ActionUserLeft, Sender: userRef(c)})
	for other := range h.clients {
		h.enqueue(other, left)
	}
	close(c.Outgoing)
	h.log.Info().Str("user", c.User.Name).Str("id", c.User.ID).Msg("client unregistered")
}

// Handle processes one frame received from c.
func (h *Hub) Handle(c *Client, data []byte) {
	var frame protocol.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.log.Warn().Err(err).Str("user", c.User.Name).Msg("failed to decode client frame")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[c] {
		return
	}

	switch frame.Action {
	case protocol.ActionSendMessage:
		h.sendMessage(c, frame)
	case protocol.ActionJoinRoom:
		h.joinRoom(c, frame.Message, nil)
	case protocol.ActionJoinRoomPrivate:
		h.joinPrivateRoom(c, frame.Message)
	case protocol.ActionLeaveRoom:
		h.leaveRoom(c, frame.Message)
	default:
		h.log.Debug().Str("action", frame.Action.String()).Msg("ignoring client action")
	}
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// RoomCount returns number of rooms ever created.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// CloseAll closes every client connection. Clients unregister as their read
// loops fail.
func (h *Hub) CloseAll() int {
	return h.closeAll(false)
}

// Shutdown closes every connection and refuses later registrations.
func (h *Hub) Shutdown() int {
	return h.closeAll(true)
}

func (h *Hub) closeAll(shutdown bool) int {
	h.mu.Lock()
	if shutdown {
		h.closed = true
	}
	conns := make([]Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.Conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return len(conns)
}

func (h *Hub) sendMessage(c *Client, frame protocol.Frame) {
	if frame.Target == nil {
		return
	}
	room := h.rooms[frame.Target.ID]
	if room == nil || !room.members[c] {
		h.log.Debug().Str("user", c.User.Name).Msg("message for a room the user is not in")
		return
	}

	data := h.encode(serverFrame{
		Action:  protocol.ActionSendMessage,
		Message: frame.Message,
		Target:  room.ref(),
		Sender:  userRef(c),
	})
	for member := range room.members {
		h.enqueue(member, data)
	}
}

// joinRoom adds c to the room called name, creating it when needed. peer is the
// other party of a private room and nil for public rooms.
func (h *Hub) joinRoom(c *Client, name string, peer *Client) {
	if name == "" {
		return
	}
	room := h.findRoomByName(name)
	if room == nil {
		room = &Room{
			ID:      uuid.NewString(),
			Name:    name,
			Private: peer != nil,
			members: make(map[*Client]bool),
		}
		h.rooms[room.ID] = room
	}

	// private rooms are only reachable through join-room-private
	if peer == nil && room.Private {
		return
	}
	if room.members[c] {
		return
	}
	room.members[c] = true
	c.rooms[room] = true

	joined := serverFrame{Action: protocol.ActionRoomJoined, Target: room.ref()}
	if peer != nil {
		joined.Sender = userRef(peer)
	}
	h.enqueue(c, h.encode(joined))
}

func (h *Hub) joinPrivateRoom(c *Client, peerID string) {
	peer := h.findClientByID(peerID)
	if peer == nil || peer == c {
		return
	}

	ids := []string{c.User.ID, peer.User.ID}
	sort.Strings(ids)
	name := ids[0] + ids[1]

	h.joinRoom(c, name, peer)
	h.joinRoom(peer, name, c)
}

func (h *Hub) leaveRoom(c *Client, roomID string) {
	room := h.rooms[roomID]
	if room == nil {
		return
	}
	delete(room.members, c)
	delete(c.rooms, room)
}

func (h *Hub) findRoomByName(name string) *Room {
	for _, room := range h.rooms {
		if room.Name == name {
			return room
		}
	}
	return nil
}

func (h *Hub) findClientByID(id string) *Client {
	for c := range h.clients {
		if c.User.ID == id {
			return c
		}
	}
	return nil
}

// enqueue must be called with mu held so it never races Unregister closing the queue.
func (h *Hub) enqueue(c *Client, data []byte) {
	if data == nil {
		return
	}
	select {
	case c.Outgoing <- data:
	default:
		h.log.Warn().Str("user", c.User.Name).Msg("client channel full, skipping")
	}
}

func (h *Hub) encode(f serverFrame) []byte {
	data, err := json.Marshal(f)
	if err != nil {
		h.log.Error().Err(err).Str("action", f.Action.String()).Msg("failed to encode frame")
		return nil
	}
	return data
}

func userRef(c *Client) *protocol.User {
	u := c.User
	return &u
}
