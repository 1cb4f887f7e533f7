// Package state holds the client's authoritative view of rooms, users and messages.
//
// Inbound events reach the Store only through Apply. Outbound user actions are methods
// on the Store: each encodes a frame, hands it to the Sender and applies its local
// effect according to protocol.PolicyFor. Readers get deep-copied snapshots.
package state

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/omochice/roomchat/pkg/protocol"
)

// Message is one chat line in a room. Immutable once appended.
type Message struct {
	Sender protocol.User
	Target protocol.RoomRef
	Body   string
}

// Room is a room the local user is in.
type Room struct {
	ID           string
	Name         string
	Private      bool
	Messages     []Message
	PendingInput string
}

// Ref returns the wire reference of the room.
func (r Room) Ref() protocol.RoomRef {
	return protocol.RoomRef{ID: r.ID, Name: r.Name, Private: r.Private}
}

// Snapshot is a read-only copy of the store.
type Snapshot struct {
	Self       protocol.User
	Rooms      []Room
	Users      []protocol.User
	RoomInput  string
	LoginError string
}

// Sender submits an encoded frame. It reports false when the frame was dropped.
type Sender interface {
	Send(frame []byte) bool
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(frame []byte) bool

// Send implements Sender.
func (f SenderFunc) Send(frame []byte) bool { return f(frame) }

// Store is safe for concurrent use. Subscribers see snapshots in the order the
// changes were made; see Subscribe.
type Store struct {
	sender Sender
	log    zerolog.Logger

	mu         sync.RWMutex
	self       protocol.User
	rooms      []*Room
	users      []protocol.User
	roomInput  string
	loginError string

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	// notifyMu is held across taking a snapshot and delivering it.
	notifyMu sync.Mutex
}

// New creates an empty store that sends through sender.
func New(sender Sender, log zerolog.Logger) *Store {
	return &Store{
		sender: sender,
		log:    log,
		subs:   make(map[int]func(Snapshot)),
	}
}

// Apply mutates the store for one inbound event.
func (s *Store) Apply(ev protocol.Event) {
	s.mu.Lock()
	changed := s.apply(ev)
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

func (s *Store) apply(ev protocol.Event) bool {
	switch ev := ev.(type) {
	case protocol.ChatMessage:
		room := s.findRoom(ev.Target.ID)
		if room == nil {
			s.log.Debug().Str("room", ev.Target.ID).Msg("message for unknown room")
			return false
		}
		room.Messages = append(room.Messages, Message{
			Sender: ev.Sender,
			Target: protocol.RoomRef{ID: ev.Target.ID, Name: ev.Target.Name},
			Body:   ev.Body,
		})
		return true

	case protocol.UserJoined:
		if s.findUser(ev.User.ID) >= 0 {
			return false
		}
		s.users = append(s.users, ev.User)
		return true

	case protocol.UserLeft:
		i := s.findUser(ev.UserID)
		if i < 0 {
			return false
		}
		s.users = append(s.users[:i], s.users[i+1:]...)
		return true

	case protocol.RoomJoined:
		if s.findRoom(ev.Room.ID) != nil {
			return false
		}
		name := ev.Room.Name
		if ev.Room.Private && ev.Sender != nil && ev.Sender.Name != "" {
			name = ev.Sender.Name
		}
		s.rooms = append(s.rooms, &Room{
			ID:       ev.Room.ID,
			Name:     name,
			Private:  ev.Room.Private,
			Messages: []Message{},
		})
		return true

	default:
		s.log.Debug().Str("action", ev.Action().String()).Msg("no state effect")
		return false
	}
}

// SendMessage posts the room's pending input. It is a no-op when the input is empty.
// The input is cleared right away; the message itself only appears once the server
// echoes it back.
func (s *Store) SendMessage(roomID string) bool {
	s.mu.Lock()
	room := s.findRoom(roomID)
	if room == nil || room.PendingInput == "" {
		s.mu.Unlock()
		return false
	}

	sent := s.send(protocol.SendMessage(room.Ref(), room.PendingInput))
	room.PendingInput = ""
	s.mu.Unlock()

	s.notify()
	return sent
}

// JoinRoom asks the server to join a public room by name and clears the room input.
func (s *Store) JoinRoom(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}

	s.mu.Lock()
	sent := s.send(protocol.JoinRoom(name))
	s.roomInput = ""
	s.mu.Unlock()

	s.notify()
	return sent
}

// JoinPrivateRoom asks the server for a private room with the given user.
func (s *Store) JoinPrivateRoom(peerID string) bool {
	if peerID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(protocol.JoinRoomPrivate(peerID))
}

// LeaveRoom tells the server the user left and removes the room locally without
// waiting for an answer.
func (s *Store) LeaveRoom(roomID string) bool {
	frame := protocol.LeaveRoom(roomID)

	s.mu.Lock()
	sent := s.send(frame)
	removed := false
	if protocol.PolicyFor(frame.Action) == protocol.Optimistic {
		removed = s.removeRoom(roomID)
	}
	s.mu.Unlock()

	if removed {
		s.notify()
	}
	return sent
}

// SetPendingInput replaces the unsent text of a room.
func (s *Store) SetPendingInput(roomID, text string) bool {
	s.mu.Lock()
	room := s.findRoom(roomID)
	if room != nil {
		room.PendingInput = text
	}
	s.mu.Unlock()
	return room != nil
}

// SetRoomInput replaces the text of the join-room field.
func (s *Store) SetRoomInput(text string) {
	s.mu.Lock()
	s.roomInput = text
	s.mu.Unlock()
}

// SetSelf records the local user's identity.
func (s *Store) SetSelf(u protocol.User) {
	s.mu.Lock()
	s.self = u
	s.mu.Unlock()
	s.notify()
}

// SetLoginError records the user-visible login failure. An empty string clears it.
func (s *Store) SetLoginError(msg string) {
	s.mu.Lock()
	s.loginError = msg
	s.mu.Unlock()
	s.notify()
}

// LoginError returns the current login failure message.
func (s *Store) LoginError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loginError
}

// ResetPresence empties the online-user set. The server re-announces every online
// user to a freshly opened session.
func (s *Store) ResetPresence() {
	s.mu.Lock()
	s.users = nil
	s.mu.Unlock()
	s.notify()
}

// Room returns a copy of one room.
func (s *Store) Room(id string) (Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room := s.findRoom(id)
	if room == nil {
		return Room{}, false
	}
	return copyRoom(room), true
}

// Rooms returns copies of the joined rooms in join order.
func (s *Store) Rooms() []Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, copyRoom(r))
	}
	return out
}

// Users returns the online users in arrival order.
func (s *Store) Users() []protocol.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.User{}, s.users...)
}

// Snapshot returns a deep copy of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Self:       s.self,
		Rooms:      make([]Room, 0, len(s.rooms)),
		Users:      append([]protocol.User{}, s.users...),
		RoomInput:  s.roomInput,
		LoginError: s.loginError,
	}
	for _, r := range s.rooms {
		snap.Rooms = append(snap.Rooms, copyRoom(r))
	}
	return snap
}

// Subscribe registers fn to receive a snapshot after every change.
// fn runs on the goroutine that made the change, one delivery at a time, and never
// receives a snapshot older than one it has already seen. fn must not change the
// store. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.subMu.Lock()
	if len(s.subs) == 0 {
		s.subMu.Unlock()
		return
	}
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	snap := s.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

// send must be called with mu held.
func (s *Store) send(frame protocol.Frame) bool {
	data, err := frame.Encode()
	if err != nil {
		s.log.Error().Err(err).Str("action", frame.Action.String()).Msg("encode outbound frame")
		return false
	}
	if s.sender == nil {
		return false
	}
	return s.sender.Send(data)
}

func (s *Store) findRoom(id string) *Room {
	for _, r := range s.rooms {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *Store) removeRoom(id string) bool {
	for i, r := range s.rooms {
		if r.ID == id {
			s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) findUser(id string) int {
	for i, u := range s.users {
		if u.ID == id {
			return i
		}
	}
	return -1
}

func copyRoom(r *Room) Room {
	out := *r
	out.Messages = append([]Message{}, r.Messages...)
	return out
}
