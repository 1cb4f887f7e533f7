// Package protocol defines the JSON wire format spoken between the chat client and server.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Action is the discriminator carried by every frame.
type Action string

const (
	// Inbound actions.
	ActionSendMessage Action = "send-message"
	ActionUserJoin    Action = "user-join"
	ActionUserLeft    Action = "user-left"
	ActionRoomJoined  Action = "room-joined"

	// Outbound-only actions.
	ActionJoinRoom        Action = "join-room"
	ActionJoinRoomPrivate Action = "join-room-private"
	ActionLeaveRoom       Action = "leave-room"

	// actionUserJoined is the spelling used by older servers.
	actionUserJoined Action = "user-joined"
)

// String returns the wire spelling of the action.
func (a Action) String() string {
	return string(a)
}

// User identifies a chat participant.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoomRef references a room on the wire.
type RoomRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Private bool   `json:"private,omitempty"`
}

// Frame is one outbound message: {action, message?, target?}.
type Frame struct {
	Action  Action   `json:"action"`
	Message string   `json:"message,omitempty"`
	Target  *RoomRef `json:"target,omitempty"`
}

// Encode encodes the frame as a single JSON object.
func (f *Frame) Encode() ([]byte, error) {
	if f.Action == "" {
		return nil, fmt.Errorf("failed to encode frame: missing action")
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}

// SendMessage builds the frame that posts body to a room.
func SendMessage(room RoomRef, body string) Frame {
	return Frame{
		Action:  ActionSendMessage,
		Message: body,
		Target:  &RoomRef{ID: room.ID, Name: room.Name},
	}
}

// JoinRoom builds the frame that joins (or creates) a public room by name.
func JoinRoom(name string) Frame {
	return Frame{Action: ActionJoinRoom, Message: name}
}

// JoinRoomPrivate builds the frame that opens a private room with a peer.
func JoinRoomPrivate(peerID string) Frame {
	return Frame{Action: ActionJoinRoomPrivate, Message: peerID}
}

// LeaveRoom builds the frame that leaves a room by id.
func LeaveRoom(roomID string) Frame {
	return Frame{Action: ActionLeaveRoom, Message: roomID}
}
