package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownAction is returned by Decode for well-formed sub-frames whose action
// this client does not understand. Callers ignore these.
var ErrUnknownAction = errors.New("protocol: unknown action")

// Event is a decoded inbound sub-frame.
type Event interface {
	Action() Action
}

// ChatMessage is a message posted to a room.
type ChatMessage struct {
	Sender User
	Target RoomRef
	Body   string
}

// UserJoined announces a user coming online.
type UserJoined struct {
	User User
}

// UserLeft announces a user going offline.
type UserLeft struct {
	UserID string
}

// RoomJoined tells the local user it is now a member of Room.
// Sender is the peer for private rooms and nil otherwise.
type RoomJoined struct {
	Room   RoomRef
	Sender *User
}

func (ChatMessage) Action() Action { return ActionSendMessage }
func (UserJoined) Action() Action  { return ActionUserJoin }
func (UserLeft) Action() Action    { return ActionUserLeft }
func (RoomJoined) Action() Action  { return ActionRoomJoined }

// DecodeError reports a sub-frame that could not be turned into an Event.
type DecodeError struct {
	Frame  []byte
	Action Action
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "protocol: decode"
	if e.Action != "" {
		msg += " " + string(e.Action)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// inbound mirrors every field an inbound sub-frame may carry.
type inbound struct {
	Action  Action       `json:"action"`
	Message *string      `json:"message"`
	Sender  *inboundUser `json:"sender"`
	Target  *inboundRoom `json:"target"`
}

type inboundUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type inboundRoom struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Private bool   `json:"private"`
}

// Decode parses one sub-frame into a typed Event. Shape is validated per action,
// so a returned Event never has its identifying fields missing.
func Decode(data []byte) (Event, error) {
	var raw inbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{Frame: data, Reason: "malformed json", Err: err}
	}
	if raw.Action == "" {
		return nil, &DecodeError{Frame: data, Reason: "missing action"}
	}

	invalid := func(reason string) error {
		return &DecodeError{Frame: data, Action: raw.Action, Reason: reason}
	}

	switch raw.Action {
	case ActionSendMessage:
		if raw.Target == nil || raw.Target.ID == "" {
			return nil, invalid("missing target.id")
		}
		if raw.Sender == nil || raw.Sender.ID == "" {
			return nil, invalid("missing sender.id")
		}
		if raw.Message == nil {
			return nil, invalid("missing message")
		}
		return ChatMessage{
			Sender: User{ID: raw.Sender.ID, Name: raw.Sender.Name},
			Target: RoomRef{ID: raw.Target.ID, Name: raw.Target.Name},
			Body:   *raw.Message,
		}, nil

	case ActionUserJoin, actionUserJoined:
		if raw.Sender == nil || raw.Sender.ID == "" {
			return nil, invalid("missing sender.id")
		}
		return UserJoined{User: User{ID: raw.Sender.ID, Name: raw.Sender.Name}}, nil

	case ActionUserLeft:
		if raw.Sender == nil || raw.Sender.ID == "" {
			return nil, invalid("missing sender.id")
		}
		return UserLeft{UserID: raw.Sender.ID}, nil

	case ActionRoomJoined:
		if raw.Target == nil || raw.Target.ID == "" {
			return nil, invalid("missing target.id")
		}
		// A private room is named after the peer in sender.
		if raw.Target.Private && (raw.Sender == nil || raw.Sender.ID == "") {
			return nil, invalid("missing sender.id")
		}
		ev := RoomJoined{
			Room: RoomRef{ID: raw.Target.ID, Name: raw.Target.Name, Private: raw.Target.Private},
		}
		if raw.Sender != nil {
			ev.Sender = &User{ID: raw.Sender.ID, Name: raw.Sender.Name}
		}
		return ev, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, raw.Action)
	}
}

// Split breaks a raw frame into its newline-delimited sub-frames.
// A trailing "\r" is stripped from each line and blank lines are dropped.
func Split(frame []byte) [][]byte {
	lines := bytes.Split(frame, []byte{'\n'})
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		out = append(out, line)
	}
	return out
}
