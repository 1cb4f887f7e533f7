package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/omochice/roomchat/internal/client"
	"github.com/omochice/roomchat/internal/state"
	"github.com/omochice/roomchat/pkg/protocol"
)

type commandKind int

const (
	cmdSay commandKind = iota
	cmdJoin
	cmdLeave
	cmdPrivate
	cmdSelect
	cmdRooms
	cmdUsers
	cmdQuit
)

type command struct {
	kind commandKind
	arg  string
}

// parseLine turns one input line into a command. Plain text is cmdSay.
func parseLine(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdSay, arg: line}, nil
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "join":
		if arg == "" {
			return command{}, fmt.Errorf("usage: /join <name>")
		}
		return command{kind: cmdJoin, arg: arg}, nil
	case "leave":
		return command{kind: cmdLeave, arg: arg}, nil
	case "private":
		if arg == "" {
			return command{}, fmt.Errorf("usage: /private <user>")
		}
		return command{kind: cmdPrivate, arg: arg}, nil
	case "room":
		if arg == "" {
			return command{}, fmt.Errorf("usage: /room <room>")
		}
		return command{kind: cmdSelect, arg: arg}, nil
	case "rooms":
		return command{kind: cmdRooms}, nil
	case "users":
		return command{kind: cmdUsers}, nil
	case "quit", "exit":
		return command{kind: cmdQuit}, nil
	default:
		return command{}, fmt.Errorf("unknown command /%s", name)
	}
}

// findRoom matches a room by id first, then by name.
func findRoom(rooms []state.Room, ref string) (state.Room, bool) {
	for _, r := range rooms {
		if r.ID == ref {
			return r, true
		}
	}
	for _, r := range rooms {
		if strings.EqualFold(r.Name, ref) {
			return r, true
		}
	}
	return state.Room{}, false
}

// findUser matches a user by id first, then by name.
func findUser(users []protocol.User, ref string) (protocol.User, bool) {
	for _, u := range users {
		if u.ID == ref {
			return u, true
		}
	}
	for _, u := range users {
		if strings.EqualFold(u.Name, ref) {
			return u, true
		}
	}
	return protocol.User{}, false
}

type shell struct {
	client   *client.Client
	out      io.Writer
	selected string
}

func newShell(c *client.Client, out io.Writer) *shell {
	return &shell{client: c, out: out}
}

// execute runs one input line and reports whether the user asked to quit.
func (s *shell) execute(line string) bool {
	cmd, err := parseLine(line)
	if err != nil {
		fmt.Fprintln(s.out, err)
		return false
	}

	store := s.client.Store()
	switch cmd.kind {
	case cmdSay:
		if cmd.arg == "" {
			return false
		}
		room, ok := s.currentRoom(store.Rooms())
		if !ok {
			fmt.Fprintln(s.out, "no room selected, /join one first")
			return false
		}
		store.SetPendingInput(room.ID, cmd.arg)
		if !s.client.SendMessage(room.ID) {
			fmt.Fprintln(s.out, "not connected, message dropped")
		}

	case cmdJoin:
		store.SetRoomInput(cmd.arg)
		if !s.client.JoinRoom(cmd.arg) {
			fmt.Fprintln(s.out, "not connected")
		}

	case cmdLeave:
		ref := cmd.arg
		if ref == "" {
			ref = s.selected
		}
		room, ok := findRoom(store.Rooms(), ref)
		if !ok {
			fmt.Fprintf(s.out, "no such room %q\n", ref)
			return false
		}
		s.client.LeaveRoom(room.ID)
		if s.selected == room.ID {
			s.selected = ""
		}

	case cmdPrivate:
		user, ok := findUser(store.Users(), cmd.arg)
		if !ok {
			fmt.Fprintf(s.out, "no such user %q\n", cmd.arg)
			return false
		}
		s.client.JoinPrivateRoom(user.ID)

	case cmdSelect:
		room, ok := findRoom(store.Rooms(), cmd.arg)
		if !ok {
			fmt.Fprintf(s.out, "no such room %q\n", cmd.arg)
			return false
		}
		s.selected = room.ID
		fmt.Fprintf(s.out, "now talking in %s\n", room.Name)

	case cmdRooms:
		for _, r := range store.Rooms() {
			marker := " "
			if r.ID == s.selected {
				marker = "*"
			}
			fmt.Fprintf(s.out, "%s %s (%s) %d messages\n", marker, r.Name, r.ID, len(r.Messages))
		}

	case cmdUsers:
		for _, u := range store.Users() {
			fmt.Fprintf(s.out, "  %s (%s)\n", u.Name, u.ID)
		}

	case cmdQuit:
		return true
	}
	return false
}

// currentRoom returns the selected room, or the only room when exactly one is joined.
func (s *shell) currentRoom(rooms []state.Room) (state.Room, bool) {
	if s.selected != "" {
		if r, ok := findRoom(rooms, s.selected); ok {
			return r, true
		}
	}
	if len(rooms) == 1 {
		s.selected = rooms[0].ID
		return rooms[0], true
	}
	return state.Room{}, false
}
