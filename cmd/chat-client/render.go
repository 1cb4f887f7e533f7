package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/omochice/roomchat/internal/state"
)

// renderer prints what changed between consecutive store snapshots.
type renderer struct {
	mu    sync.Mutex
	out   io.Writer
	rooms map[string]int
	users map[string]string
	login string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:   out,
		rooms: make(map[string]int),
		users: make(map[string]string),
	}
}

func (r *renderer) render(snap state.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.LoginError != r.login {
		r.login = snap.LoginError
		if r.login != "" {
			fmt.Fprintf(r.out, "! login failed: %s\n", r.login)
		}
	}

	current := make(map[string]bool, len(snap.Rooms))
	for _, room := range snap.Rooms {
		current[room.ID] = true
		seen, known := r.rooms[room.ID]
		if seen > len(room.Messages) {
			seen = len(room.Messages)
		}
		if !known {
			kind := "room"
			if room.Private {
				kind = "private room with"
			}
			fmt.Fprintf(r.out, "* joined %s %s\n", kind, room.Name)
		}
		for _, msg := range room.Messages[seen:] {
			fmt.Fprintf(r.out, "[%s] %s: %s\n", room.Name, msg.Sender.Name, msg.Body)
		}
		r.rooms[room.ID] = len(room.Messages)
	}
	for id := range r.rooms {
		if !current[id] {
			delete(r.rooms, id)
			fmt.Fprintf(r.out, "* left room %s\n", id)
		}
	}

	online := make(map[string]bool, len(snap.Users))
	for _, u := range snap.Users {
		online[u.ID] = true
		if _, ok := r.users[u.ID]; !ok {
			r.users[u.ID] = u.Name
			fmt.Fprintf(r.out, "* %s is online\n", u.Name)
		}
	}
	for id, name := range r.users {
		if !online[id] {
			delete(r.users, id)
			fmt.Fprintf(r.out, "* %s went offline\n", name)
		}
	}
}
