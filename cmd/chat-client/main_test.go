package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/omochice/roomchat/internal/state"
	"github.com/omochice/roomchat/pkg/protocol"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		want    command
		wantErr bool
	}{
		{line: "hello there", want: command{kind: cmdSay, arg: "hello there"}},
		{line: "  padded  ", want: command{kind: cmdSay, arg: "padded"}},
		{line: "/join lobby", want: command{kind: cmdJoin, arg: "lobby"}},
		{line: "/join   general chat ", want: command{kind: cmdJoin, arg: "general chat"}},
		{line: "/join", wantErr: true},
		{line: "/leave", want: command{kind: cmdLeave}},
		{line: "/leave r1", want: command{kind: cmdLeave, arg: "r1"}},
		{line: "/private bob", want: command{kind: cmdPrivate, arg: "bob"}},
		{line: "/private", wantErr: true},
		{line: "/room lobby", want: command{kind: cmdSelect, arg: "lobby"}},
		{line: "/room", wantErr: true},
		{line: "/rooms", want: command{kind: cmdRooms}},
		{line: "/users", want: command{kind: cmdUsers}},
		{line: "/quit", want: command{kind: cmdQuit}},
		{line: "/exit", want: command{kind: cmdQuit}},
		{line: "/dance", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseLine(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLine(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestFindRoomAndUser(t *testing.T) {
	rooms := []state.Room{
		{ID: "r1", Name: "lobby"},
		{ID: "lobby", Name: "tricky"},
	}
	if r, ok := findRoom(rooms, "lobby"); !ok || r.Name != "tricky" {
		t.Errorf("findRoom by id = %+v, %v; id match must win", r, ok)
	}
	if r, ok := findRoom(rooms, "TRICKY"); !ok || r.ID != "lobby" {
		t.Errorf("findRoom by name = %+v, %v", r, ok)
	}
	if _, ok := findRoom(rooms, "nope"); ok {
		t.Error("findRoom matched an unknown room")
	}

	users := []protocol.User{{ID: "u1", Name: "alice"}, {ID: "u2", Name: "bob"}}
	if u, ok := findUser(users, "Bob"); !ok || u.ID != "u2" {
		t.Errorf("findUser by name = %+v, %v", u, ok)
	}
	if u, ok := findUser(users, "u1"); !ok || u.Name != "alice" {
		t.Errorf("findUser by id = %+v, %v", u, ok)
	}
}

func TestRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	bob := protocol.User{ID: "u2", Name: "bob"}
	lobby := state.Room{ID: "r1", Name: "lobby"}

	r.render(state.Snapshot{Rooms: []state.Room{lobby}, Users: []protocol.User{bob}})
	lobby.Messages = []state.Message{{Sender: bob, Body: "hi"}}
	r.render(state.Snapshot{Rooms: []state.Room{lobby}, Users: []protocol.User{bob}})
	r.render(state.Snapshot{Rooms: []state.Room{lobby}, Users: []protocol.User{bob}})
	r.render(state.Snapshot{})

	want := []string{
		"* joined room lobby",
		"* bob is online",
		"[lobby] bob: hi",
		"* left room r1",
		"* bob went offline",
	}
	got := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(got) != len(want) {
		t.Fatalf("rendered %d lines, want %d:\n%s", len(got), len(want), buf.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRenderer_OlderSnapshotAfterNewer(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	bob := protocol.User{ID: "u2", Name: "bob"}
	older := state.Room{ID: "r1", Name: "lobby", Messages: []state.Message{}}
	newer := state.Room{ID: "r1", Name: "lobby", Messages: []state.Message{{Sender: bob, Body: "hi"}}}

	r.render(state.Snapshot{Rooms: []state.Room{newer}})
	r.render(state.Snapshot{Rooms: []state.Room{older}})

	if got := strings.Count(buf.String(), "[lobby] bob: hi"); got != 1 {
		t.Errorf("message printed %d times, want 1:\n%s", got, buf.String())
	}
	if strings.Contains(buf.String(), "left room") {
		t.Errorf("older snapshot reported a room change:\n%s", buf.String())
	}
}

func TestRenderer_LoginError(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	r.render(state.Snapshot{LoginError: "invalid credentials"})
	r.render(state.Snapshot{LoginError: "invalid credentials"})

	if got := strings.Count(buf.String(), "login failed"); got != 1 {
		t.Errorf("login error printed %d times, want 1", got)
	}
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	t.Setenv("ROOMCHAT_ENDPOINT", "ws://env.test/ws")

	cmd := rootCmd()
	if err := cmd.ParseFlags([]string{"--name", "alice", "--metrics-addr", ":9100"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	opts := options{name: "alice", metricsAddr: ":9100"}

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Endpoint != "ws://env.test/ws" {
		t.Errorf("Endpoint = %q, want env value", cfg.Endpoint)
	}
	if cfg.DisplayName != "alice" || cfg.MetricsAddr != ":9100" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.InitialDelay != time.Second {
		t.Errorf("InitialDelay = %v, want default 1s", cfg.InitialDelay)
	}
}

func TestLoadConfig_RequiresIdentity(t *testing.T) {
	t.Setenv("ROOMCHAT_NAME", "")

	cmd := rootCmd()
	if _, err := loadConfig(cmd, options{}); err == nil {
		t.Error("loadConfig() accepted neither name nor username")
	}
}
