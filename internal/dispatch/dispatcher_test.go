package dispatch_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/omochice/roomchat/internal/dispatch"
	"github.com/omochice/roomchat/internal/logging"
	"github.com/omochice/roomchat/internal/metrics"
	"github.com/omochice/roomchat/pkg/protocol"
)

type recordingApplier struct {
	events []protocol.Event
}

func (a *recordingApplier) Apply(ev protocol.Event) {
	a.events = append(a.events, ev)
}

func join(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n"))
}

func TestDispatch_SingleSubFrame(t *testing.T) {
	applier := &recordingApplier{}
	d := dispatch.New(applier, logging.Nop())

	errs := d.Dispatch([]byte(`{"action":"user-join","sender":{"id":"u1","name":"alice"}}`))
	if len(errs) != 0 {
		t.Fatalf("Dispatch() errors = %v", errs)
	}
	if len(applier.events) != 1 {
		t.Fatalf("applied %d events, want 1", len(applier.events))
	}
	if got := applier.events[0]; got != (protocol.UserJoined{User: protocol.User{ID: "u1", Name: "alice"}}) {
		t.Errorf("applied %#v", got)
	}
}

func TestDispatch_MalformedSubFrameIsSkipped(t *testing.T) {
	good := []string{
		`{"action":"user-join","sender":{"id":"u1","name":"alice"}}`,
		`{"action":"user-join","sender":{"id":"u2","name":"bob"}}`,
		`{"action":"user-left","sender":{"id":"u1"}}`,
		`{"action":"room-joined","target":{"id":"r1","name":"lobby"}}`,
	}

	for k := 0; k <= len(good); k++ {
		lines := append([]string{}, good[:k]...)
		lines = append(lines, `{"action":"send-message","target":`)
		lines = append(lines, good[k:]...)

		applier := &recordingApplier{}
		d := dispatch.New(applier, logging.Nop())

		before := testutil.ToFloat64(metrics.DecodeErrors)
		errs := d.Dispatch(join(lines...))

		if len(errs) != 1 {
			t.Errorf("k=%d: decode errors = %d, want 1", k, len(errs))
		}
		if len(applier.events) != len(good) {
			t.Errorf("k=%d: applied %d events, want %d", k, len(applier.events), len(good))
		}
		if got := testutil.ToFloat64(metrics.DecodeErrors) - before; got != 1 {
			t.Errorf("k=%d: decode error counter moved by %v, want 1", k, got)
		}

		var decErr *protocol.DecodeError
		if len(errs) == 1 && !errors.As(errs[0], &decErr) {
			t.Errorf("k=%d: error %T is not a DecodeError", k, errs[0])
		}
	}
}

func TestDispatch_PreservesOrder(t *testing.T) {
	applier := &recordingApplier{}
	d := dispatch.New(applier, logging.Nop())

	d.Dispatch(join(
		`{"action":"room-joined","target":{"id":"r1","name":"lobby"}}`,
		`{"action":"send-message","sender":{"id":"u2","name":"bob"},"target":{"id":"r1","name":"lobby"},"message":"one"}`,
		`{"action":"send-message","sender":{"id":"u2","name":"bob"},"target":{"id":"r1","name":"lobby"},"message":"two"}`,
	))

	if len(applier.events) != 3 {
		t.Fatalf("applied %d events, want 3", len(applier.events))
	}
	if applier.events[0].Action() != protocol.ActionRoomJoined {
		t.Errorf("first event = %s, want room-joined", applier.events[0].Action())
	}
	if msg := applier.events[2].(protocol.ChatMessage); msg.Body != "two" {
		t.Errorf("last message body = %q, want two", msg.Body)
	}
}

func TestDispatch_UnknownActionIgnored(t *testing.T) {
	applier := &recordingApplier{}
	d := dispatch.New(applier, logging.Nop())

	errs := d.Dispatch(join(
		`{"action":"typing","sender":{"id":"u2"}}`,
		`{"action":"user-join","sender":{"id":"u2","name":"bob"}}`,
	))

	if len(errs) != 0 {
		t.Errorf("unknown action reported as error: %v", errs)
	}
	if len(applier.events) != 1 {
		t.Errorf("applied %d events, want 1", len(applier.events))
	}
}

func TestDispatch_CRLFAndBlankLines(t *testing.T) {
	applier := &recordingApplier{}
	d := dispatch.New(applier, logging.Nop())

	errs := d.Dispatch([]byte("{\"action\":\"user-join\",\"sender\":{\"id\":\"u1\"}}\r\n\r\n{\"action\":\"user-join\",\"sender\":{\"id\":\"u2\"}}\r\n"))
	if len(errs) != 0 {
		t.Errorf("Dispatch() errors = %v", errs)
	}
	if len(applier.events) != 2 {
		t.Errorf("applied %d events, want 2", len(applier.events))
	}
}
