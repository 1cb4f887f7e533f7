package reconnect_test

import (
	"testing"
	"time"

	"github.com/omochice/roomchat/internal/logging"
	"github.com/omochice/roomchat/internal/reconnect"
)

// fakeTimer is a scheduled call that only runs when the test fires it.
type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	timers []*fakeTimer
}

func (c *fakeClock) schedule(d time.Duration, fn func()) reconnect.Timer {
	t := &fakeTimer{delay: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// fireLast runs the newest timer as if its delay had elapsed.
func (c *fakeClock) fireLast(t *testing.T) time.Duration {
	t.Helper()
	if len(c.timers) == 0 {
		t.Fatal("no timer scheduled")
	}
	timer := c.timers[len(c.timers)-1]
	if !timer.stopped {
		timer.fn()
	}
	return timer.delay
}

func newController(cfg reconnect.Config) (*reconnect.Controller, *fakeClock, *int) {
	clock := &fakeClock{}
	connects := 0
	ctrl := reconnect.New(cfg, func() { connects++ }, clock.schedule, logging.Nop())
	return ctrl, clock, &connects
}

func TestController_DelaySequence(t *testing.T) {
	ctrl, clock, connects := newController(reconnect.Config{
		InitialDelay: 1000 * time.Millisecond,
		MaxDelay:     16000 * time.Millisecond,
	})

	ctrl.Start()

	want := []time.Duration{1000, 2000, 4000, 8000, 16000, 16000, 16000}
	for i, ms := range want {
		ctrl.Closed()
		if ctrl.State() != reconnect.StateWaiting {
			t.Fatalf("cycle %d: State() = %v, want waiting", i, ctrl.State())
		}
		got := clock.fireLast(t)
		if got != ms*time.Millisecond {
			t.Errorf("cycle %d: delay = %v, want %v", i, got, ms*time.Millisecond)
		}
		if got > 16000*time.Millisecond {
			t.Errorf("cycle %d: delay %v exceeds max", i, got)
		}
		if ctrl.State() != reconnect.StateConnecting {
			t.Fatalf("cycle %d: State() = %v after timer, want connecting", i, ctrl.State())
		}
	}

	if *connects != len(want)+1 {
		t.Errorf("connect calls = %d, want %d", *connects, len(want)+1)
	}
}

func TestController_DelayDoublesBeforeAttempt(t *testing.T) {
	ctrl, _, _ := newController(reconnect.Config{InitialDelay: time.Second, MaxDelay: 16 * time.Second})

	ctrl.Start()
	ctrl.Closed()

	if got := ctrl.CurrentDelay(); got != 2*time.Second {
		t.Errorf("CurrentDelay() after scheduling = %v, want 2s", got)
	}
}

func TestController_OpenResetsDelay(t *testing.T) {
	ctrl, clock, _ := newController(reconnect.Config{InitialDelay: 250 * time.Millisecond, MaxDelay: 4 * time.Second})

	ctrl.Start()
	for i := 0; i < 6; i++ {
		ctrl.Closed()
		clock.fireLast(t)
	}
	if ctrl.CurrentDelay() != 4*time.Second {
		t.Fatalf("CurrentDelay() = %v, want capped 4s", ctrl.CurrentDelay())
	}

	ctrl.Opened()
	if ctrl.State() != reconnect.StateOpen {
		t.Errorf("State() = %v, want open", ctrl.State())
	}
	if got := ctrl.CurrentDelay(); got != 250*time.Millisecond {
		t.Errorf("CurrentDelay() after open = %v, want configured initial 250ms", got)
	}

	ctrl.Closed()
	if got := clock.fireLast(t); got != 250*time.Millisecond {
		t.Errorf("first delay after open = %v, want 250ms", got)
	}
}

func TestController_RetriesForever(t *testing.T) {
	ctrl, clock, connects := newController(reconnect.Config{InitialDelay: time.Millisecond, MaxDelay: time.Second})

	ctrl.Start()
	for i := 0; i < 200; i++ {
		ctrl.Closed()
		clock.fireLast(t)
	}

	if *connects != 201 {
		t.Errorf("connect calls = %d, want 201", *connects)
	}
	if ctrl.Attempts() != 201 {
		t.Errorf("Attempts() = %d, want 201", ctrl.Attempts())
	}
	if ctrl.State() != reconnect.StateConnecting {
		t.Errorf("State() = %v, want connecting", ctrl.State())
	}
}

func TestController_StartWhileWaitingSupersedesTimer(t *testing.T) {
	ctrl, clock, connects := newController(reconnect.DefaultConfig())

	ctrl.Start()
	ctrl.Closed()
	stale := clock.timers[0]

	ctrl.Start()
	if !stale.stopped {
		t.Error("pending timer not stopped by Start")
	}

	stale.fn()
	if *connects != 2 {
		t.Errorf("connect calls = %d, want 2 (stale timer must not connect)", *connects)
	}
}

func TestController_ClosedIgnoredWhenIdleOrWaiting(t *testing.T) {
	ctrl, clock, _ := newController(reconnect.DefaultConfig())

	ctrl.Closed()
	if len(clock.timers) != 0 {
		t.Fatal("Closed() while idle scheduled a reconnect")
	}

	ctrl.Start()
	ctrl.Closed()
	ctrl.Closed()
	if len(clock.timers) != 1 {
		t.Errorf("timers = %d, want 1 (duplicate close while waiting)", len(clock.timers))
	}
}

func TestController_Stop(t *testing.T) {
	ctrl, clock, connects := newController(reconnect.DefaultConfig())

	ctrl.Start()
	ctrl.Closed()
	ctrl.Stop()

	if ctrl.State() != reconnect.StateIdle {
		t.Errorf("State() = %v, want idle", ctrl.State())
	}
	clock.fireLast(t)
	if *connects != 1 {
		t.Errorf("connect calls = %d, want 1 after Stop", *connects)
	}
}

func TestNew_NormalizesConfig(t *testing.T) {
	ctrl, _, _ := newController(reconnect.Config{InitialDelay: 0, MaxDelay: 0})
	if got := ctrl.CurrentDelay(); got != reconnect.DefaultConfig().InitialDelay {
		t.Errorf("CurrentDelay() = %v, want default initial delay", got)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state reconnect.State
		want  string
	}{
		{reconnect.StateIdle, "idle"},
		{reconnect.StateConnecting, "connecting"},
		{reconnect.StateOpen, "open"},
		{reconnect.StateClosed, "closed"},
		{reconnect.StateWaiting, "waiting"},
		{reconnect.State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
