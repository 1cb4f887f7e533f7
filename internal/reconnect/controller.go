// Package reconnect decides when to re-establish a transport session.
//
// The controller is a small state machine:
//
//	idle -> connecting -> open -> closed -> waiting -> connecting -> ...
//
// There is no retry limit and no terminal state. Only the delay is capped.
package reconnect

import (
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/omochice/roomchat/internal/metrics"
)

// State is the controller state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateWaiting
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// Config bounds the reconnect delay.
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultConfig returns 1s doubling up to 16s.
func DefaultConfig() Config {
	return Config{
		InitialDelay: time.Second,
		MaxDelay:     16 * time.Second,
	}
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs fn after d. time.AfterFunc satisfies it.
type Scheduler func(d time.Duration, fn func()) Timer

// AfterFunc schedules on the wall clock.
func AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Controller is not safe for concurrent use; the owner serializes every call,
// including the scheduled callback.
type Controller struct {
	cfg      Config
	delays   *backoff.Backoff
	state    State
	connect  func()
	schedule Scheduler
	pending  Timer
	attempts int
	log      zerolog.Logger
}

// New returns an idle controller. connect is invoked for every attempt.
func New(cfg Config, connect func(), schedule Scheduler, log zerolog.Logger) *Controller {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig().InitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if schedule == nil {
		schedule = AfterFunc
	}
	return &Controller{
		cfg: cfg,
		delays: &backoff.Backoff{
			Min:    cfg.InitialDelay,
			Max:    cfg.MaxDelay,
			Factor: 2,
			Jitter: false,
		},
		state:    StateIdle,
		connect:  connect,
		schedule: schedule,
		log:      log,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// CurrentDelay is the delay the next close will wait before reconnecting.
func (c *Controller) CurrentDelay() time.Duration {
	return c.delays.ForAttempt(c.delays.Attempt())
}

// Attempts counts connect invocations since the controller was created.
func (c *Controller) Attempts() int {
	return c.attempts
}

// Start begins a connection attempt now. A pending reconnect timer is cancelled,
// so the newest attempt is the only one in flight.
func (c *Controller) Start() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	c.transition(StateConnecting)
	c.attempts++
	c.connect()
}

// Opened records a successful open and resets the delay to InitialDelay.
func (c *Controller) Opened() {
	c.transition(StateOpen)
	c.delays.Reset()
}

// Closed records a lost or failed session and schedules the next attempt after
// the current delay. The delay doubles before the attempt runs.
func (c *Controller) Closed() {
	if c.state == StateIdle || c.state == StateWaiting {
		return
	}
	c.transition(StateClosed)

	delay := c.delays.Duration()
	c.transition(StateWaiting)
	metrics.ReconnectsScheduled.Inc()
	c.log.Info().Dur("delay", delay).Dur("next_delay", c.CurrentDelay()).Msg("reconnect scheduled")

	var timer Timer
	timer = c.schedule(delay, func() {
		if c.pending != timer || c.state != StateWaiting {
			return
		}
		c.pending = nil
		c.Start()
	})
	c.pending = timer
}

// Stop cancels any pending reconnect and returns to idle.
func (c *Controller) Stop() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	c.transition(StateIdle)
}

func (c *Controller) transition(next State) {
	if c.state == next {
		return
	}
	c.log.Debug().Str("from", c.state.String()).Str("to", next.String()).Msg("reconnect state")
	c.state = next
}
