// Package transport owns a single WebSocket connection to the chat server.
//
// A Session is created in the connecting state, dials in the background and reports
// its lifecycle to a Handler from one goroutine: OnOpen at most once, OnMessage for
// every inbound frame, then OnClose exactly once. Sessions are never reused.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/omochice/roomchat/internal/auth"
	"github.com/omochice/roomchat/internal/metrics"
)

// ErrClosed is reported to OnClose when the session was closed locally.
var ErrClosed = errors.New("transport: session closed")

const outgoingBuffer = 256

// State is the lifecycle state of a Session.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one established message-stream connection.
type Conn interface {
	// ReadMessage blocks for the next inbound frame.
	ReadMessage() ([]byte, error)
	// WriteMessage writes one frame.
	WriteMessage(data []byte) error
	// Close unblocks ReadMessage and releases the connection.
	Close() error
}

// Dialer establishes connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Handler observes a Session. Methods are called from the session goroutine
// and must not block for long.
type Handler interface {
	OnOpen(s *Session)
	OnMessage(s *Session, frame []byte)
	OnClose(s *Session, err error)
}

var sessionIDs atomic.Uint64

// Session is one attempt at a live connection.
type Session struct {
	id      uint64
	url     string
	cred    auth.Credential
	handler Handler
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	state    State
	closing  bool
	conn     Conn
	outgoing chan []byte
	done     chan struct{}
	finished chan struct{}
}

// Open starts a session and returns immediately in the connecting state.
func Open(ctx context.Context, dialer Dialer, url string, cred auth.Credential, handler Handler, log zerolog.Logger) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:       sessionIDs.Add(1),
		url:      url,
		cred:     cred,
		handler:  handler,
		log:      log,
		ctx:      sctx,
		cancel:   cancel,
		state:    StateConnecting,
		outgoing: make(chan []byte, outgoingBuffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	s.log = log.With().Uint64("session", s.id).Logger()
	go s.run(dialer)
	return s
}

// ID returns a process-unique session number.
func (s *Session) ID() uint64 {
	return s.id
}

// Credential returns the credential the session was opened with.
func (s *Session) Credential() auth.Credential {
	return s.cred
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Send queues a frame for writing. It returns false, dropping the frame, when the
// session is not open or its queue is full.
func (s *Session) Send(frame []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateOpen || s.closing {
		metrics.FramesDropped.Inc()
		s.log.Debug().Str("state", s.state.String()).Msg("dropping frame on non-open session")
		return false
	}

	select {
	case s.outgoing <- frame:
		metrics.FramesSent.Inc()
		return true
	default:
		metrics.FramesDropped.Inc()
		s.log.Warn().Msg("outgoing queue full, dropping frame")
		return false
	}
}

// Close tears the session down. OnClose follows asynchronously. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed || s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		conn.Close()
	}
}

// Done is closed after OnClose has returned.
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

func (s *Session) run(dialer Dialer) {
	defer close(s.finished)

	conn, err := dialer.Dial(s.ctx, s.url)
	if err != nil {
		s.finish(err)
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		s.finish(ErrClosed)
		return
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	metrics.SessionsOpened.Inc()
	s.log.Info().Msg("session open")
	s.handler.OnOpen(s)

	go s.writeLoop(conn)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		s.handler.OnMessage(s, data)
	}
}

func (s *Session) writeLoop(conn Conn) {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.outgoing:
			if err := conn.WriteMessage(data); err != nil {
				s.log.Warn().Err(err).Msg("write failed, closing session")
				conn.Close()
				return
			}
		}
	}
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	if s.closing {
		err = ErrClosed
	}
	s.state = StateClosed
	conn := s.conn
	s.mu.Unlock()

	close(s.done)
	s.cancel()
	if conn != nil {
		conn.Close()
	}

	metrics.SessionsClosed.Inc()
	s.log.Info().Err(err).Msg("session closed")
	s.handler.OnClose(s, err)
}
