// Package client wires authentication, the transport session, reconnection,
// dispatch and the state store into one chat client.
package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/roomchat/internal/auth"
	"github.com/omochice/roomchat/internal/config"
	"github.com/omochice/roomchat/internal/dispatch"
	"github.com/omochice/roomchat/internal/metrics"
	"github.com/omochice/roomchat/internal/reconnect"
	"github.com/omochice/roomchat/internal/state"
	"github.com/omochice/roomchat/internal/transport"
)

const eventBuffer = 64

// Client is a chat client. Run must be running for connections to progress.
type Client struct {
	cfg        config.Config
	log        zerolog.Logger
	dialer     transport.Dialer
	httpClient *http.Client
	schedule   reconnect.Scheduler

	auth       *auth.Authenticator
	store      *state.Store
	dispatcher *dispatch.Dispatcher
	ctrl       *reconnect.Controller

	events  chan func()
	stopped chan struct{}
	runOnce sync.Once

	mu      sync.RWMutex
	runCtx  context.Context
	cred    auth.Credential
	session *transport.Session
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithScheduler replaces the wall-clock reconnect timer.
func WithScheduler(s reconnect.Scheduler) Option {
	return func(c *Client) { c.schedule = s }
}

// WithHTTPClient sets the HTTP client used for login.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New builds a client from cfg. It does not connect.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loginURL, err := cfg.ResolvedLoginURL()
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		log:      zerolog.Nop(),
		dialer:   transport.WebsocketDialer{},
		schedule: reconnect.AfterFunc,
		events:   make(chan func(), eventBuffer),
		stopped:  make(chan struct{}),
		runCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}

	authOpts := []auth.Option{auth.WithLogger(c.log.With().Str("component", "auth").Logger())}
	if c.httpClient != nil {
		authOpts = append(authOpts, auth.WithHTTPClient(c.httpClient))
	}
	c.auth = auth.New(loginURL, authOpts...)
	c.store = state.New(state.SenderFunc(c.send), c.log.With().Str("component", "state").Logger())
	c.dispatcher = dispatch.New(c.store, c.log.With().Str("component", "dispatch").Logger())
	c.ctrl = reconnect.New(
		reconnect.Config{InitialDelay: cfg.InitialDelay, MaxDelay: cfg.MaxDelay},
		c.openSession,
		c.postScheduler,
		c.log.With().Str("component", "reconnect").Logger(),
	)

	return c, nil
}

// Store returns the client's state store.
func (c *Client) Store() *state.Store {
	return c.store
}

// Run processes transport events and reconnect timers until ctx is done.
// It returns ctx.Err() and closes the current session on the way out.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	defer c.runOnce.Do(func() { close(c.stopped) })
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.events:
			fn()
		}
	}
}

// Login exchanges credentials for a token. On failure the store's login error is set
// and no connection is attempted.
func (c *Client) Login(ctx context.Context, creds auth.Credentials) error {
	cred, err := c.auth.Login(ctx, creds)
	if err != nil {
		var authErr *auth.AuthError
		if errors.As(err, &authErr) {
			c.store.SetLoginError(authErr.Reason)
		} else {
			c.store.SetLoginError(err.Error())
		}
		return err
	}

	c.mu.Lock()
	c.cred = cred
	c.mu.Unlock()

	c.store.SetLoginError("")
	c.store.SetSelf(cred.User)
	return nil
}

// LoginAndConnect logs in and connects only if the login succeeded.
func (c *Client) LoginAndConnect(ctx context.Context, creds auth.Credentials) error {
	if err := c.Login(ctx, creds); err != nil {
		return err
	}
	c.Connect()
	return nil
}

// Connect starts connecting with the held token, or with the configured display name
// when there is none. Reconnection is automatic from then on.
func (c *Client) Connect() {
	c.post(c.ctrl.Start)
}

// Connected reports whether the current session is open.
func (c *Client) Connected() bool {
	s := c.currentSession()
	return s != nil && s.State() == transport.StateOpen
}

// SendMessage sends the pending input of a room.
func (c *Client) SendMessage(roomID string) bool {
	return c.store.SendMessage(roomID)
}

// JoinRoom joins a public room by name.
func (c *Client) JoinRoom(name string) bool {
	return c.store.JoinRoom(name)
}

// JoinPrivateRoom opens a private room with another user.
func (c *Client) JoinPrivateRoom(peerID string) bool {
	return c.store.JoinPrivateRoom(peerID)
}

// LeaveRoom leaves a room.
func (c *Client) LeaveRoom(roomID string) bool {
	return c.store.LeaveRoom(roomID)
}

// OnOpen implements transport.Handler.
func (c *Client) OnOpen(s *transport.Session) {
	c.post(func() {
		if c.currentSession() != s {
			return
		}
		c.ctrl.Opened()
		c.store.ResetPresence()
	})
}

// OnMessage implements transport.Handler.
func (c *Client) OnMessage(s *transport.Session, frame []byte) {
	c.post(func() {
		if c.currentSession() != s {
			return
		}
		c.dispatcher.Dispatch(frame)
	})
}

// OnClose implements transport.Handler.
func (c *Client) OnClose(s *transport.Session, err error) {
	c.post(func() {
		if c.currentSession() != s {
			c.log.Debug().Uint64("session", s.ID()).Msg("ignoring close of stale session")
			return
		}
		c.setSession(nil)
		c.log.Info().Err(err).Msg("connection lost")
		c.ctrl.Closed()
	})
}

// openSession is the controller's connect callback. It runs on the event loop.
func (c *Client) openSession() {
	if old := c.currentSession(); old != nil {
		c.setSession(nil)
		old.Close()
	}

	cred := c.credential()
	url, err := transport.BuildURL(c.cfg.Endpoint, cred, c.cfg.DisplayName)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to build connection URL")
		c.ctrl.Closed()
		return
	}

	c.mu.RLock()
	ctx := c.runCtx
	c.mu.RUnlock()

	s := transport.Open(ctx, c.dialer, url, cred, c, c.log.With().Str("component", "transport").Logger())
	c.setSession(s)
}

// postScheduler runs reconnect timers on the event loop.
func (c *Client) postScheduler(d time.Duration, fn func()) reconnect.Timer {
	return c.schedule(d, func() { c.post(fn) })
}

func (c *Client) send(frame []byte) bool {
	s := c.currentSession()
	if s == nil {
		metrics.FramesDropped.Inc()
		c.log.Debug().Msg("no session, dropping frame")
		return false
	}
	return s.Send(frame)
}

func (c *Client) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.stopped:
	}
}

func (c *Client) shutdown() {
	c.ctrl.Stop()
	if s := c.currentSession(); s != nil {
		c.setSession(nil)
		s.Close()
	}
}

func (c *Client) credential() auth.Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cred.HasToken() {
		return c.cred
	}
	return auth.Anonymous(c.cfg.DisplayName)
}

func (c *Client) currentSession() *transport.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) setSession(s *transport.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}
