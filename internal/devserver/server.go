package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omochice/roomchat/internal/auth"
	"github.com/omochice/roomchat/pkg/protocol"
)

var (
	errMissingIdentity = errors.New("missing bearer or name parameter")
	errBadToken        = errors.New("invalid bearer token")
)

// Server serves the login endpoint and the WebSocket endpoint.
type Server struct {
	hub      *Hub
	accounts map[string]string
	secret   []byte
	tokenTTL time.Duration
	log      zerolog.Logger
	router   chi.Router

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup

	mu       sync.Mutex
	stopping bool
}

// Option configures a Server.
type Option func(*Server)

// WithAccount adds a username and password accepted by /api/login.
func WithAccount(username, password string) Option {
	return func(s *Server) { s.accounts[username] = password }
}

// WithSecret sets the HMAC key used to sign and verify bearer tokens.
func WithSecret(secret []byte) Option {
	return func(s *Server) { s.secret = secret }
}

// WithTokenTTL sets how long issued tokens stay valid.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) { s.tokenTTL = ttl }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a Server. Without WithSecret a random key is used.
func New(opts ...Option) *Server {
	s := &Server{
		accounts: make(map[string]string),
		tokenTTL: 24 * time.Hour,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.secret) == 0 {
		s.secret = []byte(uuid.NewString())
	}
	s.hub = NewHub(s.log)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/api/login", s.handleLogin)
	r.Get("/ws", s.handleWebSocket)
	s.router = r

	return s
}

// Handler returns the HTTP handler, for use with httptest or a custom server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Listen binds address. It must be called before Serve.
func (s *Server) Listen(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = listener
	s.server = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	return nil
}

// Serve accepts connections until Stop is called.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("devserver: Serve called before Listen")
	}
	s.log.Info().Str("addr", s.listener.Addr().String()).Msg("dev server started")

	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start listens on address and serves until Stop is called.
func (s *Server) Start(address string) error {
	if err := s.Listen(address); err != nil {
		return err
	}
	return s.Serve()
}

// Stop stops accepting connections and closes every client. WebSocket requests
// arriving after Stop has begun are refused with 503.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.hub.Shutdown()
	s.wg.Wait()
	return err
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// DropConnections closes every live WebSocket connection and returns how many were closed.
func (s *Server) DropConnections() int {
	return s.hub.CloseAll()
}

// Connections returns number of connected clients.
func (s *Server) Connections() int {
	return s.hub.ClientCount()
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error"})
		return
	}

	password, ok := s.accounts[creds.Username]
	if !ok || password != creds.Password {
		s.log.Info().Str("username", creds.Username).Msg("login rejected")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "error"})
		return
	}

	name := creds.Name
	if name == "" {
		name = creds.Username
	}
	user := protocol.User{ID: accountID(creds.Username), Name: name}

	token, err := s.issueToken(user)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to sign token")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	s.log.Info().Str("username", creds.Username).Msg("login accepted")
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := s.identify(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBadToken) {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}

	if !s.acquire() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(newWSConn(conn, r.RemoteAddr), user)
	if !s.hub.Register(client) {
		_ = client.Conn.Close()
		return
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		writePump(client, s.log)
	}()
	go func() {
		defer s.wg.Done()
		readPump(s.hub, client, s.log)
	}()
}

// acquire counts an upgrade in progress so Stop waits for it. It fails once Stop
// has begun.
func (s *Server) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.wg.Add(1)
	return true
}

// identify resolves the connecting user from the bearer or name query parameter.
func (s *Server) identify(r *http.Request) (protocol.User, error) {
	query := r.URL.Query()
	if token := query.Get("bearer"); token != "" {
		user, err := s.verifyToken(token)
		if err != nil {
			s.log.Info().Err(err).Msg("rejected bearer token")
			return protocol.User{}, errBadToken
		}
		return user, nil
	}

	name := strings.TrimSpace(query.Get("name"))
	if name == "" {
		return protocol.User{}, errMissingIdentity
	}
	return protocol.User{ID: uuid.NewString(), Name: name}, nil
}

// accountID derives a stable user id from a username.
func accountID(username string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(username)).String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
