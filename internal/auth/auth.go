// Package auth exchanges user credentials for a bearer token at the login endpoint.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/omochice/roomchat/internal/metrics"
	"github.com/omochice/roomchat/pkg/protocol"
)

// Login failure reasons.
const (
	ReasonInvalidCredentials = "invalid credentials"
	ReasonUnreachable        = "unreachable"
)

// maxTokenBytes bounds the login response body.
const maxTokenBytes = 64 << 10

// AuthError is returned by Login for every failed attempt.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return "auth: " + e.Reason + ": " + e.Err.Error()
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Credentials are what the user types into the login form.
type Credentials struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Credential is the outcome of a login. An empty Token means display-name mode.
type Credential struct {
	Token string
	User  protocol.User
}

// Anonymous returns a credential for display-name mode.
func Anonymous(displayName string) Credential {
	return Credential{User: protocol.User{Name: displayName}}
}

// HasToken reports whether the credential selects bearer mode.
func (c Credential) HasToken() bool {
	return c.Token != ""
}

// Authenticator talks to the login endpoint.
type Authenticator struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Authenticator) { a.client = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Authenticator) { a.log = l }
}

// New creates an Authenticator for the given login URL.
func New(loginURL string, opts ...Option) *Authenticator {
	a := &Authenticator{
		url:    loginURL,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Login posts the credentials once. It never retries.
func (a *Authenticator) Login(ctx context.Context, creds Credentials) (Credential, error) {
	body, err := json.Marshal(creds)
	if err != nil {
		return Credential{}, errors.Wrap(err, "encode login request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return Credential{}, a.fail(ReasonUnreachable, errors.Wrap(err, "build login request"))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Credential{}, a.fail(ReasonUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBytes))
	if err != nil {
		return Credential{}, a.fail(ReasonUnreachable, errors.Wrap(err, "read login response"))
	}

	if isErrorStatus(data) {
		return Credential{}, a.fail(ReasonInvalidCredentials, nil)
	}
	if resp.StatusCode >= 500 {
		return Credential{}, a.fail(ReasonUnreachable, errors.Errorf("login endpoint returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return Credential{}, a.fail(ReasonInvalidCredentials, errors.Errorf("login endpoint returned %d", resp.StatusCode))
	}

	token := parseToken(data)
	if token == "" {
		return Credential{}, a.fail(ReasonInvalidCredentials, errors.New("empty token"))
	}

	cred := Credential{Token: token, User: userFromToken(token, creds)}
	a.log.Info().Str("user", cred.User.Name).Msg("login succeeded")
	return cred, nil
}

func (a *Authenticator) fail(reason string, err error) error {
	metrics.LoginFailures.WithLabelValues(reason).Inc()
	a.log.Warn().Err(err).Str("reason", reason).Msg("login failed")
	return &AuthError{Reason: reason, Err: err}
}

// isErrorStatus reports whether the body is an object whose status is "error".
func isErrorStatus(data []byte) bool {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return false
	}
	return body.Status == "error"
}

// parseToken accepts either a JSON string or the raw body text.
func parseToken(data []byte) string {
	var token string
	if err := json.Unmarshal(data, &token); err == nil {
		return strings.TrimSpace(token)
	}
	raw := strings.TrimSpace(string(data))
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return ""
	}
	return raw
}

// userFromToken reads identity claims from a JWT without verifying it.
// Verification is the server's job; the client only wants a display name.
func userFromToken(token string, creds Credentials) protocol.User {
	user := protocol.User{Name: creds.Username}
	if user.Name == "" {
		user.Name = creds.Name
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return user
	}
	if id, ok := claims["id"].(string); ok && id != "" {
		user.ID = id
	} else if sub, err := claims.GetSubject(); err == nil && sub != "" {
		user.ID = sub
	}
	if name, ok := claims["name"].(string); ok && name != "" {
		user.Name = name
	}
	return user
}
