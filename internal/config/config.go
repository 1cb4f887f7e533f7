// Package config loads client settings from defaults, a TOML file and the environment.
package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const (
	EnvEndpoint = "ROOMCHAT_ENDPOINT"
	EnvLoginURL = "ROOMCHAT_LOGIN_URL"
	EnvName     = "ROOMCHAT_NAME"
	EnvLogLevel = "ROOMCHAT_LOG_LEVEL"
)

// Config holds everything the client needs to reach a chat server.
type Config struct {
	// Endpoint is the ws(s) URL of the chat socket.
	Endpoint string
	// LoginURL is derived from Endpoint when empty.
	LoginURL    string
	DisplayName string
	Username    string
	Password    string

	InitialDelay time.Duration
	MaxDelay     time.Duration

	LogLevel    string
	LogNoColor  bool
	MetricsAddr string
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Endpoint:     "ws://localhost:8080/ws",
		InitialDelay: time.Second,
		MaxDelay:     16 * time.Second,
		LogLevel:     "info",
	}
}

type fileConfig struct {
	Endpoint     string `toml:"endpoint"`
	LoginURL     string `toml:"login_url"`
	Name         string `toml:"name"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	InitialDelay string `toml:"initial_delay"`
	MaxDelay     string `toml:"max_delay"`
	LogLevel     string `toml:"log_level"`
	LogNoColor   bool   `toml:"log_no_color"`
	MetricsAddr  string `toml:"metrics_addr"`
}

// Load reads a TOML file on top of Default. Keys missing from the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "load client config")
	}

	if meta.IsDefined("endpoint") {
		cfg.Endpoint = strings.TrimSpace(raw.Endpoint)
	}
	if meta.IsDefined("login_url") {
		cfg.LoginURL = strings.TrimSpace(raw.LoginURL)
	}
	if meta.IsDefined("name") {
		cfg.DisplayName = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("username") {
		cfg.Username = strings.TrimSpace(raw.Username)
	}
	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}
	if meta.IsDefined("initial_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.InitialDelay))
		if err != nil {
			return Config{}, errors.Wrap(err, "parse initial_delay")
		}
		cfg.InitialDelay = d
	}
	if meta.IsDefined("max_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.MaxDelay))
		if err != nil {
			return Config{}, errors.Wrap(err, "parse max_delay")
		}
		cfg.MaxDelay = d
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_no_color") {
		cfg.LogNoColor = raw.LogNoColor
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from ROOMCHAT_* variables.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvEndpoint)); v != "" {
		c.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLoginURL)); v != "" {
		c.LoginURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvName)); v != "" {
		c.DisplayName = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the endpoint scheme and the reconnect delays.
func (c Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return errors.Wrap(err, "parse endpoint")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.Errorf("endpoint %q: scheme must be ws or wss", c.Endpoint)
	}
	if u.Host == "" {
		return errors.Errorf("endpoint %q: missing host", c.Endpoint)
	}
	if c.InitialDelay <= 0 {
		return errors.New("initial_delay must be positive")
	}
	if c.MaxDelay < c.InitialDelay {
		return errors.Errorf("max_delay %s is below initial_delay %s", c.MaxDelay, c.InitialDelay)
	}
	return nil
}

// ResolvedLoginURL returns LoginURL, or the /api/login URL on the endpoint's host.
func (c Config) ResolvedLoginURL() (string, error) {
	if c.LoginURL != "" {
		return c.LoginURL, nil
	}
	return LoginURLFromEndpoint(c.Endpoint)
}

// LoginURLFromEndpoint maps ws://host/ws to http://host/api/login (wss to https).
func LoginURLFromEndpoint(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "parse endpoint")
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", errors.Errorf("endpoint %q: scheme must be ws or wss", endpoint)
	}
	u.Path = "/api/login"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
