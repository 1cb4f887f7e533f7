package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/omochice/roomchat/internal/auth"
	"github.com/omochice/roomchat/internal/client"
	"github.com/omochice/roomchat/internal/config"
	"github.com/omochice/roomchat/internal/logging"
	"github.com/omochice/roomchat/internal/metrics"
)

type options struct {
	configPath  string
	endpoint    string
	loginURL    string
	name        string
	username    string
	password    string
	metricsAddr string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "chat-client",
		Short: "Terminal client for roomchat servers",
		Long: `Connect to a roomchat server and chat from the terminal.

Log in with --username/--password to connect with a bearer token,
or pass --name to connect anonymously under a display name.

Commands:
  /join <name>      join or create a public room
  /leave [room]     leave a room (default: the selected one)
  /private <user>   open a private room with a user (id or name)
  /room <room>      select the room plain text goes to
  /rooms            list joined rooms
  /users            list online users
  /quit             exit`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "TOML config file")
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "WebSocket endpoint (ws:// or wss://)")
	cmd.Flags().StringVar(&opts.loginURL, "login-url", "", "Login endpoint (default derived from --endpoint)")
	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "Display name for anonymous mode")
	cmd.Flags().StringVarP(&opts.username, "username", "u", "", "Username to log in with")
	cmd.Flags().StringVarP(&opts.password, "password", "p", "", "Password to log in with")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(cmd *cobra.Command, opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		cfg.Endpoint = opts.endpoint
	}
	if flags.Changed("login-url") {
		cfg.LoginURL = opts.loginURL
	}
	if flags.Changed("name") {
		cfg.DisplayName = opts.name
	}
	if flags.Changed("username") {
		cfg.Username = opts.username
	}
	if flags.Changed("password") {
		cfg.Password = opts.password
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}

	if cfg.Username == "" && cfg.DisplayName == "" {
		return config.Config{}, errors.New("either --name or --username is required")
	}
	return cfg, cfg.Validate()
}

func run(parent context.Context, cfg config.Config, opts options) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.New(logging.Options{App: "chat-client", Level: cfg.LogLevel, NoColor: cfg.LogNoColor})

	metrics.Register()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}

	c, err := client.New(cfg, client.WithLogger(log))
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	r := newRenderer(os.Stdout)
	unsubscribe := c.Store().Subscribe(r.render)
	defer unsubscribe()

	if cfg.Username != "" {
		creds := auth.Credentials{Name: cfg.DisplayName, Username: cfg.Username, Password: cfg.Password}
		if err := c.LoginAndConnect(ctx, creds); err != nil {
			return fmt.Errorf("login failed: %s", c.Store().LoginError())
		}
	} else {
		c.Connect()
	}

	sh := newShell(c, os.Stdout)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			<-runErr
			return nil
		case line, ok := <-lines:
			if !ok {
				stop()
				<-runErr
				return nil
			}
			if quit := sh.execute(line); quit {
				stop()
				<-runErr
				return nil
			}
		}
	}
}

func serveMetrics(addr string, log zerolog.Logger) {
	srv := &http.Server{Addr: addr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}
