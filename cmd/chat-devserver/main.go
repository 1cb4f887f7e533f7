package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omochice/roomchat/internal/devserver"
	"github.com/omochice/roomchat/internal/logging"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		addr     string
		accounts []string
		secret   string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "chat-devserver",
		Short: "Run a local roomchat server",
		Long: `Run a local roomchat server for development and testing.

It serves POST /api/login and the /ws WebSocket endpoint.

Examples:
  chat-devserver
  chat-devserver --addr :9000 --account alice:wonderland --account bob:builder`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := serverOptions(accounts, secret)
			if err != nil {
				return err
			}
			log := logging.New(logging.Options{App: "chat-devserver", Level: logLevel})
			opts = append(opts, devserver.WithLogger(log))
			return run(devserver.New(opts...), addr)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "Address to listen on")
	cmd.Flags().StringArrayVar(&accounts, "account", nil, "Login account as user:password (repeatable)")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret for bearer tokens (random when empty)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	return cmd
}

func serverOptions(accounts []string, secret string) ([]devserver.Option, error) {
	var opts []devserver.Option
	for _, account := range accounts {
		user, password, ok := strings.Cut(account, ":")
		if !ok || user == "" {
			return nil, fmt.Errorf("invalid --account %q, want user:password", account)
		}
		opts = append(opts, devserver.WithAccount(user, password))
	}
	if secret != "" {
		opts = append(opts, devserver.WithSecret([]byte(secret)))
	}
	return opts, nil
}

func run(srv *devserver.Server, addr string) error {
	if err := srv.Listen(addr); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve()
	}()

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Stop(ctx)
	}
}
