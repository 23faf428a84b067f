// Command camlsync is the sync client: it runs against a working
// directory, talking to a camlsync-server over the token-authorized
// HTTP protocol in internal/protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/camlsync/camlsync/internal/cliclient"
	"github.com/camlsync/camlsync/internal/config"
	"github.com/camlsync/camlsync/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envCfg, err := config.LoadEnv()
	if err != nil {
		return fmt.Errorf("loading environment config: %w", err)
	}

	logger := logging.NewLogger(envCfg.Environment)

	dir, err := os.Getwd()
	if envCfg.Dir != "." && envCfg.Dir != "" {
		dir = envCfg.Dir
	} else if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := cliclient.New(dir, logger)
	return app.Run(ctx, os.Args[1:])
}
