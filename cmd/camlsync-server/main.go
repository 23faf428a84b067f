// Command camlsync-server serves the version store's HTTP API
// described in internal/httpapi.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/camlsync/camlsync/internal/cliserver"
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

	dir := envCfg.Dir
	if dir == "" {
		dir = "."
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := cliserver.New(dir, envCfg.Port, logger)
	return app.Run(ctx, os.Args[1:])
}
