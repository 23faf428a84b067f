// Package cliserver implements the sync server's command surface
// (section 6.3): `init <token>` provisions a fresh version store, and
// the default command serves the HTTP API described in
// internal/httpapi.
package cliserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	camlerrors "github.com/camlsync/camlsync/internal/errors"
	"github.com/camlsync/camlsync/internal/httpapi"
	"github.com/camlsync/camlsync/internal/store"
)

// App runs server CLI commands against a version store rooted at Dir.
type App struct {
	Dir    string
	Port   int
	Logger *slog.Logger
}

// New builds an App over a store rooted at dir, serving on port.
func New(dir string, port int, logger *slog.Logger) *App {
	return &App{Dir: dir, Port: port, Logger: logger}
}

// Run dispatches a parsed argv (excluding argv[0]).
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return a.Serve(ctx)
	}
	if args[0] == "init" {
		return a.Init(args[1:])
	}
	return fmt.Errorf("%w: unknown command %q", camlerrors.ErrInvalidArgument, args[0])
}

// Init provisions config.json and the version_0.diff identity diff.
func (a *App) Init(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: init requires exactly one argument (token)", camlerrors.ErrInvalidArgument)
	}

	s := store.New(a.Dir)
	cfg, err := s.Init(args[0], fmt.Sprintf("http://0.0.0.0:%d", a.Port), a.Port)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}

	a.Logger.Info("server initialized",
		slog.String("server_id", cfg.ServerID),
		slog.Int("port", cfg.Port),
	)
	return nil
}

// Serve starts the HTTP API and blocks until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	s := store.New(a.Dir)
	if _, err := s.LoadConfig(); err != nil {
		return fmt.Errorf("loading server config: %w", err)
	}

	srv := httpapi.New(s, a.Logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Port),
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		a.Logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	a.Logger.Info("camlsync-server starting", slog.Int("port", a.Port))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
