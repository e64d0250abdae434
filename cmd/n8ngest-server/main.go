package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/R0m1k3/n8ngest/internal/app"
	"github.com/R0m1k3/n8ngest/internal/logging"
)

var version = "dev"

// n8ngest-server is the container entrypoint.
//
// Endpoints:
// - GET  /healthz
// - /api/...   chat, agents, models, settings, sessions, workflows
// - POST /mcp  (JSON-RPC tool server)
//
// Sessions and settings live in DATABASE_URL (postgres:// or sqlite:<path>);
// without it they are kept in memory.
func main() {
	var addr string
	var verbose bool
	flag.StringVar(&addr, "addr", "", "listen address (default :$PORT or :8080)")
	flag.BoolVar(&verbose, "verbose", false, "debug logging")
	flag.Parse()

	if addr == "" {
		if p := os.Getenv("PORT"); p != "" {
			addr = ":" + p
		} else {
			addr = ":8080"
		}
	}

	log, err := logging.New(verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(addr, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(addr string, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	a, err := app.New(openCtx, app.Options{DSN: os.Getenv("DATABASE_URL"), Version: version, Logger: log})
	if err != nil {
		return fmt.Errorf("open app: %w", err)
	}
	defer a.Close()

	srv := &http.Server{Addr: addr, Handler: a.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("listening", zap.String("addr", addr), zap.String("version", version))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
