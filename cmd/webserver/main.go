package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olgkv/cyclecount/internal/app"
	"github.com/olgkv/cyclecount/internal/config"
	"github.com/olgkv/cyclecount/internal/logging"
)

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// runHTTPServer blocks until ctx is cancelled or the server fails, then
// shuts the server down.
func runHTTPServer(ctx context.Context, srv httpServer) {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err, ok := <-errCh:
		if ok {
			slog.Error("server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config: ", err)
	}

	logger, closeLogs, err := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Fluent: logging.FluentConfig{
			Enabled:   cfg.FluentEnabled,
			Host:      cfg.FluentHost,
			Port:      cfg.FluentPort,
			TagPrefix: "cyclecount",
		},
	}, os.Stdout)
	if err != nil {
		log.Fatal("init logging: ", err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("init app", "error", err)
		_ = closeLogs()
		os.Exit(1)
	}

	logger.Info("server listening", "addr", a.Server.Addr)
	runHTTPServer(ctx, a.Server)

	if a.Stats != nil {
		total, completed := a.Stats()
		logger.Info("shutdown summary", "total_tasks", total, "completed_tasks", completed)
	}
	if err := a.Close(); err != nil {
		logger.Error("close resources", "error", err)
	}
	if err := closeLogs(); err != nil {
		log.Println("close logger:", err)
	}
}
