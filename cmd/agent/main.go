// Command agent is the process entrypoint: it loads configuration, wires
// the App container, starts the scheduler's leader-election loop and the
// HTTP surface, and shuts both down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/atlasagent/atlas-core/internal/app"
	"github.com/atlasagent/atlas-core/internal/config"
	"github.com/atlasagent/atlas-core/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agent:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	instanceID := instanceIDFromEnv()
	a, err := app.New(ctx, cfg, logger, instanceID)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("close app", zap.Error(cerr))
		}
	}()

	go a.Scheduler.Start(ctx)

	srv := server.New(&server.Server{
		Pipeline:              a.Pipeline,
		Store:                 a.Graph,
		Metrics:               a.Metrics,
		Logger:                logger,
		SessionSecret:         cfg.SessionSecret,
		InternalOnly:          cfg.InternalOnly,
		InternalOnlyWhitelist: cfg.InternalOnlyWhitelist,
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if serveErr := httpSrv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func instanceIDFromEnv() string {
	if id := os.Getenv("ATLAS_INSTANCE_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "atlas-agent"
	}
	return host
}
