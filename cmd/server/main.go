// Command server runs the ITMO sign-in bridge.
//
// Configuration comes from the environment (and .env when present); see
// internal/config for the variables. The process exits non-zero at startup
// if a required variable is missing.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sakif/itmo-auth/internal/config"
	"github.com/sakif/itmo-auth/internal/server"
	"github.com/sakif/itmo-auth/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	return srv.Start(ctx)
}

// newLogger builds the slog logger described by LOG_FORMAT and LOG_LEVEL.
func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
