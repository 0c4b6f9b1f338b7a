package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/healthcare-booking-engine/internal/app"
	"github.com/hackgods/healthcare-booking-engine/internal/config"
	"github.com/hackgods/healthcare-booking-engine/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.StoreBackend != config.StorePostgres {
		log.Fatal("reminder-worker needs STORE_BACKEND=postgres; the memory store delivers reminders inside api-server")
	}

	if err := run(cfg, log); err != nil {
		log.Error("reminder-worker failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("reminder-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.Build(rootCtx, cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("engine setup: %w", err)
	}
	defer engine.Close(cfg.ShutdownTimeout)

	engine.RunReminders(rootCtx, cfg.WorkerInterval)
	log.Info("reminder-worker stopped")
	return nil
}
