package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/healthcare-booking-engine/internal/api"
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

	if err := run(cfg, log); err != nil {
		log.Error("api-server failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("api-server stopped")
}

// run owns every resource it opens so deferred cleanup runs on all exits.
func run(cfg config.Config, log *zap.Logger) error {
	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreBackend),
		zap.String("lock", cfg.LockBackend),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.Build(rootCtx, cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("engine setup: %w", err)
	}
	defer engine.Close(cfg.ShutdownTimeout)

	router := api.NewRouter(api.RouterConfig{
		Service:       engine.Service,
		Notifications: engine.Notify,
		Reminders:     engine.Notify,
		Checks:        engine.Checks,
		Metrics:       engine.Metrics,
		Logger:        log,
		Env:           cfg.Env,
		Version:       cfg.Version,
	})

	// With the memory store no other process can see reminders, so deliver
	// them here.
	if cfg.StoreBackend == config.StoreMemory {
		go engine.RunReminders(rootCtx, cfg.WorkerInterval)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	return runErr
}
