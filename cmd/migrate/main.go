package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hackgods/healthcare-booking-engine/internal/config"
	"github.com/hackgods/healthcare-booking-engine/internal/db"
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
		log.Fatal("migrate needs STORE_BACKEND=postgres")
	}

	if err := db.Migrate(cfg.PostgresDSN); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	log.Info("migrations applied")
}
