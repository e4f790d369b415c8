package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/app"
	"github.com/markdave123-py/papertrail/internal/config"
	"github.com/markdave123-py/papertrail/internal/logger"
)

func main() {
	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	application, err := app.NewApp(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("startup failed", zap.Error(err))
	}
	defer application.Close()

	lg.Info("papertrail is running; DB connected and bootstrapped.")
	if err := application.Run(ctx); err != nil {
		lg.Error("server stopped", zap.Error(err))
	}
	lg.Info("shutting down...")
}
