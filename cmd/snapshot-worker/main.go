package main

import (
	"context"
	"os"
	"time"

	"saldo/internal/cli"
	"saldo/internal/log"
	"saldo/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(log.ForComponent(log.ComponentApp))
	cli.SetupLogger(cfg.LogLevel)
	logger := log.ForComponent(log.ComponentScheduler)

	logger.Info("Starting snapshot-worker")

	store, closeStore, err := cli.OpenStore(context.Background(), cfg)
	if err != nil {
		logger.Error("Failed to open store", log.FieldError, err.Error())
		os.Exit(1)
	}
	defer closeStore()

	job := services.NewSnapshotJob(store, cli.NewEngine(store, cfg), services.SnapshotJobConfig{
		Interval:      cfg.SnapshotInterval,
		RatePerSecond: cfg.SnapshotRatePerSecond,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := job.Stop(shutdownCtx); err != nil {
			logger.Warn("Snapshot job did not stop cleanly", log.FieldError, err.Error())
		}
	})

	if err := job.Start(ctx); err != nil {
		logger.Error("Failed to start snapshot job", log.FieldError, err.Error())
		os.Exit(1)
	}

	logger.Info("snapshot-worker started",
		"interval", cfg.SnapshotInterval.String(),
		"rate_per_second", cfg.SnapshotRatePerSecond)

	cli.WaitForShutdown(ctx, done)
	logger.Info("snapshot-worker stopped")
}
