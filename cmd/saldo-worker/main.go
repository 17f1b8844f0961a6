package main

import (
	"context"
	"errors"
	"os"
	"time"

	"saldo/internal/cli"
	"saldo/internal/log"
	"saldo/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(log.ForComponent(log.ComponentApp))
	cli.SetupLogger(cfg.LogLevel)
	logger := log.ForComponent(log.ComponentWorker)

	logger.Info("Starting saldo-worker")

	if !cfg.AMQPEnabled() {
		logger.Error("saldo-worker needs AMQP_URL and RECONCILE_INLINE unset")
		os.Exit(1)
	}

	store, closeStore, err := cli.OpenStore(context.Background(), cfg)
	if err != nil {
		logger.Error("Failed to open store", log.FieldError, err.Error())
		os.Exit(1)
	}
	defer closeStore()

	exporter, err := cli.NewExporter(context.Background(), logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize exporter", log.FieldError, err.Error())
		os.Exit(1)
	}
	if exporter == nil {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := cli.ConnectAMQP(logger, cfg, true)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err.Error())
		os.Exit(1)
	}
	defer amqpClient.Close()

	rw := worker.NewReconcileWorker(store, cli.NewEngine(store, cfg), exporter)

	ctx, done := cli.GracefulShutdown(logger, 10*time.Second, nil)

	// Messages published while the worker was down may be gone.
	logger.Info("Performing startup reconcile check...")
	if err := rw.ProcessPendingUsers(ctx); err != nil {
		logger.Error("Startup reconcile check failed", log.FieldError, err.Error())
	}

	go func() {
		if err := amqpClient.Consume(ctx, rw.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", log.FieldError, err.Error())
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.PendingSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := rw.ProcessPendingUsers(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Periodic reconcile check failed", log.FieldError, err.Error())
				}
			}
		}
	}()

	logger.Info("saldo-worker started, waiting for messages",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue,
		"pending_sweep_interval", cfg.PendingSweepInterval.String())

	cli.WaitForShutdown(ctx, done)
	logger.Info("saldo-worker stopped")
}
