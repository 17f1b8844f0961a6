// Package cli provides the initialization shared by cmd/saldo,
// cmd/saldo-worker and cmd/snapshot-worker.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"saldo/internal/amqp"
	"saldo/internal/backend"
	"saldo/internal/config"
	"saldo/internal/log"
	"saldo/internal/reconcile"
	"saldo/internal/sheets"
	gsheet "saldo/internal/sheets/google"
	"saldo/internal/storage"
)

// SetupLogger installs a text logger at the configured level as the process
// default, so that every log.ForComponent logger shares it.
func SetupLogger(level string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(level)
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err.Error())
		os.Exit(1)
	}
	return cfg
}

// OpenStore creates the configured storage backend.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, backend.CleanupFunc, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	res, err := backend.NewFactory(nil).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, nil, err
	}
	return res.Store, res.Cleanup, nil
}

// NewEngine builds the reconciliation engine from config.
func NewEngine(store storage.Store, cfg *config.Config) *reconcile.Engine {
	return reconcile.NewEngine(store, reconcile.WithMonthConcurrency(cfg.MonthConcurrency))
}

// ConnectAMQP returns nil when AMQP is disabled. A failed connection is
// logged and also yields nil unless required is set.
func ConnectAMQP(logger *log.Logger, cfg *config.Config, required bool) (*amqp.Client, error) {
	if !cfg.AMQPEnabled() {
		return nil, nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		if required {
			return nil, fmt.Errorf("connect to AMQP: %w", err)
		}
		logger.Warn("Failed to initialize AMQP client, reconciling inline", log.FieldError, err.Error())
		return nil, nil
	}
	logger.Info("Initialized AMQP client",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue)
	return client, nil
}

// NewExporter returns the Google Sheets exporter, or nil when no
// spreadsheet is configured.
func NewExporter(ctx context.Context, logger *log.Logger, cfg *config.Config) (sheets.SummaryExporter, error) {
	if !cfg.SheetsEnabled() {
		return nil, nil
	}
	credsFile := cfg.GoogleServiceAccountFile
	if credsFile == "" {
		credsFile = cfg.GoogleApplicationCredsFile
	}
	client, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: credsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize Google Sheets exporter: %w", err)
	}
	logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client, nil
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that is closed once cleanup has run.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
			close(finished)
		}()

		select {
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		case <-finished:
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup is done.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
