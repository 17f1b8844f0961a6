package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"saldo/internal/cache"
	"saldo/internal/cli"
	"saldo/internal/log"
	"saldo/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(log.ForComponent(log.ComponentApp))
	cli.SetupLogger(cfg.LogLevel)
	logger := log.ForComponent(log.ComponentApp)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := cli.OpenStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open store", log.FieldError, err.Error())
		os.Exit(1)
	}
	defer closeStore()

	engine := cli.NewEngine(store, cfg)
	reports := services.NewReportService(engine, cfg.ReportCacheTTL)

	opts := []services.LedgerOption{services.WithReports(reports)}
	amqpClient, err := cli.ConnectAMQP(logger, cfg, false)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err.Error())
		os.Exit(1)
	}
	if amqpClient != nil {
		defer amqpClient.Close()
		opts = append(opts, services.WithPublisher(amqpClient))
	}

	a := newApp(services.NewLedgerService(store, engine, opts...), reports, engine, os.Stdout)
	if amqpClient != nil {
		a.publisher = amqpClient
	}

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "shell" {
		if cfg.ReportCacheTTL > 0 {
			manager := cache.NewManager()
			for _, c := range reports.Cleaners() {
				manager.Register(c)
			}
			manager.StartCleanup(cfg.ReportCacheTTL)
			defer manager.Stop()
		}
		err = a.shell(ctx, os.Stdin)
	} else {
		err = a.run(ctx, args)
	}

	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
	case errors.Is(err, errUsage):
		os.Exit(2)
	default:
		logger.Error("Command failed", log.FieldError, err.Error())
		closeStore()
		os.Exit(1)
	}
}
