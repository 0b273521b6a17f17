package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sable-pay/sable_pay/internal/config"
	"github.com/sable-pay/sable_pay/internal/infra"
	"github.com/sable-pay/sable_pay/internal/logging"
	"github.com/sable-pay/sable_pay/internal/server"
	"github.com/sable-pay/sable_pay/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	nc, err := infra.NewNATSConn(cfg.NATSURL, cfg.AppName)
	if err != nil {
		logger.Error("connect nats", "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	bus := webhook.NewNATSBus(nc)

	srv, components, err := server.New(cfg, db, cache, bus, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	worker := webhook.NewWorker(components.Dispatcher, components.Deliveries, nc, bus, cfg.DispatchMaxAttempts, logger)
	workerErrCh := make(chan error, 1)
	go func() {
		workerErrCh <- worker.Run(workerCtx)
	}()

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	case err := <-workerErrCh:
		logger.Error("dispatch worker stopped", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	stopWorker()
	select {
	case <-workerErrCh:
	case <-shutdownCtx.Done():
	}

	logger.Info("server exited cleanly")
}
