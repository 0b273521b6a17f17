package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sable-pay/sable_pay/internal/config"
	"github.com/sable-pay/sable_pay/internal/infra"
	"github.com/sable-pay/sable_pay/internal/ledger"
	"github.com/sable-pay/sable_pay/internal/logging"
	"github.com/sable-pay/sable_pay/internal/reconcile"
	"github.com/sable-pay/sable_pay/internal/tenant"
	"github.com/sable-pay/sable_pay/internal/wallet"
	"github.com/sable-pay/sable_pay/internal/webhook"
)

// One-shot reconciliation sweep, intended to run from cron. The HTTP trigger
// and this binary share the same redis lock, so overlapping runs refuse.
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
	defer cache.Close()

	nc, err := infra.NewNATSConn(cfg.NATSURL, cfg.AppName+"-reconcile")
	if err != nil {
		logger.Error("connect nats", "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	ledgerBackend := ledger.NewPostgresLedger(db)
	wallets := wallet.NewPostgresRepository(db)
	tenants := tenant.NewPostgresRepository(db)
	deliveries := webhook.NewPostgresDeliveryStore(db)
	dispatcher := webhook.NewDispatcher(deliveries, tenants, webhook.NewNATSBus(nc), cfg.DispatchTimeout, logger)

	job := reconcile.NewJob(cache, ledgerBackend, wallets, reconcile.StaticProvider{},
		dispatcher, cfg.ReconcileLockTTL, cfg.PendingCutoff, logger)

	report, err := job.Run(ctx)
	if err != nil {
		if errors.Is(err, reconcile.ErrRunInProgress) {
			logger.Warn("another reconciliation run holds the lock, exiting")
			return
		}
		logger.Error("reconciliation run failed", "error", err)
		os.Exit(1)
	}

	logger.Info("reconciliation run complete",
		"examined", report.Examined,
		"confirmed", report.Confirmed,
		"failed", report.Failed,
		"unresolved", report.Unresolved,
	)
}
