package routes

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sable-pay/sable_pay/internal/config"
	"github.com/sable-pay/sable_pay/internal/ledger"
	"github.com/sable-pay/sable_pay/internal/middleware"
	"github.com/sable-pay/sable_pay/internal/reconcile"
	"github.com/sable-pay/sable_pay/internal/settlement"
	"github.com/sable-pay/sable_pay/internal/tenant"
	"github.com/sable-pay/sable_pay/internal/wallet"
	"github.com/sable-pay/sable_pay/internal/webhook"
)

// Deps aggregates shared infrastructure required to wire the application.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Bus    webhook.Bus
	Logger *slog.Logger
}

// Components holds the wired services. The HTTP layer and the dispatch
// worker share these instances.
type Components struct {
	Ledger     ledger.Ledger
	Wallets    wallet.Repository
	Tenants    tenant.Repository
	Deliveries webhook.DeliveryStore
	Events     webhook.EventStore
	Dispatcher *webhook.Dispatcher
	Ingestor   *webhook.Ingestor
	Clearer    *settlement.Clearer
	Reconciler *reconcile.Job
}

// Build constructs every service against Postgres when a pool is present and
// against in-memory backends otherwise.
func Build(d Deps) (*Components, error) {
	if !isDev(d.Cfg.AppEnv) {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	c := &Components{}

	if d.DB != nil {
		c.Ledger = ledger.NewPostgresLedger(d.DB)
		c.Wallets = wallet.NewPostgresRepository(d.DB)
		c.Tenants = tenant.NewPostgresRepository(d.DB)
		c.Deliveries = webhook.NewPostgresDeliveryStore(d.DB)
		c.Events = webhook.NewPostgresEventStore(d.DB)
		c.Clearer = settlement.NewClearer(settlement.NewPostgresStore(d.DB), c.Ledger, d.Logger)
	} else {
		mem := ledger.NewInMemory()
		c.Ledger = mem
		c.Wallets = mem
		c.Tenants = tenant.NewMemoryRepository()
		c.Deliveries = webhook.NewMemoryDeliveryStore()
		c.Events = webhook.NewMemoryEventStore()
		c.Clearer = settlement.NewClearer(settlement.NewMemoryStore(), c.Ledger, d.Logger)
	}

	c.Dispatcher = webhook.NewDispatcher(c.Deliveries, c.Tenants, d.Bus, d.Cfg.DispatchTimeout, d.Logger)

	verifier, err := webhook.NewVerifier(d.Cfg.ProviderHMACSecret, d.Cfg.ProviderPublicKey)
	if err != nil {
		return nil, fmt.Errorf("build signature verifier: %w", err)
	}
	c.Ingestor = webhook.NewIngestor(webhook.IngestorDeps{
		Verifier:      verifier,
		AllowUnsigned: d.Cfg.AllowUnsigned,
		Events:        c.Events,
		Wallets:       c.Wallets,
		Ledger:        c.Ledger,
		Clearer:       c.Clearer,
		Dispatcher:    c.Dispatcher,
		Replay:        d.Cache,
		Logger:        d.Logger,
	})

	if d.Cache != nil {
		c.Reconciler = reconcile.NewJob(d.Cache, c.Ledger, c.Wallets, reconcile.StaticProvider{},
			c.Dispatcher, d.Cfg.ReconcileLockTTL, d.Cfg.PendingCutoff, d.Logger)
	}

	return c, nil
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps, c *Components) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	webhookHandler := webhook.NewHandler(c.Ingestor, c.Dispatcher, c.Deliveries)

	api := app.Group("/api/v1")

	// Provider-facing: authenticated by payload signature, not ops key.
	api.Post("/webhooks/:provider", webhookHandler.Ingest)

	// Operator surface.
	ops := api.Group("", middleware.OpsAuth(c.Tenants, d.Logger))
	RegisterWalletRoutes(ops, c.Ledger)
	RegisterDeliveryRoutes(ops, webhookHandler)
	RegisterReconcileRoutes(ops, c.Reconciler)
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
