package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sable-pay/sable_pay/internal/config"
	"github.com/sable-pay/sable_pay/internal/routes"
	"github.com/sable-pay/sable_pay/internal/webhook"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New instantiates the HTTP server. It returns the wired components so the
// caller can hand the same dispatcher and stores to the dispatch worker.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, bus webhook.Bus, logger *slog.Logger) (*Server, *routes.Components, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	deps := routes.Deps{Cfg: cfg, DB: db, Cache: cache, Bus: bus, Logger: logger}
	components, err := routes.Build(deps)
	if err != nil {
		return nil, nil, err
	}
	routes.Setup(app, deps, components)

	return &Server{app: app, cfg: cfg}, components, nil
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
