package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sable-pay/sable_pay/internal/webhook"
)

// RegisterDeliveryRoutes adds delivery inspection and manual retry endpoints.
func RegisterDeliveryRoutes(r fiber.Router, h *webhook.Handler) {
	r.Get("/deliveries", h.ListDeliveries)
	r.Post("/deliveries/:id/retry", h.RetryDelivery)
}
