package webhook

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// inboundSignatureHeaders are checked in order for the provider signature;
// gateways disagree on the header name.
var inboundSignatureHeaders = []string{"X-Signature", "Signature", "X-Webhook-Signature"}

// Handler exposes HTTP endpoints for webhook ingestion and delivery ops.
type Handler struct {
	ingestor   *Ingestor
	dispatcher *Dispatcher
	deliveries DeliveryStore
}

// NewHandler constructs a webhook handler.
func NewHandler(ingestor *Ingestor, dispatcher *Dispatcher, deliveries DeliveryStore) *Handler {
	return &Handler{ingestor: ingestor, dispatcher: dispatcher, deliveries: deliveries}
}

// Ingest receives one provider webhook delivery.
func (h *Handler) Ingest(c *fiber.Ctx) error {
	provider := c.Params("provider")
	var signature string
	for _, header := range inboundSignatureHeaders {
		if v := c.Get(header); v != "" {
			signature = v
			break
		}
	}

	result, err := h.ingestor.Ingest(c.UserContext(), provider, c.Body(), signature)
	if err != nil {
		if result.Outcome == OutcomeRejected {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	switch result.Outcome {
	case OutcomeRejected:
		return c.Status(http.StatusUnauthorized).JSON(result)
	case OutcomeAccountNotFound:
		// Stable not-found: the provider records a failure for manual
		// reconciliation but nothing retries automatically on our side.
		return c.Status(http.StatusNotFound).JSON(result)
	default:
		return c.Status(http.StatusOK).JSON(result)
	}
}

// ListDeliveries returns delivery history filtered by dispatch status.
func (h *Handler) ListDeliveries(c *fiber.Ctx) error {
	status := c.Query("status", DispatchFailed)
	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}

	deliveries, err := h.deliveries.ListByStatus(c.UserContext(), status, limit)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	out := make([]fiber.Map, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, fiber.Map{
			"id":                 d.ID,
			"tenant_id":          d.TenantID,
			"event":              d.EventType,
			"owner_id":           d.OwnerID,
			"dispatch_status":    d.DispatchStatus,
			"attempts":           d.Attempts,
			"last_response_code": d.LastResponseCode,
			"last_error":         d.LastError,
			"created_at":         d.CreatedAt,
			"updated_at":         d.UpdatedAt,
		})
	}
	return c.JSON(fiber.Map{"deliveries": out})
}

// RetryDelivery re-sends a failed delivery on operator request.
func (h *Handler) RetryDelivery(c *fiber.Ctx) error {
	delivery, err := h.dispatcher.Retry(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrDeliveryNotFound) {
			return fiber.NewError(http.StatusNotFound, "delivery not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"id":                 delivery.ID,
		"dispatch_status":    delivery.DispatchStatus,
		"attempts":           delivery.Attempts,
		"last_response_code": delivery.LastResponseCode,
		"last_error":         delivery.LastError,
	})
}
