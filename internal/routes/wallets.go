package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/sable-pay/sable_pay/internal/ledger"
)

// RegisterWalletRoutes adds wallet balance and entry history endpoints.
func RegisterWalletRoutes(r fiber.Router, l ledger.Ledger) {
	r.Get("/wallets/:ownerId/balance", func(c *fiber.Ctx) error {
		view, err := l.Balance(c.UserContext(), c.Params("ownerId"))
		if err != nil {
			if errors.Is(err, ledger.ErrWalletNotFound) {
				return fiber.NewError(http.StatusNotFound, "wallet not found")
			}
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(view)
	})

	r.Get("/wallets/:ownerId/entries", func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "50"))
		if err != nil || limit <= 0 || limit > 500 {
			limit = 50
		}
		entries, err := l.EntriesByOwner(c.UserContext(), c.Params("ownerId"), limit)
		if err != nil {
			if errors.Is(err, ledger.ErrWalletNotFound) {
				return fiber.NewError(http.StatusNotFound, "wallet not found")
			}
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		out := make([]fiber.Map, 0, len(entries))
		for _, e := range entries {
			out = append(out, fiber.Map{
				"reference":      e.Reference,
				"type":           e.Type,
				"category":       e.Category,
				"amount":         e.Amount,
				"fee":            e.Fee,
				"balance_before": e.BalanceBefore,
				"balance_after":  e.BalanceAfter,
				"status":         e.Status,
				"is_cleared":     e.IsCleared,
				"narration":      e.Narration,
				"created_at":     e.CreatedAt,
			})
		}
		return c.JSON(fiber.Map{"entries": out})
	})

	r.Post("/wallets/:ownerId/retire", func(c *fiber.Ctx) error {
		ownerID := c.Params("ownerId")
		if err := l.RetireWallet(c.UserContext(), ownerID); err != nil {
			if errors.Is(err, ledger.ErrWalletNotFound) {
				return fiber.NewError(http.StatusNotFound, "wallet not found")
			}
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"owner_id": ownerID, "status": "retired"})
	})
}
