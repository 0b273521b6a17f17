package routes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/sable-pay/sable_pay/internal/reconcile"
)

// RegisterReconcileRoutes adds the on-demand reconciliation trigger.
func RegisterReconcileRoutes(r fiber.Router, job *reconcile.Job) {
	r.Post("/reconcile/run", func(c *fiber.Ctx) error {
		if job == nil {
			return fiber.NewError(http.StatusServiceUnavailable, "reconciliation requires redis")
		}
		report, err := job.Run(c.UserContext())
		if err != nil {
			if errors.Is(err, reconcile.ErrRunInProgress) {
				return fiber.NewError(http.StatusConflict, "a reconciliation run is already in progress")
			}
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(report)
	})
}
