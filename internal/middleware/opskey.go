package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/sable-pay/sable_pay/internal/tenant"
)

const (
	tenantIDHeader = "X-Tenant-ID"
	opsKeyHeader   = "X-Ops-Key"

	// TenantIDLocal is the fiber locals key under which the authenticated
	// tenant id is stored for downstream handlers.
	TenantIDLocal = "tenant_id"
)

// OpsAuth guards operator endpoints. Callers must present a tenant id and the
// matching ops key; the key is compared against the stored bcrypt hash.
func OpsAuth(tenants tenant.Repository, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID := c.Get(tenantIDHeader)
		opsKey := c.Get(opsKeyHeader)
		if tenantID == "" || opsKey == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing operator credentials")
		}

		t, err := tenants.Get(c.UserContext(), tenantID)
		if err != nil {
			if errors.Is(err, tenant.ErrNotFound) {
				return fiber.NewError(http.StatusUnauthorized, "invalid operator credentials")
			}
			return fiber.NewError(http.StatusInternalServerError, "tenant lookup failed")
		}
		if !t.Active {
			return fiber.NewError(http.StatusUnauthorized, "tenant disabled")
		}

		if err := t.CheckOpsKey(opsKey); err != nil {
			logger.Warn("ops key rejected", slog.String("tenant_id", tenantID))
			return fiber.NewError(http.StatusUnauthorized, "invalid operator credentials")
		}

		c.Locals(TenantIDLocal, t.ID)
		return c.Next()
	}
}
