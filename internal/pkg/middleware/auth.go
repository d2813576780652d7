package middleware

import (
	icuser "github.com/ManuelReschke/SectionsStack/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
)

// RequireInstalled ensures the request was authenticated for an installed shop.
func RequireInstalled(c *fiber.Ctx) error {
	v := c.Locals(icuser.KeyFromProtected)
	installed := false
	if b, ok := v.(bool); ok {
		installed = b
	}
	if !installed {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "session required",
		})
	}
	return c.Next()
}

// RequireAdmin ensures the shop may manage the catalog; JSON 403 otherwise.
func RequireAdmin(c *fiber.Ctx) error {
	if installed, ok := c.Locals(icuser.KeyFromProtected).(bool); !ok || !installed {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "session required",
		})
	}
	if isAdmin, ok := c.Locals(icuser.KeyIsAdmin).(bool); !ok || !isAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "Admin access required",
		})
	}
	return c.Next()
}
