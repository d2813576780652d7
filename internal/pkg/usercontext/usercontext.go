package usercontext

import "github.com/gofiber/fiber/v2"

// ShopContext represents the merchant behind an authenticated embedded-app request
type ShopContext struct {
	ShopID        uint   `json:"shop_id"`
	Shop          string `json:"shop"`
	IsInstalled   bool   `json:"is_installed"`
	IsAdmin       bool   `json:"is_admin"`
	AccessToken   string `json:"-"`
	SessionUserID string `json:"session_user_id,omitempty"`
}

// Set stores ctx on the request together with the flat compatibility keys.
func Set(c *fiber.Ctx, ctx ShopContext) {
	c.Locals(KeyShopContext, ctx)
	c.Locals(KeyFromProtected, ctx.IsInstalled)
	c.Locals(KeyShopID, ctx.ShopID)
	c.Locals(KeyShopDomain, ctx.Shop)
	c.Locals(KeyIsAdmin, ctx.IsAdmin)
}

// GetShopContext retrieves the shop context from fiber context
// Returns an empty context if none is set
func GetShopContext(c *fiber.Ctx) ShopContext {
	if ctx, ok := c.Locals(KeyShopContext).(ShopContext); ok {
		return ctx
	}
	return ShopContext{}
}

// IsInstalled checks if the request comes from a shop with a stored token
func IsInstalled(c *fiber.Ctx) bool {
	return GetShopContext(c).IsInstalled
}

// IsAdmin checks if the current shop may manage the catalog
func IsAdmin(c *fiber.Ctx) bool {
	return GetShopContext(c).IsAdmin
}

// GetShopID returns the current shop's ID, or 0 if unauthenticated
func GetShopID(c *fiber.Ctx) uint {
	return GetShopContext(c).ShopID
}

// GetShopDomain returns the current myshopify domain
func GetShopDomain(c *fiber.Ctx) string {
	return GetShopContext(c).Shop
}
