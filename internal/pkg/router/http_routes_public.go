package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SectionsStack/app/controllers"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	pc := controllers.NewPurchaseController(
		h.deps.Sections,
		h.deps.Billing,
		h.deps.Clients,
		controllers.NewShopAdmins(h.deps.Shops, h.deps.TokenBox, h.deps.Clients),
		h.deps.Shopify,
	)

	// Shopify redirects the merchant here after approving a charge
	app.Get("/app/purchase/callback", pc.HandleCallback)

	// Result pages
	app.Get("/app/thank-you", controllers.HandleThankYou)
	app.Get("/app/purchase-failed", controllers.HandlePurchaseFailed)
}
