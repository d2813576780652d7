package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/ManuelReschke/SectionsStack/app/controllers"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/metrics"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/middleware"
)

// HttpRouter serves everything outside /api: ops endpoints, result pages,
// the billing callback and Shopify webhooks.
type HttpRouter struct {
	deps *Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics/prometheus", adaptor.HTTPHandler(metrics.Handler()))

	h.registerPublicRoutes(app)
	h.registerWebhookRoutes(app)
}

func NewHttpRouter(deps *Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}

func (h HttpRouter) registerWebhookRoutes(app *fiber.App) {
	wc := controllers.NewWebhookController(h.deps.Billing, h.deps.Shops, h.deps.Metrics)

	// No session auth here; ShopifyWebhook verifies the HMAC instead.
	hooks := app.Group("/webhooks/app", middleware.ShopifyWebhook(h.deps.Shopify.APISecret))
	hooks.Post("/purchase-update", wc.HandlePurchaseUpdate)
	hooks.Post("/uninstalled", wc.HandleUninstalled)
	hooks.Post("/scopes_update", wc.HandleScopesUpdate)
}
