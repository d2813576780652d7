package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/SectionsStack/app/controllers"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/middleware"
)

type ApiRouter struct {
	deps *Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	limit := h.deps.LimiterMax
	if limit <= 0 {
		limit = 120
	}
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        limit,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	session := middleware.NewSessionAuth(h.deps.Shopify, h.deps.Shops, h.deps.TokenBox, h.deps.Exchanger)
	v1 := api.Group("/v1", session.Handler(), middleware.RequireInstalled)

	sc := controllers.NewSectionController(h.deps.Sections, h.deps.Billing, h.deps.Cache)
	v1.Get("/sections", sc.HandleList)
	v1.Get("/sections/:id", sc.HandleDetail)

	pc := controllers.NewPurchaseController(
		h.deps.Sections,
		h.deps.Billing,
		h.deps.Clients,
		controllers.NewShopAdmins(h.deps.Shops, h.deps.TokenBox, h.deps.Clients),
		h.deps.Shopify,
	)
	v1.Post("/sections/:id/purchase", pc.HandlePurchase)

	mc := controllers.NewMySectionsController(h.deps.Sections, h.deps.Billing, h.deps.Clients, h.deps.Counter, h.deps.Metrics)
	v1.Get("/my-sections", mc.HandleList)
	v1.Get("/my-sections/:id", mc.HandlePreview)
	v1.Post("/my-sections/:id/install", mc.HandleInstall)
	v1.Get("/themes", mc.HandleThemes)

	h.registerAdminRoutes(v1)
}

func NewApiRouter(deps *Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
