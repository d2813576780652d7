package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SectionsStack/app/controllers"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/middleware"
)

func (h ApiRouter) registerAdminRoutes(v1 fiber.Router) {
	ac := controllers.NewAdminSectionController(h.deps.Sections, h.deps.Cache)
	uc := controllers.NewUploadController(h.deps.Images)

	adminGroup := v1.Group("/admin", middleware.RequireAdmin)
	adminGroup.Get("/sections", ac.HandleList)
	adminGroup.Post("/sections", ac.HandleCreate)
	adminGroup.Get("/sections/:id", ac.HandleGet)
	adminGroup.Put("/sections/:id", ac.HandleUpdate)
	adminGroup.Delete("/sections/:id", ac.HandleDelete)

	adminGroup.Post("/uploads", uc.HandleUpload)
}
