package router

import (
	"github.com/gofiber/fiber/v2"
)

// Router registers one family of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App, deps *Dependencies) {
	// Ops and webhook routes first; they must not pass through the
	// session middleware of the API group.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
