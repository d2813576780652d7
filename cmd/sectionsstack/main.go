package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/html/v2"

	"github.com/ManuelReschke/SectionsStack/app/controllers"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/cache"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/database"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/env"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/jobqueue"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/router"
)

func main() {
	app := NewApplication()

	jobs := jobqueue.GetManager()
	jobs.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))

	// Flush buffered install counters before the database goes away.
	jobs.Stop()
	if releaseErr := database.Release(); releaseErr != nil {
		log.Printf("Database release error: %v", releaseErr)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	db := database.SetupDatabase()
	cache.SetupCache()

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/sectionsstack to project root
		"../../../", // Fallback
	}

	// Find the correct base path
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "views"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}

	if basePath == "" {
		panic("Could not find project root directory")
	}

	deps, err := router.NewDependencies(context.Background(), db)
	if err != nil {
		panic(err)
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		Views:       html.New(basePath+"views", ".html"),
		ViewsLayout: "layouts/main",
		BodyLimit:   controllers.MaxUploadBytes + 1024*1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	mountMonitor(app)

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, deps)

	return app
}

// mountMonitor serves the fiber monitor behind basic auth. Without a
// configured password the monitor only exists in dev.
func mountMonitor(app *fiber.App) bool {
	password := env.GetEnv("METRICS_PASSWORD", "")
	if password == "" {
		if !env.IsDev() {
			log.Println("METRICS_PASSWORD is not set, /metrics is disabled")
			return false
		}
		password = "change-me"
	}

	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): password,
		},
	}), monitor.New())
	return true
}
