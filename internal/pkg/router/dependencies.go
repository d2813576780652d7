package router

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/storage/redis"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SectionsStack/app/controllers"
	"github.com/ManuelReschke/SectionsStack/app/repository"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/assets"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/billing"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/cache"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/env"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/metrics"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/middleware"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/security"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/shopify"
)

// Dependencies is everything the routers hand to controllers and middleware.
type Dependencies struct {
	Shopify   shopify.Config
	Shops     repository.ShopRepository
	Sections  repository.SectionRepository
	Billing   controllers.EntitlementService
	TokenBox  *security.TokenBox
	Clients   shopify.ClientFactory
	Exchanger middleware.TokenExchanger
	Cache     controllers.SectionCache
	Images    controllers.ImageSaver
	Counter   controllers.InstallCounter
	Metrics   *metrics.Metrics

	// LimiterStorage backs the API rate limiter; nil keeps counts in memory.
	LimiterStorage fiber.Storage
	LimiterMax     int
}

// NewDependencies wires the production collaborators around db.
func NewDependencies(ctx context.Context, db *gorm.DB) (*Dependencies, error) {
	cfg := shopify.ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	box, err := security.NewTokenBox(env.GetEnv("TOKEN_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY: %w", err)
	}

	repository.InitializeFactory(db)
	repos := repository.GetGlobalRepositories()

	deps := &Dependencies{
		Shopify:   cfg,
		Shops:     repos.Shop,
		Sections:  repos.Section,
		Billing:   billing.NewServiceFromDB(db),
		TokenBox:  box,
		Clients:   shopify.NewClientFactory(cfg),
		Exchanger: shopify.NewTokenExchanger(cfg),
		Cache:     controllers.NewRedisSectionCache(),
		Counter:   counter.AddSectionInstall,
		Metrics:   metrics.Get(),

		LimiterStorage: newLimiterStorage(),
		LimiterMax:     env.GetEnvInt("API_RATE_LIMIT", 120),
	}

	s3cfg, err := assets.LoadConfig()
	if err != nil {
		log.Warnf("[Router] image uploads disabled: %v", err)
		return deps, nil
	}
	client, err := assets.NewClient(ctx, s3cfg)
	if err != nil {
		log.Warnf("[Router] image uploads disabled: %v", err)
		return deps, nil
	}
	deps.Images = assets.NewStore(client, s3cfg)
	return deps, nil
}

// newLimiterStorage keeps rate limit counters in Redis so they hold across
// instances. Database 2 keeps them apart from the cache in database 0.
func newLimiterStorage() fiber.Storage {
	port, err := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379"))
	if err != nil {
		port = 6379
	}
	password := env.GetEnv("CACHE_PASSWORD", "")
	if c := cache.GetClient(); c != nil && c.Options().Password != "" {
		password = c.Options().Password
	}
	return redis.New(redis.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     port,
		Password: password,
		Database: env.GetEnvInt("LIMITER_CACHE_DB", 2),
		Reset:    false,
	})
}
