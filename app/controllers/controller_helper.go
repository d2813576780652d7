package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"github.com/ManuelReschke/SectionsStack/app/repository"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/billing"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/cache"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/security"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/shopify"
)

const requestTimeout = 20 * time.Second

// EntitlementService is the part of the billing service the handlers use.
type EntitlementService interface {
	Process(ctx context.Context, sig billing.Signal) (*models.Purchase, error)
	GrantFree(ctx context.Context, shopDomain, sectionID string) (*models.Purchase, error)
	ListEntitlements(ctx context.Context, shopID uint) ([]models.Purchase, error)
	HasActiveEntitlement(ctx context.Context, shopID uint, sectionID string) (bool, *models.Purchase, error)
	RecordWebhookEvent(ctx context.Context, in billing.WebhookEventInput) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, webhookEventID uint, outcome string, processingErr error) error
}

// ShopAdmins opens Admin API clients for shops outside a session request.
type ShopAdmins interface {
	ForShop(shop string) (shopify.Admin, error)
}

type storedShopAdmins struct {
	shops   repository.ShopRepository
	box     *security.TokenBox
	clients shopify.ClientFactory
}

// NewShopAdmins resolves clients from the stored, sealed offline tokens.
func NewShopAdmins(shops repository.ShopRepository, box *security.TokenBox, clients shopify.ClientFactory) ShopAdmins {
	return &storedShopAdmins{shops: shops, box: box, clients: clients}
}

func (s *storedShopAdmins) ForShop(shop string) (shopify.Admin, error) {
	account, err := s.shops.GetByDomain(shop)
	if err != nil {
		return nil, fmt.Errorf("load shop %s: %w", shop, err)
	}
	if !account.HasAccessToken() {
		return nil, fmt.Errorf("shop %s has no offline token", shop)
	}
	token, err := s.box.Open(account.AccessTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("open token for %s: %w", shop, err)
	}
	return s.clients(shop, token), nil
}

// SectionCache caches catalog listings.
type SectionCache interface {
	GetJSON(key string, v interface{}) (bool, error)
	SetJSON(key string, v interface{}, ttl time.Duration) error
	DeletePrefix(prefix string) error
}

type redisSectionCache struct{}

// NewRedisSectionCache stores listings in the shared Redis client.
func NewRedisSectionCache() SectionCache {
	return redisSectionCache{}
}

func (redisSectionCache) GetJSON(key string, v interface{}) (bool, error) {
	return cache.GetJSON(key, v)
}

func (redisSectionCache) SetJSON(key string, v interface{}, ttl time.Duration) error {
	return cache.SetJSON(key, v, ttl)
}

func (redisSectionCache) DeletePrefix(prefix string) error {
	return cache.DeletePrefix(prefix)
}

func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

func backgroundContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	body := fiber.Map{"error": code}
	if message != "" {
		body["message"] = message
	}
	return c.Status(status).JSON(body)
}

// loadSection validates id and fetches the section, writing the error
// response itself. A nil section means the response is already sent.
func loadSection(c *fiber.Ctx, sections repository.SectionRepository, id string) (*models.Section, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if !models.IsValidSectionID(id) {
		return nil, jsonError(c, fiber.StatusBadRequest, "invalid_section_id", "")
	}
	section, err := sections.GetByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, jsonError(c, fiber.StatusNotFound, "section_not_found", "")
	}
	if err != nil {
		return nil, jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Section lookup failed")
	}
	return section, nil
}
