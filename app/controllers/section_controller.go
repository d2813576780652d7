package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"github.com/ManuelReschke/SectionsStack/app/repository"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/usercontext"
)

const (
	catalogCachePrefix = "catalog:sections:"
	catalogCacheTTL    = 5 * time.Minute
)

// SectionController serves the public catalog
type SectionController struct {
	sections repository.SectionRepository
	billing  EntitlementService
	cache    SectionCache
}

// NewSectionController creates a new catalog controller
func NewSectionController(sections repository.SectionRepository, billing EntitlementService, cache SectionCache) *SectionController {
	return &SectionController{sections: sections, billing: billing, cache: cache}
}

type sectionListResponse struct {
	Sections []models.Section `json:"sections"`
	Category string           `json:"category"`
	Search   string           `json:"search"`
}

// HandleList lists the catalog filtered by ?category= and ?search=
func (sc *SectionController) HandleList(c *fiber.Ctx) error {
	filter := repository.SectionFilter{
		Category: c.Query("category"),
		Search:   c.Query("search"),
		Limit:    c.QueryInt("limit", 0),
		Offset:   c.QueryInt("offset", 0),
	}.Normalized()
	if !repository.IsKnownCategoryFilter(filter.Category) {
		return jsonError(c, fiber.StatusBadRequest, "invalid_category", "")
	}

	key := catalogCachePrefix + filter.CacheKey()
	var cached sectionListResponse
	if sc.cache != nil {
		if hit, err := sc.cache.GetJSON(key, &cached); err != nil {
			log.Warnf("[Catalog] cache read failed: %v", err)
		} else if hit {
			return c.JSON(cached)
		}
	}

	sections, err := sc.sections.List(filter)
	if err != nil {
		log.Errorf("[Catalog] list failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load sections")
	}
	if sections == nil {
		sections = []models.Section{}
	}

	resp := sectionListResponse{Sections: sections, Category: filter.Category, Search: filter.Search}
	if sc.cache != nil {
		if err := sc.cache.SetJSON(key, resp, catalogCacheTTL); err != nil {
			log.Warnf("[Catalog] cache write failed: %v", err)
		}
	}
	return c.JSON(resp)
}

// HandleDetail returns one section and whether the current shop owns it
func (sc *SectionController) HandleDetail(c *fiber.Ctx) error {
	section, err := loadSection(c, sc.sections, c.Params("id"))
	if section == nil {
		return err
	}

	owned := false
	if shopID := usercontext.GetShopID(c); shopID != 0 && sc.billing != nil {
		ctx, cancel := requestContext(c)
		defer cancel()
		active, _, err := sc.billing.HasActiveEntitlement(ctx, shopID, section.ID)
		if err != nil {
			log.Warnf("[Catalog] entitlement lookup failed shop=%d section=%s: %v", shopID, section.ID, err)
		}
		owned = active
	}

	return c.JSON(fiber.Map{"section": section, "owned": owned})
}

// invalidateCatalog drops all cached listings after a catalog change.
func invalidateCatalog(cache SectionCache) {
	if cache == nil {
		return
	}
	if err := cache.DeletePrefix(catalogCachePrefix); err != nil {
		log.Warnf("[Catalog] cache invalidation failed: %v", err)
	}
}
