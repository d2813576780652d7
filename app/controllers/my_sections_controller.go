package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"github.com/ManuelReschke/SectionsStack/app/repository"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/shopify"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/usercontext"
)

// InstallRecorder counts theme installs by result.
type InstallRecorder interface {
	RecordInstall(result string)
}

// InstallCounter buffers the download counter of a section.
type InstallCounter func(ctx context.Context, sectionID string) error

// MySectionsController serves the sections a shop owns and pushes them into themes
type MySectionsController struct {
	sections repository.SectionRepository
	billing  EntitlementService
	clients  shopify.ClientFactory
	counter  InstallCounter
	recorder InstallRecorder
}

// NewMySectionsController creates a new controller for owned sections
func NewMySectionsController(sections repository.SectionRepository, billing EntitlementService, clients shopify.ClientFactory, counter InstallCounter, recorder InstallRecorder) *MySectionsController {
	return &MySectionsController{
		sections: sections,
		billing:  billing,
		clients:  clients,
		counter:  counter,
		recorder: recorder,
	}
}

// HandleList returns the entitlements of the current shop with their sections
func (mc *MySectionsController) HandleList(c *fiber.Ctx) error {
	shopCtx := usercontext.GetShopContext(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	purchases, err := mc.billing.ListEntitlements(ctx, shopCtx.ShopID)
	if err != nil {
		log.Errorf("[MySections] list failed shop=%s: %v", shopCtx.Shop, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load purchases")
	}
	if purchases == nil {
		purchases = []models.Purchase{}
	}
	return c.JSON(fiber.Map{"purchases": purchases})
}

// HandlePreview returns the Liquid source of an owned section
func (mc *MySectionsController) HandlePreview(c *fiber.Ctx) error {
	section, content, err := mc.ownedContent(c)
	if section == nil || content == nil {
		return err
	}
	return c.JSON(fiber.Map{"section": section, "content": content.Content, "filename": section.ThemeFilename()})
}

// HandleThemes lists the themes of the current shop
func (mc *MySectionsController) HandleThemes(c *fiber.Ctx) error {
	shopCtx := usercontext.GetShopContext(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	themes, err := mc.clients(shopCtx.Shop, shopCtx.AccessToken).Themes(ctx)
	if err != nil {
		log.Errorf("[Themes] listing failed shop=%s: %v", shopCtx.Shop, err)
		return jsonError(c, fiber.StatusBadGateway, "themes_unavailable", "Could not load themes")
	}
	return c.JSON(fiber.Map{"themes": themes})
}

type installRequest struct {
	ThemeID string `json:"theme_id" form:"theme_id"`
}

// HandleInstall writes an owned section into one of the shop's themes
func (mc *MySectionsController) HandleInstall(c *fiber.Ctx) error {
	var req installRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "")
	}
	if strings.TrimSpace(req.ThemeID) == "" {
		req.ThemeID = c.Query("theme_id")
	}
	req.ThemeID = strings.TrimSpace(req.ThemeID)
	if req.ThemeID == "" {
		return jsonError(c, fiber.StatusBadRequest, "theme_id_required", "")
	}

	section, content, err := mc.ownedContent(c)
	if section == nil || content == nil {
		return err
	}

	shopCtx := usercontext.GetShopContext(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	filename := section.ThemeFilename()
	admin := mc.clients(shopCtx.Shop, shopCtx.AccessToken)
	if err := admin.ThemeFilesUpsert(ctx, req.ThemeID, filename, content.Content); err != nil {
		mc.record("failed")
		var userErrs shopify.UserErrors
		if errors.As(err, &userErrs) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "theme_rejected", "details": userErrs})
		}
		log.Errorf("[Themes] install failed shop=%s section=%s theme=%s: %v", shopCtx.Shop, section.ID, req.ThemeID, err)
		return jsonError(c, fiber.StatusBadGateway, "install_failed", "Could not write the section into the theme")
	}

	mc.record("ok")
	if mc.counter != nil {
		if err := mc.counter(ctx, section.ID); err != nil {
			log.Warnf("[Themes] install counter failed section=%s: %v", section.ID, err)
		}
	}
	log.Infof("[Themes] installed %s into theme %s shop=%s", filename, req.ThemeID, shopCtx.Shop)
	return c.JSON(fiber.Map{"ok": true, "filename": filename, "theme_id": req.ThemeID})
}

// ownedContent loads section :id and its source for the current shop. It
// writes the error response itself; nil results mean it already did.
func (mc *MySectionsController) ownedContent(c *fiber.Ctx) (*models.Section, *models.SectionContent, error) {
	section, err := loadSection(c, mc.sections, c.Params("id"))
	if section == nil {
		return nil, nil, err
	}

	shopCtx := usercontext.GetShopContext(c)
	ctx, cancel := requestContext(c)
	defer cancel()

	active, _, err := mc.billing.HasActiveEntitlement(ctx, shopCtx.ShopID, section.ID)
	if err != nil {
		log.Errorf("[MySections] entitlement lookup failed shop=%s section=%s: %v", shopCtx.Shop, section.ID, err)
		return nil, nil, jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Entitlement lookup failed")
	}
	if !active {
		return nil, nil, jsonError(c, fiber.StatusForbidden, "not_purchased", "Purchase the section first")
	}

	content, err := mc.sections.GetContent(section.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, jsonError(c, fiber.StatusNotFound, "content_not_found", "")
	}
	if err != nil {
		return nil, nil, jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load section content")
	}
	return section, content, nil
}

func (mc *MySectionsController) record(result string) {
	if mc.recorder != nil {
		mc.recorder.RecordInstall(result)
	}
}
