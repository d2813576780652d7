package controllers

import (
	"errors"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sujit-baniya/flash"

	"github.com/ManuelReschke/SectionsStack/app/repository"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/billing"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/shopify"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/usercontext"
)

const (
	thankYouPath       = "/app/thank-you?purchased=true"
	purchaseFailedPath = "/app/purchase-failed"
	callbackPath       = "/app/purchase/callback"
)

// PurchaseController starts one-time charges and handles their return
type PurchaseController struct {
	sections repository.SectionRepository
	billing  EntitlementService
	clients  shopify.ClientFactory
	admins   ShopAdmins
	config   shopify.Config
}

// NewPurchaseController creates a new purchase controller
func NewPurchaseController(sections repository.SectionRepository, billing EntitlementService, clients shopify.ClientFactory, admins ShopAdmins, cfg shopify.Config) *PurchaseController {
	return &PurchaseController{
		sections: sections,
		billing:  billing,
		clients:  clients,
		admins:   admins,
		config:   cfg,
	}
}

// HandlePurchase grants a free section right away or creates a charge and
// returns the confirmation URL the merchant has to approve.
func (pc *PurchaseController) HandlePurchase(c *fiber.Ctx) error {
	shopCtx := usercontext.GetShopContext(c)
	section, err := loadSection(c, pc.sections, c.Params("id"))
	if section == nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	owned, _, err := pc.billing.HasActiveEntitlement(ctx, shopCtx.ShopID, section.ID)
	if err != nil {
		log.Errorf("[Purchase] entitlement lookup failed shop=%s section=%s: %v", shopCtx.Shop, section.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Entitlement lookup failed")
	}
	if owned {
		return c.JSON(fiber.Map{"ok": true, "owned": true, "section_id": section.ID})
	}

	if !section.RequiresPayment() {
		purchase, err := pc.billing.GrantFree(ctx, shopCtx.Shop, section.ID)
		if err != nil {
			return billingError(c, err)
		}
		return c.JSON(fiber.Map{"ok": true, "free": true, "purchase": purchase})
	}

	admin := pc.clients(shopCtx.Shop, shopCtx.AccessToken)
	charge, err := admin.AppPurchaseOneTimeCreate(ctx, billing.ChargeName(section), section.Price, pc.returnURL(section.ID, shopCtx.Shop), pc.config.BillingTest)
	if err != nil {
		var userErrs shopify.UserErrors
		if errors.As(err, &userErrs) {
			log.Warnf("[Purchase] charge rejected shop=%s section=%s: %v", shopCtx.Shop, section.ID, err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "charge_rejected", "details": userErrs})
		}
		log.Errorf("[Purchase] charge creation failed shop=%s section=%s: %v", shopCtx.Shop, section.ID, err)
		return jsonError(c, fiber.StatusBadGateway, "charge_failed", "Could not create the charge")
	}

	log.Infof("[Purchase] charge %s created shop=%s section=%s", charge.ID, shopCtx.Shop, section.ID)
	return c.JSON(fiber.Map{"confirmationUrl": charge.ConfirmationURL, "charge_id": charge.ID})
}

func (pc *PurchaseController) returnURL(sectionID, shop string) string {
	q := url.Values{}
	q.Set("sectionId", sectionID)
	q.Set("shop", shop)
	return pc.config.AppURL + callbackPath + "?" + q.Encode()
}

// HandleCallback is where Shopify sends the merchant after a charge was
// approved. The charge status is confirmed with the Admin API before the
// entitlement is written.
func (pc *PurchaseController) HandleCallback(c *fiber.Ctx) error {
	chargeID := strings.TrimSpace(c.Query("charge_id"))
	sectionID := strings.ToLower(strings.TrimSpace(c.Query("sectionId")))
	shop, ok := shopify.NormalizeShopDomain(c.Query("shop"))
	if chargeID == "" || sectionID == "" || !ok {
		log.Warnf("[Purchase] callback with missing parameters charge=%q section=%q shop=%q", chargeID, sectionID, c.Query("shop"))
		return purchaseFailed(c)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	admin, err := pc.admins.ForShop(shop)
	if err != nil {
		log.Warnf("[Purchase] callback for shop without client shop=%s: %v", shop, err)
		return purchaseFailed(c)
	}
	charge, err := admin.AppPurchaseOneTime(ctx, billing.ChargeGID(chargeID))
	if err != nil {
		log.Errorf("[Purchase] charge status lookup failed shop=%s charge=%s: %v", shop, chargeID, err)
		return purchaseFailed(c)
	}
	if !pc.chargePaysFor(charge, sectionID) {
		log.Warnf("[Purchase] charge does not pay for section shop=%s charge=%s section=%s name=%q", shop, chargeID, sectionID, charge.Name)
		return purchaseFailed(c)
	}

	purchase, err := pc.billing.Process(ctx, billing.RedirectCallback{
		ChargeID:   chargeID,
		SectionID:  sectionID,
		ShopDomain: shop,
		Status:     charge.Status,
	})
	if err != nil || purchase == nil || !purchase.IsActive() {
		return purchaseFailed(c)
	}
	return c.Redirect(thankYouPath, fiber.StatusFound)
}

// chargePaysFor checks the approved charge against the section named in the
// return URL. The query string is client controlled, the charge name is not.
func (pc *PurchaseController) chargePaysFor(charge *shopify.OneTimePurchase, sectionID string) bool {
	if id, ok := billing.ExtractSectionID(charge.Name); ok {
		return id == sectionID
	}
	// Charges created before names carried the id only have the display name.
	name, ok := billing.ExtractSectionName(charge.Name)
	if !ok {
		return false
	}
	section, err := pc.sections.GetByID(sectionID)
	if err != nil || section == nil {
		return false
	}
	return section.Name == name
}

func purchaseFailed(c *fiber.Ctx) error {
	fm := fiber.Map{
		"type":    "error",
		"message": "The purchase could not be completed.",
	}
	return flash.WithError(c, fm).Redirect(purchaseFailedPath)
}

// billingError maps reconcile failures of interactive requests to a status.
func billingError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, billing.ErrStoreUnavailable):
		return jsonError(c, fiber.StatusServiceUnavailable, "store_unavailable", "Please try again")
	case errors.Is(err, billing.ErrUnknownShop):
		return jsonError(c, fiber.StatusUnauthorized, "unknown_shop", "")
	case errors.Is(err, billing.ErrSectionNotFound):
		return jsonError(c, fiber.StatusNotFound, "section_not_found", "")
	default:
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Purchase failed")
	}
}
