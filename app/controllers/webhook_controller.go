package controllers

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"github.com/ManuelReschke/SectionsStack/app/repository"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/billing"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/middleware"
)

// Webhook log outcomes beyond the billing reconcile outcomes.
const (
	webhookOutcomeOK               = "ok"
	webhookOutcomeInvalidSignature = "invalid_signature"
	webhookOutcomeBadPayload       = "malformed_payload"
	webhookOutcomeMissingShop      = "missing_shop"
)

// unsignedWebhookPrefix namespaces the log rows of rejected deliveries.
const unsignedWebhookPrefix = "unsigned:"

// WebhookRecorder counts webhook deliveries.
type WebhookRecorder interface {
	RecordWebhook(topic, result string)
}

// WebhookController handles Shopify webhook deliveries
type WebhookController struct {
	billing  EntitlementService
	shops    repository.ShopRepository
	recorder WebhookRecorder
}

// NewWebhookController creates a new webhook controller
func NewWebhookController(billing EntitlementService, shops repository.ShopRepository, recorder WebhookRecorder) *WebhookController {
	return &WebhookController{billing: billing, shops: shops, recorder: recorder}
}

// HandlePurchaseUpdate reconciles app_purchases_one_time/update deliveries.
// Only transient store failures answer with 500 so Shopify redelivers.
func (wc *WebhookController) HandlePurchaseUpdate(c *fiber.Ctx) error {
	return wc.receive(c, models.WebhookTopicPurchaseUpdate, func(d middleware.WebhookDelivery) (string, error) {
		wh, err := billing.ParsePurchaseWebhook(d.ShopDomain, d.Body)
		if err != nil {
			return webhookOutcomeBadPayload, err
		}

		ctx, cancel := requestContext(c)
		defer cancel()
		if _, err := wc.billing.Process(ctx, *wh); err != nil {
			return billing.OutcomeOf(err), err
		}
		return webhookOutcomeOK, nil
	})
}

// HandleUninstalled forgets the offline token of the shop. Purchases stay.
func (wc *WebhookController) HandleUninstalled(c *fiber.Ctx) error {
	return wc.receive(c, models.WebhookTopicUninstalled, func(d middleware.WebhookDelivery) (string, error) {
		if err := wc.shops.MarkUninstalled(d.ShopDomain); err != nil {
			return billing.OutcomeStoreUnavailable, errors.Join(billing.ErrStoreUnavailable, err)
		}
		log.Infof("[Webhook] shop %s uninstalled the app", d.ShopDomain)
		return webhookOutcomeOK, nil
	})
}

// HandleScopesUpdate stores the scopes currently granted to the app.
func (wc *WebhookController) HandleScopesUpdate(c *fiber.Ctx) error {
	return wc.receive(c, models.WebhookTopicScopesUpdate, func(d middleware.WebhookDelivery) (string, error) {
		var payload struct {
			Current []string `json:"current"`
		}
		if err := json.Unmarshal(d.Body, &payload); err != nil {
			return webhookOutcomeBadPayload, err
		}
		if err := wc.shops.UpdateScope(d.ShopDomain, strings.Join(payload.Current, ",")); err != nil {
			return billing.OutcomeStoreUnavailable, errors.Join(billing.ErrStoreUnavailable, err)
		}
		return webhookOutcomeOK, nil
	})
}

// receive rejects bad signatures, logs the delivery, drops redeliveries of
// finished work and runs process for everything else.
func (wc *WebhookController) receive(c *fiber.Ctx, topic string, process func(middleware.WebhookDelivery) (string, error)) error {
	d, ok := middleware.GetWebhookDelivery(c)
	if !ok {
		return jsonError(c, fiber.StatusInternalServerError, "webhook_not_parsed", "")
	}
	if d.Topic == "" {
		d.Topic = topic
	}

	if !d.SignatureValid {
		return wc.reject(c, d)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	created, stored, err := wc.billing.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Topic:          d.Topic,
		WebhookID:      d.WebhookID,
		ShopDomain:     d.ShopDomain,
		PayloadJSON:    string(d.Body),
		SignatureValid: true,
	})
	if err != nil {
		log.Errorf("[Webhook] could not log delivery topic=%s shop=%s: %v", d.Topic, d.ShopDomain, err)
		wc.count(d.Topic, "persist_failed")
		return jsonError(c, fiber.StatusInternalServerError, "webhook_persist_failed", "")
	}
	if !created && !needsRetry(stored) {
		wc.count(d.Topic, "duplicate")
		return c.JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	if d.ShopDomain == "" {
		wc.mark(stored, webhookOutcomeMissingShop, errors.New("missing shop domain header"))
		wc.count(d.Topic, webhookOutcomeMissingShop)
		return c.JSON(fiber.Map{"ok": true, "ignored": true, "reason": webhookOutcomeMissingShop})
	}

	outcome, procErr := process(d)
	wc.mark(stored, outcome, procErr)
	wc.count(d.Topic, outcome)

	switch {
	case procErr == nil:
		return c.JSON(fiber.Map{"ok": true})
	case errors.Is(procErr, billing.ErrStoreUnavailable):
		return jsonError(c, fiber.StatusInternalServerError, "store_unavailable", "")
	default:
		log.Infof("[Webhook] acknowledged without changes topic=%s shop=%s reason=%s: %v", d.Topic, d.ShopDomain, outcome, procErr)
		return c.JSON(fiber.Map{"ok": true, "ignored": true, "reason": outcome})
	}
}

// reject logs a delivery with a bad signature under its own id space, so an
// unsigned request can never claim the webhook id of a genuine delivery.
func (wc *WebhookController) reject(c *fiber.Ctx, d middleware.WebhookDelivery) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	created, stored, err := wc.billing.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Topic:       d.Topic,
		WebhookID:   unsignedWebhookPrefix + d.WebhookID,
		ShopDomain:  d.ShopDomain,
		PayloadJSON: string(d.Body),
	})
	if err != nil {
		log.Errorf("[Webhook] could not log rejected delivery topic=%s shop=%s: %v", d.Topic, d.ShopDomain, err)
	} else if created {
		wc.mark(stored, webhookOutcomeInvalidSignature, errors.New("invalid webhook signature"))
	}
	log.Warnf("[Webhook] invalid signature topic=%s shop=%s id=%s", d.Topic, d.ShopDomain, d.WebhookID)
	wc.count(d.Topic, webhookOutcomeInvalidSignature)
	return jsonError(c, fiber.StatusUnauthorized, "invalid_signature", "")
}

// needsRetry reports whether a logged delivery never finished or failed
// transiently, so a redelivery must be processed again.
func needsRetry(stored *models.BillingWebhookEvent) bool {
	if stored == nil {
		return false
	}
	return stored.ProcessedAt == nil ||
		stored.Outcome == billing.OutcomeStoreUnavailable ||
		stored.Outcome == webhookOutcomeInvalidSignature
}

func (wc *WebhookController) mark(stored *models.BillingWebhookEvent, outcome string, procErr error) {
	if stored == nil || stored.ID == 0 {
		return
	}
	// The request context may be spent; the log write gets its own budget.
	ctx, cancel := backgroundContext()
	defer cancel()
	if err := wc.billing.MarkWebhookProcessed(ctx, stored.ID, outcome, procErr); err != nil {
		log.Errorf("[Webhook] could not mark delivery %d processed: %v", stored.ID, err)
	}
}

func (wc *WebhookController) count(topic, result string) {
	if wc.recorder != nil {
		wc.recorder.RecordWebhook(topic, result)
	}
}
