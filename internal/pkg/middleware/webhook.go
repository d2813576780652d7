package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SectionsStack/internal/pkg/shopify"
)

// KeyWebhookDelivery is the Locals key holding the parsed WebhookDelivery.
const KeyWebhookDelivery = "WEBHOOK_DELIVERY"

// WebhookDelivery is one Shopify webhook request as seen by the handlers.
type WebhookDelivery struct {
	Topic          string
	ShopDomain     string
	WebhookID      string
	Body           []byte
	SignatureValid bool
}

// ShopifyWebhook verifies the HMAC header with secret and exposes the
// delivery to the next handler. Invalid signatures are passed on, flagged,
// so the handler can still log the attempt.
func ShopifyWebhook(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		body := append([]byte(nil), c.BodyRaw()...)
		shop, _ := shopify.NormalizeShopDomain(c.Get(shopify.HeaderShop))
		delivery := WebhookDelivery{
			Topic:          strings.ToLower(strings.TrimSpace(c.Get(shopify.HeaderTopic))),
			ShopDomain:     shop,
			WebhookID:      strings.TrimSpace(c.Get(shopify.HeaderWebhookID)),
			Body:           body,
			SignatureValid: shopify.VerifyWebhookSignature(body, c.Get(shopify.HeaderHmac), secret),
		}
		if !delivery.SignatureValid {
			log.Warnf("[Webhook] invalid signature topic=%s shop=%s", delivery.Topic, c.Get(shopify.HeaderShop))
		}
		c.Locals(KeyWebhookDelivery, delivery)
		return c.Next()
	}
}

// GetWebhookDelivery returns the delivery stored by ShopifyWebhook.
func GetWebhookDelivery(c *fiber.Ctx) (WebhookDelivery, bool) {
	d, ok := c.Locals(KeyWebhookDelivery).(WebhookDelivery)
	return d, ok
}
