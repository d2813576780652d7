package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrUnknownShop means the shop is not provisioned yet. Install races make
	// this expected, so callers log and acknowledge.
	ErrUnknownShop = errors.New("billing: unknown shop")
	// ErrMalformedReference means no section reference could be parsed from the
	// inbound signal.
	ErrMalformedReference = errors.New("billing: malformed section reference")
	// ErrSectionNotFound means the parsed reference matches no catalog entry.
	ErrSectionNotFound = errors.New("billing: section not found")
	// ErrAmbiguousSection means a display name matched more than one section.
	ErrAmbiguousSection = errors.New("billing: ambiguous section name")
	// ErrChargeNotActive means the charge is in a terminal non-active state
	// (declined, expired, cancelled) and grants nothing.
	ErrChargeNotActive = errors.New("billing: charge not active")
	// ErrStoreUnavailable wraps transient persistence failures. It is the only
	// error that is retried and surfaced to Shopify for redelivery.
	ErrStoreUnavailable = errors.New("billing: store unavailable")
)

// Source tells which inbound shape produced an Event.
type Source string

const (
	SourceRedirect    Source = "redirect"
	SourceWebhookID   Source = "webhook_id"
	SourceWebhookName Source = "webhook_name"
	SourceFreeGrant   Source = "free_grant"
)

// Event is the canonical billing event consumed by the reconciliation engine.
type Event struct {
	ShopDomain string
	SectionRef string
	ChargeID   string
	Status     string
	Source     Source
}

// Signal is one of the inbound purchase shapes the normalizer understands.
type Signal interface {
	shopDomain() string
}

// RedirectCallback is the browser redirect Shopify issues after the merchant
// approves a charge.
type RedirectCallback struct {
	ChargeID   string
	SectionID  string
	ShopDomain string
	// Status is the charge status confirmed with Shopify before reconciling.
	Status string
}

// PurchaseWebhook is an app_purchases_one_time/update delivery.
type PurchaseWebhook struct {
	ShopDomain string
	Purchase   AppPurchaseOneTime
}

// FreeGrant is synthesized when a merchant claims a free section.
type FreeGrant struct {
	ShopDomain string
	SectionID  string
}

func (s RedirectCallback) shopDomain() string { return s.ShopDomain }
func (s PurchaseWebhook) shopDomain() string  { return s.ShopDomain }
func (s FreeGrant) shopDomain() string        { return s.ShopDomain }

// AppPurchaseOneTime is the charge object carried by purchase webhooks.
type AppPurchaseOneTime struct {
	ID                json.Number `json:"id"`
	AdminGraphQLAPIID string      `json:"admin_graphql_api_id"`
	Name              string      `json:"name"`
	Status            string      `json:"status"`
}

// ParsePurchaseWebhook decodes both the wrapped
// {"app_purchase_one_time": {...}} body Shopify sends and the flat shape.
func ParsePurchaseWebhook(shopDomain string, payload []byte) (*PurchaseWebhook, error) {
	type wrapped struct {
		AppPurchaseOneTime *AppPurchaseOneTime `json:"app_purchase_one_time"`
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var w wrapped
	if err := dec.Decode(&w); err != nil {
		return nil, err
	}

	purchase := w.AppPurchaseOneTime
	if purchase == nil {
		dec = json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		var flat AppPurchaseOneTime
		if err := dec.Decode(&flat); err != nil {
			return nil, err
		}
		purchase = &flat
	}

	if strings.TrimSpace(purchase.Name) == "" {
		return nil, errors.New("purchase webhook payload missing name")
	}
	return &PurchaseWebhook{
		ShopDomain: strings.TrimSpace(shopDomain),
		Purchase:   *purchase,
	}, nil
}
