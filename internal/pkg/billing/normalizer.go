package billing

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ManuelReschke/SectionsStack/app/models"
)

const (
	// PurchaseNamePrefix starts every charge name the app creates.
	PurchaseNamePrefix = "Purchase section: "

	chargeGIDPrefix = "gid://shopify/AppPurchaseOneTime/"
)

var sectionIDPattern = regexp.MustCompile(`sectionId=([0-9a-fA-F]{24})`)

// Catalog is the read-only section lookup the normalizer needs.
type Catalog interface {
	FindSectionByID(ctx context.Context, id string) (*models.Section, error)
	FindSectionsByName(ctx context.Context, name string) ([]models.Section, error)
}

// Normalizer turns any inbound Signal into a canonical Event.
type Normalizer struct {
	catalog Catalog
}

func NewNormalizer(catalog Catalog) *Normalizer {
	return &Normalizer{catalog: catalog}
}

// ChargeName builds the charge name for a section so that purchase webhooks
// can be matched back to it by id.
func ChargeName(section *models.Section) string {
	return fmt.Sprintf("%s%s (sectionId=%s)", PurchaseNamePrefix, section.Name, section.ID)
}

// ChargeGID expands a numeric charge id into its GraphQL id. Ids that are
// already global ids are returned unchanged.
func ChargeGID(chargeID string) string {
	id := strings.TrimSpace(chargeID)
	if id == "" || strings.HasPrefix(id, "gid://") {
		return id
	}
	return chargeGIDPrefix + id
}

// Normalize resolves the section reference of sig and returns the canonical
// event. Lookups hit the catalog; nothing is written.
func (n *Normalizer) Normalize(ctx context.Context, sig Signal) (Event, error) {
	switch s := sig.(type) {
	case RedirectCallback:
		return n.normalizeRedirect(ctx, s)
	case *RedirectCallback:
		return n.normalizeRedirect(ctx, *s)
	case PurchaseWebhook:
		return n.normalizeWebhook(ctx, s)
	case *PurchaseWebhook:
		return n.normalizeWebhook(ctx, *s)
	case FreeGrant:
		return n.normalizeFreeGrant(ctx, s)
	case *FreeGrant:
		return n.normalizeFreeGrant(ctx, *s)
	default:
		return Event{}, fmt.Errorf("%w: unsupported signal %T", ErrMalformedReference, sig)
	}
}

func (n *Normalizer) normalizeRedirect(ctx context.Context, s RedirectCallback) (Event, error) {
	shop := strings.TrimSpace(s.ShopDomain)
	chargeID := strings.TrimSpace(s.ChargeID)
	sectionID := strings.TrimSpace(s.SectionID)
	if shop == "" || chargeID == "" || sectionID == "" {
		return Event{}, fmt.Errorf("%w: redirect callback requires charge_id, sectionId and shop", ErrMalformedReference)
	}

	status, err := normalizeStatus(s.Status)
	if err != nil {
		return Event{}, err
	}
	section, err := n.sectionByID(ctx, sectionID)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ShopDomain: shop,
		SectionRef: section.ID,
		ChargeID:   ChargeGID(chargeID),
		Status:     status,
		Source:     SourceRedirect,
	}, nil
}

// normalizeWebhook prefers the embedded sectionId over the display name
// because names are not unique.
func (n *Normalizer) normalizeWebhook(ctx context.Context, s PurchaseWebhook) (Event, error) {
	shop := strings.TrimSpace(s.ShopDomain)
	if shop == "" {
		return Event{}, fmt.Errorf("%w: webhook without shop domain", ErrMalformedReference)
	}

	chargeID := strings.TrimSpace(s.Purchase.AdminGraphQLAPIID)
	if chargeID == "" {
		chargeID = ChargeGID(s.Purchase.ID.String())
	}
	if chargeID == "" {
		return Event{}, fmt.Errorf("%w: webhook without charge id", ErrMalformedReference)
	}

	status, err := normalizeStatus(s.Purchase.Status)
	if err != nil {
		return Event{}, err
	}

	name := s.Purchase.Name
	if id, ok := ExtractSectionID(name); ok {
		section, err := n.sectionByID(ctx, id)
		if err != nil {
			return Event{}, err
		}
		return Event{ShopDomain: shop, SectionRef: section.ID, ChargeID: chargeID, Status: status, Source: SourceWebhookID}, nil
	}

	displayName, ok := ExtractSectionName(name)
	if !ok {
		return Event{}, fmt.Errorf("%w: charge name %q", ErrMalformedReference, name)
	}
	section, err := n.sectionByName(ctx, displayName)
	if err != nil {
		return Event{}, err
	}
	return Event{ShopDomain: shop, SectionRef: section.ID, ChargeID: chargeID, Status: status, Source: SourceWebhookName}, nil
}

func (n *Normalizer) normalizeFreeGrant(ctx context.Context, s FreeGrant) (Event, error) {
	shop := strings.TrimSpace(s.ShopDomain)
	sectionID := strings.TrimSpace(s.SectionID)
	if shop == "" || sectionID == "" {
		return Event{}, fmt.Errorf("%w: free grant requires shop and section", ErrMalformedReference)
	}
	section, err := n.sectionByID(ctx, sectionID)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ShopDomain: shop,
		SectionRef: section.ID,
		ChargeID:   models.FreeChargeID,
		Status:     models.PurchaseStatusActive,
		Source:     SourceFreeGrant,
	}, nil
}

func (n *Normalizer) sectionByID(ctx context.Context, id string) (*models.Section, error) {
	if !models.IsValidSectionID(id) {
		return nil, fmt.Errorf("%w: section id %q", ErrMalformedReference, id)
	}
	section, err := n.catalog.FindSectionByID(ctx, strings.ToLower(id))
	if err != nil {
		return nil, err
	}
	if section == nil {
		return nil, fmt.Errorf("%w: id %s", ErrSectionNotFound, id)
	}
	return section, nil
}

func (n *Normalizer) sectionByName(ctx context.Context, name string) (*models.Section, error) {
	sections, err := n.catalog.FindSectionsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	// The store compares with the column collation; re-check byte equality so
	// matching stays case-sensitive.
	var matches []models.Section
	for _, s := range sections {
		if s.Name == name {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: name %q", ErrSectionNotFound, name)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %d sections named %q", ErrAmbiguousSection, len(matches), name)
	}
}

// ExtractSectionID finds a sectionId=<24 hex> marker in a charge name.
func ExtractSectionID(name string) (string, bool) {
	m := sectionIDPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

// ExtractSectionName returns the display name from a
// "Purchase section: <Name>" charge name.
func ExtractSectionName(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	if !strings.HasPrefix(trimmed, PurchaseNamePrefix) {
		return "", false
	}
	displayName := strings.TrimSpace(strings.TrimPrefix(trimmed, PurchaseNamePrefix))
	if displayName == "" {
		return "", false
	}
	return displayName, true
}

// normalizeStatus maps Shopify charge states onto entitlement states.
// Terminal states grant nothing and are reported as ErrChargeNotActive.
func normalizeStatus(status string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "ACTIVE":
		return models.PurchaseStatusActive, nil
	case "", "PENDING", "ACCEPTED":
		return models.PurchaseStatusPending, nil
	case "DECLINED", "EXPIRED", "CANCELLED", "CANCELED", "FROZEN":
		return "", fmt.Errorf("%w: status %s", ErrChargeNotActive, status)
	default:
		return models.PurchaseStatusPending, nil
	}
}
