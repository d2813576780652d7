package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Reconcile outcomes, used as log fields, metric labels and the outcome column
// of the webhook log.
const (
	OutcomeCreated            = "created"
	OutcomeUpdated            = "updated"
	OutcomeUnchanged          = "unchanged"
	OutcomeStale              = "stale"
	OutcomeUnknownShop        = "unknown_shop"
	OutcomeMalformedReference = "malformed_reference"
	OutcomeSectionNotFound    = "section_not_found"
	OutcomeAmbiguousSection   = "ambiguous_section"
	OutcomeInactiveCharge     = "inactive_charge"
	OutcomeStoreUnavailable   = "store_unavailable"
	OutcomeError              = "error"
)

// Recorder receives one outcome per processed billing signal.
type Recorder interface {
	RecordReconcile(outcome string)
}

// Service normalizes purchase signals and reconciles them into entitlements.
type Service struct {
	repo       Repository
	normalizer *Normalizer
	recorder   Recorder
	retry      RetryPolicy
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{
		repo:       repo,
		normalizer: NewNormalizer(repo),
		recorder:   metrics.Get(),
		retry:      DefaultRetry,
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// WithRecorder replaces the metrics sink.
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// WithRetry replaces the retry policy used by Process.
func (s *Service) WithRetry(p RetryPolicy) *Service {
	s.retry = p
	return s
}

// Normalize exposes the normalizer for callers that only need the event.
func (s *Service) Normalize(ctx context.Context, sig Signal) (Event, error) {
	return s.normalizer.Normalize(ctx, sig)
}

// Process normalizes sig and reconciles the result. Transient store failures
// are retried according to the service's RetryPolicy; business failures are
// returned immediately. Every call records exactly one outcome.
func (s *Service) Process(ctx context.Context, sig Signal) (*models.Purchase, error) {
	var (
		purchase *models.Purchase
		outcome  string
		ev       Event
	)
	err := s.retry.do(ctx, func() error {
		var err error
		ev, err = s.normalizer.Normalize(ctx, sig)
		if err != nil {
			return err
		}
		purchase, outcome, err = s.reconcile(ctx, ev)
		return err
	})
	if err != nil {
		outcome = OutcomeOf(err)
	}
	s.observe(sig.shopDomain(), ev, outcome, err)
	return purchase, err
}

// Reconcile applies one canonical event to the entitlement store. It writes at
// most once and not at all when the shop is unknown.
func (s *Service) Reconcile(ctx context.Context, ev Event) (*models.Purchase, error) {
	purchase, outcome, err := s.reconcile(ctx, ev)
	if err != nil {
		outcome = OutcomeOf(err)
	}
	s.observe(ev.ShopDomain, ev, outcome, err)
	return purchase, err
}

func (s *Service) reconcile(ctx context.Context, ev Event) (*models.Purchase, string, error) {
	if err := validateEvent(ev); err != nil {
		return nil, "", err
	}

	shop, err := s.repo.FindShopByDomain(ctx, ev.ShopDomain)
	if err != nil {
		return nil, "", err
	}
	if shop == nil {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownShop, ev.ShopDomain)
	}

	existing, err := s.repo.FindEntitlement(ctx, shop.ID, ev.SectionRef)
	if err != nil {
		return nil, "", err
	}
	if existing == nil {
		created, err := s.repo.CreateEntitlement(ctx, shop.ID, ev.SectionRef, ev.ChargeID, ev.Status)
		if err != nil {
			return nil, "", err
		}
		// A concurrent active write won the insert race.
		if created.Status != ev.Status {
			return created, OutcomeStale, nil
		}
		return created, OutcomeCreated, nil
	}

	// A late pending delivery must not take away a section the shop already owns.
	if existing.IsActive() && ev.Status != models.PurchaseStatusActive {
		return existing, OutcomeStale, nil
	}
	if existing.ChargeID == ev.ChargeID && existing.Status == ev.Status {
		return existing, OutcomeUnchanged, nil
	}

	updated, err := s.repo.UpdateEntitlementCharge(ctx, existing.ID, ev.ChargeID, ev.Status)
	if err != nil {
		return nil, "", err
	}
	if updated.Status != ev.Status {
		return updated, OutcomeStale, nil
	}
	return updated, OutcomeUpdated, nil
}

func validateEvent(ev Event) error {
	switch {
	case strings.TrimSpace(ev.ShopDomain) == "":
		return fmt.Errorf("%w: event without shop", ErrMalformedReference)
	case strings.TrimSpace(ev.SectionRef) == "":
		return fmt.Errorf("%w: event without section", ErrMalformedReference)
	case strings.TrimSpace(ev.ChargeID) == "":
		return fmt.Errorf("%w: event without charge id", ErrMalformedReference)
	case ev.Status != models.PurchaseStatusActive && ev.Status != models.PurchaseStatusPending:
		return fmt.Errorf("%w: status %q", ErrMalformedReference, ev.Status)
	}
	return nil
}

func (s *Service) observe(shop string, ev Event, outcome string, err error) {
	if s.recorder != nil {
		s.recorder.RecordReconcile(outcome)
	}

	switch outcome {
	case OutcomeCreated, OutcomeUpdated:
		log.Infof("[Billing] %s entitlement shop=%s section=%s charge=%s status=%s source=%s",
			outcome, shop, ev.SectionRef, ev.ChargeID, ev.Status, ev.Source)
	case OutcomeUnchanged, OutcomeStale:
		log.Debugf("[Billing] %s entitlement shop=%s section=%s charge=%s", outcome, shop, ev.SectionRef, ev.ChargeID)
	case OutcomeUnknownShop, OutcomeInactiveCharge:
		log.Warnf("[Billing] skipped shop=%s: %v", shop, err)
	default:
		log.Errorf("[Billing] unreconciled payment shop=%s outcome=%s: %v", shop, outcome, err)
	}
}

// OutcomeOf maps a processing error to its outcome label.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStoreUnavailable):
		return OutcomeStoreUnavailable
	case errors.Is(err, ErrUnknownShop):
		return OutcomeUnknownShop
	case errors.Is(err, ErrMalformedReference):
		return OutcomeMalformedReference
	case errors.Is(err, ErrSectionNotFound):
		return OutcomeSectionNotFound
	case errors.Is(err, ErrAmbiguousSection):
		return OutcomeAmbiguousSection
	case errors.Is(err, ErrChargeNotActive):
		return OutcomeInactiveCharge
	default:
		return OutcomeError
	}
}

// GrantFree records that shopDomain claimed a free section. It takes the same
// upsert path as a paid purchase, with the FREE sentinel charge.
func (s *Service) GrantFree(ctx context.Context, shopDomain, sectionID string) (*models.Purchase, error) {
	return s.Process(ctx, FreeGrant{ShopDomain: shopDomain, SectionID: sectionID})
}

// ListEntitlements returns the shop's purchases joined with their sections.
func (s *Service) ListEntitlements(ctx context.Context, shopID uint) ([]models.Purchase, error) {
	if shopID == 0 {
		return nil, errors.New("shop_id is required")
	}
	return s.repo.ListEntitlementsForShop(ctx, shopID)
}

// HasActiveEntitlement reports whether the shop owns the section outright.
func (s *Service) HasActiveEntitlement(ctx context.Context, shopID uint, sectionID string) (bool, *models.Purchase, error) {
	p, err := s.repo.FindEntitlement(ctx, shopID, sectionID)
	if err != nil || p == nil {
		return false, nil, err
	}
	return p.IsActive(), p, nil
}

// WebhookEventInput is one raw webhook delivery to be logged.
type WebhookEventInput struct {
	Topic          string
	WebhookID      string
	ShopDomain     string
	PayloadJSON    string
	SignatureValid bool
}

// RecordWebhookEvent persists webhook payloads idempotently. The first return
// value is false when the delivery was already logged.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	topic := strings.ToLower(strings.TrimSpace(in.Topic))
	if topic == "" {
		return false, nil, errors.New("topic is required")
	}
	webhookID := strings.TrimSpace(in.WebhookID)
	if webhookID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		webhookID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Topic:          topic,
		WebhookID:      webhookID,
		ShopDomain:     strings.TrimSpace(in.ShopDomain),
		PayloadJSON:    in.PayloadJSON,
		SignatureValid: in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed stores the outcome of a logged delivery.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, outcome string, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, outcome, errMsg)
}

// CountUnreconciled counts signed purchase deliveries since the given time
// that finished with an error.
func (s *Service) CountUnreconciled(ctx context.Context, since time.Time) (int64, error) {
	return s.repo.CountUnreconciledWebhookEvents(ctx, since)
}
