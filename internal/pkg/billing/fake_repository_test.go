package billing

import (
	"context"
	"sync"
	"time"

	"github.com/ManuelReschke/SectionsStack/app/models"
)

type entitlementKey struct {
	shopID    uint
	sectionID string
}

// fakeRepository keeps everything in memory and enforces the same
// (shop, section) uniqueness as ux_purchases_shop_section.
type fakeRepository struct {
	mu sync.Mutex

	shops    map[string]*models.ShopAccount
	sections []models.Section

	purchases map[entitlementKey]*models.Purchase
	nextID    uint

	events      map[string]*models.BillingWebhookEvent
	nextEventID uint

	writes int
	// staleReads hides existing entitlements from FindEntitlement, the way a
	// concurrent request sees the table before the other insert commits.
	staleReads bool
	// failures makes the next n calls fail as a transient store error.
	failures int
	calls    int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		shops:     map[string]*models.ShopAccount{},
		purchases: map[entitlementKey]*models.Purchase{},
		events:    map[string]*models.BillingWebhookEvent{},
	}
}

func (f *fakeRepository) addShop(domain string) *models.ShopAccount {
	f.mu.Lock()
	defer f.mu.Unlock()
	shop := &models.ShopAccount{ID: uint(len(f.shops) + 1), Shop: domain, InstalledAt: time.Now()}
	f.shops[domain] = shop
	return shop
}

func (f *fakeRepository) addSection(id, name string, price float64) models.Section {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := models.Section{ID: id, Name: name, Price: price, IsFree: price == 0, Category: models.CategoryHero}
	f.sections = append(f.sections, s)
	return s
}

func (f *fakeRepository) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.purchases)
}

func (f *fakeRepository) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeRepository) fail() error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return storeErr("fake", errFakeDown)
	}
	return nil
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errFakeDown = fakeErr("connection refused")

func (f *fakeRepository) FindShopByDomain(_ context.Context, domain string) (*models.ShopAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	if shop, ok := f.shops[domain]; ok {
		cp := *shop
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeRepository) FindSectionByID(_ context.Context, id string) (*models.Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	for _, s := range f.sections {
		if s.ID == id {
			cp := s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepository) FindSectionsByName(_ context.Context, name string) ([]models.Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	var out []models.Section
	for _, s := range f.sections {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepository) FindEntitlement(_ context.Context, shopID uint, sectionID string) (*models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	if f.staleReads {
		return nil, nil
	}
	if p, ok := f.purchases[entitlementKey{shopID, sectionID}]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

// applyCharge mirrors the store rule that an active row is never downgraded.
func applyCharge(p *models.Purchase, chargeID, status string) {
	if p.IsActive() && status != models.PurchaseStatusActive {
		return
	}
	p.ChargeID = chargeID
	p.Status = status
	p.UpdatedAt = time.Now()
}

func (f *fakeRepository) CreateEntitlement(_ context.Context, shopID uint, sectionID, chargeID, status string) (*models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.writes++
	key := entitlementKey{shopID, sectionID}
	if p, ok := f.purchases[key]; ok {
		applyCharge(p, chargeID, status)
		cp := *p
		return &cp, nil
	}
	f.nextID++
	now := time.Now()
	p := &models.Purchase{
		ID:          f.nextID,
		ShopID:      shopID,
		SectionID:   sectionID,
		ChargeID:    chargeID,
		Status:      status,
		PurchasedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.purchases[key] = p
	cp := *p
	return &cp, nil
}

func (f *fakeRepository) UpdateEntitlementCharge(_ context.Context, id uint, chargeID, status string) (*models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.writes++
	for _, p := range f.purchases {
		if p.ID == id {
			applyCharge(p, chargeID, status)
			cp := *p
			return &cp, nil
		}
	}
	return nil, storeErr("update", fakeErr("row vanished"))
}

func (f *fakeRepository) ListEntitlementsForShop(_ context.Context, shopID uint) ([]models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Purchase
	for _, p := range f.purchases {
		if p.ShopID != shopID {
			continue
		}
		cp := *p
		for i := range f.sections {
			if f.sections[i].ID == p.SectionID {
				s := f.sections[i]
				cp.Section = &s
			}
		}
		out = append(out, cp)
	}
	return out, nil
}

func (f *fakeRepository) CreateWebhookEventIfNotExists(_ context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := event.Topic + "|" + event.WebhookID
	if stored, ok := f.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	f.nextEventID++
	event.ID = f.nextEventID
	event.CreatedAt = time.Now()
	cp := *event
	f.events[key] = &cp
	return true, event, nil
}

func (f *fakeRepository) MarkWebhookProcessed(_ context.Context, id uint, outcome, processingError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.Outcome = outcome
			e.ProcessingError = processingError
		}
	}
	return nil
}

func (f *fakeRepository) CountUnreconciledWebhookEvents(_ context.Context, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.events {
		if e.Topic != models.WebhookTopicPurchaseUpdate || !e.SignatureValid {
			continue
		}
		if !e.CreatedAt.Before(since) && e.ProcessingError != "" {
			n++
		}
	}
	return n, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *fakeRecorder) RecordReconcile(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *fakeRecorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return ""
	}
	return r.outcomes[len(r.outcomes)-1]
}
