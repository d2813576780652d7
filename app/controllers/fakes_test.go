package controllers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"github.com/ManuelReschke/SectionsStack/app/repository"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/billing"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/shopify"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/usercontext"
)

const (
	heroID = "507f1f77bcf86cd799439011"
	faqID  = "507f1f77bcf86cd799439012"
	shopA  = "s1.myshopify.com"
)

// fakeSections is an in-memory SectionRepository.
type fakeSections struct {
	mu        sync.Mutex
	sections  map[string]*models.Section
	contents  map[string]string
	purchases map[string]int64
	lastList  repository.SectionFilter
	lists     int
	err       error
}

func newFakeSections() *fakeSections {
	f := &fakeSections{
		sections:  map[string]*models.Section{},
		contents:  map[string]string{},
		purchases: map[string]int64{},
	}
	f.put(&models.Section{ID: heroID, Name: "Hero Banner", Category: models.CategoryHero, Price: 19}, "<div>hero</div>")
	f.put(&models.Section{ID: faqID, Name: "FAQ Accordion", Category: models.CategoryText, IsFree: true}, "<div>faq</div>")
	return f
}

func (f *fakeSections) put(s *models.Section, content string) {
	f.sections[s.ID] = s
	if content != "" {
		f.contents[s.ID] = content
	}
}

func (f *fakeSections) List(filter repository.SectionFilter) ([]models.Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	f.lastList = filter
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Section
	for _, s := range f.sections {
		if filter.Category == repository.FilterFree && !s.IsFree {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeSections) GetByID(id string) (*models.Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sections[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSections) GetContent(sectionID string) (*models.SectionContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contents[sectionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &models.SectionContent{SectionID: sectionID, Content: c}, nil
}

func (f *fakeSections) CreateWithContent(section *models.Section, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if section.ID == "" {
		section.ID = models.NewSectionID()
	}
	for _, s := range f.sections {
		if section.Identifier != "" && s.Identifier == section.Identifier {
			return gorm.ErrDuplicatedKey
		}
	}
	cp := *section
	f.sections[section.ID] = &cp
	f.contents[section.ID] = content
	return nil
}

func (f *fakeSections) UpdateWithContent(section *models.Section, content *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := *section
	f.sections[section.ID] = &cp
	if content != nil {
		f.contents[section.ID] = *content
	}
	return nil
}

func (f *fakeSections) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sections[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	if f.purchases[id] > 0 {
		return repository.ErrSectionInUse
	}
	delete(f.contents, id)
	delete(f.sections, id)
	return nil
}

func (f *fakeSections) CountPurchases(sectionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.purchases[sectionID], nil
}

// fakeBilling is a scriptable EntitlementService.
type fakeBilling struct {
	mu sync.Mutex

	owned     map[string]bool
	processFn func(sig billing.Signal) (*models.Purchase, error)
	signals   []billing.Signal
	granted   []string
	lookupErr error

	events  map[string]*models.BillingWebhookEvent
	nextID  uint
	marked  map[uint]string
	listErr error
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		owned:  map[string]bool{},
		events: map[string]*models.BillingWebhookEvent{},
		marked: map[uint]string{},
	}
}

func (f *fakeBilling) Process(_ context.Context, sig billing.Signal) (*models.Purchase, error) {
	f.mu.Lock()
	f.signals = append(f.signals, sig)
	fn := f.processFn
	f.mu.Unlock()
	if fn != nil {
		return fn(sig)
	}
	return &models.Purchase{ID: 1, Status: models.PurchaseStatusActive}, nil
}

func (f *fakeBilling) GrantFree(_ context.Context, shopDomain, sectionID string) (*models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.granted = append(f.granted, shopDomain+"|"+sectionID)
	return &models.Purchase{ID: 2, SectionID: sectionID, ChargeID: models.FreeChargeID, Status: models.PurchaseStatusActive}, nil
}

func (f *fakeBilling) ListEntitlements(_ context.Context, shopID uint) ([]models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.Purchase
	for sectionID := range f.owned {
		out = append(out, models.Purchase{ShopID: shopID, SectionID: sectionID, Status: models.PurchaseStatusActive})
	}
	return out, nil
}

func (f *fakeBilling) HasActiveEntitlement(_ context.Context, _ uint, sectionID string) (bool, *models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return false, nil, f.lookupErr
	}
	if f.owned[sectionID] {
		return true, &models.Purchase{SectionID: sectionID, Status: models.PurchaseStatusActive}, nil
	}
	return false, nil, nil
}

func (f *fakeBilling) RecordWebhookEvent(_ context.Context, in billing.WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := in.Topic + "|" + in.WebhookID
	if stored, ok := f.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	f.nextID++
	ev := &models.BillingWebhookEvent{ID: f.nextID, Topic: in.Topic, WebhookID: in.WebhookID, ShopDomain: in.ShopDomain, SignatureValid: in.SignatureValid}
	f.events[key] = ev
	cp := *ev
	return true, &cp, nil
}

func (f *fakeBilling) MarkWebhookProcessed(_ context.Context, id uint, outcome string, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked[id] = outcome
	for _, ev := range f.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.Outcome = outcome
		}
	}
	return nil
}

func (f *fakeBilling) processCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

// fakeAdmin records Admin API calls.
type fakeAdmin struct {
	mu         sync.Mutex
	charge     *shopify.OneTimeCharge
	chargeErr  error
	chargeName string
	status     string
	statusErr  error
	themes     []shopify.Theme
	upsertErr  error
	upserts    []string
	created    []string
}

func (a *fakeAdmin) AppPurchaseOneTimeCreate(_ context.Context, name string, _ float64, returnURL string, _ bool) (*shopify.OneTimeCharge, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.created = append(a.created, name+"|"+returnURL)
	if a.chargeErr != nil {
		return nil, a.chargeErr
	}
	return a.charge, nil
}

func (a *fakeAdmin) AppPurchaseOneTime(_ context.Context, gid string) (*shopify.OneTimePurchase, error) {
	if a.statusErr != nil {
		return nil, a.statusErr
	}
	return &shopify.OneTimePurchase{ID: gid, Name: a.chargeName, Status: a.status}, nil
}

func (a *fakeAdmin) Themes(_ context.Context) ([]shopify.Theme, error) {
	return a.themes, nil
}

func (a *fakeAdmin) ThemeFilesUpsert(_ context.Context, themeID, filename, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.upsertErr != nil {
		return a.upsertErr
	}
	a.upserts = append(a.upserts, themeID+"|"+filename)
	return nil
}

func (a *fakeAdmin) factory() shopify.ClientFactory {
	return func(string, string) shopify.Admin { return a }
}

type fakeShopAdmins struct {
	admin *fakeAdmin
	err   error
}

func (f fakeShopAdmins) ForShop(string) (shopify.Admin, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.admin, nil
}

// fakeCache is an in-memory SectionCache.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]interface{}
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]interface{}{}}
}

func (f *fakeCache) GetJSON(key string, v interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cached, ok := f.entries[key]
	if !ok {
		return false, nil
	}
	resp, ok := cached.(sectionListResponse)
	target, isResp := v.(*sectionListResponse)
	if !ok || !isResp {
		return false, errors.New("unexpected cache type")
	}
	*target = resp
	return true, nil
}

func (f *fakeCache) SetJSON(key string, v interface{}, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = v
	return nil
}

func (f *fakeCache) DeletePrefix(prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.entries {
		if strings.HasPrefix(k, prefix) {
			delete(f.entries, k)
		}
	}
	return nil
}

func (f *fakeCache) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// fakeShops is an in-memory ShopRepository.
type fakeShops struct {
	mu          sync.Mutex
	uninstalled []string
	scopes      map[string]string
	err         error
}

func (f *fakeShops) GetByDomain(string) (*models.ShopAccount, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeShops) SaveInstall(shop, _, scope string) (*models.ShopAccount, error) {
	return &models.ShopAccount{ID: 1, Shop: shop, Scope: scope}, nil
}

func (f *fakeShops) UpdateScope(shop, scope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.scopes == nil {
		f.scopes = map[string]string{}
	}
	f.scopes[shop] = scope
	return nil
}

func (f *fakeShops) SetAdmin(string, bool) error { return nil }

func (f *fakeShops) MarkUninstalled(shop string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.uninstalled = append(f.uninstalled, shop)
	return nil
}

func (f *fakeShops) List() ([]models.ShopAccount, error) { return nil, nil }

// withShop installs a fixed shop context, standing in for SessionAuth.
func withShop(admin bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		usercontext.Set(c, usercontext.ShopContext{
			ShopID:      7,
			Shop:        shopA,
			IsInstalled: true,
			IsAdmin:     admin,
			AccessToken: "shpat_test",
		})
		return c.Next()
	}
}
