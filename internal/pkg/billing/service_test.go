package billing

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shopDomain = "s1.myshopify.com"

func newTestService(t *testing.T) (*Service, *fakeRepository, *fakeRecorder) {
	t.Helper()
	repo := newCatalog()
	repo.addShop(shopDomain)
	rec := &fakeRecorder{}
	svc := NewService(repo).WithRecorder(rec).WithRetry(RetryPolicy{Attempts: 3, Backoff: time.Millisecond})
	return svc, repo, rec
}

func webhook(name, status, id string) PurchaseWebhook {
	return PurchaseWebhook{
		ShopDomain: shopDomain,
		Purchase:   AppPurchaseOneTime{ID: json.Number(id), Name: name, Status: status},
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	svc, repo, rec := newTestService(t)
	ctx := context.Background()
	ev := Event{ShopDomain: shopDomain, SectionRef: heroID, ChargeID: "gid://shopify/AppPurchaseOneTime/1", Status: models.PurchaseStatusActive}

	first, err := svc.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, rec.last())

	second, err := svc.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, rec.last())

	assert.Equal(t, 1, repo.rowCount())
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	assert.Equal(t, ev.ChargeID, second.ChargeID)
	assert.Equal(t, ev.Status, second.Status)
}

func TestReconcileUpdatesExistingRow(t *testing.T) {
	svc, repo, rec := newTestService(t)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, Event{ShopDomain: shopDomain, SectionRef: heroID, ChargeID: "gid://shopify/AppPurchaseOneTime/1", Status: models.PurchaseStatusPending})
	require.NoError(t, err)

	p, err := svc.Reconcile(ctx, Event{ShopDomain: shopDomain, SectionRef: heroID, ChargeID: "gid://shopify/AppPurchaseOneTime/2", Status: models.PurchaseStatusActive})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, rec.last())

	assert.Equal(t, 1, repo.rowCount())
	assert.Equal(t, "gid://shopify/AppPurchaseOneTime/2", p.ChargeID)
	assert.True(t, p.IsActive())
}

func TestReconcileNeverDowngradesActive(t *testing.T) {
	svc, repo, rec := newTestService(t)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, Event{ShopDomain: shopDomain, SectionRef: heroID, ChargeID: "gid://shopify/AppPurchaseOneTime/1", Status: models.PurchaseStatusActive})
	require.NoError(t, err)
	writes := repo.writeCount()

	p, err := svc.Reconcile(ctx, Event{ShopDomain: shopDomain, SectionRef: heroID, ChargeID: "gid://shopify/AppPurchaseOneTime/1", Status: models.PurchaseStatusPending})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, rec.last())
	assert.True(t, p.IsActive())
	assert.Equal(t, writes, repo.writeCount())
}

func TestNoDuplicateGrantsForAnySequence(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	events := []Event{
		{ShopDomain: shopDomain, SectionRef: heroID, ChargeID: "gid://shopify/AppPurchaseOneTime/1", Status: models.PurchaseStatusPending},
		{ShopDomain: shopDomain, SectionRef: heroID, ChargeID: "gid://shopify/AppPurchaseOneTime/1", Status: models.PurchaseStatusActive},
		{ShopDomain: shopDomain, SectionRef: heroID, ChargeID: "gid://shopify/AppPurchaseOneTime/2", Status: models.PurchaseStatusActive},
		{ShopDomain: shopDomain, SectionRef: heroID, ChargeID: models.FreeChargeID, Status: models.PurchaseStatusActive},
		{ShopDomain: shopDomain, SectionRef: heroID, ChargeID: "gid://shopify/AppPurchaseOneTime/2", Status: models.PurchaseStatusActive},
	}
	for _, ev := range events {
		_, err := svc.Reconcile(ctx, ev)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, repo.rowCount())

	p, err := repo.FindEntitlement(ctx, 1, heroID)
	require.NoError(t, err)
	assert.Equal(t, "gid://shopify/AppPurchaseOneTime/2", p.ChargeID)
}

func TestConcurrentDuplicateDeliveries(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	sig := webhook("Purchase section: Hero Banner (sectionId=507f1f77bcf86cd799439011)", "ACTIVE", "9")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Process(ctx, sig)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, repo.rowCount())
}

func TestFreeGrantTwice(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.GrantFree(ctx, shopDomain, faqID)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, repo.rowCount())
	p, err := repo.FindEntitlement(ctx, 1, faqID)
	require.NoError(t, err)
	assert.Equal(t, models.FreeChargeID, p.ChargeID)
	assert.Equal(t, models.PurchaseStatusActive, p.Status)
	assert.True(t, p.IsFree())
}

func TestFreeAndPaidShareThePath(t *testing.T) {
	svc, repo, rec := newTestService(t)
	ctx := context.Background()

	free, err := svc.GrantFree(ctx, shopDomain, faqID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, rec.last())

	paid, err := svc.Process(ctx, webhook("Purchase section: Hero Banner", "ACTIVE", "55"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, rec.last())

	assert.Equal(t, 2, repo.rowCount())
	assert.Equal(t, models.FreeChargeID, free.ChargeID)
	assert.Equal(t, "gid://shopify/AppPurchaseOneTime/55", paid.ChargeID)
	assert.Equal(t, free.Status, paid.Status)
}

func TestWebhookRedelivery(t *testing.T) {
	svc, repo, rec := newTestService(t)
	ctx := context.Background()
	sig := webhook("Purchase section: FAQ Accordion (sectionId=507f1f77bcf86cd799439012)", "ACTIVE", "1")

	first, err := svc.Process(ctx, sig)
	require.NoError(t, err)
	writes := repo.writeCount()

	second, err := svc.Process(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, rec.last())
	assert.Equal(t, writes, repo.writeCount())
	assert.Equal(t, *first, *second)
	assert.Equal(t, 1, repo.rowCount())
}

func TestUnknownShopWritesNothing(t *testing.T) {
	svc, repo, rec := newTestService(t)

	_, err := svc.Process(context.Background(), PurchaseWebhook{
		ShopDomain: "ghost.myshopify.com",
		Purchase:   AppPurchaseOneTime{ID: json.Number("3"), Name: "Purchase section: Hero Banner", Status: "ACTIVE"},
	})
	assert.ErrorIs(t, err, ErrUnknownShop)
	assert.Equal(t, OutcomeUnknownShop, rec.last())
	assert.Equal(t, 0, repo.writeCount())
}

func TestUnresolvableNameWritesNothing(t *testing.T) {
	svc, repo, rec := newTestService(t)

	_, err := svc.Process(context.Background(), webhook("Purchase section: Nonexistent Section", "ACTIVE", "3"))
	assert.ErrorIs(t, err, ErrSectionNotFound)
	assert.Equal(t, OutcomeSectionNotFound, rec.last())
	assert.Equal(t, 0, repo.writeCount())
}

func TestProcessRetriesTransientFailures(t *testing.T) {
	svc, repo, rec := newTestService(t)
	repo.failures = 2

	p, err := svc.Process(context.Background(), webhook("Purchase section: Hero Banner", "ACTIVE", "8"))
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Equal(t, OutcomeCreated, rec.last())
	assert.Equal(t, 1, repo.rowCount())
}

func TestProcessGivesUpAfterBoundedRetries(t *testing.T) {
	svc, repo, rec := newTestService(t)
	repo.failures = 10

	_, err := svc.Process(context.Background(), webhook("Purchase section: Hero Banner", "ACTIVE", "8"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, OutcomeStoreUnavailable, rec.last())
	assert.Equal(t, 3, repo.calls)
	assert.Equal(t, 0, repo.rowCount())
}

func TestProcessDoesNotRetryBusinessFailures(t *testing.T) {
	svc, repo, _ := newTestService(t)

	_, err := svc.Process(context.Background(), webhook("Purchase section: Countdown", "ACTIVE", "8"))
	assert.ErrorIs(t, err, ErrAmbiguousSection)
	assert.Equal(t, 1, repo.calls)
}

func TestReconcileRejectsIncompleteEvents(t *testing.T) {
	svc, repo, _ := newTestService(t)

	_, err := svc.Reconcile(context.Background(), Event{ShopDomain: shopDomain, ChargeID: "x", Status: models.PurchaseStatusActive})
	assert.ErrorIs(t, err, ErrMalformedReference)

	_, err = svc.Reconcile(context.Background(), Event{ShopDomain: shopDomain, SectionRef: heroID, ChargeID: "x", Status: "refunded"})
	assert.ErrorIs(t, err, ErrMalformedReference)
	assert.Equal(t, 0, repo.writeCount())
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, "", OutcomeOf(nil))
	assert.Equal(t, OutcomeStoreUnavailable, OutcomeOf(storeErr("x", errFakeDown)))
	assert.Equal(t, OutcomeInactiveCharge, OutcomeOf(ErrChargeNotActive))
	assert.Equal(t, OutcomeError, OutcomeOf(assert.AnError))
}

func TestListEntitlementsJoinsSections(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GrantFree(ctx, shopDomain, faqID)
	require.NoError(t, err)

	list, err := svc.ListEntitlements(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Section)
	assert.Equal(t, "FAQ Accordion", list[0].Section.Name)

	owned, p, err := svc.HasActiveEntitlement(ctx, 1, faqID)
	require.NoError(t, err)
	assert.True(t, owned)
	assert.NotNil(t, p)

	owned, _, err = svc.HasActiveEntitlement(ctx, 1, heroID)
	require.NoError(t, err)
	assert.False(t, owned)
}

func TestRecordWebhookEventDeduplicates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	in := WebhookEventInput{
		Topic:          models.WebhookTopicPurchaseUpdate,
		WebhookID:      "wh-1",
		ShopDomain:     shopDomain,
		PayloadJSON:    `{}`,
		SignatureValid: true,
	}

	created, ev, err := svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)

	created, again, err := svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ev.ID, again.ID)

	require.NoError(t, svc.MarkWebhookProcessed(ctx, ev.ID, OutcomeSectionNotFound, ErrSectionNotFound))
	n, err := svc.CountUnreconciled(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecordWebhookEventHashesMissingID(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, ev, err := svc.RecordWebhookEvent(context.Background(), WebhookEventInput{Topic: "APP/UNINSTALLED", PayloadJSON: `{"a":1}`})
	require.NoError(t, err)
	assert.Equal(t, models.WebhookTopicUninstalled, ev.Topic)
	assert.Contains(t, ev.WebhookID, "hash:")

	_, _, err = svc.RecordWebhookEvent(context.Background(), WebhookEventInput{})
	assert.Error(t, err)
}

func TestInsertRaceKeepsActive(t *testing.T) {
	svc, repo, rec := newTestService(t)
	ctx := context.Background()
	// Both events find no row and both take the insert path.
	repo.staleReads = true

	_, err := svc.Reconcile(ctx, Event{ShopDomain: shopDomain, SectionRef: heroID, ChargeID: "gid://shopify/AppPurchaseOneTime/2", Status: models.PurchaseStatusActive})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, rec.last())

	p, err := svc.Reconcile(ctx, Event{ShopDomain: shopDomain, SectionRef: heroID, ChargeID: "gid://shopify/AppPurchaseOneTime/1", Status: models.PurchaseStatusPending})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, rec.last())
	assert.True(t, p.IsActive())
	assert.Equal(t, "gid://shopify/AppPurchaseOneTime/2", p.ChargeID)
	assert.Equal(t, 1, repo.rowCount())
}

func TestUpdateRaceKeepsActive(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, Event{ShopDomain: shopDomain, SectionRef: heroID, ChargeID: "gid://shopify/AppPurchaseOneTime/1", Status: models.PurchaseStatusPending})
	require.NoError(t, err)
	existing, err := repo.FindEntitlement(ctx, 1, heroID)
	require.NoError(t, err)

	// The row turned active after this request read it as pending.
	_, err = repo.UpdateEntitlementCharge(ctx, existing.ID, "gid://shopify/AppPurchaseOneTime/2", models.PurchaseStatusActive)
	require.NoError(t, err)

	p, err := repo.UpdateEntitlementCharge(ctx, existing.ID, "gid://shopify/AppPurchaseOneTime/3", models.PurchaseStatusPending)
	require.NoError(t, err)
	assert.True(t, p.IsActive())
	assert.Equal(t, "gid://shopify/AppPurchaseOneTime/2", p.ChargeID)
}

func TestCountUnreconciledOnlyCountsSignedPurchaseDeliveries(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	inputs := []WebhookEventInput{
		{Topic: models.WebhookTopicPurchaseUpdate, WebhookID: "paid", SignatureValid: true},
		{Topic: models.WebhookTopicPurchaseUpdate, WebhookID: "unsigned:forged"},
		{Topic: models.WebhookTopicUninstalled, WebhookID: "gone", SignatureValid: true},
	}
	for _, in := range inputs {
		_, ev, err := svc.RecordWebhookEvent(ctx, in)
		require.NoError(t, err)
		require.NoError(t, svc.MarkWebhookProcessed(ctx, ev.ID, OutcomeStoreUnavailable, ErrStoreUnavailable))
	}

	n, err := svc.CountUnreconciled(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
