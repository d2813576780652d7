package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the entitlement store plus the shop and catalog lookups the
// billing service depends on. Not-found results are returned as (nil, nil);
// infrastructure failures are wrapped with ErrStoreUnavailable.
type Repository interface {
	Catalog
	FindShopByDomain(ctx context.Context, domain string) (*models.ShopAccount, error)
	FindEntitlement(ctx context.Context, shopID uint, sectionID string) (*models.Purchase, error)
	// CreateEntitlement inserts the (shop, section) row or, when a concurrent
	// writer got there first, updates it in place. An active row keeps its
	// status and charge against a non-active write.
	CreateEntitlement(ctx context.Context, shopID uint, sectionID, chargeID, status string) (*models.Purchase, error)
	// UpdateEntitlementCharge returns the stored row, which stays untouched when
	// it is active and status is not.
	UpdateEntitlementCharge(ctx context.Context, id uint, chargeID, status string) (*models.Purchase, error)
	ListEntitlementsForShop(ctx context.Context, shopID uint) ([]models.Purchase, error)
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, outcome, processingError string) error
	CountUnreconciledWebhookEvents(ctx context.Context, since time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func (r *gormRepository) FindShopByDomain(ctx context.Context, domain string) (*models.ShopAccount, error) {
	var shop models.ShopAccount
	err := r.db.WithContext(ctx).Where("shop = ?", domain).First(&shop).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("find shop", err)
	}
	return &shop, nil
}

func (r *gormRepository) FindSectionByID(ctx context.Context, id string) (*models.Section, error) {
	var section models.Section
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&section).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("find section", err)
	}
	return &section, nil
}

func (r *gormRepository) FindSectionsByName(ctx context.Context, name string) ([]models.Section, error) {
	var sections []models.Section
	// Two rows are enough to detect ambiguity.
	err := r.db.WithContext(ctx).Where("name = ?", name).Order("created_at ASC").Limit(2).Find(&sections).Error
	if err != nil {
		return nil, storeErr("find sections by name", err)
	}
	return sections, nil
}

func (r *gormRepository) FindEntitlement(ctx context.Context, shopID uint, sectionID string) (*models.Purchase, error) {
	var p models.Purchase
	err := r.db.WithContext(ctx).Where("shop_id = ? AND section_id = ?", shopID, sectionID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("find entitlement", err)
	}
	return &p, nil
}

func (r *gormRepository) CreateEntitlement(ctx context.Context, shopID uint, sectionID, chargeID, status string) (*models.Purchase, error) {
	p := &models.Purchase{
		ShopID:      shopID,
		SectionID:   sectionID,
		ChargeID:    chargeID,
		Status:      status,
		PurchasedAt: time.Now(),
	}
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "shop_id"},
			{Name: "section_id"},
		},
		// MySQL applies these left to right, so charge_id must read the old status.
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "charge_id"}, Value: gorm.Expr("IF(status = ? AND VALUES(status) <> ?, charge_id, VALUES(charge_id))", models.PurchaseStatusActive, models.PurchaseStatusActive)},
			{Column: clause.Column{Name: "status"}, Value: gorm.Expr("IF(status = ?, status, VALUES(status))", models.PurchaseStatusActive)},
			{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("VALUES(updated_at)")},
		},
	}).Create(p).Error; err != nil {
		return nil, storeErr("upsert entitlement", err)
	}

	// Reload so the ID is populated when the upsert hit an existing row.
	var stored models.Purchase
	if err := db.Where("shop_id = ? AND section_id = ?", shopID, sectionID).First(&stored).Error; err != nil {
		return nil, storeErr("reload entitlement", err)
	}
	return &stored, nil
}

func (r *gormRepository) UpdateEntitlementCharge(ctx context.Context, id uint, chargeID, status string) (*models.Purchase, error) {
	db := r.db.WithContext(ctx)
	updates := map[string]interface{}{
		"charge_id": chargeID,
		"status":    status,
	}
	q := db.Model(&models.Purchase{}).Where("id = ?", id)
	if status != models.PurchaseStatusActive {
		q = q.Where("status <> ?", models.PurchaseStatusActive)
	}
	if err := q.Updates(updates).Error; err != nil {
		return nil, storeErr("update entitlement", err)
	}

	var stored models.Purchase
	if err := db.First(&stored, id).Error; err != nil {
		return nil, storeErr("reload entitlement", err)
	}
	return &stored, nil
}

func (r *gormRepository) ListEntitlementsForShop(ctx context.Context, shopID uint) ([]models.Purchase, error) {
	var purchases []models.Purchase
	err := r.db.WithContext(ctx).
		Preload("Section").
		Where("shop_id = ?", shopID).
		Order("purchased_at DESC").
		Find(&purchases).Error
	if err != nil {
		return nil, storeErr("list entitlements", err)
	}
	return purchases, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "topic"},
			{Name: "webhook_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, storeErr("record webhook", tx.Error)
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := db.Where("topic = ? AND webhook_id = ?", event.Topic, event.WebhookID).
		First(&stored).Error; err != nil {
		return false, nil, storeErr("reload webhook", err)
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, outcome, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"outcome":          outcome,
		"processing_error": processingError,
	}
	err := r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return storeErr("mark webhook", err)
	}
	return nil
}

func (r *gormRepository) CountUnreconciledWebhookEvents(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).
		Where("topic = ? AND signature_valid = ?", models.WebhookTopicPurchaseUpdate, true).
		Where("created_at >= ? AND processing_error <> ''", since).
		Count(&n).Error
	if err != nil {
		return 0, storeErr("count unreconciled", err)
	}
	return n, nil
}
