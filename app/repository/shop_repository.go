package repository

import (
	"errors"
	"time"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"gorm.io/gorm"
)

// shopRepository implements the ShopRepository interface
type shopRepository struct {
	db *gorm.DB
}

// NewShopRepository creates a new shop repository instance
func NewShopRepository(db *gorm.DB) ShopRepository {
	return &shopRepository{db: db}
}

// GetByDomain retrieves an installed shop by its myshopify domain
func (r *shopRepository) GetByDomain(shop string) (*models.ShopAccount, error) {
	var account models.ShopAccount
	err := r.db.Where("shop = ?", shop).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// SaveInstall stores a fresh offline token. A previously uninstalled shop is
// revived so its id, admin flag and purchases carry over.
func (r *shopRepository) SaveInstall(shop, accessTokenEnc, scope string) (*models.ShopAccount, error) {
	var account models.ShopAccount
	err := r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Unscoped().Where("shop = ?", shop).First(&account).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			account = models.ShopAccount{
				Shop:           shop,
				AccessTokenEnc: accessTokenEnc,
				Scope:          scope,
				InstalledAt:    time.Now(),
			}
			return tx.Create(&account).Error
		case err != nil:
			return err
		}

		updates := map[string]interface{}{
			"access_token_enc": accessTokenEnc,
			"scope":            scope,
			"deleted_at":       nil,
		}
		if account.DeletedAt.Valid {
			updates["installed_at"] = time.Now()
		}
		if err := tx.Unscoped().Model(&account).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", account.ID).First(&account).Error
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// UpdateScope replaces the granted scopes of an installed shop
func (r *shopRepository) UpdateScope(shop, scope string) error {
	return r.db.Model(&models.ShopAccount{}).Where("shop = ?", shop).Update("scope", scope).Error
}

// SetAdmin toggles catalog management rights. It fails with
// gorm.ErrRecordNotFound when the shop never installed the app.
func (r *shopRepository) SetAdmin(shop string, isAdmin bool) error {
	res := r.db.Model(&models.ShopAccount{}).Where("shop = ?", shop).Update("is_admin", isAdmin)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.Model(&models.ShopAccount{}).Where("shop = ?", shop).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return gorm.ErrRecordNotFound
		}
	}
	return nil
}

// MarkUninstalled drops the stored token and soft deletes the shop
func (r *shopRepository) MarkUninstalled(shop string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ShopAccount{}).Where("shop = ?", shop).Update("access_token_enc", "").Error; err != nil {
			return err
		}
		return tx.Where("shop = ?", shop).Delete(&models.ShopAccount{}).Error
	})
}

// List retrieves all installed shops ordered by domain
func (r *shopRepository) List() ([]models.ShopAccount, error) {
	var shops []models.ShopAccount
	err := r.db.Order("shop ASC").Find(&shops).Error
	return shops, err
}
