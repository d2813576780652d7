package models

import (
	"time"

	"gorm.io/gorm"
)

// ShopAccount is one installed merchant store. Uninstall soft-deletes the row
// so a reinstall revives the same id and existing purchases stay attached.
type ShopAccount struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Shop           string         `gorm:"type:varchar(191);not null;uniqueIndex:ux_shop_accounts_shop" json:"shop"`
	AccessTokenEnc string         `gorm:"type:text" json:"-"`
	Scope          string         `gorm:"type:varchar(500);default:''" json:"scope"`
	IsAdmin        bool           `gorm:"default:false" json:"is_admin"`
	InstalledAt    time.Time      `json:"installed_at"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// HasAccessToken reports whether an offline token has been stored.
func (s *ShopAccount) HasAccessToken() bool {
	return s.AccessTokenEnc != ""
}
