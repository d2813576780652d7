package models

import "time"

const (
	PurchaseStatusPending = "pending"
	PurchaseStatusActive  = "active"
)

// FreeChargeID marks entitlements granted without a Shopify charge.
const FreeChargeID = "FREE"

// Purchase is the entitlement "this shop owns this section". There is at
// most one row per (shop, section), enforced by ux_purchases_shop_section.
type Purchase struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ShopID      uint      `gorm:"not null;uniqueIndex:ux_purchases_shop_section,priority:1" json:"shop_id"`
	SectionID   string    `gorm:"type:char(24);not null;uniqueIndex:ux_purchases_shop_section,priority:2;index" json:"section_id"`
	ChargeID    string    `gorm:"type:varchar(191);not null" json:"charge_id"`
	Status      string    `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	PurchasedAt time.Time `json:"purchased_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Section *Section `gorm:"foreignKey:SectionID;references:ID" json:"section,omitempty"`
}

func (p *Purchase) IsActive() bool {
	return p.Status == PurchaseStatusActive
}

func (p *Purchase) IsFree() bool {
	return p.ChargeID == FreeChargeID
}
