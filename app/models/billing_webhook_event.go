package models

import "time"

// Webhook topics handled by the app.
const (
	WebhookTopicPurchaseUpdate = "app_purchases_one_time/update"
	WebhookTopicUninstalled    = "app/uninstalled"
	WebhookTopicScopesUpdate   = "app/scopes_update"
)

// BillingWebhookEvent logs every Shopify delivery keyed by its webhook id so
// redeliveries are detected and unreconciled payments stay visible.
type BillingWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Topic           string     `gorm:"type:varchar(100);not null;index:ux_billing_webhook_events_topic_webhook,unique,priority:1" json:"topic"`
	WebhookID       string     `gorm:"type:varchar(191);not null;default:'';index:ux_billing_webhook_events_topic_webhook,unique,priority:2" json:"webhook_id"`
	ShopDomain      string     `gorm:"type:varchar(191);not null;default:'';index" json:"shop_domain"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	Outcome         string     `gorm:"type:varchar(50);not null;default:''" json:"outcome"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Unreconciled reports whether processing finished with an error.
func (e *BillingWebhookEvent) Unreconciled() bool {
	return e.ProcessedAt != nil && e.ProcessingError != ""
}
