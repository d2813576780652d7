package shopify

import "context"

// Admin is the part of the Admin API the app uses. *Client implements it.
type Admin interface {
	AppPurchaseOneTimeCreate(ctx context.Context, name string, price float64, returnURL string, test bool) (*OneTimeCharge, error)
	AppPurchaseOneTime(ctx context.Context, chargeGID string) (*OneTimePurchase, error)
	Themes(ctx context.Context) ([]Theme, error)
	ThemeFilesUpsert(ctx context.Context, themeID, filename, content string) error
}

// ClientFactory builds an Admin client for a shop and its offline token.
type ClientFactory func(shop, accessToken string) Admin

// NewClientFactory returns a factory for real Admin API clients.
func NewClientFactory(cfg Config) ClientFactory {
	return func(shop, accessToken string) Admin {
		return NewClient(shop, accessToken, cfg.APIVersion)
	}
}
