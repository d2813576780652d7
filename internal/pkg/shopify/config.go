package shopify

import (
	"errors"
	"strings"

	"github.com/ManuelReschke/SectionsStack/internal/pkg/env"
)

const DefaultAPIVersion = "2025-01"

// Config holds the app credentials issued by the Shopify partner dashboard.
type Config struct {
	APIKey      string
	APISecret   string
	AppURL      string
	APIVersion  string
	BillingTest bool
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:      strings.TrimSpace(env.GetEnv("SHOPIFY_API_KEY", "")),
		APISecret:   strings.TrimSpace(env.GetEnv("SHOPIFY_API_SECRET", "")),
		AppURL:      strings.TrimRight(strings.TrimSpace(env.GetEnv("SHOPIFY_APP_URL", "")), "/"),
		APIVersion:  strings.TrimSpace(env.GetEnv("SHOPIFY_API_VERSION", DefaultAPIVersion)),
		BillingTest: env.GetEnvBool("SHOPIFY_BILLING_TEST", true),
	}
}

// Validate reports the first missing credential.
func (c Config) Validate() error {
	switch {
	case c.APIKey == "":
		return errors.New("SHOPIFY_API_KEY is not configured")
	case c.APISecret == "":
		return errors.New("SHOPIFY_API_SECRET is not configured")
	case c.AppURL == "":
		return errors.New("SHOPIFY_APP_URL is not configured")
	}
	return nil
}
