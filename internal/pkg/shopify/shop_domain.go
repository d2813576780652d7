package shopify

import (
	"regexp"
	"strings"
)

var shopDomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]*\.myshopify\.com$`)

// NormalizeShopDomain lower-cases shop and strips a scheme or trailing slash.
// It returns false when the result is not a *.myshopify.com host.
func NormalizeShopDomain(shop string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(shop))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimSuffix(s, "/")
	if !shopDomainPattern.MatchString(s) {
		return "", false
	}
	return s, true
}
