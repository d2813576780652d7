package shopify

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the claims of an App Bridge session token.
type SessionClaims struct {
	Dest string `json:"dest"`
	SID  string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// VerifySessionToken validates an App Bridge session token against the app
// credentials and returns the claims together with the shop domain it was
// issued for.
func VerifySessionToken(raw string, cfg Config) (*SessionClaims, string, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, "", errors.New("shopify credentials are not configured")
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(cfg.APISecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(cfg.APIKey),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return nil, "", err
	}

	dest, err := url.Parse(claims.Dest)
	if err != nil {
		return nil, "", fmt.Errorf("invalid dest claim: %w", err)
	}
	shop, ok := NormalizeShopDomain(dest.Host)
	if !ok {
		return nil, "", fmt.Errorf("dest %q is not a shop domain", claims.Dest)
	}

	// iss is the shop admin URL and must point at the same shop.
	iss, err := url.Parse(claims.Issuer)
	if err != nil || !strings.EqualFold(iss.Host, dest.Host) {
		return nil, "", errors.New("issuer does not match destination")
	}
	return claims, shop, nil
}

// SignSessionToken issues a token shaped like the ones App Bridge sends.
// Only tests need this.
func SignSessionToken(shop string, cfg Config, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Dest: "https://" + shop,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://" + shop + "/admin",
			Audience:  jwt.ClaimStrings{cfg.APIKey},
			Subject:   "1",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.APISecret))
}
