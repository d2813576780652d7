package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"github.com/ManuelReschke/SectionsStack/app/repository"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/security"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/shopify"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/usercontext"
)

// HeaderRetryInvalidSession tells App Bridge to fetch a new session token and retry.
const HeaderRetryInvalidSession = "X-Shopify-Retry-Invalid-Session-Request"

// TokenExchanger trades a session token for an offline access token.
type TokenExchanger interface {
	Exchange(ctx context.Context, shop, sessionToken string) (*shopify.AccessToken, error)
}

// SessionAuth authenticates embedded-app requests by their App Bridge
// session token and makes sure an offline token is on file for the shop.
type SessionAuth struct {
	config    shopify.Config
	shops     repository.ShopRepository
	box       *security.TokenBox
	exchanger TokenExchanger
}

// NewSessionAuth wires the session middleware.
func NewSessionAuth(cfg shopify.Config, shops repository.ShopRepository, box *security.TokenBox, exchanger TokenExchanger) *SessionAuth {
	return &SessionAuth{config: cfg, shops: shops, box: box, exchanger: exchanger}
}

// Handler sets the shop context for every request carrying a valid session token
func (a *SessionAuth) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := extractBearerToken(c)
		if raw == "" {
			return unauthorized(c, "Missing session token")
		}

		claims, shop, err := shopify.VerifySessionToken(raw, a.config)
		if err != nil {
			log.Debugf("[Session] rejected session token: %v", err)
			c.Set(HeaderRetryInvalidSession, "1")
			return unauthorized(c, "Invalid session token")
		}

		account, token, err := a.resolveShop(c.UserContext(), shop, raw)
		if err != nil {
			log.Errorf("[Session] shop %s could not be authorized: %v", shop, err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Shop authorization failed"})
		}

		usercontext.Set(c, usercontext.ShopContext{
			ShopID:        account.ID,
			Shop:          account.Shop,
			IsInstalled:   true,
			IsAdmin:       account.IsAdmin,
			AccessToken:   token,
			SessionUserID: claims.Subject,
		})
		return c.Next()
	}
}

// resolveShop returns the stored shop with its decrypted offline token,
// running the token exchange when none is stored yet.
func (a *SessionAuth) resolveShop(ctx context.Context, shop, sessionToken string) (*models.ShopAccount, string, error) {
	account, err := a.shops.GetByDomain(shop)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}
	if account != nil && account.HasAccessToken() {
		token, err := a.box.Open(account.AccessTokenEnc)
		if err == nil {
			return account, token, nil
		}
		// Key rotation leaves undecryptable tokens behind; exchange again.
		log.Warnf("[Session] stored token for %s is unreadable, exchanging again: %v", shop, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	exchanged, err := a.exchanger.Exchange(ctx, shop, sessionToken)
	if err != nil {
		return nil, "", err
	}
	sealed, err := a.box.Seal(exchanged.AccessToken)
	if err != nil {
		return nil, "", err
	}
	account, err = a.shops.SaveInstall(shop, sealed, exchanged.Scope)
	if err != nil {
		return nil, "", err
	}
	log.Infof("[Session] stored offline token for %s", shop)
	return account, exchanged.AccessToken, nil
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	// Document requests from the embedded admin carry the token as a query parameter.
	return strings.TrimSpace(c.Query("id_token"))
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": message})
}
