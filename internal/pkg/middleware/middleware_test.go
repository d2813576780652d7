package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SectionsStack/app/models"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/security"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/shopify"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/usercontext"
)

var testConfig = shopify.Config{APIKey: "api-key", APISecret: "api-secret", AppURL: "https://app.example.com"}

type fakeShops struct {
	mu    sync.Mutex
	shops map[string]*models.ShopAccount
	saves int
}

func newFakeShops() *fakeShops {
	return &fakeShops{shops: map[string]*models.ShopAccount{}}
}

func (f *fakeShops) GetByDomain(shop string) (*models.ShopAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.shops[shop]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeShops) SaveInstall(shop, tokenEnc, scope string) (*models.ShopAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	s, ok := f.shops[shop]
	if !ok {
		s = &models.ShopAccount{ID: uint(len(f.shops) + 1), Shop: shop, InstalledAt: time.Now()}
		f.shops[shop] = s
	}
	s.AccessTokenEnc = tokenEnc
	s.Scope = scope
	cp := *s
	return &cp, nil
}

func (f *fakeShops) UpdateScope(shop, scope string) error      { return nil }
func (f *fakeShops) SetAdmin(shop string, isAdmin bool) error { return nil }
func (f *fakeShops) MarkUninstalled(shop string) error        { return nil }
func (f *fakeShops) List() ([]models.ShopAccount, error)      { return nil, nil }

type fakeExchanger struct {
	calls int
	err   error
}

func (f *fakeExchanger) Exchange(_ context.Context, shop, sessionToken string) (*shopify.AccessToken, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &shopify.AccessToken{AccessToken: "shpat_" + shop, Scope: "write_themes"}, nil
}

func newBox(t *testing.T) *security.TokenBox {
	t.Helper()
	box, err := security.NewTokenBox("test-encryption-secret")
	require.NoError(t, err)
	return box
}

func newSessionApp(auth *SessionAuth) *fiber.App {
	app := fiber.New()
	app.Get("/api/me", auth.Handler(), func(c *fiber.Ctx) error {
		return c.JSON(usercontext.GetShopContext(c))
	})
	app.Get("/api/admin", auth.Handler(), RequireAdmin, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func sessionRequest(t *testing.T, path, shop string) *http.Request {
	t.Helper()
	token, err := shopify.SignSessionToken(shop, testConfig, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestSessionAuthExchangesOnFirstRequest(t *testing.T) {
	shops := newFakeShops()
	exchanger := &fakeExchanger{}
	box := newBox(t)
	app := newSessionApp(NewSessionAuth(testConfig, shops, box, exchanger))

	resp, err := app.Test(sessionRequest(t, "/api/me", "s1.myshopify.com"), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var ctx usercontext.ShopContext
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ctx))
	assert.Equal(t, "s1.myshopify.com", ctx.Shop)
	assert.Equal(t, uint(1), ctx.ShopID)
	assert.True(t, ctx.IsInstalled)
	assert.Equal(t, 1, exchanger.calls)

	stored, err := shops.GetByDomain("s1.myshopify.com")
	require.NoError(t, err)
	assert.NotContains(t, stored.AccessTokenEnc, "shpat_")
	plain, err := box.Open(stored.AccessTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "shpat_s1.myshopify.com", plain)

	// The stored token is reused afterwards.
	resp, err = app.Test(sessionRequest(t, "/api/me", "s1.myshopify.com"), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, exchanger.calls)
}

func TestSessionAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	app := newSessionApp(NewSessionAuth(testConfig, newFakeShops(), newBox(t), &fakeExchanger{}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/me", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(HeaderRetryInvalidSession))
}

func TestSessionAuthExchangeFailure(t *testing.T) {
	app := newSessionApp(NewSessionAuth(testConfig, newFakeShops(), newBox(t), &fakeExchanger{err: errors.New("boom")}))

	resp, err := app.Test(sessionRequest(t, "/api/me", "s1.myshopify.com"), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Shop authorization failed")
}

func TestSessionAuthReExchangesUnreadableToken(t *testing.T) {
	shops := newFakeShops()
	shops.shops["s1.myshopify.com"] = &models.ShopAccount{ID: 7, Shop: "s1.myshopify.com", AccessTokenEnc: "garbage"}
	exchanger := &fakeExchanger{}
	app := newSessionApp(NewSessionAuth(testConfig, shops, newBox(t), exchanger))

	resp, err := app.Test(sessionRequest(t, "/api/me", "s1.myshopify.com"), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, exchanger.calls)
	assert.Equal(t, 1, shops.saves)
}

func TestRequireAdmin(t *testing.T) {
	shops := newFakeShops()
	box := newBox(t)
	sealed, err := box.Seal("shpat_admin")
	require.NoError(t, err)
	shops.shops["admin.myshopify.com"] = &models.ShopAccount{ID: 1, Shop: "admin.myshopify.com", AccessTokenEnc: sealed, IsAdmin: true}
	shops.shops["s1.myshopify.com"] = &models.ShopAccount{ID: 2, Shop: "s1.myshopify.com", AccessTokenEnc: sealed}
	app := newSessionApp(NewSessionAuth(testConfig, shops, box, &fakeExchanger{}))

	resp, err := app.Test(sessionRequest(t, "/api/admin", "admin.myshopify.com"), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, err = app.Test(sessionRequest(t, "/api/admin", "s1.myshopify.com"), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	bare := fiber.New()
	bare.Get("/admin", RequireAdmin, func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	resp, err = bare.Test(httptest.NewRequest(http.MethodGet, "/admin", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestShopifyWebhook(t *testing.T) {
	const secret = "api-secret"
	app := fiber.New()
	app.Post("/webhooks", ShopifyWebhook(secret), func(c *fiber.Ctx) error {
		d, ok := GetWebhookDelivery(c)
		require.True(t, ok)
		return c.JSON(fiber.Map{"topic": d.Topic, "shop": d.ShopDomain, "id": d.WebhookID, "valid": d.SignatureValid, "body": string(d.Body)})
	})

	payload := `{"app_purchase_one_time":{"name":"Purchase section: Hero Banner"}}`
	tests := []struct {
		name      string
		signature string
		wantValid bool
	}{
		{name: "valid", signature: shopify.SignWebhook([]byte(payload), secret), wantValid: true},
		{name: "wrong secret", signature: shopify.SignWebhook([]byte(payload), "other"), wantValid: false},
		{name: "missing", signature: "", wantValid: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(payload))
			req.Header.Set(shopify.HeaderTopic, "APP_PURCHASES_ONE_TIME/UPDATE")
			req.Header.Set(shopify.HeaderShop, "S1.myshopify.com")
			req.Header.Set(shopify.HeaderWebhookID, "wh-1")
			if tt.signature != "" {
				req.Header.Set(shopify.HeaderHmac, tt.signature)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			var got map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			assert.Equal(t, "app_purchases_one_time/update", got["topic"])
			assert.Equal(t, "s1.myshopify.com", got["shop"])
			assert.Equal(t, "wh-1", got["id"])
			assert.Equal(t, tt.wantValid, got["valid"])
			assert.Equal(t, payload, got["body"])
		})
	}
}
