package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	grantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	subjectTokenTypeID     = "urn:ietf:params:oauth:token-type:id_token"
	offlineAccessToken     = "urn:shopify:params:oauth:token-type:offline-access-token"
)

// AccessToken is the result of a token exchange.
type AccessToken struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

// TokenExchanger trades App Bridge session tokens for offline access tokens.
type TokenExchanger struct {
	Config     Config
	HTTPClient *http.Client
	// BaseURL overrides https://<shop> (tests).
	BaseURL string
}

func NewTokenExchanger(cfg Config) *TokenExchanger {
	return &TokenExchanger{
		Config: cfg,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Exchange performs the token exchange grant for shop.
func (e *TokenExchanger) Exchange(ctx context.Context, shop, sessionToken string) (*AccessToken, error) {
	if e.Config.APIKey == "" || e.Config.APISecret == "" {
		return nil, errors.New("SHOPIFY_API_KEY/SHOPIFY_API_SECRET are not configured")
	}
	if strings.TrimSpace(sessionToken) == "" {
		return nil, errors.New("session token is required")
	}

	base := "https://" + shop
	if e.BaseURL != "" {
		base = strings.TrimRight(e.BaseURL, "/")
	}

	form := url.Values{}
	form.Set("client_id", e.Config.APIKey)
	form.Set("client_secret", e.Config.APISecret)
	form.Set("grant_type", grantTypeTokenExchange)
	form.Set("subject_token", sessionToken)
	form.Set("subject_token_type", subjectTokenTypeID)
	form.Set("requested_token_type", offlineAccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/admin/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("shopify token exchange failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out AccessToken
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return nil, errors.New("shopify token exchange returned empty access_token")
	}
	return &out, nil
}
