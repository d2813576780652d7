package shopify

import (
	"context"
	"errors"
	"strconv"
)

// OneTimeCharge is a freshly created app purchase awaiting merchant approval.
type OneTimeCharge struct {
	ID              string
	ConfirmationURL string
}

// OneTimePurchase is the current state of an existing app purchase.
type OneTimePurchase struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

const appPurchaseOneTimeCreateMutation = `
mutation appPurchaseOneTimeCreate($name: String!, $price: MoneyInput!, $returnUrl: URL!, $test: Boolean!) {
  appPurchaseOneTimeCreate(name: $name, price: $price, returnUrl: $returnUrl, test: $test) {
    userErrors {
      field
      message
    }
    confirmationUrl
    appPurchaseOneTime {
      id
    }
  }
}`

const appPurchaseOneTimeStatusQuery = `
query appPurchaseOneTime($id: ID!) {
  node(id: $id) {
    ... on AppPurchaseOneTime {
      id
      name
      status
    }
  }
}`

// AppPurchaseOneTimeCreate creates a one-time charge in USD and returns the
// URL the merchant must visit to approve it.
func (c *Client) AppPurchaseOneTimeCreate(ctx context.Context, name string, price float64, returnURL string, test bool) (*OneTimeCharge, error) {
	vars := map[string]interface{}{
		"name": name,
		"price": map[string]interface{}{
			"amount":       strconv.FormatFloat(price, 'f', 2, 64),
			"currencyCode": "USD",
		},
		"returnUrl": returnURL,
		"test":      test,
	}

	var out struct {
		AppPurchaseOneTimeCreate *struct {
			UserErrors         UserErrors `json:"userErrors"`
			ConfirmationURL    string     `json:"confirmationUrl"`
			AppPurchaseOneTime *struct {
				ID string `json:"id"`
			} `json:"appPurchaseOneTime"`
		} `json:"appPurchaseOneTimeCreate"`
	}
	if err := c.Do(ctx, appPurchaseOneTimeCreateMutation, vars, &out); err != nil {
		return nil, err
	}

	res := out.AppPurchaseOneTimeCreate
	if res == nil {
		return nil, errors.New("invalid graphql response: appPurchaseOneTimeCreate missing")
	}
	if len(res.UserErrors) > 0 {
		return nil, res.UserErrors
	}
	charge := &OneTimeCharge{ConfirmationURL: res.ConfirmationURL}
	if res.AppPurchaseOneTime != nil {
		charge.ID = res.AppPurchaseOneTime.ID
	}
	if charge.ConfirmationURL == "" {
		return nil, errors.New("invalid graphql response: confirmationUrl missing")
	}
	return charge, nil
}

// AppPurchaseOneTime returns the name and current status (ACTIVE, PENDING,
// DECLINED, ...) of a one-time charge.
func (c *Client) AppPurchaseOneTime(ctx context.Context, chargeGID string) (*OneTimePurchase, error) {
	var out struct {
		Node *OneTimePurchase `json:"node"`
	}
	if err := c.Do(ctx, appPurchaseOneTimeStatusQuery, map[string]interface{}{"id": chargeGID}, &out); err != nil {
		return nil, err
	}
	if out.Node == nil || out.Node.Status == "" {
		return nil, errors.New("app purchase not found")
	}
	return out.Node, nil
}
