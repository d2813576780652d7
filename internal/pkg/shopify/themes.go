package shopify

import (
	"context"
	"errors"
	"strings"
)

// Theme is an online store theme of the merchant.
type Theme struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

const themeGIDPrefix = "gid://shopify/OnlineStoreTheme/"

const themesQuery = `
query themes {
  themes(first: 50) {
    edges {
      node {
        id
        name
        role
      }
    }
  }
}`

const themeFilesUpsertMutation = `
mutation themeFilesUpsert($themeId: ID!, $files: [OnlineStoreThemeFilesUpsertFileInput!]!) {
  themeFilesUpsert(themeId: $themeId, files: $files) {
    upsertedThemeFiles {
      filename
    }
    userErrors {
      field
      message
    }
  }
}`

// ThemeGID accepts a numeric theme id or a global id.
func ThemeGID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, "gid://") {
		return id
	}
	return themeGIDPrefix + id
}

// Themes lists the first 50 themes of the shop.
func (c *Client) Themes(ctx context.Context) ([]Theme, error) {
	var out struct {
		Themes struct {
			Edges []struct {
				Node Theme `json:"node"`
			} `json:"edges"`
		} `json:"themes"`
	}
	if err := c.Do(ctx, themesQuery, nil, &out); err != nil {
		return nil, err
	}
	themes := make([]Theme, 0, len(out.Themes.Edges))
	for _, e := range out.Themes.Edges {
		themes = append(themes, e.Node)
	}
	return themes, nil
}

// ThemeFilesUpsert writes one text file into a theme.
func (c *Client) ThemeFilesUpsert(ctx context.Context, themeID, filename, content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("theme file content is empty")
	}
	vars := map[string]interface{}{
		"themeId": ThemeGID(themeID),
		"files": []map[string]interface{}{
			{
				"filename": filename,
				"body": map[string]interface{}{
					"type":  "TEXT",
					"value": content,
				},
			},
		},
	}

	var out struct {
		ThemeFilesUpsert *struct {
			UpsertedThemeFiles []struct {
				Filename string `json:"filename"`
			} `json:"upsertedThemeFiles"`
			UserErrors UserErrors `json:"userErrors"`
		} `json:"themeFilesUpsert"`
	}
	if err := c.Do(ctx, themeFilesUpsertMutation, vars, &out); err != nil {
		return err
	}
	if out.ThemeFilesUpsert == nil {
		return errors.New("invalid graphql response: themeFilesUpsert missing")
	}
	if len(out.ThemeFilesUpsert.UserErrors) > 0 {
		return out.ThemeFilesUpsert.UserErrors
	}
	return nil
}
