package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"
)

// HandleThankYou renders the page shown after an approved charge
func HandleThankYou(c *fiber.Ctx) error {
	return c.Render("thank_you", fiber.Map{
		"Title":     "Thank you",
		"Purchased": c.QueryBool("purchased", false),
		"AppURL":    "/app",
	})
}

// HandlePurchaseFailed renders the failure page with the flashed message, if any
func HandlePurchaseFailed(c *fiber.Ctx) error {
	message := "The purchase could not be completed."
	if msg, ok := flash.Get(c)["message"].(string); ok && msg != "" {
		message = msg
	}
	return c.Status(fiber.StatusOK).Render("purchase_failed", fiber.Map{
		"Title":   "Purchase failed",
		"Message": message,
		"AppURL":  "/app",
	})
}
