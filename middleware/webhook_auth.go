package middleware

import (
	"crypto/subtle"

	"leadpixel/config"

	"github.com/gofiber/fiber/v2"
)

// WebhookKeyHeader carries the identity provider's pre-shared key.
const WebhookKeyHeader = "X-Webhook-Key"

// WebhookAuth rejects a batch before any event is processed unless the
// pre-shared key matches exactly. No HMAC; the provider only supports a
// static header key.
func WebhookAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		provided := c.Get(WebhookKeyHeader)
		expected := config.AppConfig.IdentityWebhookKey

		if provided == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing webhook key",
			})
		}
		if expected == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid webhook key",
			})
		}

		return c.Next()
	}
}
