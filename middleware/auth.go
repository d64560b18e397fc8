// middleware/auth.go
package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// PlayerContextMiddleware extracts the caller's wallet address set by the
// Gateway after signature verification. Every state-changing escrow call is
// authenticated as "some player" or "the controller" — the engine compares
// this address against its configured controller/owner addresses, so the
// authorization check is an explicit predicate, never ambient identity.
func PlayerContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		address := strings.TrimSpace(c.Get("X-Player-Address"))
		if address == "" {
			log.Printf("❌ [PLAYER_CTX] X-Player-Address missing on: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Player-Address — request must come through gateway with a verified wallet",
			})
		}

		c.Locals("player_address", address)
		return c.Next()
	}
}
