package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// tokenFromRequest pulls the access token from the Authorization header,
// the "at" query parameter or the access_token cookie, in that order.
func tokenFromRequest(c *fiber.Ctx) string {
	if header := c.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if token := c.Query("at"); token != "" {
		return token
	}
	return c.Cookies("access_token")
}

// Middleware rejects requests without a valid board token. On success the
// author name (if the token carries one) is stashed in Locals("username").
func Middleware(m *TokenManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.Open() {
			return c.Next()
		}

		claims, err := m.Verify(tokenFromRequest(c))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid access token"})
		}
		if claims != nil {
			c.Locals("username", claims.Username)
		}
		return c.Next()
	}
}
