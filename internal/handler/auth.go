package handler

import (
	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/auth"
)

// AuthHandler exchanges the shared access token for a signed board token
// carrying the author name.
type AuthHandler struct {
	tokens      *auth.TokenManager
	accessToken string
}

func NewAuthHandler(tokens *auth.TokenManager, accessToken string) *AuthHandler {
	return &AuthHandler{tokens: tokens, accessToken: accessToken}
}

type tokenRequest struct {
	Username    string `json:"username"`
	AccessToken string `json:"accessToken"`
}

// IssueToken mints a board token.
func (h *AuthHandler) IssueToken(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Username == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "username is required"})
	}
	if h.accessToken != "" && req.AccessToken != h.accessToken {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid access token"})
	}

	token, err := h.tokens.Issue(req.Username)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "token signing not configured"})
	}

	return c.JSON(fiber.Map{"token": token})
}
