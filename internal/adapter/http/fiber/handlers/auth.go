package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/ports"
)

// TokenIssuer mints and revokes operator API tokens.
type TokenIssuer interface {
	GenerateToken(subject, role string) (string, error)
	RevokeToken(ctx context.Context, tokenID string) error
}

type AuthHandler struct {
	authz  ports.AuthorizationService
	tokens TokenIssuer
	log    *zap.Logger
}

func NewAuthHandler(authz ports.AuthorizationService, tokens TokenIssuer, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authz:  authz,
		tokens: tokens,
		log:    log,
	}
}

type IssueTokenRequest struct {
	Subject string `json:"subject" validate:"required"`
	Role    string `json:"role" validate:"required,oneof=viewer operator admin"`
}

// IssueToken handles POST /api/v1/auth/tokens
func (h *AuthHandler) IssueToken(c *fiber.Ctx) error {
	var req IssueTokenRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	token, err := h.tokens.GenerateToken(req.Subject, req.Role)
	if err != nil {
		return err
	}
	h.log.Info("operator token issued",
		zap.String("subject", req.Subject),
		zap.String("role", req.Role),
		zap.Any("issued_by", c.Locals("operator")),
	)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"token": token})
}

// Logout handles POST /api/v1/auth/logout by revoking the caller's token.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	tokenID, _ := c.Locals("token_id").(string)
	if tokenID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "token has no id")
	}
	if err := h.tokens.RevokeToken(c.UserContext(), tokenID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AllowToken handles PUT /api/v1/auth-list/:token
func (h *AuthHandler) AllowToken(c *fiber.Ctx) error {
	token := c.Params("token")
	if err := h.authz.AllowOffline(c.UserContext(), token); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RevokeToken handles DELETE /api/v1/auth-list/:token
func (h *AuthHandler) RevokeToken(c *fiber.Ctx) error {
	token := c.Params("token")
	if err := h.authz.RevokeOffline(c.UserContext(), token); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// CheckToken handles GET /api/v1/auth-list/:token
func (h *AuthHandler) CheckToken(c *fiber.Ctx) error {
	res, err := h.authz.Authorize(c.UserContext(), c.Params("token"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"status":  res.Status,
		"offline": res.Offline,
	})
}
