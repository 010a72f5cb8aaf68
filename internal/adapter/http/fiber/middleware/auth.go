package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/service/auth"
)

// TokenValidator validates operator bearer tokens.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Claims, error)
}

// PermissionChecker answers role-based access questions.
type PermissionChecker interface {
	CheckPermission(role, resource, action string) bool
}

// AuthRequired rejects requests without a valid bearer token and stores the
// token claims in the request locals.
func AuthRequired(validator TokenValidator, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing authorization header"})
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid authorization header format"})
		}

		claims, err := validator.ValidateToken(c.UserContext(), parts[1])
		if err != nil {
			log.Debug("rejected operator token", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
		}

		c.Locals("operator", claims.Subject)
		c.Locals("role", claims.Role)
		c.Locals("token_id", claims.ID)
		return c.Next()
	}
}

// RequirePermission must run after AuthRequired.
func RequirePermission(rbac PermissionChecker, resource, action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("role").(string)
		if !rbac.CheckPermission(role, resource, action) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Insufficient permissions",
			})
		}
		return c.Next()
	}
}
