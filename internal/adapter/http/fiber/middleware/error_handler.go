package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

// StatusFor maps a domain error to the HTTP status the operator API answers with.
func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrStateConflict):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrDeviceUnreachable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, domain.ErrProtocolFormat), errors.Is(err, domain.ErrDataIntegrity):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrSecurityViolation):
		return fiber.StatusForbidden
	case errors.Is(err, domain.ErrNotImplemented):
		return fiber.StatusNotImplemented
	default:
		return fiber.StatusInternalServerError
	}
}

func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := StatusFor(err)

		if code == fiber.StatusInternalServerError {
			log.Error("Internal Server Error", zap.Error(err), zap.String("path", c.Path()))
			return c.Status(code).JSON(fiber.Map{"error": "internal error"})
		}

		body := fiber.Map{"error": err.Error()}
		if reason := domain.Reason(err); reason != "InternalError" {
			body["reason"] = reason
		}
		return c.Status(code).JSON(body)
	}
}
