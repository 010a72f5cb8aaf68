package handlers

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/sigec-csms/internal/domain"
)

var validate = validator.New()

// parseBody decodes and validates a JSON request body.
func parseBody(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
	}
	return nil
}

// commandResponse answers with the command result. Local rejections carry the
// status code of their cause; device refusals are a 200 with status Rejected.
func commandResponse(c *fiber.Ctx, log *zap.Logger, action string, res domain.CommandResult, err error) error {
	if err != nil {
		log.Warn("operator command failed",
			zap.String("action", action),
			zap.String("charge_point_id", c.Params("id")),
			zap.String("reason", res.Reason),
			zap.Error(err),
		)
		return c.Status(middleware.StatusFor(err)).JSON(fiber.Map{
			"status": res.Status,
			"reason": res.Reason,
			"error":  err.Error(),
		})
	}
	return c.JSON(res)
}
