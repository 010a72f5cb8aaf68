package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/ports"
)

type TransactionHandler struct {
	service ports.TransactionService
	repo    ports.TransactionRepository
	log     *zap.Logger
}

func NewTransactionHandler(service ports.TransactionService, repo ports.TransactionRepository, log *zap.Logger) *TransactionHandler {
	return &TransactionHandler{
		service: service,
		repo:    repo,
		log:     log,
	}
}

// Get handles GET /api/v1/transactions/:id. Live transactions win over the
// persisted copy, which may lag behind.
func (h *TransactionHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if tx, ok := h.service.FindTransaction(id); ok {
		return c.JSON(tx)
	}
	if h.repo == nil {
		return fiber.NewError(fiber.StatusNotFound, "Transaction not found")
	}

	tx, err := h.repo.FindByID(c.UserContext(), id)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && tx == nil) {
		return fiber.NewError(fiber.StatusNotFound, "Transaction not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(tx)
}

// History handles GET /api/v1/devices/:id/transactions?limit=N
func (h *TransactionHandler) History(c *fiber.Ctx) error {
	if h.repo == nil {
		return c.JSON(fiber.Map{"transactions": []domain.Transaction{}, "total": 0})
	}
	txs, err := h.repo.ListByChargePoint(c.UserContext(), c.Params("id"), c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"transactions": txs,
		"total":        len(txs),
	})
}

// Orphans handles GET /api/v1/transactions/orphaned
func (h *TransactionHandler) Orphans(c *fiber.Ctx) error {
	txs := h.service.ListOrphaned()
	return c.JSON(fiber.Map{
		"transactions": txs,
		"total":        len(txs),
	})
}

// Reconcile handles POST /api/v1/transactions/:id/reconcile
func (h *TransactionHandler) Reconcile(c *fiber.Ctx) error {
	tx, err := h.service.Reconcile(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	h.log.Info("transaction reconciled by operator",
		zap.String("transaction_id", tx.ID),
		zap.Any("operator", c.Locals("operator")),
	)
	return c.JSON(tx)
}
