package handlers

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/ports"
)

// DeviceCommandHandler handles OCPP device command endpoints
type DeviceCommandHandler struct {
	commands ports.CommandService
	log      *zap.Logger
}

// NewDeviceCommandHandler creates a new device command handler
func NewDeviceCommandHandler(commands ports.CommandService, log *zap.Logger) *DeviceCommandHandler {
	return &DeviceCommandHandler{
		commands: commands,
		log:      log,
	}
}

// --- Remote Start/Stop ---

type RemoteStartRequest struct {
	IdToken     string `json:"id_token" validate:"required,max=36"`
	ConnectorID int    `json:"connector_id" validate:"gte=0"`
}

// RemoteStart handles POST /api/v1/devices/:id/remote-start
func (h *DeviceCommandHandler) RemoteStart(c *fiber.Ctx) error {
	var req RemoteStartRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.commands.RequestStartTransaction(c.UserContext(), c.Params("id"), req.ConnectorID, req.IdToken)
	return commandResponse(c, h.log, "remote_start", res, err)
}

type RemoteStopRequest struct {
	TransactionID string `json:"transaction_id" validate:"required"`
}

// RemoteStop handles POST /api/v1/devices/:id/remote-stop
func (h *DeviceCommandHandler) RemoteStop(c *fiber.Ctx) error {
	var req RemoteStopRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.commands.RequestStopTransaction(c.UserContext(), c.Params("id"), req.TransactionID)
	return commandResponse(c, h.log, "remote_stop", res, err)
}

// --- Reset / Availability ---

type ResetRequest struct {
	Type string `json:"type" validate:"omitempty,oneof=Immediate OnIdle"`
}

// Reset handles POST /api/v1/devices/:id/reset
func (h *DeviceCommandHandler) Reset(c *fiber.Ctx) error {
	var req ResetRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	if req.Type == "" {
		req.Type = domain.ResetImmediate
	}
	res, err := h.commands.RequestReset(c.UserContext(), c.Params("id"), req.Type)
	return commandResponse(c, h.log, "reset", res, err)
}

type AvailabilityRequest struct {
	ConnectorID int   `json:"connector_id" validate:"gte=0"`
	Operative   *bool `json:"operative" validate:"required"`
}

// ChangeAvailability handles POST /api/v1/devices/:id/availability
func (h *DeviceCommandHandler) ChangeAvailability(c *fiber.Ctx) error {
	var req AvailabilityRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.commands.RequestAvailabilityChange(c.UserContext(), c.Params("id"), req.ConnectorID, *req.Operative)
	return commandResponse(c, h.log, "change_availability", res, err)
}

// --- Device Model ---

type VariablesRequest struct {
	Variables []domain.VariableRef `json:"variables" validate:"required,min=1,dive"`
}

// GetVariables handles POST /api/v1/devices/:id/variables/get
func (h *DeviceCommandHandler) GetVariables(c *fiber.Ctx) error {
	var req VariablesRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.commands.GetVariables(c.UserContext(), c.Params("id"), req.Variables)
	return commandResponse(c, h.log, "get_variables", res, err)
}

// SetVariables handles PUT /api/v1/devices/:id/variables
func (h *DeviceCommandHandler) SetVariables(c *fiber.Ctx) error {
	var req VariablesRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.commands.SetVariables(c.UserContext(), c.Params("id"), req.Variables)
	return commandResponse(c, h.log, "set_variables", res, err)
}

// --- Certificates ---

type InstallCertificateRequest struct {
	CertificateType string `json:"certificate_type" validate:"required"`
	Certificate     string `json:"certificate" validate:"required"`
}

// InstallCertificate handles POST /api/v1/devices/:id/certificates
func (h *DeviceCommandHandler) InstallCertificate(c *fiber.Ctx) error {
	var req InstallCertificateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.commands.InstallCertificate(c.UserContext(), c.Params("id"), req.CertificateType, req.Certificate)
	return commandResponse(c, h.log, "install_certificate", res, err)
}

// DeleteCertificate handles DELETE /api/v1/devices/:id/certificates
func (h *DeviceCommandHandler) DeleteCertificate(c *fiber.Ctx) error {
	var req domain.CertificateHash
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.SerialNumber == "" {
		return fiber.NewError(fiber.StatusBadRequest, "serial_number is required")
	}
	if req.HashAlgorithm == "" {
		req.HashAlgorithm = "SHA256"
	}
	res, err := h.commands.DeleteCertificate(c.UserContext(), c.Params("id"), req)
	return commandResponse(c, h.log, "delete_certificate", res, err)
}

// ListCertificates handles GET /api/v1/devices/:id/certificates?type=A,B
func (h *DeviceCommandHandler) ListCertificates(c *fiber.Ctx) error {
	var types []string
	if raw := c.Query("type"); raw != "" {
		types = strings.Split(raw, ",")
	}
	res, err := h.commands.GetInstalledCertificateIds(c.UserContext(), c.Params("id"), types)
	return commandResponse(c, h.log, "list_certificates", res, err)
}

// --- Data Transfer / Trigger ---

type DataTransferRequest struct {
	VendorID  string          `json:"vendor_id" validate:"required,max=255"`
	MessageID string          `json:"message_id" validate:"max=50"`
	Data      json.RawMessage `json:"data"`
}

// DataTransfer handles POST /api/v1/devices/:id/data-transfer
func (h *DeviceCommandHandler) DataTransfer(c *fiber.Ctx) error {
	var req DataTransferRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.commands.DataTransfer(c.UserContext(), c.Params("id"), req.VendorID, req.MessageID, req.Data)
	return commandResponse(c, h.log, "data_transfer", res, err)
}

// TriggerMessage handles POST /api/v1/devices/:id/trigger/:message?connector_id=N
func (h *DeviceCommandHandler) TriggerMessage(c *fiber.Ctx) error {
	connectorID := c.QueryInt("connector_id", 0)
	if connectorID < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "connector_id must not be negative")
	}
	res, err := h.commands.TriggerMessage(c.UserContext(), c.Params("id"), c.Params("message"), connectorID)
	return commandResponse(c, h.log, "trigger_message", res, err)
}
