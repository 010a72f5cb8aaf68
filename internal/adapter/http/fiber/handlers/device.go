package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/ports"
)

type DeviceHandler struct {
	devices  ports.DeviceService
	commands ports.CommandService
	log      *zap.Logger
}

func NewDeviceHandler(devices ports.DeviceService, commands ports.CommandService, log *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		devices:  devices,
		commands: commands,
		log:      log,
	}
}

// DeviceView is a charge point plus whether a live session is attached.
type DeviceView struct {
	domain.ChargePoint
	Connected bool `json:"connected"`
}

// List handles GET /api/v1/devices
func (h *DeviceHandler) List(c *fiber.Ctx) error {
	devices := h.devices.ListDevices(c.UserContext())
	views := make([]DeviceView, 0, len(devices))
	for _, cp := range devices {
		views = append(views, DeviceView{ChargePoint: cp, Connected: h.commands.IsConnected(cp.ID)})
	}
	return c.JSON(fiber.Map{
		"devices": views,
		"total":   len(views),
	})
}

// Get handles GET /api/v1/devices/:id
func (h *DeviceHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	cp, err := h.devices.GetDevice(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(DeviceView{ChargePoint: *cp, Connected: h.commands.IsConnected(id)})
}

// StatusSummary handles GET /api/v1/devices/:id/status-summary
func (h *DeviceHandler) StatusSummary(c *fiber.Ctx) error {
	cp, err := h.devices.GetDevice(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	summary := make(map[domain.ConnectorStatus]int)
	for _, conn := range cp.Connectors {
		summary[conn.Status]++
	}
	return c.JSON(summary)
}
