package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/ports"
)

type ProfileHandler struct {
	commands ports.CommandService
	profiles ports.SmartChargingService
	log      *zap.Logger
}

func NewProfileHandler(commands ports.CommandService, profiles ports.SmartChargingService, log *zap.Logger) *ProfileHandler {
	return &ProfileHandler{
		commands: commands,
		profiles: profiles,
		log:      log,
	}
}

type PeriodRequest struct {
	StartPeriod  int     `json:"start_period" validate:"gte=0"` // seconds from schedule start
	Limit        float64 `json:"limit" validate:"gte=0"`
	NumberPhases *int    `json:"number_phases,omitempty" validate:"omitempty,min=1,max=3"`
}

type ProfileRequest struct {
	ID              int             `json:"id" validate:"required,gt=0"`
	ConnectorID     int             `json:"connector_id" validate:"gte=0"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	Purpose         string          `json:"purpose" validate:"required,oneof=ChargingStationMaxProfile TxDefaultProfile TxProfile ChargingStationExternalConstraints"`
	StackLevel      int             `json:"stack_level" validate:"gte=0"`
	Kind            string          `json:"kind" validate:"required,oneof=Absolute Recurring Relative"`
	Recurrency      string          `json:"recurrency,omitempty" validate:"omitempty,oneof=Daily Weekly"`
	ValidFrom       *time.Time      `json:"valid_from,omitempty"`
	ValidTo         *time.Time      `json:"valid_to,omitempty"`
	StartSchedule   *time.Time      `json:"start_schedule,omitempty"`
	DurationSeconds *int            `json:"duration_seconds,omitempty" validate:"omitempty,gt=0"`
	RateUnit        string          `json:"rate_unit" validate:"required,oneof=A W"`
	Periods         []PeriodRequest `json:"periods" validate:"required,min=1,dive"`
}

func (r ProfileRequest) toDomain(deviceID string) domain.ChargingProfile {
	p := domain.ChargingProfile{
		ID:            r.ID,
		ChargePointID: deviceID,
		ConnectorID:   r.ConnectorID,
		TransactionID: r.TransactionID,
		Purpose:       domain.ChargingProfilePurpose(r.Purpose),
		StackLevel:    r.StackLevel,
		Kind:          domain.ChargingProfileKind(r.Kind),
		Recurrency:    domain.RecurrencyKind(r.Recurrency),
		ValidFrom:     r.ValidFrom,
		ValidTo:       r.ValidTo,
		StartSchedule: r.StartSchedule,
		RateUnit:      domain.ChargingRateUnit(r.RateUnit),
	}
	if r.DurationSeconds != nil {
		d := time.Duration(*r.DurationSeconds) * time.Second
		p.Duration = &d
	}
	for _, period := range r.Periods {
		p.Periods = append(p.Periods, domain.SchedulePeriod{
			StartOffset:  time.Duration(period.StartPeriod) * time.Second,
			Limit:        period.Limit,
			NumberPhases: period.NumberPhases,
		})
	}
	return p
}

// Install handles POST /api/v1/devices/:id/profiles
func (h *ProfileHandler) Install(c *fiber.Ctx) error {
	var req ProfileRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.commands.InstallProfile(c.UserContext(), req.toDomain(c.Params("id")))
	return commandResponse(c, h.log, "install_profile", res, err)
}

// List handles GET /api/v1/devices/:id/profiles
func (h *ProfileHandler) List(c *fiber.Ctx) error {
	profiles := h.profiles.Profiles(c.Params("id"))
	return c.JSON(fiber.Map{
		"profiles": profiles,
		"total":    len(profiles),
	})
}

// Clear handles DELETE /api/v1/devices/:id/profiles?profile_id=&connector_id=&purpose=&stack_level=
func (h *ProfileHandler) Clear(c *fiber.Ctx) error {
	sel := domain.ProfileSelector{
		ChargePointID: c.Params("id"),
		Purpose:       domain.ChargingProfilePurpose(c.Query("purpose")),
	}
	var err error
	if sel.ID, err = optionalInt(c, "profile_id"); err != nil {
		return err
	}
	if sel.ConnectorID, err = optionalInt(c, "connector_id"); err != nil {
		return err
	}
	if sel.StackLevel, err = optionalInt(c, "stack_level"); err != nil {
		return err
	}

	res, err := h.commands.ClearProfiles(c.UserContext(), sel)
	return commandResponse(c, h.log, "clear_profiles", res, err)
}

// EffectiveLimit handles GET /api/v1/devices/:id/limit?connector_id=&at=
func (h *ProfileHandler) EffectiveLimit(c *fiber.Ctx) error {
	at := time.Now()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "at must be an RFC3339 timestamp")
		}
		at = parsed
	}

	limit, err := h.commands.GetEffectiveLimit(c.UserContext(), c.Params("id"), c.QueryInt("connector_id", 0), at)
	if err != nil {
		return err
	}
	return c.JSON(limit)
}

func optionalInt(c *fiber.Ctx, key string) (*int, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, key+" must be an integer")
	}
	return &v, nil
}
