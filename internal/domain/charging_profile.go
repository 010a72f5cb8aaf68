package domain

import (
	"time"
)

type ProfileScope int

// Higher values win ties at the same stack level.
const (
	ProfileScopeDevice ProfileScope = iota + 1
	ProfileScopeConnector
	ProfileScopeTransaction
)

func (s ProfileScope) String() string {
	switch s {
	case ProfileScopeDevice:
		return "device"
	case ProfileScopeConnector:
		return "connector"
	case ProfileScopeTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

type ChargingProfilePurpose string

const (
	PurposeChargingStationMax      ChargingProfilePurpose = "ChargingStationMaxProfile"
	PurposeTxDefault               ChargingProfilePurpose = "TxDefaultProfile"
	PurposeTx                      ChargingProfilePurpose = "TxProfile"
	PurposeChargingStationExternal ChargingProfilePurpose = "ChargingStationExternalConstraints"
)

type ChargingProfileKind string

const (
	ProfileKindAbsolute  ChargingProfileKind = "Absolute"
	ProfileKindRecurring ChargingProfileKind = "Recurring"
	ProfileKindRelative  ChargingProfileKind = "Relative"
)

type RecurrencyKind string

const (
	RecurrencyNone   RecurrencyKind = ""
	RecurrencyDaily  RecurrencyKind = "Daily"
	RecurrencyWeekly RecurrencyKind = "Weekly"
)

type ChargingRateUnit string

const (
	RateUnitAmps  ChargingRateUnit = "A"
	RateUnitWatts ChargingRateUnit = "W"
)

// ChargingProfile is a prioritised schedule of limits. ConnectorID 0 means the
// whole device; a non-empty TransactionID narrows it to one session.
type ChargingProfile struct {
	ID            int                    `json:"id"`
	ChargePointID string                 `json:"charge_point_id"`
	ConnectorID   int                    `json:"connector_id"`
	TransactionID string                 `json:"transaction_id,omitempty"`
	Purpose       ChargingProfilePurpose `json:"purpose"`
	StackLevel    int                    `json:"stack_level"`
	Kind          ChargingProfileKind    `json:"kind"`
	Recurrency    RecurrencyKind         `json:"recurrency,omitempty"`
	ValidFrom     *time.Time             `json:"valid_from,omitempty"`
	ValidTo       *time.Time             `json:"valid_to,omitempty"`
	StartSchedule *time.Time             `json:"start_schedule,omitempty"`
	Duration      *time.Duration         `json:"duration,omitempty"`
	RateUnit      ChargingRateUnit       `json:"rate_unit"`
	Periods       []SchedulePeriod       `json:"periods"`
}

type SchedulePeriod struct {
	StartOffset  time.Duration `json:"start_offset"`
	Limit        float64       `json:"limit"`
	NumberPhases *int          `json:"number_phases,omitempty"`
}

// Scope derives how specific the profile is.
func (p *ChargingProfile) Scope() ProfileScope {
	switch {
	case p.TransactionID != "":
		return ProfileScopeTransaction
	case p.ConnectorID > 0:
		return ProfileScopeConnector
	default:
		return ProfileScopeDevice
	}
}

// Limit is the resolved limit for one connector at one instant.
type Limit struct {
	Found        bool             `json:"found"`
	Value        float64          `json:"value"`
	Unit         ChargingRateUnit `json:"unit,omitempty"`
	ProfileID    int              `json:"profile_id,omitempty"`
	NumberPhases *int             `json:"number_phases,omitempty"`
}

// ProfileSelector picks profiles to clear. Nil fields match anything.
type ProfileSelector struct {
	ID            *int
	ChargePointID string
	ConnectorID   *int
	Purpose       ChargingProfilePurpose
	StackLevel    *int
}

// Matches reports whether p is selected.
func (s ProfileSelector) Matches(p *ChargingProfile) bool {
	if s.ID != nil && *s.ID != p.ID {
		return false
	}
	if s.ChargePointID != "" && s.ChargePointID != p.ChargePointID {
		return false
	}
	if s.ConnectorID != nil && *s.ConnectorID != p.ConnectorID {
		return false
	}
	if s.Purpose != "" && s.Purpose != p.Purpose {
		return false
	}
	if s.StackLevel != nil && *s.StackLevel != p.StackLevel {
		return false
	}
	return true
}

// LimitQuery asks for the limit on one connector at one instant.
type LimitQuery struct {
	ChargePointID    string
	ConnectorID      int
	TransactionID    string
	TransactionStart time.Time
	At               time.Time
}
