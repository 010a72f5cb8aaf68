package domain

import (
	"time"
)

// ConnectorStatus is the operational status of a connector as reported by the device.
type ConnectorStatus string

const (
	ConnectorStatusAvailable     ConnectorStatus = "Available"
	ConnectorStatusPreparing     ConnectorStatus = "Preparing"
	ConnectorStatusCharging      ConnectorStatus = "Charging"
	ConnectorStatusSuspendedEVSE ConnectorStatus = "SuspendedEVSE"
	ConnectorStatusSuspendedEV   ConnectorStatus = "SuspendedEV"
	ConnectorStatusFinishing     ConnectorStatus = "Finishing"
	ConnectorStatusReserved      ConnectorStatus = "Reserved"
	ConnectorStatusUnavailable   ConnectorStatus = "Unavailable"
	ConnectorStatusFaulted       ConnectorStatus = "Faulted"
)

var connectorStatuses = map[ConnectorStatus]struct{}{
	ConnectorStatusAvailable:     {},
	ConnectorStatusPreparing:     {},
	ConnectorStatusCharging:      {},
	ConnectorStatusSuspendedEVSE: {},
	ConnectorStatusSuspendedEV:   {},
	ConnectorStatusFinishing:     {},
	ConnectorStatusReserved:      {},
	ConnectorStatusUnavailable:   {},
	ConnectorStatusFaulted:       {},
}

// Valid reports whether s belongs to the fixed connector status set.
func (s ConnectorStatus) Valid() bool {
	_, ok := connectorStatuses[s]
	return ok
}

// ChargePoint is the CSMS-side record of a device. It outlives any single
// network session; SessionID is cleared when the device goes offline.
type ChargePoint struct {
	ID                string            `json:"id" gorm:"primaryKey"`
	Vendor            string            `json:"vendor"`
	Model             string            `json:"model"`
	SerialNumber      string            `json:"serial_number"`
	FirmwareVersion   string            `json:"firmware_version"`
	SessionID         string            `json:"session_id,omitempty"`
	Online            bool              `json:"online"`
	Booted            bool              `json:"booted"` // a BootNotification was accepted; survives reconnects
	LastHeartbeat     time.Time         `json:"last_heartbeat"`
	HeartbeatInterval time.Duration     `json:"heartbeat_interval"`
	Connectors        []Connector       `json:"connectors" gorm:"foreignKey:ChargePointID"`
	Variables         map[string]string `json:"variables,omitempty" gorm:"serializer:json"`
	OfflineReason     string            `json:"offline_reason,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Connector is one outlet of a charge point, keyed by its EVSE id.
type Connector struct {
	ID                  uint            `json:"-" gorm:"primaryKey"`
	ChargePointID       string          `json:"charge_point_id" gorm:"index"`
	ConnectorID         int             `json:"connector_id"`
	Status              ConnectorStatus `json:"status"`
	ActiveTransactionID string          `json:"active_transaction_id,omitempty"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Connector returns the connector with the given id, if known.
func (cp *ChargePoint) Connector(connectorID int) (*Connector, bool) {
	for i := range cp.Connectors {
		if cp.Connectors[i].ConnectorID == connectorID {
			return &cp.Connectors[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy safe to hand out of the registry.
func (cp *ChargePoint) Clone() ChargePoint {
	out := *cp
	out.Connectors = append([]Connector(nil), cp.Connectors...)
	if cp.Variables != nil {
		out.Variables = make(map[string]string, len(cp.Variables))
		for k, v := range cp.Variables {
			out.Variables[k] = v
		}
	}
	return out
}

// BootInfo is what a device reports about itself in BootNotification.
type BootInfo struct {
	Vendor          string
	Model           string
	SerialNumber    string
	FirmwareVersion string
	Reason          string
}
