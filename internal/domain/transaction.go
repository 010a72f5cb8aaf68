package domain

import (
	"time"
)

// TransactionState is a node of the per-connector charging state machine.
type TransactionState string

const (
	TransactionStateIdle          TransactionState = "Idle"
	TransactionStatePreparing     TransactionState = "Preparing"
	TransactionStateAuthorized    TransactionState = "Authorized"
	TransactionStateCharging      TransactionState = "Charging"
	TransactionStateSuspendedEV   TransactionState = "SuspendedEV"
	TransactionStateSuspendedEVSE TransactionState = "SuspendedEVSE"
	TransactionStateFinishing     TransactionState = "Finishing"
	TransactionStateCompleted     TransactionState = "Completed"
	TransactionStateAborted       TransactionState = "Aborted"
	TransactionStateFaulted       TransactionState = "Faulted"
)

// Terminal reports whether no further transitions are possible for the transaction.
func (s TransactionState) Terminal() bool {
	switch s {
	case TransactionStateCompleted, TransactionStateAborted, TransactionStateFaulted:
		return true
	}
	return false
}

// Active reports whether energy is (or may be) flowing under a started session.
func (s TransactionState) Active() bool {
	switch s {
	case TransactionStateCharging, TransactionStateSuspendedEV, TransactionStateSuspendedEVSE:
		return true
	}
	return false
}

type Transaction struct {
	ID                   string           `json:"id" gorm:"primaryKey"`
	ChargerTransactionID string           `json:"charger_transaction_id,omitempty" gorm:"index"`
	ChargePointID        string           `json:"charge_point_id" gorm:"index"`
	ConnectorID          int              `json:"connector_id"`
	IdToken              string           `json:"id_token"`
	State                TransactionState `json:"state"`
	Energized            bool             `json:"energized"`
	StartedAt            time.Time        `json:"started_at"`
	StoppedAt            *time.Time       `json:"stopped_at,omitempty"`
	StopReason           string           `json:"stop_reason,omitempty"`
	Orphaned             bool             `json:"orphaned"`
	OrphanedAt           *time.Time       `json:"orphaned_at,omitempty"`
	MeterSamples         []MeterSample    `json:"meter_samples" gorm:"foreignKey:TransactionID"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// MeterSample is one cumulative energy reading.
type MeterSample struct {
	ID            uint      `json:"-" gorm:"primaryKey"`
	TransactionID string    `json:"transaction_id" gorm:"index"`
	Timestamp     time.Time `json:"timestamp"`
	EnergyWh      float64   `json:"energy_wh"`
}

// LastSample returns the most recent accepted sample.
func (t *Transaction) LastSample() (MeterSample, bool) {
	if len(t.MeterSamples) == 0 {
		return MeterSample{}, false
	}
	return t.MeterSamples[len(t.MeterSamples)-1], true
}

// EnergyDelivered is the difference between the last and first samples, in Wh.
func (t *Transaction) EnergyDelivered() float64 {
	if len(t.MeterSamples) < 2 {
		return 0
	}
	return t.MeterSamples[len(t.MeterSamples)-1].EnergyWh - t.MeterSamples[0].EnergyWh
}

// Clone returns a copy whose sample slice does not alias the original.
func (t *Transaction) Clone() *Transaction {
	out := *t
	out.MeterSamples = append([]MeterSample(nil), t.MeterSamples...)
	return &out
}

// AuthorizationStatus is the outcome of an id token lookup.
type AuthorizationStatus string

const (
	AuthorizationAccepted AuthorizationStatus = "Accepted"
	AuthorizationBlocked  AuthorizationStatus = "Blocked"
	AuthorizationInvalid  AuthorizationStatus = "Invalid"
	AuthorizationUnknown  AuthorizationStatus = "Unknown"
)

type AuthorizationResult struct {
	Status  AuthorizationStatus
	Offline bool // decided from the cached allow-list
}
