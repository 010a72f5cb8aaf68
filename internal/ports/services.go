package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

// DeviceService is the Device Registry: per-device operational state,
// independent of any single transaction.
type DeviceService interface {
	RegisterBoot(ctx context.Context, id string, info domain.BootInfo, interval time.Duration) (*domain.ChargePoint, error)
	MarkOnline(ctx context.Context, id, sessionID string) error
	MarkOffline(ctx context.Context, id, reason string) error
	RecordHeartbeat(ctx context.Context, id string, at time.Time)
	UpdateConnectorStatus(ctx context.Context, id string, connectorID int, status domain.ConnectorStatus, at time.Time) (domain.ConnectorStatus, error)
	SetActiveTransaction(ctx context.Context, id string, connectorID int, txID string) error
	ApplyVariables(ctx context.Context, id string, vars map[string]string) error
	GetDevice(ctx context.Context, id string) (*domain.ChargePoint, error)
	ListDevices(ctx context.Context) []domain.ChargePoint
}

// TransactionService drives the per-connector transaction state machine.
// Every method is keyed by device and connector; connector 0 on Authorize
// means "whichever connector is waiting for a token".
type TransactionService interface {
	PlugIn(ctx context.Context, deviceID string, connectorID int, at time.Time) (domain.TransactionState, error)
	Authorize(ctx context.Context, deviceID string, connectorID int, token string, result domain.AuthorizationResult) (domain.TransactionState, error)
	StartEnergy(ctx context.Context, deviceID string, connectorID int, chargerTxID string, at time.Time) (domain.TransactionState, error)
	Suspend(ctx context.Context, deviceID string, connectorID int, byEV bool) (domain.TransactionState, error)
	Resume(ctx context.Context, deviceID string, connectorID int) (domain.TransactionState, error)
	RequestStop(ctx context.Context, deviceID string, connectorID int, reason string) (domain.TransactionState, error)
	Close(ctx context.Context, deviceID string, connectorID int, reason string, at time.Time) (*domain.Transaction, error)
	Fault(ctx context.Context, deviceID string, connectorID int, at time.Time) (domain.TransactionState, error)
	ResetFaults(ctx context.Context, deviceID string) int
	AppendMeterSamples(ctx context.Context, deviceID string, connectorID int, samples []domain.MeterSample) (int, error)

	CheckRemoteStart(ctx context.Context, deviceID string, connectorID int) error
	CheckRemoteStop(ctx context.Context, deviceID, transactionID string) (*domain.Transaction, error)
	ConnectorState(deviceID string, connectorID int) domain.TransactionState
	ActiveTransaction(deviceID string, connectorID int) (*domain.Transaction, bool)
	FindTransaction(transactionID string) (*domain.Transaction, bool)
	FindByChargerID(deviceID, chargerTxID string) (*domain.Transaction, bool)
	BindChargerID(deviceID string, connectorID int, chargerTxID string) bool

	FlagOrphaned(ctx context.Context, deviceID string, at time.Time) int
	ResumeOrphaned(ctx context.Context, deviceID string) int
	ExpireOrphans(ctx context.Context, now time.Time) int
	ListOrphaned() []domain.Transaction
	Reconcile(ctx context.Context, transactionID string) (*domain.Transaction, error)
}

// SmartChargingService is the charging profile resolver.
type SmartChargingService interface {
	Install(profile domain.ChargingProfile) (*domain.ChargingProfile, error)
	Clear(selector domain.ProfileSelector) []domain.ChargingProfile
	Profiles(chargePointID string) []domain.ChargingProfile
	EffectiveLimit(q domain.LimitQuery) domain.Limit
}

// AuthorizationService resolves id tokens, falling back to the offline
// allow-list when the external service cannot answer.
type AuthorizationService interface {
	Authorize(ctx context.Context, token string) (domain.AuthorizationResult, error)
	AllowOffline(ctx context.Context, token string) error
	RevokeOffline(ctx context.Context, token string) error
}

// AuthorizationClient talks to the external authorization service.
type AuthorizationClient interface {
	Lookup(ctx context.Context, token string) (domain.AuthorizationStatus, error)
}

// CommandService is the outbound command boundary offered to operators.
// A non-nil error always comes with a Rejected result carrying the reason.
type CommandService interface {
	IsConnected(deviceID string) bool
	RequestStartTransaction(ctx context.Context, deviceID string, connectorID int, idToken string) (domain.CommandResult, error)
	RequestStopTransaction(ctx context.Context, deviceID, transactionID string) (domain.CommandResult, error)
	RequestReset(ctx context.Context, deviceID, resetType string) (domain.CommandResult, error)
	RequestAvailabilityChange(ctx context.Context, deviceID string, connectorID int, operative bool) (domain.CommandResult, error)
	InstallProfile(ctx context.Context, profile domain.ChargingProfile) (domain.CommandResult, error)
	ClearProfiles(ctx context.Context, selector domain.ProfileSelector) (domain.CommandResult, error)
	GetEffectiveLimit(ctx context.Context, deviceID string, connectorID int, at time.Time) (domain.Limit, error)
	GetVariables(ctx context.Context, deviceID string, refs []domain.VariableRef) (domain.CommandResult, error)
	SetVariables(ctx context.Context, deviceID string, refs []domain.VariableRef) (domain.CommandResult, error)
	InstallCertificate(ctx context.Context, deviceID, certificateType, certificate string) (domain.CommandResult, error)
	DeleteCertificate(ctx context.Context, deviceID string, hash domain.CertificateHash) (domain.CommandResult, error)
	GetInstalledCertificateIds(ctx context.Context, deviceID string, types []string) (domain.CommandResult, error)
	DataTransfer(ctx context.Context, deviceID, vendorID, messageID string, data json.RawMessage) (domain.CommandResult, error)
	TriggerMessage(ctx context.Context, deviceID, message string, connectorID int) (domain.CommandResult, error)
}

// EventPublisher fans domain events out to the message bus.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, event any) error
}
