package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/ports"
)

// CommandCall is one command recorded by MockCommandService.
type CommandCall struct {
	Action   string
	DeviceID string
	Args     []any
}

// MockCommandService is a mock implementation of ports.CommandService.
// Result, when set, answers every command that has no dedicated func.
type MockCommandService struct {
	mu    sync.Mutex
	calls []CommandCall

	Connected map[string]bool
	Result    func(action, deviceID string) (domain.CommandResult, error)

	InstallProfileFunc func(ctx context.Context, profile domain.ChargingProfile) (domain.CommandResult, error)
	ClearProfilesFunc  func(ctx context.Context, selector domain.ProfileSelector) (domain.CommandResult, error)
	EffectiveLimitFunc func(ctx context.Context, deviceID string, connectorID int, at time.Time) (domain.Limit, error)
}

var _ ports.CommandService = (*MockCommandService)(nil)

func (m *MockCommandService) record(action, deviceID string, args ...any) (domain.CommandResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, CommandCall{Action: action, DeviceID: deviceID, Args: args})
	m.mu.Unlock()
	if m.Result != nil {
		return m.Result(action, deviceID)
	}
	return domain.CommandResult{Status: domain.CommandAccepted}, nil
}

// Calls returns the recorded commands in order.
func (m *MockCommandService) Calls() []CommandCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CommandCall(nil), m.calls...)
}

func (m *MockCommandService) IsConnected(deviceID string) bool {
	return m.Connected[deviceID]
}

func (m *MockCommandService) RequestStartTransaction(_ context.Context, deviceID string, connectorID int, idToken string) (domain.CommandResult, error) {
	return m.record("RequestStartTransaction", deviceID, connectorID, idToken)
}

func (m *MockCommandService) RequestStopTransaction(_ context.Context, deviceID, transactionID string) (domain.CommandResult, error) {
	return m.record("RequestStopTransaction", deviceID, transactionID)
}

func (m *MockCommandService) RequestReset(_ context.Context, deviceID, resetType string) (domain.CommandResult, error) {
	return m.record("Reset", deviceID, resetType)
}

func (m *MockCommandService) RequestAvailabilityChange(_ context.Context, deviceID string, connectorID int, operative bool) (domain.CommandResult, error) {
	return m.record("ChangeAvailability", deviceID, connectorID, operative)
}

func (m *MockCommandService) InstallProfile(ctx context.Context, profile domain.ChargingProfile) (domain.CommandResult, error) {
	if m.InstallProfileFunc != nil {
		return m.InstallProfileFunc(ctx, profile)
	}
	return m.record("SetChargingProfile", profile.ChargePointID, profile)
}

func (m *MockCommandService) ClearProfiles(ctx context.Context, selector domain.ProfileSelector) (domain.CommandResult, error) {
	if m.ClearProfilesFunc != nil {
		return m.ClearProfilesFunc(ctx, selector)
	}
	return m.record("ClearChargingProfile", selector.ChargePointID, selector)
}

func (m *MockCommandService) GetEffectiveLimit(ctx context.Context, deviceID string, connectorID int, at time.Time) (domain.Limit, error) {
	if m.EffectiveLimitFunc != nil {
		return m.EffectiveLimitFunc(ctx, deviceID, connectorID, at)
	}
	return domain.Limit{}, nil
}

func (m *MockCommandService) GetVariables(_ context.Context, deviceID string, refs []domain.VariableRef) (domain.CommandResult, error) {
	return m.record("GetVariables", deviceID, refs)
}

func (m *MockCommandService) SetVariables(_ context.Context, deviceID string, refs []domain.VariableRef) (domain.CommandResult, error) {
	return m.record("SetVariables", deviceID, refs)
}

func (m *MockCommandService) InstallCertificate(_ context.Context, deviceID, certificateType, certificate string) (domain.CommandResult, error) {
	return m.record("InstallCertificate", deviceID, certificateType, certificate)
}

func (m *MockCommandService) DeleteCertificate(_ context.Context, deviceID string, hash domain.CertificateHash) (domain.CommandResult, error) {
	return m.record("DeleteCertificate", deviceID, hash)
}

func (m *MockCommandService) GetInstalledCertificateIds(_ context.Context, deviceID string, types []string) (domain.CommandResult, error) {
	return m.record("GetInstalledCertificateIds", deviceID, types)
}

func (m *MockCommandService) DataTransfer(_ context.Context, deviceID, vendorID, messageID string, data json.RawMessage) (domain.CommandResult, error) {
	return m.record("DataTransfer", deviceID, vendorID, messageID, data)
}

func (m *MockCommandService) TriggerMessage(_ context.Context, deviceID, message string, connectorID int) (domain.CommandResult, error) {
	return m.record("TriggerMessage", deviceID, message, connectorID)
}
