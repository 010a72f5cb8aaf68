package mocks

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

// MockDeviceService is a mock implementation of ports.DeviceService
type MockDeviceService struct {
	mu     sync.Mutex
	Linked map[string]string // "device/connector" -> transaction id

	RegisterBootFunc          func(ctx context.Context, id string, info domain.BootInfo, interval time.Duration) (*domain.ChargePoint, error)
	MarkOnlineFunc            func(ctx context.Context, id, sessionID string) error
	MarkOfflineFunc           func(ctx context.Context, id, reason string) error
	RecordHeartbeatFunc       func(ctx context.Context, id string, at time.Time)
	UpdateConnectorStatusFunc func(ctx context.Context, id string, connectorID int, status domain.ConnectorStatus, at time.Time) (domain.ConnectorStatus, error)
	SetActiveTransactionFunc  func(ctx context.Context, id string, connectorID int, txID string) error
	ApplyVariablesFunc        func(ctx context.Context, id string, vars map[string]string) error
	GetDeviceFunc             func(ctx context.Context, id string) (*domain.ChargePoint, error)
	ListDevicesFunc           func(ctx context.Context) []domain.ChargePoint
}

func (m *MockDeviceService) RegisterBoot(ctx context.Context, id string, info domain.BootInfo, interval time.Duration) (*domain.ChargePoint, error) {
	if m.RegisterBootFunc != nil {
		return m.RegisterBootFunc(ctx, id, info, interval)
	}
	return &domain.ChargePoint{ID: id, Vendor: info.Vendor, Model: info.Model, HeartbeatInterval: interval}, nil
}

func (m *MockDeviceService) MarkOnline(ctx context.Context, id, sessionID string) error {
	if m.MarkOnlineFunc != nil {
		return m.MarkOnlineFunc(ctx, id, sessionID)
	}
	return nil
}

func (m *MockDeviceService) MarkOffline(ctx context.Context, id, reason string) error {
	if m.MarkOfflineFunc != nil {
		return m.MarkOfflineFunc(ctx, id, reason)
	}
	return nil
}

func (m *MockDeviceService) RecordHeartbeat(ctx context.Context, id string, at time.Time) {
	if m.RecordHeartbeatFunc != nil {
		m.RecordHeartbeatFunc(ctx, id, at)
	}
}

func (m *MockDeviceService) UpdateConnectorStatus(ctx context.Context, id string, connectorID int, status domain.ConnectorStatus, at time.Time) (domain.ConnectorStatus, error) {
	if m.UpdateConnectorStatusFunc != nil {
		return m.UpdateConnectorStatusFunc(ctx, id, connectorID, status, at)
	}
	return "", nil
}

func (m *MockDeviceService) SetActiveTransaction(ctx context.Context, id string, connectorID int, txID string) error {
	if m.SetActiveTransactionFunc != nil {
		return m.SetActiveTransactionFunc(ctx, id, connectorID, txID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Linked == nil {
		m.Linked = make(map[string]string)
	}
	m.Linked[linkKey(id, connectorID)] = txID
	return nil
}

// LinkedTransaction returns the transaction last linked to a connector.
func (m *MockDeviceService) LinkedTransaction(id string, connectorID int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Linked[linkKey(id, connectorID)]
}

func (m *MockDeviceService) ApplyVariables(ctx context.Context, id string, vars map[string]string) error {
	if m.ApplyVariablesFunc != nil {
		return m.ApplyVariablesFunc(ctx, id, vars)
	}
	return nil
}

func (m *MockDeviceService) GetDevice(ctx context.Context, id string) (*domain.ChargePoint, error) {
	if m.GetDeviceFunc != nil {
		return m.GetDeviceFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *MockDeviceService) ListDevices(ctx context.Context) []domain.ChargePoint {
	if m.ListDevicesFunc != nil {
		return m.ListDevicesFunc(ctx)
	}
	return nil
}

func linkKey(id string, connectorID int) string {
	return id + "/" + strconv.Itoa(connectorID)
}
