package mocks

import (
	"context"
	"sync"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

// MockTransactionRepository is a mock implementation of ports.TransactionRepository
type MockTransactionRepository struct {
	mu                    sync.Mutex
	Saved                 []*domain.Transaction
	SaveFunc              func(ctx context.Context, tx *domain.Transaction) error
	FindByIDFunc          func(ctx context.Context, id string) (*domain.Transaction, error)
	ListByChargePointFunc func(ctx context.Context, chargePointID string, limit int) ([]domain.Transaction, error)
}

func (m *MockTransactionRepository) Save(ctx context.Context, tx *domain.Transaction) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Saved = append(m.Saved, tx.Clone())
	return nil
}

func (m *MockTransactionRepository) FindByID(ctx context.Context, id string) (*domain.Transaction, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Saved) - 1; i >= 0; i-- {
		if m.Saved[i].ID == id {
			return m.Saved[i].Clone(), nil
		}
	}
	return nil, nil
}

func (m *MockTransactionRepository) ListByChargePoint(ctx context.Context, chargePointID string, limit int) ([]domain.Transaction, error) {
	if m.ListByChargePointFunc != nil {
		return m.ListByChargePointFunc(ctx, chargePointID, limit)
	}
	return nil, nil
}

// SavedTransactions returns copies of everything passed to Save.
func (m *MockTransactionRepository) SavedTransactions() []*domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Transaction(nil), m.Saved...)
}

// MockChargePointRepository is a mock implementation of ports.ChargePointRepository
type MockChargePointRepository struct {
	mu               sync.Mutex
	Snapshots        map[string]domain.ChargePoint
	SaveSnapshotFunc func(ctx context.Context, cp *domain.ChargePoint) error
	FindByIDFunc     func(ctx context.Context, id string) (*domain.ChargePoint, error)
	FindAllFunc      func(ctx context.Context) ([]domain.ChargePoint, error)
}

func NewMockChargePointRepository() *MockChargePointRepository {
	return &MockChargePointRepository{Snapshots: make(map[string]domain.ChargePoint)}
}

func (m *MockChargePointRepository) SaveSnapshot(ctx context.Context, cp *domain.ChargePoint) error {
	if m.SaveSnapshotFunc != nil {
		return m.SaveSnapshotFunc(ctx, cp)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Snapshots == nil {
		m.Snapshots = make(map[string]domain.ChargePoint)
	}
	m.Snapshots[cp.ID] = cp.Clone()
	return nil
}

func (m *MockChargePointRepository) FindByID(ctx context.Context, id string) (*domain.ChargePoint, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp, ok := m.Snapshots[id]; ok {
		return &cp, nil
	}
	return nil, nil
}

func (m *MockChargePointRepository) FindAll(ctx context.Context) ([]domain.ChargePoint, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ChargePoint, 0, len(m.Snapshots))
	for _, cp := range m.Snapshots {
		out = append(out, cp)
	}
	return out, nil
}
