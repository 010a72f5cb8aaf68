package ports

import (
	"context"
	"errors"
	"time"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

type ChargePointRepository interface {
	SaveSnapshot(ctx context.Context, cp *domain.ChargePoint) error
	FindByID(ctx context.Context, id string) (*domain.ChargePoint, error)
	FindAll(ctx context.Context) ([]domain.ChargePoint, error)
}

// TransactionRepository is the sink for closed transactions.
type TransactionRepository interface {
	Save(ctx context.Context, tx *domain.Transaction) error
	FindByID(ctx context.Context, id string) (*domain.Transaction, error)
	ListByChargePoint(ctx context.Context, chargePointID string, limit int) ([]domain.Transaction, error)
}

// ErrCacheMiss is returned by Cache.Get for absent or expired keys.
var ErrCacheMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping() error
	Close() error
}
