package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/observability/telemetry"
	"github.com/seu-repo/sigec-csms/internal/ports"
)

// TransactionRepository stores closed transactions with their meter samples.
type TransactionRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewTransactionRepository(db *gorm.DB, log *zap.Logger) ports.TransactionRepository {
	return &TransactionRepository{
		db:  db,
		log: log,
	}
}

// Save upserts the transaction and replaces its samples in one database
// transaction. Saving the same transaction twice leaves one copy.
func (r *TransactionRepository) Save(ctx context.Context, tx *domain.Transaction) error {
	start := time.Now()
	defer func() { telemetry.DatabaseLatency.Observe(time.Since(start).Seconds()) }()

	samples := make([]domain.MeterSample, len(tx.MeterSamples))
	for i, s := range tx.MeterSamples {
		samples[i] = domain.MeterSample{TransactionID: tx.ID, Timestamp: s.Timestamp, EnergyWh: s.EnergyWh}
	}

	err := r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Omit(clause.Associations).
			Clauses(clause.OnConflict{UpdateAll: true}).
			Create(tx).Error; err != nil {
			return err
		}
		if err := db.Where("transaction_id = ?", tx.ID).Delete(&domain.MeterSample{}).Error; err != nil {
			return err
		}
		if len(samples) == 0 {
			return nil
		}
		return db.Create(&samples).Error
	})
	if err != nil {
		r.log.Error("Failed to save transaction", zap.String("transaction_id", tx.ID), zap.Error(err))
		return fmt.Errorf("save transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, id string) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := r.db.WithContext(ctx).
		Preload("MeterSamples", func(db *gorm.DB) *gorm.DB { return db.Order("timestamp") }).
		First(&tx, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return &tx, nil
}

// ListByChargePoint returns the most recent transactions first, without samples.
func (r *TransactionRepository) ListByChargePoint(ctx context.Context, chargePointID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var txs []domain.Transaction
	err := r.db.WithContext(ctx).
		Where("charge_point_id = ?", chargePointID).
		Order("started_at desc").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}
