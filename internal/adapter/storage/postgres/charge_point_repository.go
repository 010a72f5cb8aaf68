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

// ChargePointRepository persists device registry snapshots. The registry in
// memory is authoritative; rows here only seed it after a restart.
type ChargePointRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewChargePointRepository(db *gorm.DB, log *zap.Logger) ports.ChargePointRepository {
	return &ChargePointRepository{
		db:  db,
		log: log,
	}
}

// SaveSnapshot upserts the device and rewrites its connector rows.
func (r *ChargePointRepository) SaveSnapshot(ctx context.Context, cp *domain.ChargePoint) error {
	start := time.Now()
	defer func() { telemetry.DatabaseLatency.Observe(time.Since(start).Seconds()) }()

	connectors := make([]domain.Connector, len(cp.Connectors))
	for i, c := range cp.Connectors {
		c.ID = 0
		c.ChargePointID = cp.ID
		connectors[i] = c
	}

	err := r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Omit(clause.Associations).
			Clauses(clause.OnConflict{UpdateAll: true}).
			Create(cp).Error; err != nil {
			return err
		}
		if err := db.Where("charge_point_id = ?", cp.ID).Delete(&domain.Connector{}).Error; err != nil {
			return err
		}
		if len(connectors) == 0 {
			return nil
		}
		return db.Create(&connectors).Error
	})
	if err != nil {
		r.log.Error("Failed to save charge point", zap.String("charge_point_id", cp.ID), zap.Error(err))
		return fmt.Errorf("save charge point %s: %w", cp.ID, err)
	}
	return nil
}

func (r *ChargePointRepository) FindByID(ctx context.Context, id string) (*domain.ChargePoint, error) {
	var cp domain.ChargePoint
	err := r.db.WithContext(ctx).Preload("Connectors").First(&cp, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: charge point %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return &cp, nil
}

func (r *ChargePointRepository) FindAll(ctx context.Context) ([]domain.ChargePoint, error) {
	var cps []domain.ChargePoint
	if err := r.db.WithContext(ctx).Preload("Connectors").Order("id").Find(&cps).Error; err != nil {
		return nil, err
	}
	return cps, nil
}
