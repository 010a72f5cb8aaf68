package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/adapter/queue"
	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/ports"
)

const cacheTTL = time.Hour

// StatusChanged is published when a device goes online or offline.
type StatusChanged struct {
	ChargePointID string    `json:"charge_point_id"`
	Online        bool      `json:"online"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

// ConnectorStatusChanged is published for every status report that changes a connector.
type ConnectorStatusChanged struct {
	ChargePointID string                 `json:"charge_point_id"`
	ConnectorID   int                    `json:"connector_id"`
	From          domain.ConnectorStatus `json:"from,omitempty"`
	To            domain.ConnectorStatus `json:"to"`
	At            time.Time              `json:"at"`
}

type record struct {
	mu  sync.Mutex
	dev domain.ChargePoint
}

type Service struct {
	repo    ports.ChargePointRepository
	cache   ports.Cache
	events  ports.EventPublisher
	log     *zap.Logger
	now     func() time.Time
	records sync.Map // id -> *record
}

func NewService(repo ports.ChargePointRepository, cache ports.Cache, events ports.EventPublisher, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		events: events,
		log:    log,
		now:    time.Now,
	}
}

var _ ports.DeviceService = (*Service)(nil)

// Load seeds the registry from persisted snapshots. Every loaded device starts offline.
func (s *Service) Load(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	devices, err := s.repo.FindAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load charge points: %w", err)
	}
	for i := range devices {
		dev := devices[i].Clone()
		dev.Online = false
		dev.SessionID = ""
		s.records.LoadOrStore(dev.ID, &record{dev: dev})
	}
	return len(devices), nil
}

func (s *Service) record(id string) (*record, bool) {
	v, ok := s.records.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*record), true
}

// mutate applies fn to the device under its own lock and snapshots the result.
func (s *Service) mutate(ctx context.Context, id string, fn func(dev *domain.ChargePoint) error) (domain.ChargePoint, error) {
	rec, ok := s.record(id)
	if !ok {
		return domain.ChargePoint{}, fmt.Errorf("%w: charge point %s", domain.ErrNotFound, id)
	}
	rec.mu.Lock()
	if err := fn(&rec.dev); err != nil {
		rec.mu.Unlock()
		return domain.ChargePoint{}, err
	}
	rec.dev.UpdatedAt = s.now()
	snapshot := rec.dev.Clone()
	rec.mu.Unlock()

	s.persist(ctx, &snapshot)
	return snapshot, nil
}

// persist writes the snapshot to the repository and cache. Failures are logged only.
func (s *Service) persist(ctx context.Context, dev *domain.ChargePoint) {
	if s.repo != nil {
		if err := s.repo.SaveSnapshot(ctx, dev); err != nil {
			s.log.Warn("failed to persist charge point snapshot", zap.String("charge_point_id", dev.ID), zap.Error(err))
		}
	}
	if s.cache != nil {
		data, err := json.Marshal(dev)
		if err == nil {
			err = s.cache.Set(ctx, cacheKey(dev.ID), string(data), cacheTTL)
		}
		if err != nil {
			s.log.Debug("failed to cache charge point", zap.String("charge_point_id", dev.ID), zap.Error(err))
		}
	}
}

func (s *Service) publish(ctx context.Context, subject string, event any) {
	if err := s.events.Publish(ctx, subject, event); err != nil {
		s.log.Warn("failed to publish device event", zap.String("subject", subject), zap.Error(err))
	}
}

// RegisterBoot creates the device on first boot and refreshes its identity afterwards.
func (s *Service) RegisterBoot(ctx context.Context, id string, info domain.BootInfo, interval time.Duration) (*domain.ChargePoint, error) {
	now := s.now()
	v, _ := s.records.LoadOrStore(id, &record{dev: domain.ChargePoint{ID: id, CreatedAt: now}})
	rec := v.(*record)

	rec.mu.Lock()
	rec.dev.Vendor = info.Vendor
	rec.dev.Model = info.Model
	rec.dev.SerialNumber = info.SerialNumber
	rec.dev.FirmwareVersion = info.FirmwareVersion
	rec.dev.HeartbeatInterval = interval
	rec.dev.Booted = true
	rec.dev.LastHeartbeat = now
	rec.dev.UpdatedAt = now
	snapshot := rec.dev.Clone()
	rec.mu.Unlock()

	s.persist(ctx, &snapshot)
	s.log.Info("charge point booted",
		zap.String("charge_point_id", id),
		zap.String("vendor", info.Vendor),
		zap.String("model", info.Model),
		zap.String("firmware", info.FirmwareVersion),
		zap.String("reason", info.Reason),
	)
	return &snapshot, nil
}

func (s *Service) MarkOnline(ctx context.Context, id, sessionID string) error {
	now := s.now()
	v, _ := s.records.LoadOrStore(id, &record{dev: domain.ChargePoint{ID: id, CreatedAt: now}})
	rec := v.(*record)

	rec.mu.Lock()
	rec.dev.Online = true
	rec.dev.SessionID = sessionID
	rec.dev.OfflineReason = ""
	rec.dev.LastHeartbeat = now
	rec.dev.UpdatedAt = now
	snapshot := rec.dev.Clone()
	rec.mu.Unlock()

	s.persist(ctx, &snapshot)
	s.publish(ctx, queue.SubjectDeviceStatus, StatusChanged{ChargePointID: id, Online: true, At: now})
	return nil
}

func (s *Service) MarkOffline(ctx context.Context, id, reason string) error {
	var wasOnline bool
	_, err := s.mutate(ctx, id, func(dev *domain.ChargePoint) error {
		wasOnline = dev.Online
		dev.Online = false
		dev.SessionID = ""
		dev.OfflineReason = reason
		return nil
	})
	if err != nil {
		return err
	}
	if wasOnline {
		s.publish(ctx, queue.SubjectDeviceStatus, StatusChanged{ChargePointID: id, Online: false, Reason: reason, At: s.now()})
	}
	return nil
}

// RecordHeartbeat only touches memory; snapshots carry the value on the next real change.
func (s *Service) RecordHeartbeat(ctx context.Context, id string, at time.Time) {
	rec, ok := s.record(id)
	if !ok {
		return
	}
	rec.mu.Lock()
	if at.After(rec.dev.LastHeartbeat) {
		rec.dev.LastHeartbeat = at
	}
	rec.mu.Unlock()
}

// UpdateConnectorStatus records a status report and returns the previous status.
func (s *Service) UpdateConnectorStatus(ctx context.Context, id string, connectorID int, status domain.ConnectorStatus, at time.Time) (domain.ConnectorStatus, error) {
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown connector status %q", domain.ErrProtocolFormat, status)
	}
	if connectorID < 0 {
		return "", fmt.Errorf("%w: negative connector id", domain.ErrProtocolFormat)
	}

	var prev domain.ConnectorStatus
	_, err := s.mutate(ctx, id, func(dev *domain.ChargePoint) error {
		// Connector 0 reports on the whole device and applies to every connector.
		if connectorID == 0 {
			for i := range dev.Connectors {
				dev.Connectors[i].Status = status
				dev.Connectors[i].UpdatedAt = at
			}
			return nil
		}
		c := ensureConnector(dev, connectorID)
		prev = c.Status
		c.Status = status
		c.UpdatedAt = at
		return nil
	})
	if err != nil {
		return "", err
	}
	if prev != status {
		s.publish(ctx, queue.SubjectConnectorStatus, ConnectorStatusChanged{
			ChargePointID: id, ConnectorID: connectorID, From: prev, To: status, At: at,
		})
	}
	return prev, nil
}

func (s *Service) SetActiveTransaction(ctx context.Context, id string, connectorID int, txID string) error {
	_, err := s.mutate(ctx, id, func(dev *domain.ChargePoint) error {
		ensureConnector(dev, connectorID).ActiveTransactionID = txID
		return nil
	})
	return err
}

// ApplyVariables merges accepted variable values into the configuration snapshot.
func (s *Service) ApplyVariables(ctx context.Context, id string, vars map[string]string) error {
	if len(vars) == 0 {
		return nil
	}
	_, err := s.mutate(ctx, id, func(dev *domain.ChargePoint) error {
		if dev.Variables == nil {
			dev.Variables = make(map[string]string, len(vars))
		}
		for k, v := range vars {
			dev.Variables[k] = v
		}
		return nil
	})
	return err
}

// GetDevice reads memory first, then the cache, then the repository.
func (s *Service) GetDevice(ctx context.Context, id string) (*domain.ChargePoint, error) {
	if rec, ok := s.record(id); ok {
		rec.mu.Lock()
		dev := rec.dev.Clone()
		rec.mu.Unlock()
		return &dev, nil
	}

	if s.cache != nil {
		val, err := s.cache.Get(ctx, cacheKey(id))
		if err == nil {
			var dev domain.ChargePoint
			if err := json.Unmarshal([]byte(val), &dev); err == nil {
				return &dev, nil
			}
		} else if !errors.Is(err, ports.ErrCacheMiss) {
			s.log.Debug("cache lookup failed", zap.String("charge_point_id", id), zap.Error(err))
		}
	}

	if s.repo == nil {
		return nil, fmt.Errorf("%w: charge point %s", domain.ErrNotFound, id)
	}
	dev, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: charge point %s", domain.ErrNotFound, id)
	}
	return dev, nil
}

// ListDevices returns every known device ordered by id.
func (s *Service) ListDevices(ctx context.Context) []domain.ChargePoint {
	var out []domain.ChargePoint
	s.records.Range(func(_, value any) bool {
		rec := value.(*record)
		rec.mu.Lock()
		out = append(out, rec.dev.Clone())
		rec.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func ensureConnector(dev *domain.ChargePoint, connectorID int) *domain.Connector {
	if c, ok := dev.Connector(connectorID); ok {
		return c
	}
	dev.Connectors = append(dev.Connectors, domain.Connector{ChargePointID: dev.ID, ConnectorID: connectorID})
	sort.Slice(dev.Connectors, func(i, j int) bool {
		return dev.Connectors[i].ConnectorID < dev.Connectors[j].ConnectorID
	})
	c, _ := dev.Connector(connectorID)
	return c
}

func cacheKey(id string) string {
	return "device:" + id
}
