package transaction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/adapter/queue"
	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/observability/telemetry"
	"github.com/seu-repo/sigec-csms/internal/ports"
)

type Config struct {
	// OrphanGrace is how long a disconnected device may take to come back
	// before its open transactions are handed to an operator.
	OrphanGrace time.Duration
	// PreauthTTL bounds how long an Authorize sent before plug-in is held.
	PreauthTTL time.Duration
}

// StateChanged is published on every accepted transition.
type StateChanged struct {
	ChargePointID string                  `json:"charge_point_id"`
	ConnectorID   int                     `json:"connector_id"`
	TransactionID string                  `json:"transaction_id,omitempty"`
	Event         Event                   `json:"event"`
	From          domain.TransactionState `json:"from"`
	To            domain.TransactionState `json:"to"`
	At            time.Time               `json:"at"`
}

// AuthDenied is published when a token is refused for a waiting connector.
type AuthDenied struct {
	ChargePointID string                     `json:"charge_point_id"`
	ConnectorID   int                        `json:"connector_id"`
	IdToken       string                     `json:"id_token"`
	Status        domain.AuthorizationStatus `json:"status"`
	Offline       bool                       `json:"offline"`
}

type connector struct {
	state domain.TransactionState
	tx    *domain.Transaction
	// orphanNotified is set once the grace expiry has been published.
	orphanNotified bool
}

type pendingToken struct {
	token   string
	expires time.Time
}

// station holds one device's connectors. Every mutation happens under mu, so
// events for one device are applied in a total order.
type station struct {
	mu         sync.Mutex
	connectors map[int]*connector
	preauth    *pendingToken
}

func (st *station) connector(id int) *connector {
	c, ok := st.connectors[id]
	if !ok {
		c = &connector{state: domain.TransactionStateIdle}
		st.connectors[id] = c
	}
	return c
}

func (st *station) sortedIDs() []int {
	ids := make([]int, 0, len(st.connectors))
	for id := range st.connectors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

type txRef struct {
	deviceID    string
	connectorID int
}

type publication struct {
	subject string
	event   any
}

type Service struct {
	repo     ports.TransactionRepository
	devices  ports.DeviceService
	events   ports.EventPublisher
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
	stations sync.Map // deviceID -> *station
	index    sync.Map // transaction ID -> txRef
}

func NewService(repo ports.TransactionRepository, devices ports.DeviceService, events ports.EventPublisher, cfg Config, log *zap.Logger) *Service {
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = 15 * time.Minute
	}
	if cfg.PreauthTTL <= 0 {
		cfg.PreauthTTL = 2 * time.Minute
	}
	return &Service{
		repo:    repo,
		devices: devices,
		events:  events,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

var _ ports.TransactionService = (*Service)(nil)

func (s *Service) station(deviceID string) *station {
	v, _ := s.stations.LoadOrStore(deviceID, &station{connectors: make(map[int]*connector)})
	return v.(*station)
}

func (s *Service) flush(ctx context.Context, out []publication) {
	for _, p := range out {
		if err := s.events.Publish(ctx, p.subject, p.event); err != nil {
			s.log.Warn("failed to publish transaction event", zap.String("subject", p.subject), zap.Error(err))
		}
	}
}

// apply runs one event through the machine for c and records the transition.
func (s *Service) apply(deviceID string, connectorID int, c *connector, event Event, out *[]publication) error {
	energized := c.tx != nil && c.tx.Energized
	next, err := Next(c.state, event, energized)
	if err != nil {
		return err
	}
	change := StateChanged{
		ChargePointID: deviceID,
		ConnectorID:   connectorID,
		Event:         event,
		From:          c.state,
		To:            next,
		At:            s.now(),
	}
	if c.tx != nil {
		change.TransactionID = c.tx.ID
		c.tx.State = next
		c.tx.UpdatedAt = change.At
	}
	c.state = next
	*out = append(*out, publication{queue.SubjectTransactionState, change})

	s.log.Debug("transaction state changed",
		zap.String("charge_point_id", deviceID),
		zap.Int("connector_id", connectorID),
		zap.String("event", string(event)),
		zap.String("from", string(change.From)),
		zap.String("to", string(next)),
	)
	return nil
}

func validConnector(connectorID int) error {
	if connectorID <= 0 {
		return fmt.Errorf("%w: connector id must be positive, got %d", domain.ErrProtocolFormat, connectorID)
	}
	return nil
}

func (s *Service) PlugIn(ctx context.Context, deviceID string, connectorID int, at time.Time) (domain.TransactionState, error) {
	if err := validConnector(connectorID); err != nil {
		return domain.TransactionStateIdle, err
	}
	st := s.station(deviceID)
	var out []publication

	st.mu.Lock()
	c := st.connector(connectorID)
	if err := s.apply(deviceID, connectorID, c, EventPluggedIn, &out); err != nil {
		st.mu.Unlock()
		return c.state, err
	}
	now := s.now()
	tx := &domain.Transaction{
		ID:            uuid.New().String(),
		ChargePointID: deviceID,
		ConnectorID:   connectorID,
		State:         c.state,
		StartedAt:     at,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	c.tx = tx
	c.orphanNotified = false
	s.index.Store(tx.ID, txRef{deviceID: deviceID, connectorID: connectorID})

	// A token presented before the cable was plugged in authorizes this session.
	if p := st.preauth; p != nil {
		st.preauth = nil
		if now.Before(p.expires) {
			tx.IdToken = p.token
			if err := s.apply(deviceID, connectorID, c, EventAuthorized, &out); err != nil {
				s.log.Error("failed to apply held authorization", zap.Error(err))
			}
		}
	}
	state := c.state
	st.mu.Unlock()

	s.flush(ctx, out)
	if err := s.devices.SetActiveTransaction(ctx, deviceID, connectorID, tx.ID); err != nil {
		s.log.Warn("failed to link transaction to connector", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
	return state, nil
}

// Authorize applies a token decision. Connector 0 targets the lowest-numbered
// connector waiting in Preparing; with none waiting an accepted token is held
// until the next plug-in.
func (s *Service) Authorize(ctx context.Context, deviceID string, connectorID int, token string, result domain.AuthorizationResult) (domain.TransactionState, error) {
	st := s.station(deviceID)
	var out []publication
	accepted := result.Status == domain.AuthorizationAccepted

	st.mu.Lock()
	target := connectorID
	if target == 0 {
		for _, id := range st.sortedIDs() {
			if st.connectors[id].state == domain.TransactionStatePreparing {
				target = id
				break
			}
		}
	}

	if target == 0 {
		if accepted {
			st.preauth = &pendingToken{token: token, expires: s.now().Add(s.cfg.PreauthTTL)}
		}
		st.mu.Unlock()
		if !accepted {
			s.flush(ctx, []publication{{queue.SubjectAuthDenied, AuthDenied{
				ChargePointID: deviceID, IdToken: token, Status: result.Status, Offline: result.Offline,
			}}})
		}
		return domain.TransactionStateIdle, nil
	}

	c := st.connector(target)
	event := EventAuthorized
	if !accepted {
		event = EventAuthRejected
	}
	if err := s.apply(deviceID, target, c, event, &out); err != nil {
		st.mu.Unlock()
		return c.state, err
	}
	if accepted && c.tx != nil {
		c.tx.IdToken = token
	}
	if !accepted {
		out = append(out, publication{queue.SubjectAuthDenied, AuthDenied{
			ChargePointID: deviceID, ConnectorID: target, IdToken: token, Status: result.Status, Offline: result.Offline,
		}})
	}
	state := c.state
	st.mu.Unlock()

	s.flush(ctx, out)
	return state, nil
}

func (s *Service) StartEnergy(ctx context.Context, deviceID string, connectorID int, chargerTxID string, at time.Time) (domain.TransactionState, error) {
	st := s.station(deviceID)
	var out []publication

	st.mu.Lock()
	c := st.connector(connectorID)
	if err := s.apply(deviceID, connectorID, c, EventEnergyStarted, &out); err != nil {
		st.mu.Unlock()
		return c.state, err
	}
	if c.tx != nil {
		if chargerTxID != "" {
			c.tx.ChargerTransactionID = chargerTxID
		}
		if !c.tx.Energized {
			c.tx.Energized = true
			telemetry.ActiveChargingSessions.Inc()
		}
	}
	state := c.state
	st.mu.Unlock()

	s.flush(ctx, out)
	return state, nil
}

func (s *Service) Suspend(ctx context.Context, deviceID string, connectorID int, byEV bool) (domain.TransactionState, error) {
	event := EventSuspendedEVSE
	if byEV {
		event = EventSuspendedEV
	}
	return s.simple(ctx, deviceID, connectorID, event)
}

func (s *Service) Resume(ctx context.Context, deviceID string, connectorID int) (domain.TransactionState, error) {
	return s.simple(ctx, deviceID, connectorID, EventResumed)
}

func (s *Service) RequestStop(ctx context.Context, deviceID string, connectorID int, reason string) (domain.TransactionState, error) {
	st := s.station(deviceID)
	var out []publication

	st.mu.Lock()
	c := st.connector(connectorID)
	if err := s.apply(deviceID, connectorID, c, EventStopRequested, &out); err != nil {
		st.mu.Unlock()
		return c.state, err
	}
	if c.tx != nil && c.tx.StopReason == "" {
		c.tx.StopReason = reason
	}
	state := c.state
	st.mu.Unlock()

	s.flush(ctx, out)
	return state, nil
}

func (s *Service) simple(ctx context.Context, deviceID string, connectorID int, event Event) (domain.TransactionState, error) {
	st := s.station(deviceID)
	var out []publication

	st.mu.Lock()
	c := st.connector(connectorID)
	err := s.apply(deviceID, connectorID, c, event, &out)
	state := c.state
	st.mu.Unlock()

	s.flush(ctx, out)
	return state, err
}

// Close ends a Finishing transaction as Completed or Aborted and frees the connector.
func (s *Service) Close(ctx context.Context, deviceID string, connectorID int, reason string, at time.Time) (*domain.Transaction, error) {
	st := s.station(deviceID)
	var out []publication

	st.mu.Lock()
	c := st.connector(connectorID)
	if err := s.apply(deviceID, connectorID, c, EventClosed, &out); err != nil {
		st.mu.Unlock()
		return nil, err
	}
	tx := s.detach(c, reason, at)
	c.state = domain.TransactionStateIdle
	st.mu.Unlock()

	s.flush(ctx, out)
	s.finish(ctx, tx)
	return tx, nil
}

// detach removes the transaction from c and stamps its stop fields. Callers
// hold the station lock.
func (s *Service) detach(c *connector, reason string, at time.Time) *domain.Transaction {
	tx := c.tx
	c.tx = nil
	c.orphanNotified = false
	if tx == nil {
		return nil
	}
	tx.State = c.state
	tx.StoppedAt = &at
	if tx.StopReason == "" {
		tx.StopReason = reason
	}
	tx.UpdatedAt = s.now()
	s.index.Delete(tx.ID)
	return tx
}

// finish persists and announces a terminal transaction.
func (s *Service) finish(ctx context.Context, tx *domain.Transaction) {
	if tx == nil {
		return
	}
	telemetry.TransactionsClosedTotal.WithLabelValues(string(tx.State)).Inc()
	if tx.Energized {
		telemetry.ActiveChargingSessions.Dec()
		telemetry.EnergyDeliveredTotal.Add(tx.EnergyDelivered())
	}
	if tx.Orphaned {
		telemetry.OrphanedTransactions.Dec()
	}

	if s.repo != nil {
		if err := s.repo.Save(ctx, tx); err != nil {
			s.log.Error("failed to persist transaction",
				zap.String("transaction_id", tx.ID),
				zap.String("state", string(tx.State)),
				zap.Error(err),
			)
		}
	}
	s.flush(ctx, []publication{{queue.SubjectTransactionCompleted, tx.Clone()}})
	if err := s.devices.SetActiveTransaction(ctx, tx.ChargePointID, tx.ConnectorID, ""); err != nil {
		s.log.Warn("failed to unlink transaction from connector", zap.String("transaction_id", tx.ID), zap.Error(err))
	}

	s.log.Info("transaction closed",
		zap.String("transaction_id", tx.ID),
		zap.String("charge_point_id", tx.ChargePointID),
		zap.Int("connector_id", tx.ConnectorID),
		zap.String("state", string(tx.State)),
		zap.Int("samples", len(tx.MeterSamples)),
		zap.Float64("energy_wh", tx.EnergyDelivered()),
	)
}

// Fault moves a connector (or, for connector 0, every known connector) to
// Faulted. An open transaction ends with the Faulted status.
func (s *Service) Fault(ctx context.Context, deviceID string, connectorID int, at time.Time) (domain.TransactionState, error) {
	st := s.station(deviceID)
	var (
		out    []publication
		closed []*domain.Transaction
	)

	st.mu.Lock()
	ids := []int{connectorID}
	if connectorID == 0 {
		ids = st.sortedIDs()
	}
	for _, id := range ids {
		c := st.connector(id)
		if err := s.apply(deviceID, id, c, EventFaulted, &out); err != nil {
			continue
		}
		if tx := s.detach(c, "Faulted", at); tx != nil {
			closed = append(closed, tx)
		}
	}
	st.mu.Unlock()

	s.flush(ctx, out)
	for _, tx := range closed {
		s.finish(ctx, tx)
	}
	return domain.TransactionStateFaulted, nil
}

// ResetFaults returns every Faulted connector of the device to Idle.
func (s *Service) ResetFaults(ctx context.Context, deviceID string) int {
	st := s.station(deviceID)
	var out []publication

	st.mu.Lock()
	n := 0
	for _, id := range st.sortedIDs() {
		c := st.connectors[id]
		if c.state != domain.TransactionStateFaulted {
			continue
		}
		if err := s.apply(deviceID, id, c, EventReset, &out); err == nil {
			n++
		}
	}
	st.mu.Unlock()

	s.flush(ctx, out)
	return n
}

// AppendMeterSamples appends readings to the connector's open transaction.
// A reading older or lower than the last accepted one is dropped; the call
// then reports ErrDataIntegrity alongside the number accepted.
func (s *Service) AppendMeterSamples(ctx context.Context, deviceID string, connectorID int, samples []domain.MeterSample) (int, error) {
	st := s.station(deviceID)

	st.mu.Lock()
	defer st.mu.Unlock()

	c := st.connector(connectorID)
	if c.tx == nil {
		return 0, fmt.Errorf("%w: no open transaction on connector %d", domain.ErrStateConflict, connectorID)
	}

	accepted, rejected := 0, 0
	for _, sample := range samples {
		if last, ok := c.tx.LastSample(); ok {
			if sample.Timestamp.Before(last.Timestamp) || sample.EnergyWh < last.EnergyWh {
				rejected++
				telemetry.MeterSamplesRejectedTotal.Inc()
				s.log.Warn("meter sample rejected",
					zap.String("transaction_id", c.tx.ID),
					zap.Time("timestamp", sample.Timestamp),
					zap.Float64("energy_wh", sample.EnergyWh),
					zap.Time("last_timestamp", last.Timestamp),
					zap.Float64("last_energy_wh", last.EnergyWh),
				)
				continue
			}
		}
		sample.TransactionID = c.tx.ID
		c.tx.MeterSamples = append(c.tx.MeterSamples, sample)
		accepted++
	}
	if rejected > 0 {
		return accepted, fmt.Errorf("%w: %d of %d meter samples out of order", domain.ErrDataIntegrity, rejected, len(samples))
	}
	return accepted, nil
}

// CheckRemoteStart reports whether a remote start may be requested.
func (s *Service) CheckRemoteStart(ctx context.Context, deviceID string, connectorID int) error {
	st := s.station(deviceID)
	st.mu.Lock()
	defer st.mu.Unlock()

	free := func(c *connector) bool {
		switch c.state {
		case domain.TransactionStateIdle, domain.TransactionStatePreparing,
			domain.TransactionStateCompleted, domain.TransactionStateAborted:
			return true
		}
		return false
	}

	if connectorID == 0 {
		if len(st.connectors) == 0 {
			return nil
		}
		for _, c := range st.connectors {
			if free(c) {
				return nil
			}
		}
		return fmt.Errorf("%w: no free connector", domain.ErrStateConflict)
	}

	c, ok := st.connectors[connectorID]
	if !ok || free(c) {
		return nil
	}
	return fmt.Errorf("%w: connector %d is %s", domain.ErrStateConflict, connectorID, c.state)
}

// CheckRemoteStop finds the transaction a remote stop targets and checks that
// a stop can still be requested for it.
func (s *Service) CheckRemoteStop(ctx context.Context, deviceID, transactionID string) (*domain.Transaction, error) {
	tx, ok := s.FindTransaction(transactionID)
	if !ok || tx.ChargePointID != deviceID {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, transactionID)
	}
	if _, err := Next(tx.State, EventStopRequested, tx.Energized); err != nil {
		return tx, err
	}
	return tx, nil
}

func (s *Service) ConnectorState(deviceID string, connectorID int) domain.TransactionState {
	v, ok := s.stations.Load(deviceID)
	if !ok {
		return domain.TransactionStateIdle
	}
	st := v.(*station)
	st.mu.Lock()
	defer st.mu.Unlock()
	if c, ok := st.connectors[connectorID]; ok {
		return c.state
	}
	return domain.TransactionStateIdle
}

func (s *Service) ActiveTransaction(deviceID string, connectorID int) (*domain.Transaction, bool) {
	v, ok := s.stations.Load(deviceID)
	if !ok {
		return nil, false
	}
	st := v.(*station)
	st.mu.Lock()
	defer st.mu.Unlock()
	if c, ok := st.connectors[connectorID]; ok && c.tx != nil {
		return c.tx.Clone(), true
	}
	return nil, false
}

// FindTransaction looks up an open transaction by CSMS or charger id.
func (s *Service) FindTransaction(transactionID string) (*domain.Transaction, bool) {
	if v, ok := s.index.Load(transactionID); ok {
		ref := v.(txRef)
		if tx, ok := s.ActiveTransaction(ref.deviceID, ref.connectorID); ok && tx.ID == transactionID {
			return tx, true
		}
	}

	var found *domain.Transaction
	s.eachOpen(func(tx *domain.Transaction) bool {
		if tx.ChargerTransactionID == transactionID {
			found = tx.Clone()
			return false
		}
		return true
	})
	return found, found != nil
}

// BindChargerID records the id the device assigned to the open transaction
// on a connector. It reports false when nothing is open there.
func (s *Service) BindChargerID(deviceID string, connectorID int, chargerTxID string) bool {
	st := s.station(deviceID)
	st.mu.Lock()
	defer st.mu.Unlock()
	c, ok := st.connectors[connectorID]
	if !ok || c.tx == nil || chargerTxID == "" {
		return false
	}
	c.tx.ChargerTransactionID = chargerTxID
	return true
}

// FindByChargerID resolves a device-assigned transaction id on one device.
func (s *Service) FindByChargerID(deviceID, chargerTxID string) (*domain.Transaction, bool) {
	v, ok := s.stations.Load(deviceID)
	if !ok {
		return nil, false
	}
	st := v.(*station)
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, c := range st.connectors {
		if c.tx != nil && c.tx.ChargerTransactionID == chargerTxID {
			return c.tx.Clone(), true
		}
	}
	return nil, false
}

// eachOpen visits open transactions under their station lock until fn returns false.
func (s *Service) eachOpen(fn func(tx *domain.Transaction) bool) {
	s.stations.Range(func(_, value any) bool {
		st := value.(*station)
		st.mu.Lock()
		defer st.mu.Unlock()
		for _, c := range st.connectors {
			if c.tx != nil && !fn(c.tx) {
				return false
			}
		}
		return true
	})
}

// FlagOrphaned marks every open transaction of a device that lost its session.
func (s *Service) FlagOrphaned(ctx context.Context, deviceID string, at time.Time) int {
	v, ok := s.stations.Load(deviceID)
	if !ok {
		return 0
	}
	st := v.(*station)
	var out []publication

	st.mu.Lock()
	for _, id := range st.sortedIDs() {
		c := st.connectors[id]
		if c.tx == nil || c.tx.Orphaned {
			continue
		}
		c.tx.Orphaned = true
		c.tx.OrphanedAt = &at
		c.orphanNotified = false
		telemetry.OrphanedTransactions.Inc()
		out = append(out, publication{queue.SubjectTransactionOrphaned, c.tx.Clone()})
	}
	st.mu.Unlock()

	s.flush(ctx, out)
	if len(out) > 0 {
		s.log.Warn("transactions orphaned", zap.String("charge_point_id", deviceID), zap.Int("count", len(out)))
	}
	return len(out)
}

// ResumeOrphaned clears the orphan flag on transactions whose device came back
// within the grace period. Older ones stay orphaned for operator reconciliation.
func (s *Service) ResumeOrphaned(ctx context.Context, deviceID string) int {
	v, ok := s.stations.Load(deviceID)
	if !ok {
		return 0
	}
	st := v.(*station)
	now := s.now()

	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for _, c := range st.connectors {
		if c.tx == nil || !c.tx.Orphaned || c.tx.OrphanedAt == nil {
			continue
		}
		if now.Sub(*c.tx.OrphanedAt) >= s.cfg.OrphanGrace {
			continue
		}
		c.tx.Orphaned = false
		c.tx.OrphanedAt = nil
		c.orphanNotified = false
		telemetry.OrphanedTransactions.Dec()
		n++
	}
	if n > 0 {
		s.log.Info("orphaned transactions resumed", zap.String("charge_point_id", deviceID), zap.Int("count", n))
	}
	return n
}

// ExpireOrphans announces, once per transaction, orphans whose grace has run out.
func (s *Service) ExpireOrphans(ctx context.Context, now time.Time) int {
	var out []publication
	s.stations.Range(func(_, value any) bool {
		st := value.(*station)
		st.mu.Lock()
		for _, c := range st.connectors {
			if c.tx == nil || !c.tx.Orphaned || c.orphanNotified || c.tx.OrphanedAt == nil {
				continue
			}
			if now.Sub(*c.tx.OrphanedAt) < s.cfg.OrphanGrace {
				continue
			}
			c.orphanNotified = true
			out = append(out, publication{queue.SubjectTransactionOrphanLost, c.tx.Clone()})
		}
		st.mu.Unlock()
		return true
	})
	s.flush(ctx, out)
	return len(out)
}

func (s *Service) ListOrphaned() []domain.Transaction {
	var out []domain.Transaction
	s.eachOpen(func(tx *domain.Transaction) bool {
		if tx.Orphaned {
			out = append(out, *tx.Clone())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reconcile closes an orphaned transaction on an operator's behalf.
func (s *Service) Reconcile(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	v, ok := s.index.Load(transactionID)
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, transactionID)
	}
	ref := v.(txRef)
	st := s.station(ref.deviceID)
	var out []publication

	st.mu.Lock()
	c := st.connector(ref.connectorID)
	if c.tx == nil || c.tx.ID != transactionID {
		st.mu.Unlock()
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, transactionID)
	}
	if !c.tx.Orphaned {
		st.mu.Unlock()
		return nil, fmt.Errorf("%w: transaction %s is not orphaned", domain.ErrStateConflict, transactionID)
	}
	if c.state != domain.TransactionStateFinishing {
		if err := s.apply(ref.deviceID, ref.connectorID, c, EventStopRequested, &out); err != nil {
			st.mu.Unlock()
			return nil, err
		}
	}
	if err := s.apply(ref.deviceID, ref.connectorID, c, EventClosed, &out); err != nil {
		st.mu.Unlock()
		return nil, err
	}
	tx := s.detach(c, "Reconciled", s.now())
	c.state = domain.TransactionStateIdle
	st.mu.Unlock()

	s.flush(ctx, out)
	s.finish(ctx, tx)
	return tx, nil
}
