package v201

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/observability/telemetry"
	"github.com/seu-repo/sigec-csms/internal/ports"
)

// Presence receives the registry's connect and disconnect transitions.
// They land as state on the device and transaction records.
type Presence interface {
	Connected(ctx context.Context, deviceID, sessionID string) (resumed int, err error)
	Disconnected(ctx context.Context, deviceID, reason string, at time.Time) (orphaned int)
}

type servicePresence struct {
	devices ports.DeviceService
	txs     ports.TransactionService
	log     *zap.Logger
}

// NewPresence marks devices online/offline and flags or resumes their
// open transactions.
func NewPresence(devices ports.DeviceService, txs ports.TransactionService, log *zap.Logger) Presence {
	return &servicePresence{devices: devices, txs: txs, log: log}
}

func (p *servicePresence) Connected(ctx context.Context, deviceID, sessionID string) (int, error) {
	if err := p.devices.MarkOnline(ctx, deviceID, sessionID); err != nil {
		return 0, err
	}
	return p.txs.ResumeOrphaned(ctx, deviceID), nil
}

func (p *servicePresence) Disconnected(ctx context.Context, deviceID, reason string, at time.Time) int {
	if err := p.devices.MarkOffline(ctx, deviceID, reason); err != nil {
		p.log.Warn("failed to mark device offline",
			zap.String("charge_point_id", deviceID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
	return p.txs.FlagOrphaned(ctx, deviceID, at)
}

type AdmissionResult struct {
	Session    *Session
	Superseded *Session
	Resumed    int
}

type RegistryConfig struct {
	// HeartbeatGrace multiplies each session's interval before eviction.
	HeartbeatGrace float64
}

// slot holds the authoritative session of one identity.
type slot struct {
	mu      sync.Mutex
	session *Session
}

// Registry maps device identities to their single live session.
type Registry struct {
	slots    sync.Map // deviceID -> *slot
	presence Presence
	grace    float64
	log      *zap.Logger
	now      func() time.Time
}

func NewRegistry(presence Presence, cfg RegistryConfig, log *zap.Logger) *Registry {
	grace := cfg.HeartbeatGrace
	if grace <= 0 {
		grace = 2
	}
	return &Registry{presence: presence, grace: grace, log: log, now: time.Now}
}

func (r *Registry) slot(deviceID string) *slot {
	v, _ := r.slots.LoadOrStore(deviceID, &slot{})
	return v.(*slot)
}

// Admit makes s the authoritative session for deviceID, closing any prior
// one first so its pending calls fail with ErrSuperseded.
func (r *Registry) Admit(ctx context.Context, deviceID string, s *Session) (AdmissionResult, error) {
	sl := r.slot(deviceID)
	sl.mu.Lock()
	prev := sl.session
	sl.session = s
	sl.mu.Unlock()

	result := AdmissionResult{Session: s}
	if prev != nil && prev != s {
		prev.Close("superseded by a new connection", domain.ErrSuperseded)
		telemetry.SessionEvictionsTotal.WithLabelValues(ReasonSuperseded).Inc()
		result.Superseded = prev
		r.log.Warn("Session superseded",
			zap.String("charge_point_id", deviceID),
			zap.String("previous_session", prev.ID()),
			zap.String("session", s.ID()))
	} else {
		telemetry.ConnectedDevices.Inc()
	}

	resumed, err := r.presence.Connected(ctx, deviceID, s.ID())
	if err != nil {
		return result, err
	}
	result.Resumed = resumed
	return result, nil
}

// Lookup returns the live session of deviceID.
func (r *Registry) Lookup(deviceID string) (*Session, bool) {
	v, ok := r.slots.Load(deviceID)
	if !ok {
		return nil, false
	}
	sl := v.(*slot)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.session == nil {
		return nil, false
	}
	return sl.session, true
}

// RecordHeartbeat refreshes the liveness clock of deviceID's session.
func (r *Registry) RecordHeartbeat(deviceID string) {
	if s, ok := r.Lookup(deviceID); ok {
		s.Touch(r.now())
	}
}

// Evict drops deviceID's session, whatever it is.
func (r *Registry) Evict(ctx context.Context, deviceID, reason string) bool {
	return r.evict(ctx, deviceID, nil, reason)
}

// EvictSession drops s only while it is still the authoritative session,
// so a superseded connection cannot evict its successor.
func (r *Registry) EvictSession(ctx context.Context, deviceID string, s *Session, reason string) bool {
	return r.evict(ctx, deviceID, s, reason)
}

func (r *Registry) evict(ctx context.Context, deviceID string, want *Session, reason string) bool {
	v, ok := r.slots.Load(deviceID)
	if !ok {
		return false
	}
	sl := v.(*slot)
	sl.mu.Lock()
	s := sl.session
	if s == nil || (want != nil && s != want) {
		sl.mu.Unlock()
		return false
	}
	sl.session = nil
	sl.mu.Unlock()

	s.Close(reason, fmt.Errorf("%w: %s", domain.ErrDeviceUnreachable, reason))
	telemetry.ConnectedDevices.Dec()
	telemetry.SessionEvictionsTotal.WithLabelValues(reason).Inc()

	orphaned := r.presence.Disconnected(ctx, deviceID, reason, r.now())
	r.log.Info("Session evicted",
		zap.String("charge_point_id", deviceID),
		zap.String("session", s.ID()),
		zap.String("reason", reason),
		zap.Int("orphaned_transactions", orphaned))
	return true
}

// Sweep evicts sessions silent for longer than grace times their interval.
func (r *Registry) Sweep(ctx context.Context, now time.Time) int {
	var stale []*Session
	r.slots.Range(func(key, value any) bool {
		sl := value.(*slot)
		sl.mu.Lock()
		s := sl.session
		sl.mu.Unlock()
		if s == nil || s.Interval() <= 0 {
			return true
		}
		limit := time.Duration(float64(s.Interval()) * r.grace)
		if now.Sub(s.LastSeen()) > limit {
			stale = append(stale, s)
		}
		return true
	})

	evicted := 0
	for _, s := range stale {
		if r.EvictSession(ctx, s.DeviceID(), s, ReasonHeartbeatTimeout) {
			evicted++
		}
	}
	return evicted
}

// Run sweeps every interval until ctx ends.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if n := r.Sweep(ctx, t); n > 0 {
				r.log.Info("Evicted silent sessions", zap.Int("count", n))
			}
		}
	}
}

// Sessions returns every live session.
func (r *Registry) Sessions() []*Session {
	var out []*Session
	r.slots.Range(func(_, value any) bool {
		sl := value.(*slot)
		sl.mu.Lock()
		if sl.session != nil {
			out = append(out, sl.session)
		}
		sl.mu.Unlock()
		return true
	})
	return out
}

// CloseAll evicts every session, used on shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	for _, s := range r.Sessions() {
		r.EvictSession(ctx, s.DeviceID(), s, ReasonShutdown)
	}
}

// Eviction reasons.
const (
	ReasonHeartbeatTimeout = "HeartbeatTimeout"
	ReasonConnectionClosed = "ConnectionClosed"
	ReasonShutdown         = "Shutdown"
	ReasonOperator         = "Operator"
	ReasonSuperseded       = "Superseded"
)
