package v201

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/observability/telemetry"
)

// Transport is the byte pipe a session speaks over. The websocket adapter
// implements it; tests substitute in-memory pipes.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Close(reason string) error
	RemoteAddr() string
}

type SessionConfig struct {
	CallTimeout       time.Duration
	InboxSize         int
	HeartbeatInterval time.Duration
}

// Session is one live connection of one device. Inbound calls and local
// command checks run one at a time on the session's inbox goroutine; replies
// to CSMS calls skip the inbox and go straight to the correlator.
type Session struct {
	id         string
	deviceID   string
	transport  Transport
	correlator *Correlator
	codec      *Codec
	log        *zap.Logger

	inbox       chan func()
	callSlot    chan struct{}
	callTimeout time.Duration

	interval atomic.Int64
	lastSeen atomic.Int64
	booted   atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	cause     error
}

func NewSession(deviceID string, transport Transport, cfg SessionConfig, log *zap.Logger) *Session {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 16
	}
	s := &Session{
		id:          uuid.NewString(),
		deviceID:    deviceID,
		transport:   transport,
		correlator:  NewCorrelator(),
		codec:       NewCodec(),
		log:         log.With(zap.String("charge_point_id", deviceID)),
		inbox:       make(chan func(), cfg.InboxSize),
		callSlot:    make(chan struct{}, 1),
		callTimeout: cfg.CallTimeout,
		done:        make(chan struct{}),
	}
	s.interval.Store(int64(cfg.HeartbeatInterval))
	s.lastSeen.Store(time.Now().UnixNano())
	go s.run()
	return s
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.inbox:
			s.runJob(fn)
		case <-s.done:
			return
		}
	}
}

func (s *Session) runJob(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Session job panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func (s *Session) ID() string { return s.id }
func (s *Session) DeviceID() string { return s.deviceID }
func (s *Session) RemoteAddr() string { return s.transport.RemoteAddr() }

// Enqueue schedules fn on the inbox. It blocks while the inbox is full.
func (s *Session) Enqueue(fn func()) error {
	select {
	case <-s.done:
		return s.Err()
	default:
	}
	select {
	case s.inbox <- fn:
		return nil
	case <-s.done:
		return s.Err()
	}
}

// Do runs fn on the inbox and waits for its result, ordering it with the
// device's own calls.
func (s *Session) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := s.Enqueue(func() { result <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes a raw frame.
func (s *Session) Send(ctx context.Context, data []byte) error {
	return s.transport.Send(ctx, data)
}

// Call sends a request to the device and waits for its reply. At most one
// call is outstanding per session; later callers queue for the slot.
func (s *Session) Call(ctx context.Context, action string, req any) (json.RawMessage, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ocpp.call "+action,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ocpp.device_id", s.deviceID),
			attribute.String("ocpp.action", action),
		))
	defer span.End()

	start := time.Now()
	payload, err := s.call(ctx, action, req)
	outcome := "ok"
	if err != nil {
		outcome = domain.Reason(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	telemetry.OutboundCallDuration.WithLabelValues(action, outcome).Observe(time.Since(start).Seconds())
	return payload, err
}

func (s *Session) call(ctx context.Context, action string, req any) (json.RawMessage, error) {
	select {
	case s.callSlot <- struct{}{}:
	case <-s.done:
		return nil, s.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.callSlot }()

	id := uuid.NewString()
	data, err := EncodeCall(id, action, req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", domain.ErrProtocolFormat, action, err)
	}

	p, err := s.correlator.Register(id, action, s.callTimeout)
	if err != nil {
		return nil, err
	}
	if err := s.transport.Send(ctx, data); err != nil {
		err = fmt.Errorf("%w: send %s: %v", domain.ErrDeviceUnreachable, action, err)
		s.correlator.Abandon(p, err)
		return nil, err
	}
	telemetry.OCPPMessagesTotal.WithLabelValues(action, Outbound.String()).Inc()

	payload, err := p.Wait(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		s.correlator.Abandon(p, err)
	}
	return payload, err
}

// Complete hands a reply frame to the correlator.
func (s *Session) Complete(f *Frame) bool {
	return s.correlator.Complete(f)
}

// Touch records traffic from the device.
func (s *Session) Touch(at time.Time) { s.lastSeen.Store(at.UnixNano()) }

func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

func (s *Session) SetInterval(d time.Duration) { s.interval.Store(int64(d)) }

func (s *Session) Interval() time.Duration { return time.Duration(s.interval.Load()) }

func (s *Session) MarkBooted() { s.booted.Store(true) }
func (s *Session) Booted() bool { return s.booted.Load() }
func (s *Session) Pending() int { return s.correlator.Pending() }
func (s *Session) Codec() *Codec { return s.codec }

// Close ends the session: pending calls fail with cause and the transport
// is closed with reason. Later calls are no-ops.
func (s *Session) Close(reason string, cause error) {
	if cause == nil {
		cause = domain.ErrDeviceUnreachable
	}
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.cause = cause
		s.mu.Unlock()
		close(s.done)

		if n := s.correlator.FailAll(cause); n > 0 {
			s.log.Info("Failed pending calls", zap.Int("count", n), zap.Error(cause))
		}
		if err := s.transport.Close(reason); err != nil {
			s.log.Debug("Transport close", zap.Error(err))
		}
	})
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err is the reason the session ended, or nil while it is live.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}
