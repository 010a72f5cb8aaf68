package v201

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/observability/telemetry"
)

// Handler serves one inbound action. req is the decoded, validated request
// struct; the returned value becomes the CallResult payload.
type Handler func(ctx context.Context, deviceID string, req any) (any, error)

// Typed adapts a handler written against concrete request and response types.
func Typed[Req, Resp any](fn func(ctx context.Context, deviceID string, req *Req) (*Resp, error)) Handler {
	return func(ctx context.Context, deviceID string, req any) (any, error) {
		typed, ok := req.(*Req)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected request type %T", domain.ErrProtocolFormat, req)
		}
		return fn(ctx, deviceID, typed)
	}
}

type sessionKey struct{}

// WithSession carries the calling session to handlers.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session a handler runs for.
func SessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok
}

// BootCheck reports whether a device whose current session has not sent
// BootNotification was already accepted earlier.
type BootCheck func(ctx context.Context, s *Session) bool

// Router dispatches inbound calls by action name.
type Router struct {
	codec     *Codec
	handlers  map[string]Handler
	bootCheck BootCheck
	log       *zap.Logger
}

func NewRouter(log *zap.Logger) *Router {
	return &Router{codec: NewCodec(), handlers: make(map[string]Handler), log: log}
}

// Handle registers h for action, replacing any previous handler.
func (r *Router) Handle(action string, h Handler) {
	r.handlers[action] = h
}

// SetBootCheck installs the lookup used for sessions opened by a device that
// reconnected without rebooting.
func (r *Router) SetBootCheck(fn BootCheck) {
	r.bootCheck = fn
}

// booted reports whether calls other than BootNotification are accepted.
func (r *Router) booted(ctx context.Context, s *Session) bool {
	if s.Booted() {
		return true
	}
	if r.bootCheck != nil && r.bootCheck(ctx, s) {
		s.MarkBooted()
		return true
	}
	return false
}

// Verify checks the handler table against the catalog: every inbound action
// has a handler and no handler serves an action the catalog lacks.
func (r *Router) Verify() error {
	var errs []error
	for _, action := range Actions(Inbound) {
		if _, ok := r.handlers[action]; !ok {
			errs = append(errs, fmt.Errorf("no handler for %s", action))
		}
	}
	for action := range r.handlers {
		if e, ok := Lookup(action); !ok || e.Direction != Inbound {
			errs = append(errs, fmt.Errorf("handler for non-inbound action %s", action))
		}
	}
	return errors.Join(errs...)
}

// Dispatch handles one Call and returns exactly one encoded reply.
func (r *Router) Dispatch(ctx context.Context, s *Session, f *Frame) []byte {
	ctx, span := telemetry.Tracer().Start(ctx, "ocpp.handle "+f.Action,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("ocpp.device_id", s.DeviceID()),
			attribute.String("ocpp.action", f.Action),
			attribute.String("ocpp.message_id", f.ID),
		))
	defer span.End()
	telemetry.OCPPMessagesTotal.WithLabelValues(f.Action, Inbound.String()).Inc()

	resp, err := r.dispatch(WithSession(ctx, s), s, f)
	if err != nil {
		ce := toCallError(err)
		span.SetStatus(codes.Error, ce.Error())
		telemetry.OCPPCallErrorsTotal.WithLabelValues(string(ce.Code)).Inc()
		if ce.Code == InternalError {
			r.log.Error("Call failed", zap.String("charge_point_id", s.DeviceID()),
				zap.String("action", f.Action), zap.Error(err))
		} else {
			r.log.Debug("Call rejected", zap.String("charge_point_id", s.DeviceID()),
				zap.String("action", f.Action), zap.Error(err))
		}
		return EncodeError(f.ID, ce)
	}

	out, err := EncodeResult(f.ID, resp)
	if err != nil {
		r.log.Error("Failed to encode result", zap.String("action", f.Action), zap.Error(err))
		return EncodeError(f.ID, newCallError(InternalError, "failed to encode result"))
	}
	return out
}

func (r *Router) dispatch(ctx context.Context, s *Session, f *Frame) (resp any, err error) {
	h, ok := r.handlers[f.Action]
	if !ok {
		if e, known := Lookup(f.Action); known && e.Direction == Outbound {
			return nil, newCallError(NotSupported, "%s is not accepted from charging stations", f.Action)
		}
		return nil, newCallError(NotImplemented, "unknown action %q", f.Action)
	}
	if f.Action != ActionBootNotification && !r.booted(ctx, s) {
		return nil, newCallError(SecurityError, "BootNotification not accepted yet")
	}

	req, err := r.codec.DecodeRequest(f.Action, f.Payload)
	if err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Handler panicked",
				zap.String("charge_point_id", s.DeviceID()),
				zap.String("action", f.Action),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			resp, err = nil, newCallError(InternalError, "internal error")
		}
	}()
	return h(ctx, s.DeviceID(), req)
}

// toCallError maps a handler error to the CallError sent to the device.
func toCallError(err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	code := InternalError
	switch {
	case errors.Is(err, domain.ErrStateConflict), errors.Is(err, domain.ErrNotFound):
		code = GenericError
	case errors.Is(err, domain.ErrSecurityViolation):
		code = SecurityError
	case errors.Is(err, domain.ErrDataIntegrity):
		code = PropertyConstraintViolation
	case errors.Is(err, domain.ErrProtocolFormat):
		code = FormatViolation
	case errors.Is(err, domain.ErrNotImplemented):
		code = NotImplemented
	}
	desc := err.Error()
	if code == InternalError {
		desc = "internal error"
	}
	return &CallError{Code: code, Description: desc}
}
