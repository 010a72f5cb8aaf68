package v201

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

func newTestRouter() *Router {
	r := NewRouter(zap.NewNop())
	r.Handle(ActionBootNotification, Typed(func(ctx context.Context, _ string, _ *BootNotificationRequest) (*BootNotificationResponse, error) {
		if s, ok := SessionFrom(ctx); ok {
			s.MarkBooted()
		}
		return &BootNotificationResponse{CurrentTime: "2026-01-01T00:00:00Z", Interval: 60, Status: "Accepted"}, nil
	}))
	r.Handle(ActionHeartbeat, Typed(func(context.Context, string, *HeartbeatRequest) (*HeartbeatResponse, error) {
		return &HeartbeatResponse{CurrentTime: "2026-01-01T00:00:00Z"}, nil
	}))
	return r
}

func dispatch(t *testing.T, r *Router, s *Session, raw string) *Frame {
	t.Helper()
	f, err := Decode([]byte(raw))
	require.NoError(t, err)
	reply, err := Decode(r.Dispatch(context.Background(), s, f))
	require.NoError(t, err)
	require.Equal(t, f.ID, reply.ID)
	return reply
}

const bootCall = `[2,"b1","BootNotification",{"reason":"PowerUp","chargingStation":{"model":"M1","vendorName":"V"}}]`

func TestRouter_BootThenHeartbeat(t *testing.T) {
	r := newTestRouter()
	s := newTestSession("CP1", &pipeTransport{}, 0)

	reply := dispatch(t, r, s, bootCall)
	require.Equal(t, MessageResult, reply.Kind)
	assert.True(t, s.Booted())

	reply = dispatch(t, r, s, `[2,"h1","Heartbeat",{}]`)
	assert.Equal(t, MessageResult, reply.Kind)
	assert.JSONEq(t, `{"currentTime":"2026-01-01T00:00:00Z"}`, string(reply.Payload))
}

func TestRouter_RejectsBeforeBoot(t *testing.T) {
	r := newTestRouter()
	s := newTestSession("CP1", &pipeTransport{}, 0)

	reply := dispatch(t, r, s, `[2,"h1","Heartbeat",{}]`)
	require.Equal(t, MessageError, reply.Kind)
	assert.Equal(t, SecurityError, reply.ErrorCode)
}

func TestRouter_ErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		call string
		code ErrorCode
	}{
		{"unknown action", `[2,"x","FlyToTheMoon",{}]`, NotImplemented},
		{"outbound only action", `[2,"x","Reset",{"type":"Immediate"}]`, NotSupported},
		{"missing field", `[2,"x","Authorize",{}]`, OccurrenceConstraintViolation},
		{"bad payload shape", `[2,"x","Heartbeat",[]]`, TypeConstraintViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter()
			s := newTestSession("CP1", &pipeTransport{}, 0)
			s.MarkBooted()
			r.Handle(ActionAuthorize, Typed(func(context.Context, string, *AuthorizeRequest) (*AuthorizeResponse, error) {
				return &AuthorizeResponse{}, nil
			}))

			reply := dispatch(t, r, s, tt.call)
			require.Equal(t, MessageError, reply.Kind)
			assert.Equal(t, tt.code, reply.ErrorCode)
		})
	}
}

func TestRouter_MapsHandlerErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"state conflict", fmt.Errorf("%w: busy", domain.ErrStateConflict), GenericError},
		{"not found", domain.ErrNotFound, GenericError},
		{"integrity", domain.ErrDataIntegrity, PropertyConstraintViolation},
		{"security", domain.ErrSecurityViolation, SecurityError},
		{"unexpected", fmt.Errorf("db down"), InternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter()
			r.Handle(ActionHeartbeat, Typed(func(context.Context, string, *HeartbeatRequest) (*HeartbeatResponse, error) {
				return nil, tt.err
			}))
			s := newTestSession("CP1", &pipeTransport{}, 0)
			s.MarkBooted()

			reply := dispatch(t, r, s, `[2,"h1","Heartbeat",{}]`)
			require.Equal(t, MessageError, reply.Kind)
			assert.Equal(t, tt.code, reply.ErrorCode)
		})
	}
}

func TestRouter_InternalErrorHidesDetail(t *testing.T) {
	r := newTestRouter()
	r.Handle(ActionHeartbeat, Typed(func(context.Context, string, *HeartbeatRequest) (*HeartbeatResponse, error) {
		return nil, fmt.Errorf("password=hunter2")
	}))
	s := newTestSession("CP1", &pipeTransport{}, 0)
	s.MarkBooted()

	reply := dispatch(t, r, s, `[2,"h1","Heartbeat",{}]`)
	assert.Equal(t, "internal error", reply.ErrorDescription)
}

func TestRouter_RecoversFromPanic(t *testing.T) {
	r := newTestRouter()
	r.Handle(ActionHeartbeat, Typed(func(context.Context, string, *HeartbeatRequest) (*HeartbeatResponse, error) {
		panic("boom")
	}))
	s := newTestSession("CP1", &pipeTransport{}, 0)
	s.MarkBooted()

	reply := dispatch(t, r, s, `[2,"h1","Heartbeat",{}]`)
	require.Equal(t, MessageError, reply.Kind)
	assert.Equal(t, InternalError, reply.ErrorCode)

	// The router keeps serving.
	r.Handle(ActionHeartbeat, Typed(func(context.Context, string, *HeartbeatRequest) (*HeartbeatResponse, error) {
		return &HeartbeatResponse{CurrentTime: "2026-01-01T00:00:00Z"}, nil
	}))
	assert.Equal(t, MessageResult, dispatch(t, r, s, `[2,"h2","Heartbeat",{}]`).Kind)
}

func TestRouter_VerifyReportsGaps(t *testing.T) {
	r := newTestRouter()
	r.Handle(ActionReset, func(context.Context, string, any) (any, error) { return nil, nil })

	err := r.Verify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler for "+ActionAuthorize)
	assert.Contains(t, err.Error(), "handler for non-inbound action "+ActionReset)
}

func TestRouter_ReplyIsValidJSONArray(t *testing.T) {
	r := newTestRouter()
	s := newTestSession("CP1", &pipeTransport{}, 0)
	f, err := Decode([]byte(bootCall))
	require.NoError(t, err)

	var arr []json.RawMessage
	require.NoError(t, json.Unmarshal(r.Dispatch(context.Background(), s, f), &arr))
	assert.Len(t, arr, 3)
}
