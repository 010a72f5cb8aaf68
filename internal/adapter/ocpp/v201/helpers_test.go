package v201

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// pipeTransport records frames in memory. onSend, when set, plays the
// device side and may answer synchronously.
type pipeTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	reason string
	onSend func(data []byte)
}

func (t *pipeTransport) Send(_ context.Context, data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("transport closed")
	}
	t.sent = append(t.sent, append([]byte(nil), data...))
	fn := t.onSend
	t.mu.Unlock()

	if fn != nil {
		fn(data)
	}
	return nil
}

func (t *pipeTransport) Close(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.reason = reason
	return nil
}

func (t *pipeTransport) RemoteAddr() string { return "pipe" }

func (t *pipeTransport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.sent...)
}

func (t *pipeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func newTestSession(deviceID string, tr Transport, callTimeout time.Duration) *Session {
	return NewSession(deviceID, tr, SessionConfig{CallTimeout: callTimeout, HeartbeatInterval: time.Minute}, zap.NewNop())
}
