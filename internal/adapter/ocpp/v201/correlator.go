package v201

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/observability/telemetry"
)

// PendingCall is an outbound call waiting for its reply.
type PendingCall struct {
	ID       string
	Action   string
	Deadline time.Time

	done    chan struct{}
	once    sync.Once
	payload json.RawMessage
	err     error
	timer   *time.Timer
}

func (p *PendingCall) resolve(payload json.RawMessage, err error) bool {
	resolved := false
	p.once.Do(func() {
		p.payload, p.err = payload, err
		if p.timer != nil {
			p.timer.Stop()
		}
		close(p.done)
		resolved = true
	})
	return resolved
}

// Wait blocks until the reply, the deadline or ctx, whichever comes first.
func (p *PendingCall) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.payload, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the call resolves.
func (p *PendingCall) Done() <-chan struct{} { return p.done }

// Correlator pairs outbound calls with replies for one session.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*PendingCall
	closed  error
}

func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]*PendingCall)}
}

// Register starts tracking id. The call fails with ErrTimeout once timeout
// elapses without a reply.
func (c *Correlator) Register(id, action string, timeout time.Duration) (*PendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed != nil {
		return nil, c.closed
	}
	if _, dup := c.pending[id]; dup {
		return nil, fmt.Errorf("%w: call %s already pending", domain.ErrStateConflict, id)
	}

	p := &PendingCall{
		ID:       id,
		Action:   action,
		Deadline: time.Now().Add(timeout),
		done:     make(chan struct{}),
	}
	c.pending[id] = p
	telemetry.PendingCalls.Inc()

	p.timer = time.AfterFunc(timeout, func() {
		if c.take(id, p) {
			p.resolve(nil, fmt.Errorf("%w: %s after %s", domain.ErrTimeout, action, timeout))
		}
	})
	return p, nil
}

// take removes p if it is still the call registered under id.
func (c *Correlator) take(id string, p *PendingCall) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.pending[id]; !ok || cur != p {
		return false
	}
	delete(c.pending, id)
	telemetry.PendingCalls.Dec()
	return true
}

// Complete resolves the call a CallResult or CallError frame answers.
// It reports false for replies nobody is waiting for.
func (c *Correlator) Complete(f *Frame) bool {
	c.mu.Lock()
	p, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
		telemetry.PendingCalls.Dec()
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	if f.Kind == MessageError {
		return p.resolve(nil, f.Err())
	}
	return p.resolve(f.Payload, nil)
}

// Abandon drops a call whose caller gave up waiting.
func (c *Correlator) Abandon(p *PendingCall, err error) {
	if c.take(p.ID, p) {
		p.resolve(nil, err)
	}
}

// FailAll fails every pending call with err and refuses new ones.
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	calls := make([]*PendingCall, 0, len(c.pending))
	for id, p := range c.pending {
		calls = append(calls, p)
		delete(c.pending, id)
	}
	c.closed = err
	telemetry.PendingCalls.Sub(float64(len(calls)))
	c.mu.Unlock()

	for _, p := range calls {
		p.resolve(nil, err)
	}
	return len(calls)
}

// Pending returns how many calls await a reply.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
