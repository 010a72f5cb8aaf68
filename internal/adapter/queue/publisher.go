package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/ports"
)

// Envelope wraps every published event.
type Envelope struct {
	Subject    string          `json:"subject"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Publisher adapts a MessageQueue to ports.EventPublisher.
type Publisher struct {
	mq  MessageQueue
	log *zap.Logger
	now func() time.Time
}

func NewPublisher(mq MessageQueue, log *zap.Logger) *Publisher {
	return &Publisher{mq: mq, log: log, now: time.Now}
}

var _ ports.EventPublisher = (*Publisher)(nil)

func (p *Publisher) Publish(ctx context.Context, subject string, event any) error {
	if p.mq == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	body, err := json.Marshal(Envelope{Subject: subject, OccurredAt: p.now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.mq.Publish(subject, body); err != nil {
		p.log.Warn("Failed to publish event", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
