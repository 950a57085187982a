package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hookrelay/internal/logger"
	"hookrelay/internal/metrics"
	"hookrelay/internal/model"
	"hookrelay/internal/store"
	"hookrelay/internal/trigger"
)

// Publisher is the entry point for producers of domain events.
type Publisher struct {
	store       store.Subscriptions
	engine      *Engine
	maxAttempts int
	log         *zap.Logger
	now         func() time.Time
}

type PublisherOption func(*Publisher)

func WithMaxAttempts(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

func WithPublisherLogger(l *zap.Logger) PublisherOption {
	return func(p *Publisher) { p.log = l }
}

func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) { p.now = now }
}

func NewPublisher(s store.Subscriptions, e *Engine, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: s, engine: e, maxAttempts: DefaultMaxAttempts, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue starts one delivery chain per active subscription of ownerID for the
// trigger and returns how many were started. It never waits for delivery.
func (p *Publisher) Enqueue(ctx context.Context, triggerType string, payload any, ownerID string) (int, error) {
	typ, err := trigger.Parse(triggerType)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTrigger, triggerType)
	}
	body, err := encodePayload(payload)
	if err != nil {
		return 0, err
	}
	subs, err := p.store.ActiveSubscriptions(ctx, ownerID, typ.String())
	if err != nil {
		return 0, err
	}
	started := 0
	for _, sub := range subs {
		c := Chain{
			DeliveryID:     uuid.NewString(),
			SubscriptionID: sub.ID,
			TriggerType:    typ.String(),
			Payload:        body,
			Attempt:        1,
			MaxAttempts:    p.maxAttempts,
		}
		if !p.engine.Schedule(c, 0) {
			return started, ErrNotAccepting
		}
		started++
	}
	if started > 0 {
		metrics.WebhookEnqueued.WithLabelValues(typ.String()).Add(float64(started))
		p.log.Debug("event enqueued", logger.Owner(ownerID), zap.String("trigger_type", typ.String()), zap.Int("chains", started))
	}
	return started, nil
}

// TestDelivery sends the trigger's sample payload to sub exactly once, without
// retries. The attempt runs asynchronously.
func (p *Publisher) TestDelivery(ctx context.Context, sub model.Subscription) error {
	if !sub.Active {
		return ErrDisabled
	}
	typ, err := trigger.Parse(sub.TriggerType)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownTrigger, sub.TriggerType)
	}
	h, _ := trigger.Lookup(typ)
	sample := h.SamplePayload()
	sample["webhook_id"] = sub.ID
	sample["timestamp"] = p.now().UTC().Format(time.RFC3339)
	body, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	c := Chain{
		DeliveryID:     uuid.NewString(),
		SubscriptionID: sub.ID,
		TriggerType:    typ.String(),
		Payload:        body,
		Attempt:        1,
		MaxAttempts:    1,
		Manual:         true,
	}
	if !p.engine.Schedule(c, 0) {
		return ErrNotAccepting
	}
	p.log.Info("test delivery queued", logger.Subscription(sub.ID), logger.Delivery(c.DeliveryID))
	return nil
}

// encodePayload accepts raw JSON as []byte or json.RawMessage and marshals anything else.
func encodePayload(payload any) ([]byte, error) {
	var body []byte
	switch v := payload.(type) {
	case json.RawMessage:
		body = v
	case []byte:
		body = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		body = b
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}
	return body, nil
}
