package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"hookrelay/internal/model"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so every replica's
// stream clients see outcomes of deliveries run by any replica.
type RedisBroker struct {
	rdb *redis.Client
	log *zap.Logger

	mu   sync.Mutex
	subs map[chan model.DeliveryEvent]*redis.PubSub
}

func NewRedisBroker(rdb *redis.Client, l *zap.Logger) *RedisBroker {
	if l == nil {
		l = zap.NewNop()
	}
	return &RedisBroker{rdb: rdb, log: l, subs: map[chan model.DeliveryEvent]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe(ownerID string) chan model.DeliveryEvent {
	ch := make(chan model.DeliveryEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(ownerID))
	// wait for the subscription confirmation so no event published afterwards is missed
	if _, err := ps.Receive(ctx); err != nil {
		b.log.Warn("redis subscribe failed", zap.Error(err))
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()

	msgs := ps.Channel()
	go func() {
		for msg := range msgs {
			var ev model.DeliveryEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				select {
				case ch <- ev:
				default:
				}
			}
			b.mu.Unlock()
		}
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(_ string, ch chan model.DeliveryEvent) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if !ok {
		return
	}
	_ = ps.Close()
	close(ch)
}

func (b *RedisBroker) PublishDelivery(ctx context.Context, ev model.DeliveryEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, b.chanName(ev.OwnerID), data).Err(); err != nil {
		b.log.Warn("redis publish failed", zap.Error(err))
	}
}

func (b *RedisBroker) chanName(ownerID string) string { return "hookrelay:deliveries:" + ownerID }
