package api

import (
	"context"
	"sync"

	"hookrelay/internal/model"
)

// EventBroker fans delivery outcomes out to stream subscribers of one credential.
type EventBroker interface {
	Subscribe(ownerID string) chan model.DeliveryEvent
	Unsubscribe(ownerID string, ch chan model.DeliveryEvent)
	PublishDelivery(ctx context.Context, ev model.DeliveryEvent)
}

// Broker is the in-process EventBroker. Slow subscribers drop events.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.DeliveryEvent]struct{} // ownerID -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan model.DeliveryEvent]struct{}{}}
}

func (b *Broker) Subscribe(ownerID string) chan model.DeliveryEvent {
	ch := make(chan model.DeliveryEvent, 16)
	b.mu.Lock()
	if b.subs[ownerID] == nil {
		b.subs[ownerID] = map[chan model.DeliveryEvent]struct{}{}
	}
	b.subs[ownerID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(ownerID string, ch chan model.DeliveryEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[ownerID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, ownerID)
	}
	close(ch)
}

func (b *Broker) PublishDelivery(_ context.Context, ev model.DeliveryEvent) {
	b.mu.Lock()
	for ch := range b.subs[ev.OwnerID] {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.Unlock()
}
