package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hookrelay/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	subs     map[string]*model.Subscription // id -> subscription
	attempts map[string]*memAttempt         // id -> attempt
	bySub    map[string][]string            // subscription id -> attempt ids, insertion order
	seq      int64
}

type memAttempt struct {
	model.DeliveryAttempt
	seq int64
}

func NewMemory() *Memory {
	return &Memory{
		subs:     map[string]*model.Subscription{},
		attempts: map[string]*memAttempt{},
		bySub:    map[string][]string{},
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = sub.CreatedAt
	cp := sub
	m.subs[sub.ID] = &cp
	return sub, nil
}

func (m *Memory) GetSubscription(ctx context.Context, id string) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return model.Subscription{}, ErrNotFound
	}
	return *s, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, ownerID string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Subscription{}
	for _, s := range m.subs {
		if s.OwnerID == ownerID {
			out = append(out, *s)
		}
	}
	sortSubscriptions(out)
	return out, nil
}

func (m *Memory) ActiveSubscriptions(ctx context.Context, ownerID, triggerType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Subscription{}
	for _, s := range m.subs {
		if s.Active && s.OwnerID == ownerID && s.TriggerType == triggerType {
			out = append(out, *s)
		}
	}
	sortSubscriptions(out)
	return out, nil
}

func (m *Memory) DeleteActiveSubscription(ctx context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || !s.Active || s.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.subs, id)
	for _, aid := range m.bySub[id] {
		delete(m.attempts, aid)
	}
	delete(m.bySub, id)
	return nil
}

func (m *Memory) DisableSubscription(ctx context.Context, id, reason string, at time.Time) error {
	return m.update(id, func(s *model.Subscription) {
		s.Active = false
		s.DisabledReason = reason
		t := at
		s.DisabledAt = &t
		s.UpdatedAt = at
	})
}

func (m *Memory) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	return m.update(id, func(s *model.Subscription) {
		s.SuccessCount++
		s.LastError = ""
		t := at
		s.LastTriggeredAt = &t
		s.UpdatedAt = at
	})
}

func (m *Memory) RecordFailure(ctx context.Context, id, lastError string, at time.Time) error {
	return m.update(id, func(s *model.Subscription) {
		s.FailureCount++
		s.LastError = lastError
		t := at
		s.LastTriggeredAt = &t
		s.UpdatedAt = at
	})
}

func (m *Memory) update(id string, fn func(*model.Subscription)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	fn(s)
	return nil
}

func (m *Memory) InsertAttempt(ctx context.Context, a model.DeliveryAttempt) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[a.SubscriptionID]; !ok {
		return "", ErrNotFound
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = model.AttemptPending
	}
	m.seq++
	m.attempts[a.ID] = &memAttempt{DeliveryAttempt: a, seq: m.seq}
	m.bySub[a.SubscriptionID] = append(m.bySub[a.SubscriptionID], a.ID)
	return a.ID, nil
}

func (m *Memory) CompleteAttempt(ctx context.Context, id string, out model.AttemptOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != model.AttemptPending {
		return ErrAttemptFinalized
	}
	a.Status = out.Status
	a.HTTPStatusCode = out.HTTPStatusCode
	a.ResponseBody = truncateBody(out.ResponseBody)
	a.ErrorMessage = out.ErrorMessage
	a.DeliveredAt = out.DeliveredAt
	a.DurationMs = out.DurationMs
	return nil
}

func (m *Memory) RecentAttempts(ctx context.Context, subscriptionID string, limit int) ([]model.DeliveryAttempt, error) {
	return m.ListAttempts(ctx, subscriptionID, "", limit)
}

func (m *Memory) ListAttempts(ctx context.Context, subscriptionID string, status model.AttemptStatus, limit int) ([]model.DeliveryAttempt, error) {
	limit = clampLimit(limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.bySub[subscriptionID]
	items := make([]*memAttempt, 0, len(ids))
	for _, id := range ids {
		if a := m.attempts[id]; a != nil && (status == "" || a.Status == status) {
			items = append(items, a)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].seq > items[j].seq
	})
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]model.DeliveryAttempt, 0, len(items))
	for _, a := range items {
		out = append(out, a.DeliveryAttempt)
	}
	return out, nil
}

func sortSubscriptions(subs []model.Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.After(subs[j].CreatedAt)
		}
		return subs[i].ID < subs[j].ID
	})
}
