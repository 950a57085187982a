package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"hookrelay/internal/model"
)

// Store is the persistence interface used by the webhook registry, the delivery
// engine and the API server.
type Store interface {
	Subscriptions
	DeliveryLog
	Ping(ctx context.Context) error
}

type Subscriptions interface {
	CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error)
	GetSubscription(ctx context.Context, id string) (model.Subscription, error)
	ListSubscriptions(ctx context.Context, ownerID string) ([]model.Subscription, error)
	// ActiveSubscriptions returns the active subscriptions of ownerID for triggerType.
	ActiveSubscriptions(ctx context.Context, ownerID, triggerType string) ([]model.Subscription, error)
	// DeleteActiveSubscription removes an active subscription owned by ownerID,
	// returning ErrNotFound when no such record exists.
	DeleteActiveSubscription(ctx context.Context, id, ownerID string) error
	DisableSubscription(ctx context.Context, id, reason string, at time.Time) error
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id, lastError string, at time.Time) error
}

// DeliveryLog is the append-mostly record of delivery attempts.
type DeliveryLog interface {
	InsertAttempt(ctx context.Context, a model.DeliveryAttempt) (string, error)
	// CompleteAttempt writes the outcome of a pending attempt. It returns
	// ErrAttemptFinalized when the attempt already left the pending state.
	CompleteAttempt(ctx context.Context, id string, out model.AttemptOutcome) error
	// RecentAttempts returns up to limit attempts for the subscription, newest first.
	RecentAttempts(ctx context.Context, subscriptionID string, limit int) ([]model.DeliveryAttempt, error)
	// ListAttempts is RecentAttempts with an optional status filter.
	ListAttempts(ctx context.Context, subscriptionID string, status model.AttemptStatus, limit int) ([]model.DeliveryAttempt, error)
}

var (
	ErrNotFound         = errors.New("not found")
	ErrAttemptFinalized = errors.New("delivery attempt already finalized")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
	// MaxResponseBody is the number of response body bytes kept per attempt.
	MaxResponseBody = 1000
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func truncateBody(s string) string {
	if len(s) <= MaxResponseBody {
		return s
	}
	return strings.ToValidUTF8(s[:MaxResponseBody], "")
}
