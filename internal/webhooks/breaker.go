package webhooks

import (
	"context"

	"go.uber.org/zap"

	"hookrelay/internal/logger"
	"hookrelay/internal/metrics"
	"hookrelay/internal/model"
	"hookrelay/internal/store"
)

const (
	DefaultBreakerWindow = 10
	BreakerReason        = "disabled due to consecutive failures (circuit breaker)"
)

// Breaker disables a subscription once its most recent attempts have all failed.
// It keeps no state of its own; the delivery log is the source of truth.
type Breaker struct {
	log      store.DeliveryLog
	registry *Registry
	window   int
	logger   *zap.Logger
}

func NewBreaker(log store.DeliveryLog, registry *Registry, window int, l *zap.Logger) *Breaker {
	if window < 1 {
		window = DefaultBreakerWindow
	}
	// RecentAttempts never returns more than MaxListLimit rows
	if window > store.MaxListLimit {
		window = store.MaxListLimit
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &Breaker{log: log, registry: registry, window: window, logger: l}
}

// ShouldTrip reports whether deliveries to the subscription must stop. When the last
// window attempts are all failed the subscription is disabled before returning true.
// Less history than the window never trips.
func (b *Breaker) ShouldTrip(ctx context.Context, subscriptionID string) (bool, error) {
	recent, err := b.log.RecentAttempts(ctx, subscriptionID, b.window)
	if err != nil {
		return false, err
	}
	if len(recent) < b.window {
		return false, nil
	}
	for _, a := range recent {
		if a.Status != model.AttemptFailed {
			return false, nil
		}
	}
	if err := b.registry.Disable(ctx, subscriptionID, BreakerReason); err != nil {
		return true, err
	}
	metrics.WebhookBreakerTrips.Inc()
	b.logger.Warn("circuit breaker tripped", logger.Subscription(subscriptionID), zap.Int("window", b.window))
	return true, nil
}
