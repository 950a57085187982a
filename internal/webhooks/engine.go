package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"hookrelay/internal/buildinfo"
	"hookrelay/internal/logger"
	"hookrelay/internal/metrics"
	"hookrelay/internal/model"
	"hookrelay/internal/store"
)

// Scheduler runs a task after a delay without blocking the caller.
type Scheduler interface {
	After(delay time.Duration, task func(context.Context)) bool
}

// EventSink receives the outcome of every completed attempt.
type EventSink interface {
	PublishDelivery(ctx context.Context, ev model.DeliveryEvent)
}

// Chain is one event on its way to one subscription. Attempts of a chain run
// strictly one after another and share DeliveryID.
type Chain struct {
	DeliveryID     string
	SubscriptionID string
	TriggerType    string
	Payload        []byte
	Attempt        int
	MaxAttempts    int
	// Manual chains are operator test deliveries; they bypass the breaker.
	Manual bool
}

const DefaultTimeout = 30 * time.Second

// Engine performs delivery attempts and schedules retries.
type Engine struct {
	store   store.Store
	breaker *Breaker
	backoff Backoff
	sched   Scheduler
	client  *http.Client
	sink    EventSink
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration
}

type EngineOption func(*Engine)

func WithHTTPClient(c *http.Client) EngineOption {
	return func(e *Engine) { e.client = c }
}

func WithBackoff(b Backoff) EngineOption {
	return func(e *Engine) { e.backoff = b }
}

func WithEventSink(s EventSink) EngineOption {
	return func(e *Engine) { e.sink = s }
}

func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithTimeout bounds each attempt, including reading the response.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func NewEngine(st store.Store, breaker *Breaker, sched Scheduler, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   st,
		breaker: breaker,
		backoff: DefaultBackoff,
		sched:   sched,
		log:     zap.NewNop(),
		now:     time.Now,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = NewHTTPClient(e.timeout, nil)
	}
	return e
}

// NewHTTPClient returns the client used for outbound deliveries. Redirects are not
// followed. control, when set, is installed as the dialer's Control hook.
func NewHTTPClient(timeout time.Duration, control func(network, address string, c syscall.RawConn) error) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second, Control: control}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Schedule queues attempt c.Attempt of the chain after delay.
func (e *Engine) Schedule(c Chain, delay time.Duration) bool {
	return e.sched.After(delay, func(ctx context.Context) { e.Deliver(ctx, c) })
}

// Deliver performs one attempt of the chain and, on failure, schedules the next one.
func (e *Engine) Deliver(ctx context.Context, c Chain) {
	log := e.log.With(logger.Subscription(c.SubscriptionID), logger.Delivery(c.DeliveryID), zap.Int("attempt", c.Attempt))

	sub, err := e.store.GetSubscription(ctx, c.SubscriptionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error("load subscription", zap.Error(err))
		}
		return
	}
	if !sub.Active {
		log.Debug("subscription inactive; dropping attempt")
		return
	}
	if !c.Manual {
		tripped, err := e.breaker.ShouldTrip(ctx, sub.ID)
		if err != nil {
			log.Warn("circuit breaker check failed", zap.Error(err))
		}
		if tripped {
			return
		}
	}

	createdAt := e.now().UTC()
	attemptID, err := e.store.InsertAttempt(ctx, model.DeliveryAttempt{
		SubscriptionID: sub.ID,
		DeliveryID:     c.DeliveryID,
		TriggerType:    c.TriggerType,
		AttemptNumber:  c.Attempt,
		Payload:        c.Payload,
		Status:         model.AttemptPending,
		CreatedAt:      createdAt,
	})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error("record attempt", zap.Error(err))
		}
		return
	}

	res := e.post(ctx, sub, c, createdAt)
	finished := e.now().UTC()
	status := model.AttemptFailed
	if res.ok() {
		status = model.AttemptDelivered
	}
	out := model.AttemptOutcome{
		Status:       status,
		ResponseBody: res.body,
		ErrorMessage: res.errMsg(),
		DurationMs:   res.elapsed.Milliseconds(),
	}
	if res.code != 0 {
		code := res.code
		out.HTTPStatusCode = &code
	}
	if res.ok() {
		out.DeliveredAt = &finished
	}
	if err := e.store.CompleteAttempt(ctx, attemptID, out); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error("complete attempt", zap.Error(err))
	}
	metrics.WebhookDeliveries.WithLabelValues(c.TriggerType, string(status)).Inc()
	metrics.WebhookLatency.WithLabelValues(c.TriggerType, string(status)).Observe(float64(res.elapsed.Milliseconds()))

	ev := model.DeliveryEvent{
		OwnerID:        sub.OwnerID,
		SubscriptionID: sub.ID,
		DeliveryID:     c.DeliveryID,
		AttemptID:      attemptID,
		TriggerType:    c.TriggerType,
		AttemptNumber:  c.Attempt,
		Status:         status,
		HTTPStatusCode: out.HTTPStatusCode,
		Error:          out.ErrorMessage,
		At:             finished,
	}

	if res.ok() {
		if err := e.store.RecordSuccess(ctx, sub.ID, finished); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Error("record success", zap.Error(err))
		}
		log.Info("webhook delivered", zap.Int("status", res.code), zap.Duration("elapsed", res.elapsed))
		e.publish(ctx, ev)
		return
	}

	if err := e.store.RecordFailure(ctx, sub.ID, out.ErrorMessage, finished); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error("record failure", zap.Error(err))
	}
	if !c.Manual {
		tripped, err := e.breaker.ShouldTrip(ctx, sub.ID)
		if err != nil {
			log.Warn("circuit breaker check failed", zap.Error(err))
		}
		ev.Disabled = tripped
	}
	if !ev.Disabled && c.Attempt < c.MaxAttempts {
		next := c
		next.Attempt++
		delay := e.backoff.NextInterval(c.Attempt)
		if e.Schedule(next, delay) {
			ev.WillRetry = true
			metrics.WebhookRetries.WithLabelValues(strconv.Itoa(next.Attempt)).Inc()
		} else {
			log.Warn("retry not scheduled; scheduler stopped")
		}
	}
	log.Warn("webhook delivery failed",
		zap.String("error", out.ErrorMessage),
		zap.Bool("will_retry", ev.WillRetry),
		zap.Bool("disabled", ev.Disabled))
	e.publish(ctx, ev)
}

func (e *Engine) publish(ctx context.Context, ev model.DeliveryEvent) {
	if e.sink != nil {
		e.sink.PublishDelivery(ctx, ev)
	}
}

type postResult struct {
	code    int
	body    string
	err     error
	elapsed time.Duration
}

func (r postResult) ok() bool { return r.err == nil && r.code >= 200 && r.code < 300 }

func (r postResult) errMsg() string {
	switch {
	case r.err != nil:
		return r.err.Error()
	case r.ok():
		return ""
	default:
		return fmt.Sprintf("HTTP %d", r.code)
	}
}

func (e *Engine) post(ctx context.Context, sub model.Subscription, c Chain, sentAt time.Time) postResult {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.WebhookURL, bytes.NewReader(c.Payload))
	if err != nil {
		return postResult{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	req.Header.Set("X-Delivery-Id", c.DeliveryID)
	req.Header.Set("X-Timestamp", sentAt.Format(time.RFC3339))
	req.Header.Set("X-Attempt", strconv.Itoa(c.Attempt))
	req.Header.Set("X-Event-Type", c.TriggerType)
	if sub.Secret != "" {
		req.Header.Set("X-Signature", SignatureHeader(Sign(c.Payload, sub.Secret)))
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return postResult{err: err, elapsed: time.Since(start)}
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, store.MaxResponseBody))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return postResult{code: resp.StatusCode, body: string(body), elapsed: time.Since(start)}
}
