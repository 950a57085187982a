package webhooks_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hookrelay/internal/model"
	"hookrelay/internal/store"
	"hookrelay/internal/urlguard"
	"hookrelay/internal/webhooks"
)

// fakeScheduler queues tasks and records the requested delays; drain runs them in order.
type fakeScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	queue   []func(context.Context)
	stopped bool
}

func (f *fakeScheduler) After(d time.Duration, task func(context.Context)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return false
	}
	f.delays = append(f.delays, d)
	f.queue = append(f.queue, task)
	return true
}

func (f *fakeScheduler) drain() {
	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.mu.Unlock()
			return
		}
		task := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		task(context.Background())
	}
}

func (f *fakeScheduler) recorded() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

// recordStore wraps Memory and records every completed attempt.
type recordStore struct {
	*store.Memory
	mu       sync.Mutex
	outcomes []model.AttemptOutcome
}

func (r *recordStore) CompleteAttempt(ctx context.Context, id string, out model.AttemptOutcome) error {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, out)
	r.mu.Unlock()
	return r.Memory.CompleteAttempt(ctx, id, out)
}

func (r *recordStore) completed() []model.AttemptOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AttemptOutcome(nil), r.outcomes...)
}

type recordSink struct {
	mu     sync.Mutex
	events []model.DeliveryEvent
}

func (s *recordSink) PublishDelivery(_ context.Context, ev model.DeliveryEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordSink) all() []model.DeliveryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.DeliveryEvent(nil), s.events...)
}

type harness struct {
	store     *recordStore
	registry  *webhooks.Registry
	engine    *webhooks.Engine
	publisher *webhooks.Publisher
	sched     *fakeScheduler
	sink      *recordSink
}

var owner = model.Principal{CredentialID: "key_a", Scopes: []string{"*"}}

// newHarness builds the engine over a memory store; opts are applied after the defaults.
func newHarness(t *testing.T, opts ...webhooks.EngineOption) *harness {
	t.Helper()
	h := &harness{
		store: &recordStore{Memory: store.NewMemory()},
		sched: &fakeScheduler{},
		sink:  &recordSink{},
	}
	h.registry = webhooks.NewRegistry(h.store, urlguard.New(urlguard.WithLocalhost(true)))
	breaker := webhooks.NewBreaker(h.store, h.registry, webhooks.DefaultBreakerWindow, nil)
	h.engine = webhooks.NewEngine(h.store, breaker, h.sched,
		append([]webhooks.EngineOption{
			webhooks.WithEventSink(h.sink),
			webhooks.WithTimeout(2 * time.Second),
		}, opts...)...)
	h.publisher = webhooks.NewPublisher(h.store, h.engine)
	return h
}

func (h *harness) subscribe(t *testing.T, url, secret string) model.Subscription {
	t.Helper()
	sub, err := h.registry.Subscribe(context.Background(), owner, webhooks.SubscribeInput{
		TriggerType: "analysis.completed",
		URL:         url,
		Secret:      secret,
	})
	require.NoError(t, err)
	return sub
}

func statusServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv
}
