package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/auth"
	"hookrelay/internal/model"
	"hookrelay/internal/ratelimit"
	"hookrelay/internal/scheduler"
	"hookrelay/internal/store"
	"hookrelay/internal/urlguard"
	"hookrelay/internal/webhooks"
)

const (
	tokenA = "key_a:*"
	tokenB = "key_b:*"
)

type testEnv struct {
	srv    *Server
	store  *store.Memory
	sched  *scheduler.Scheduler
	broker *Broker
	http   *httptest.Server
}

func newTestEnv(t *testing.T, limiter ratelimit.Store) *testEnv {
	t.Helper()
	st := store.NewMemory()
	sched := scheduler.New(4)
	broker := NewBroker()
	registry := webhooks.NewRegistry(st, urlguard.New(urlguard.WithLocalhost(true)))
	breaker := webhooks.NewBreaker(st, registry, webhooks.DefaultBreakerWindow, nil)
	engine := webhooks.NewEngine(st, breaker, sched,
		webhooks.WithEventSink(broker),
		webhooks.WithTimeout(2*time.Second))
	s := &Server{
		Store:    st,
		Registry: registry,
		Pub:      webhooks.NewPublisher(st, engine),
		Auth:     auth.NewVerifier(auth.Config{Mode: auth.ModeDev}),
		Broker:   broker,
		Limiter:  limiter,
	}
	env := &testEnv{srv: s, store: st, sched: sched, broker: broker}
	env.http = httptest.NewServer(s.Router())
	t.Cleanup(func() {
		env.http.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sched.Stop(ctx)
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) subscribe(t *testing.T, token, url string) subscribeResponse {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/v1/webhooks/subscribe", token, map[string]any{
		"trigger_type": "analysis.completed",
		"webhook_url":  url,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var out subscribeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var p Problem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

type receiver struct {
	mu     sync.Mutex
	bodies [][]byte
	srv    *httptest.Server
}

func newReceiver(t *testing.T) *receiver {
	t.Helper()
	rc := &receiver{}
	rc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rc.mu.Lock()
		rc.bodies = append(rc.bodies, b)
		rc.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(rc.srv.Close)
	return rc
}

func (rc *receiver) count() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.bodies)
}

func TestHealthReady(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	env.srv.Ready = append(env.srv.Ready, func(context.Context) error { return io.ErrUnexpectedEOF })
	rr = env.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestUnauthorized(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/v1/webhooks/list", "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, CodeUnauthorized, decodeProblem(t, rr).Code)

	rr = env.do(t, http.MethodGet, "/v1/webhooks/list", "no-colon", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSubscribeAndList(t *testing.T) {
	env := newTestEnv(t, nil)
	rc := newReceiver(t)
	first := env.subscribe(t, tokenA, rc.srv.URL+"/one")
	assert.NotEmpty(t, first.WebhookID)
	assert.Len(t, first.SecretToken, 64)
	assert.Equal(t, "analysis.completed", first.TriggerType)
	second := env.subscribe(t, tokenA, rc.srv.URL+"/two")

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rr := env.do(t, method, "/v1/webhooks/list", tokenA, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.NotContains(t, rr.Body.String(), first.SecretToken)
		var out struct {
			Webhooks []model.Subscription `json:"webhooks"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
		require.Len(t, out.Webhooks, 2)
		assert.Equal(t, second.WebhookID, out.Webhooks[0].ID)
		assert.True(t, out.Webhooks[0].Active)
	}

	rr := env.do(t, http.MethodGet, "/v1/webhooks/list", tokenB, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"webhooks":[]}`, rr.Body.String())
}

func TestSubscribeErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	cases := []struct {
		name   string
		token  string
		body   any
		status int
		code   string
	}{
		{"invalid json", tokenA, "not an object", http.StatusBadRequest, CodeInvalidJSON},
		{"missing fields", tokenA, map[string]any{"trigger_type": "analysis.completed"}, http.StatusBadRequest, CodeInvalidRequest},
		{"unknown trigger", tokenA, map[string]any{"trigger_type": "nope", "webhook_url": "https://example.com/h"}, http.StatusBadRequest, CodeUnknownTrigger},
		{"plain http", tokenA, map[string]any{"trigger_type": "analysis.completed", "webhook_url": "http://example.com/h"}, http.StatusBadRequest, CodeInvalidURL},
		{"private host", tokenA, map[string]any{"trigger_type": "analysis.completed", "webhook_url": "https://10.0.0.5/h"}, http.StatusBadRequest, CodeInvalidURL},
		{"other owner", tokenA, map[string]any{"api_key_id": "key_b", "trigger_type": "analysis.completed", "webhook_url": "https://example.com/h"}, http.StatusForbidden, CodeForbidden},
		{"missing scope", "key_c:documents.read", map[string]any{"trigger_type": "analysis.completed", "webhook_url": "https://example.com/h"}, http.StatusForbidden, CodeForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/v1/webhooks/subscribe", tc.token, tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			assert.Equal(t, tc.code, decodeProblem(t, rr).Code)
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	env := newTestEnv(t, nil)
	sub := env.subscribe(t, tokenA, "https://example.com/hook")

	rr := env.do(t, http.MethodDelete, "/v1/webhooks/unsubscribe", tokenB, map[string]string{"webhook_id": sub.WebhookID})
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, CodeNotFound, decodeProblem(t, rr).Code)

	rr = env.do(t, http.MethodDelete, "/v1/webhooks/unsubscribe", tokenA, map[string]string{"webhook_id": sub.WebhookID})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/v1/webhooks/unsubscribe?webhook_id="+sub.WebhookID, tokenA, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/webhooks/unsubscribe", tokenA, map[string]string{})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, CodeInvalidRequest, decodeProblem(t, rr).Code)
}

func TestTestDeliveryAndHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	rc := newReceiver(t)
	sub := env.subscribe(t, tokenA, rc.srv.URL)

	rr := env.do(t, http.MethodPost, "/v1/webhooks/test", tokenA, map[string]string{"webhook_id": sub.WebhookID})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"success":true`)

	require.Eventually(t, func() bool { return rc.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		rr := env.do(t, http.MethodGet, "/v1/webhooks/"+sub.WebhookID+"/deliveries?status=delivered", tokenA, nil)
		return rr.Code == http.StatusOK && bytes.Contains(rr.Body.Bytes(), []byte(`"status":"delivered"`))
	}, 3*time.Second, 10*time.Millisecond)

	rr = env.do(t, http.MethodGet, "/v1/webhooks/"+sub.WebhookID+"/deliveries", tokenB, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = env.do(t, http.MethodGet, "/v1/webhooks/"+sub.WebhookID+"/deliveries?limit=zero", tokenA, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = env.do(t, http.MethodGet, "/v1/webhooks/"+sub.WebhookID+"/deliveries?status=lost", tokenA, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/webhooks/test", tokenA, map[string]string{"webhook_id": "missing"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTestDeliveryDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	sub := env.subscribe(t, tokenA, "https://example.com/hook")
	require.NoError(t, env.srv.Registry.Disable(context.Background(), sub.WebhookID, "manual"))

	rr := env.do(t, http.MethodPost, "/v1/webhooks/test", tokenA, map[string]string{"webhook_id": sub.WebhookID})
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, CodeWebhookDisabled, decodeProblem(t, rr).Code)
}

func TestPublishEvent(t *testing.T) {
	env := newTestEnv(t, nil)
	rc := newReceiver(t)
	env.subscribe(t, tokenA, rc.srv.URL)
	env.subscribe(t, tokenB, rc.srv.URL)

	rr := env.do(t, http.MethodPost, "/v1/events", tokenA, map[string]any{
		"trigger_type": "analysis.completed",
		"payload":      map[string]any{"analysis_id": "an_1"},
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"queued":1}`, rr.Body.String())
	require.Eventually(t, func() bool { return rc.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	rc.mu.Lock()
	assert.JSONEq(t, `{"analysis_id":"an_1"}`, string(rc.bodies[0]))
	rc.mu.Unlock()

	rr = env.do(t, http.MethodPost, "/v1/events", "key_a:analysis.read", map[string]any{
		"trigger_type": "analysis.completed",
		"payload":      map[string]any{},
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/events", tokenA, map[string]any{"trigger_type": "nope", "payload": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, CodeUnknownTrigger, decodeProblem(t, rr).Code)

	rr = env.do(t, http.MethodPost, "/v1/events", tokenA, map[string]any{"trigger_type": "analysis.completed"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTriggers(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/v1/webhooks/triggers", tokenA, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		Triggers []struct {
			Type          string `json:"trigger_type"`
			RequiredScope string `json:"required_scope"`
		} `json:"triggers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out.Triggers, 5)
	for _, tr := range out.Triggers {
		assert.NotEmpty(t, tr.RequiredScope, tr.Type)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, ratelimit.NewMemoryStore(0.001, 2, time.Minute))
	for i := 0; i < 2; i++ {
		rr := env.do(t, http.MethodGet, "/v1/webhooks/list", tokenA, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
	}
	rr := env.do(t, http.MethodGet, "/v1/webhooks/list", tokenA, nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	prob := decodeProblem(t, rr)
	assert.Equal(t, CodeRateLimited, prob.Code)
	assert.Contains(t, prob.Detail, ratelimit.ErrLimited.Error())

	// limits are per credential
	rr = env.do(t, http.MethodGet, "/v1/webhooks/list", tokenB, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestOpenAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/v1/webhooks/subscribe")

	rr = env.do(t, http.MethodGet, "/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])
}
