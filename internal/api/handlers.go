package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"hookrelay/internal/auth"
	"hookrelay/internal/model"
	"hookrelay/internal/trigger"
	"hookrelay/internal/webhooks"
)

type subscribeRequest struct {
	OwnerID     string `json:"api_key_id"`
	TriggerType string `json:"trigger_type"`
	WebhookURL  string `json:"webhook_url"`
	SecretToken string `json:"secret_token,omitempty"`
}

type subscribeResponse struct {
	WebhookID   string    `json:"webhook_id"`
	TriggerType string    `json:"trigger_type"`
	WebhookURL  string    `json:"webhook_url"`
	SecretToken string    `json:"secret_token"`
	CreatedAt   time.Time `json:"created_at"`
}

type webhookIDRequest struct {
	WebhookID string `json:"webhook_id"`
}

type eventRequest struct {
	TriggerType string          `json:"trigger_type"`
	Payload     json.RawMessage `json:"payload"`
}

// SubscribeHandler handles POST /v1/webhooks/subscribe. The secret is only ever
// returned in this response.
func (s *Server) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.TriggerType) == "" || strings.TrimSpace(req.WebhookURL) == "" {
		writeProblem(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request", "trigger_type and webhook_url are required", r.URL.Path)
		return
	}
	sub, err := s.Registry.Subscribe(r.Context(), p, webhooks.SubscribeInput{
		OwnerID:     req.OwnerID,
		TriggerType: req.TriggerType,
		URL:         req.WebhookURL,
		Secret:      req.SecretToken,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, subscribeResponse{
		WebhookID:   sub.ID,
		TriggerType: sub.TriggerType,
		WebhookURL:  sub.WebhookURL,
		SecretToken: sub.Secret,
		CreatedAt:   sub.CreatedAt,
	})
}

// ListHandler handles GET|POST /v1/webhooks/list.
func (s *Server) ListHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	subs, err := s.Registry.List(r.Context(), p.CredentialID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": subs})
}

// UnsubscribeHandler handles DELETE|POST /v1/webhooks/unsubscribe. The id is read
// from the JSON body or the webhook_id query parameter.
func (s *Server) UnsubscribeHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id, ok := s.webhookID(w, r)
	if !ok {
		return
	}
	if err := s.Registry.Unsubscribe(r.Context(), id, p.CredentialID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// TestHandler handles POST /v1/webhooks/test. It returns before the delivery runs.
func (s *Server) TestHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id, ok := s.webhookID(w, r)
	if !ok {
		return
	}
	sub, err := s.Registry.Get(r.Context(), id, p.CredentialID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Pub.TestDelivery(r.Context(), sub); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Test webhook queued for delivery"})
}

// DeliveriesHandler handles GET /v1/webhooks/{id}/deliveries?limit=&status=.
func (s *Server) DeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	sub, err := s.Registry.Get(r.Context(), chi.URLParam(r, "id"), p.CredentialID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeProblem(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid limit", "limit must be a positive integer", r.URL.Path)
			return
		}
		limit = n
	}
	status := model.AttemptStatus(q.Get("status"))
	switch status {
	case "", model.AttemptPending, model.AttemptDelivered, model.AttemptFailed:
	default:
		writeProblem(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid status", "status must be pending, delivered or failed", r.URL.Path)
		return
	}
	items, err := s.Store.ListAttempts(r.Context(), sub.ID, status, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.DeliveryAttempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": items})
}

// TriggersHandler handles GET /v1/webhooks/triggers.
func (s *Server) TriggersHandler(w http.ResponseWriter, r *http.Request) {
	type item struct {
		Type          string `json:"trigger_type"`
		RequiredScope string `json:"required_scope"`
		Description   string `json:"description"`
	}
	all := trigger.All()
	out := make([]item, 0, len(all))
	for _, h := range all {
		out = append(out, item{Type: h.Type().String(), RequiredScope: h.RequiredScope(), Description: h.Describe()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggers": out})
}

// EventsHandler handles POST /v1/events: the producer-facing entry point that
// fans an event out to the caller's subscriptions.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if !auth.HasScope(p.Scopes, auth.ScopeEventsPublish) {
		writeProblem(w, http.StatusForbidden, CodeForbidden, "Forbidden", "scope "+auth.ScopeEventsPublish+" required", r.URL.Path)
		return
	}
	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		writeProblem(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request", "payload is required", r.URL.Path)
		return
	}
	n, err := s.Pub.Enqueue(r.Context(), req.TriggerType, req.Payload, p.CredentialID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": n})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	checks := s.Ready
	if s.Store != nil {
		checks = append([]func(context.Context) error{s.Store.Ping}, checks...)
	}
	for _, check := range checks {
		if err := check(ctx); err != nil {
			s.log().Warn("readiness check failed", zap.Error(err))
			writeProblem(w, http.StatusServiceUnavailable, CodeUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// webhookID reads webhook_id from the query string or a JSON body.
func (s *Server) webhookID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if id := strings.TrimSpace(r.URL.Query().Get("webhook_id")); id != "" {
		return id, true
	}
	var req webhookIDRequest
	if r.Body != nil && r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return "", false
		}
	}
	id := strings.TrimSpace(req.WebhookID)
	if id == "" {
		writeProblem(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request", "webhook_id is required", r.URL.Path)
		return "", false
	}
	return id, true
}

