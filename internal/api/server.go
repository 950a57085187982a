package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"hookrelay/internal/metrics"
	"hookrelay/internal/model"
	"hookrelay/internal/ratelimit"
	"hookrelay/internal/store"
	"hookrelay/internal/webhooks"
)

// Authenticator resolves a bearer token to the calling credential.
type Authenticator interface {
	Verify(ctx context.Context, token string) (model.Principal, error)
}

type Server struct {
	Store    store.Store
	Registry *webhooks.Registry
	Pub      *webhooks.Publisher
	Auth     Authenticator
	Broker   EventBroker
	Limiter  ratelimit.Store
	Logger   *zap.Logger
	// Info is reported by /debug/info; it must not contain secrets.
	Info map[string]any
	// Ready reports dependency health for /readyz in addition to the store ping.
	Ready []func(context.Context) error
}

func (s *Server) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Router wires every endpoint onto a chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/openapi.yaml", s.OpenAPIHandler)
	r.Get("/openapi.json", s.OpenAPIJSONHandler)
	r.Get("/docs", s.DocsHandler)
	r.Get("/debug/info", s.DebugJSON)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Post("/webhooks/subscribe", s.SubscribeHandler)
		r.Get("/webhooks/list", s.ListHandler)
		r.Post("/webhooks/list", s.ListHandler)
		r.Delete("/webhooks/unsubscribe", s.UnsubscribeHandler)
		r.Post("/webhooks/unsubscribe", s.UnsubscribeHandler)
		r.Post("/webhooks/test", s.TestHandler)
		r.Get("/webhooks/triggers", s.TriggersHandler)
		r.Get("/webhooks/deliveries/stream", s.DeliveryStreamHandler)
		r.Get("/webhooks/{id}/deliveries", s.DeliveriesHandler)
		r.Post("/events", s.EventsHandler)
	})
	return r
}
