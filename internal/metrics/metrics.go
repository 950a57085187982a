package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts management API requests by method, route pattern and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)
	// RateLimited counts requests rejected by the rate limiter
	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "http_rate_limited_total", Help: "Requests rejected by the rate limiter."},
	)

	// WebhookDeliveries counts delivery attempt outcomes by trigger type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by trigger type and status."},
		[]string{"trigger_type", "status"},
	)
	// WebhookLatency tracks delivery attempt latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000}},
		[]string{"trigger_type", "status"},
	)
	// WebhookRetries counts retries scheduled after a failed attempt
	WebhookRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_retries_scheduled_total", Help: "Retries scheduled by attempt number."},
		[]string{"attempt"},
	)
	// WebhookBreakerTrips counts subscriptions disabled by the circuit breaker
	WebhookBreakerTrips = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "webhook_breaker_trips_total", Help: "Subscriptions disabled after consecutive failures."},
	)
	// WebhookEnqueued counts delivery chains started by trigger type
	WebhookEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_chains_enqueued_total", Help: "Delivery chains started by trigger type."},
		[]string{"trigger_type"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(RateLimited)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		Registry.MustRegister(WebhookRetries)
		Registry.MustRegister(WebhookBreakerTrips)
		Registry.MustRegister(WebhookEnqueued)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// RegisterSchedulerGauges exposes scheduler queue depth. Only the first call registers.
func RegisterSchedulerGauges(pending, inFlight func() float64) {
	gaugeOnce.Do(func() {
		Registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "webhook_scheduler_pending", Help: "Delivery tasks waiting or running in the scheduler."},
			pending,
		))
		Registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "webhook_scheduler_in_flight", Help: "Delivery tasks currently running."},
			inFlight,
		))
	})
}

var gaugeOnce sync.Once
