package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"hookrelay/internal/metrics"
	"hookrelay/internal/ratelimit"
)

type logFieldsKey struct{}

// logFields collects fields added by inner middleware for the access log line.
type logFields struct {
	mu     sync.Mutex
	fields []zap.Field
}

func (l *logFields) add(f ...zap.Field) {
	l.mu.Lock()
	l.fields = append(l.fields, f...)
	l.mu.Unlock()
}

// accessLog writes one log line per request and records HTTP metrics by route pattern.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		lf := &logFields{}
		r = r.WithContext(context.WithValue(r.Context(), logFieldsKey{}, lf))

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		code := strconv.Itoa(status)
		dur := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", dur),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		lf.mu.Lock()
		fields = append(fields, lf.fields...)
		lf.mu.Unlock()
		s.log().Info("http request", fields...)
	})
}

// rateLimit applies the injected limiter per credential. It must run after authenticate.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		p, _ := principalFrom(r.Context())
		res, err := s.Limiter.Allow(r.Context(), p.CredentialID)
		if err != nil {
			// fail open
			s.log().Warn("rate limiter unavailable", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			secs := int(math.Ceil(res.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			h.Set("Retry-After", strconv.Itoa(secs))
			metrics.RateLimited.Inc()
			s.writeError(w, r, fmt.Errorf("%w: retry after %ds", ratelimit.ErrLimited, secs))
			return
		}
		next.ServeHTTP(w, r)
	})
}
