package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"hookrelay/internal/auth"
	"hookrelay/internal/ratelimit"
	"hookrelay/internal/webhooks"
)

// Problem represents an RFC7807 problem details response body. Code is a stable
// machine readable identifier.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Code     string `json:"code"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

const (
	CodeInvalidJSON     = "invalid_json"
	CodeInvalidRequest  = "invalid_request"
	CodeInvalidURL      = "invalid_url"
	CodeUnknownTrigger  = "unknown_trigger"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeWebhookDisabled = "webhook_disabled"
	CodeRateLimited     = "rate_limited"
	CodeUnavailable     = "unavailable"
	CodeInternal        = "internal"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, code, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Code:     code,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps domain errors to problem responses. Unknown errors are logged
// and reported as 500 without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	path := r.URL.Path
	switch {
	case errors.Is(err, webhooks.ErrInvalidURL):
		writeProblem(w, http.StatusBadRequest, CodeInvalidURL, "Invalid webhook URL", err.Error(), path)
	case errors.Is(err, webhooks.ErrUnknownTrigger):
		writeProblem(w, http.StatusBadRequest, CodeUnknownTrigger, "Unknown trigger type", err.Error(), path)
	case errors.Is(err, webhooks.ErrInvalidPayload):
		writeProblem(w, http.StatusBadRequest, CodeInvalidJSON, "Invalid payload", err.Error(), path)
	case errors.Is(err, webhooks.ErrForbidden):
		writeProblem(w, http.StatusForbidden, CodeForbidden, "Forbidden", err.Error(), path)
	case errors.Is(err, webhooks.ErrNotFound):
		writeProblem(w, http.StatusNotFound, CodeNotFound, "Webhook not found", "", path)
	case errors.Is(err, webhooks.ErrDisabled):
		writeProblem(w, http.StatusConflict, CodeWebhookDisabled, "Webhook is disabled", "subscribe again to reactivate", path)
	case errors.Is(err, webhooks.ErrNotAccepting):
		writeProblem(w, http.StatusServiceUnavailable, CodeUnavailable, "Service is shutting down", "", path)
	case errors.Is(err, ratelimit.ErrLimited):
		writeProblem(w, http.StatusTooManyRequests, CodeRateLimited, "Too many requests", err.Error(), path)
	case errors.Is(err, auth.ErrUnauthorized):
		writeProblem(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", "", path)
	default:
		s.log().Error("request failed", zap.String("path", path), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, CodeInternal, "Internal error", "", path)
	}
}

// decodeJSON reads a JSON body of at most 1 MiB into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, CodeInvalidJSON, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	return true
}
