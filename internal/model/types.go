package model

import (
	"encoding/json"
	"time"
)

// Subscription is an endpoint registered by an API credential for one trigger type.
type Subscription struct {
	ID              string     `json:"webhook_id"`
	OwnerID         string     `json:"api_key_id"`
	TriggerType     string     `json:"trigger_type"`
	WebhookURL      string     `json:"webhook_url"`
	Secret          string     `json:"-"`
	Active          bool       `json:"active"`
	SuccessCount    int64      `json:"success_count"`
	FailureCount    int64      `json:"failure_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	DisabledReason  string     `json:"disabled_reason,omitempty"`
	DisabledAt      *time.Time `json:"disabled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptDelivered AttemptStatus = "delivered"
	AttemptFailed    AttemptStatus = "failed"
)

// DeliveryAttempt is one HTTP POST made for one event to one subscription.
// DeliveryID is shared by every attempt of the same chain.
type DeliveryAttempt struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"webhook_id"`
	DeliveryID     string          `json:"delivery_id"`
	TriggerType    string          `json:"trigger_type"`
	AttemptNumber  int             `json:"attempt_number"`
	Payload        json.RawMessage `json:"payload"`
	Status         AttemptStatus   `json:"status"`
	HTTPStatusCode *int            `json:"http_status_code,omitempty"`
	ResponseBody   string          `json:"response_body,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	DurationMs     int64           `json:"duration_ms"`
}

// AttemptOutcome is the terminal result written to a pending attempt.
type AttemptOutcome struct {
	Status         AttemptStatus
	HTTPStatusCode *int
	ResponseBody   string
	ErrorMessage   string
	DeliveredAt    *time.Time
	DurationMs     int64
}

// DeliveryEvent is published to stream subscribers after every completed attempt.
type DeliveryEvent struct {
	OwnerID        string        `json:"api_key_id"`
	SubscriptionID string        `json:"webhook_id"`
	DeliveryID     string        `json:"delivery_id"`
	AttemptID      string        `json:"attempt_id"`
	TriggerType    string        `json:"trigger_type"`
	AttemptNumber  int           `json:"attempt_number"`
	Status         AttemptStatus `json:"status"`
	HTTPStatusCode *int          `json:"http_status_code,omitempty"`
	Error          string        `json:"error,omitempty"`
	WillRetry      bool          `json:"will_retry"`
	Disabled       bool          `json:"disabled,omitempty"`
	At             time.Time     `json:"at"`
}

// Principal is the authenticated API credential making a request.
type Principal struct {
	CredentialID string
	Scopes       []string
}
