package webhooks

import "errors"

var (
	ErrInvalidURL     = errors.New("invalid webhook url")
	ErrUnknownTrigger = errors.New("unknown trigger type")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("webhook not found")
	ErrDisabled       = errors.New("webhook is disabled")
	ErrInvalidPayload = errors.New("invalid event payload")
	ErrNotAccepting   = errors.New("delivery scheduler is not accepting work")
)
