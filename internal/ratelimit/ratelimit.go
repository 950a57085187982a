// Package ratelimit provides keyed request limiting behind an injectable Store.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrLimited = errors.New("rate limit exceeded")

// Result describes the limiter decision for one request.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Store decides whether a request identified by key may proceed.
type Store interface {
	Allow(ctx context.Context, key string) (Result, error)
}
