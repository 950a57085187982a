package webhooks

import "time"

// Backoff returns the delay before the attempt that follows attempt (1-based).
type Backoff interface {
	NextInterval(attempt int) time.Duration
}

// TableBackoff indexes a fixed delay table by attempt number, repeating the last
// entry once the table is exhausted.
type TableBackoff []time.Duration

// DefaultBackoff waits 1s, then 5s, then triples: 15s, 45s, 135s.
var DefaultBackoff = TableBackoff{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
	45 * time.Second,
	135 * time.Second,
}

const DefaultMaxAttempts = 5

func (t TableBackoff) NextInterval(attempt int) time.Duration {
	if len(t) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(t) {
		attempt = len(t)
	}
	return t[attempt-1]
}
