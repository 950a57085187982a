package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a fixed-window counter shared by every instance using the same Redis.
type RedisStore struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedisStore(client *redis.Client, limit int, window time.Duration) *RedisStore {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RedisStore{client: client, limit: limit, window: window, prefix: "hookrelay:ratelimit:"}
}

func (s *RedisStore) Allow(ctx context.Context, key string) (Result, error) {
	k := s.prefix + key
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis: %w", err)
	}
	// a key without expiry was just created by INCR; start its window
	if ttl.Val() < 0 {
		if err := s.client.PExpire(ctx, k, s.window).Err(); err != nil {
			return Result{}, fmt.Errorf("ratelimit: redis: %w", err)
		}
	}
	n := int(incr.Val())
	res := Result{Limit: s.limit, Remaining: max(0, s.limit-n)}
	if n <= s.limit {
		res.Allowed = true
		return res, nil
	}
	res.RetryAfter = ttl.Val()
	if res.RetryAfter <= 0 {
		res.RetryAfter = s.window
	}
	return res, nil
}
