package httpx

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// windowScript bumps the counter, opens the window on the first hit and
// reports the count with the remaining window in milliseconds.
var windowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {hits, redis.call("PTTL", KEYS[1])}
`)

// sharedLimiter keeps windows in Redis so every API replica charges the
// same budget.
type sharedLimiter struct {
	rdb     *redis.Client
	log     *slog.Logger
	timeout time.Duration
}

// NewRedisRateLimiter connects to Redis and returns a RateLimiter shared by
// all API processes using the same database.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &sharedLimiter{rdb: rdb, log: logger, timeout: 250 * time.Millisecond}, nil
}

// Allow admits the request when Redis cannot answer.
func (l *sharedLimiter) Allow(ctx context.Context, key string, limit int, span time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if span <= 0 {
		span = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	reply, err := windowScript.Run(ctx, l.rdb, []string{"teamforge:rl:" + key}, span.Milliseconds()).Int64Slice()
	if err != nil || len(reply) != 2 {
		l.log.Warn("shared rate limiter unavailable", "key", key, "error", err)
		return rateDecision{allowed: true}
	}
	hits, ttl := int(reply[0]), time.Duration(reply[1])*time.Millisecond
	if ttl <= 0 {
		ttl = span
	}
	return rateDecision{allowed: hits <= limit, count: hits, windowEnd: time.Now().Add(ttl)}
}

func (l *sharedLimiter) Close() {
	if err := l.rdb.Close(); err != nil {
		l.log.Warn("close rate limiter redis client", "error", err)
	}
}
