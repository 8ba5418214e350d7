// redis.go -- go-redis client and Redis-backed rate limiter.
//
// One client (one connection pool) is created at startup and shared by
// every Redis-backed struct.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL, connects, and pings.
// Call once at startup from main.go; close it via defer.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// RedisRateLimiter counts attempts per key in a fixed window and locks the key
// out once the policy's MaxAttempts is exceeded.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter wraps the shared client.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb}
}

// allowScript runs the check-and-record atomically.
//
//	KEYS[1] attempt counter, KEYS[2] lockout marker
//	ARGV[1] max attempts, ARGV[2] window ms, ARGV[3] lockout ms
//
// Returns 1 when allowed, 0 when locked out.
var allowScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
	redis.call("SET", KEYS[2], "1", "PX", ARGV[3])
	redis.call("DEL", KEYS[1])
	return 0
end
return 1
`)

// Allow records an attempt for key and reports whether it is within policy.
// Returns ErrRateLimitExceeded when locked out; other errors are Redis failures.
// A policy with MaxAttempts <= 0 disables limiting.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	if policy.MaxAttempts <= 0 || policy.Window <= 0 || policy.LockoutTTL <= 0 {
		return nil
	}
	res, err := allowScript.Run(ctx, l.rdb,
		[]string{"ratelimit:" + key, "ratelimit:lock:" + key},
		policy.MaxAttempts, policy.Window.Milliseconds(), policy.LockoutTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("running rate limit script: %w", err)
	}
	if res == 0 {
		return ErrRateLimitExceeded
	}
	return nil
}

// CheckHealth pings Redis.
func (l *RedisRateLimiter) CheckHealth(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}
