package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
)

// uniqueKey returns a rate limit key no other test run shares.
func uniqueKey(t *testing.T, prefix string) string {
	t.Helper()
	key := prefix + ":" + uuid.Must(uuid.NewV7()).String()
	t.Cleanup(func() {
		testRedis.Del(context.Background(), "ratelimit:"+key, "ratelimit:lock:"+key)
	})
	return key
}

// --- RedisRateLimiter.Allow ---

func TestRedisRateLimiterAllow(t *testing.T) {
	requireRedis(t)
	ctx := context.Background()
	rl := NewRedisRateLimiter(testRedis)
	policy := RateLimit{MaxAttempts: 3, Window: time.Minute, LockoutTTL: time.Minute}

	t.Run("allows up to MaxAttempts then locks out", func(t *testing.T) {
		key := uniqueKey(t, "oauth_start")
		for i := range policy.MaxAttempts {
			if err := rl.Allow(ctx, key, policy); err != nil {
				t.Fatalf("attempt %d: expected allowed, got %v", i+1, err)
			}
		}
		if err := rl.Allow(ctx, key, policy); !errors.Is(err, ErrRateLimitExceeded) {
			t.Fatalf("attempt %d: expected ErrRateLimitExceeded, got %v", policy.MaxAttempts+1, err)
		}
		// Still locked on the next try, counter reset or not.
		if err := rl.Allow(ctx, key, policy); !errors.Is(err, ErrRateLimitExceeded) {
			t.Errorf("expected lockout to persist, got %v", err)
		}

		ttl, err := testRedis.PTTL(ctx, "ratelimit:lock:"+key).Result()
		if err != nil {
			t.Fatalf("PTTL: %v", err)
		}
		if ttl <= 0 || ttl > policy.LockoutTTL {
			t.Errorf("lockout ttl: expected (0, %v], got %v", policy.LockoutTTL, ttl)
		}
	})

	t.Run("keys are independent", func(t *testing.T) {
		a := uniqueKey(t, "provision")
		b := uniqueKey(t, "provision")
		for range policy.MaxAttempts + 1 {
			rl.Allow(ctx, a, policy)
		}
		if err := rl.Allow(ctx, b, policy); err != nil {
			t.Errorf("other key should be unaffected, got %v", err)
		}
	})

	t.Run("window expiry resets the counter", func(t *testing.T) {
		key := uniqueKey(t, "oauth_start")
		short := RateLimit{MaxAttempts: 1, Window: 50 * time.Millisecond, LockoutTTL: time.Minute}
		if err := rl.Allow(ctx, key, short); err != nil {
			t.Fatalf("first attempt: %v", err)
		}
		time.Sleep(120 * time.Millisecond)
		if err := rl.Allow(ctx, key, short); err != nil {
			t.Errorf("attempt after window: expected allowed, got %v", err)
		}
	})

	t.Run("zero policy disables limiting", func(t *testing.T) {
		key := uniqueKey(t, "oauth_start")
		for range 10 {
			if err := rl.Allow(ctx, key, RateLimit{}); err != nil {
				t.Fatalf("expected allowed, got %v", err)
			}
		}
		n, _ := testRedis.Exists(ctx, "ratelimit:"+key).Result()
		if n != 0 {
			t.Error("disabled policy should not touch redis")
		}
	})
}

// --- RedisRateLimiter.CheckHealth ---

func TestRedisRateLimiterCheckHealth(t *testing.T) {
	requireRedis(t)
	if err := NewRedisRateLimiter(testRedis).CheckHealth(context.Background()); err != nil {
		t.Errorf("CheckHealth: %v", err)
	}
}

// --- NewRedisClient ---

func TestNewRedisClientBadURL(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), "not a url"); err == nil {
		t.Error("expected error for malformed url")
	}
}
