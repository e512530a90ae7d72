package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowLimiterRedis(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:push", 2, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	ctx := context.Background()
	for i, want := range []bool{true, true, false} {
		got, err := limiter.Allow(ctx, "u2")
		if err != nil {
			t.Fatalf("allow #%d: %v", i, err)
		}
		if got != want {
			t.Fatalf("allow #%d = %v, want %v", i, got, want)
		}
	}
	if ok, _ := limiter.Allow(ctx, "u3"); !ok {
		t.Fatalf("other receivers keep their own budget")
	}
}

func TestFixedWindowLimiterResetsNextWindow(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:push", 1, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()
	if ok, _ := limiter.Allow(ctx, "u2"); !ok {
		t.Fatalf("first push should pass")
	}
	if ok, _ := limiter.Allow(ctx, "u2"); ok {
		t.Fatalf("second push in window should be blocked")
	}
	now = now.Add(time.Minute)
	if ok, _ := limiter.Allow(ctx, "u2"); !ok {
		t.Fatalf("push in next window should pass")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:push", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	redis.Close()
	ok, err := limiter.Allow(context.Background(), "u2")
	if ok || err == nil {
		t.Fatalf("limiter should fail closed on redis errors, got ok=%v err=%v", ok, err)
	}
}

func TestFixedWindowLimiterRequiresRedisAddr(t *testing.T) {
	limiter, err := NewRedisFixedWindowLimiter("", "", "test:push", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
}
