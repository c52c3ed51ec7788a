package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindowLimiterBlocksAfterLimit(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(mr.Addr(), "", "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	if !limiter.Allow(ctx, "login:203.0.113.1") {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow(ctx, "login:203.0.113.1") {
		t.Fatalf("second request should pass")
	}
	if limiter.Allow(ctx, "login:203.0.113.1") {
		t.Fatalf("third request should be blocked")
	}
	if !limiter.Allow(ctx, "login:203.0.113.2") {
		t.Fatalf("other keys keep their own quota")
	}
}

func TestFixedWindowLimiterResetsOnNextWindow(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter, err := NewFixedWindowLimiter(client, "", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return start }
	if !limiter.Allow(ctx, "k") || limiter.Allow(ctx, "k") {
		t.Fatalf("expected exactly one request in the first window")
	}
	limiter.now = func() time.Time { return start.Add(time.Minute) }
	if !limiter.Allow(ctx, "k") {
		t.Fatalf("expected fresh quota in the next window")
	}
}

func TestFixedWindowLimiterFailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(mr.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	mr.Close()
	if limiter.Allow(context.Background(), "ip-1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterValidatesArguments(t *testing.T) {
	if l, err := NewRedisFixedWindowLimiter("", "", "x", 1, time.Second); err == nil || l != nil {
		t.Fatalf("expected error for empty redis addr")
	}
	if _, err := NewFixedWindowLimiter(nil, "x", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	if _, err := NewFixedWindowLimiter(client, "x", 0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}
