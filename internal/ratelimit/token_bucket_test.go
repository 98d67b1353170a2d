package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newLimiter(t *testing.T) (*TokenBucketLimiter, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	lim := NewTokenBucketLimiter(rdb)
	lim.now = func() time.Time { return now }
	return lim, &now
}

func TestTokenBucketLimiter_Allow_Disabled(t *testing.T) {
	lim, _ := newLimiter(t)

	dec, err := lim.Allow(context.Background(), "results", "pat-1", Bucket{})
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allowed when bucket disabled")
	}
}

func TestTokenBucketLimiter_Allow_BlocksAfterBurst(t *testing.T) {
	lim, now := newLimiter(t)
	ctx := context.Background()
	bucket := Bucket{RequestsPerMinute: 60, BurstSize: 1}

	dec1, err := lim.Allow(ctx, "results", "pat-1", bucket)
	if err != nil {
		t.Fatalf("allow 1: %v", err)
	}
	if !dec1.Allowed {
		t.Fatalf("expected first request to be allowed")
	}

	dec2, err := lim.Allow(ctx, "results", "pat-1", bucket)
	if err != nil {
		t.Fatalf("allow 2: %v", err)
	}
	if dec2.Allowed {
		t.Fatalf("expected second request to be rate limited")
	}
	if dec2.RetryAfter <= 0 {
		t.Fatalf("expected retryAfter to be set")
	}

	decOther, err := lim.Allow(ctx, "results", "pat-2", bucket)
	if err != nil {
		t.Fatalf("allow other: %v", err)
	}
	if !decOther.Allowed {
		t.Fatalf("expected other credential to have an independent bucket")
	}

	*now = now.Add(2 * time.Second)
	dec3, err := lim.Allow(ctx, "results", "pat-1", bucket)
	if err != nil {
		t.Fatalf("allow 3: %v", err)
	}
	if !dec3.Allowed {
		t.Fatalf("expected bucket to refill")
	}
}

func TestDecisionReportsRemainingTokens(t *testing.T) {
	lim, _ := newLimiter(t)
	ctx := context.Background()
	bucket := Bucket{RequestsPerMinute: 60, BurstSize: 3}

	for want := 2; want >= 0; want-- {
		dec, err := lim.Allow(ctx, "results", "pat-1", bucket)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !dec.Allowed || dec.Remaining != want {
			t.Fatalf("got %+v, want allowed with %d remaining", dec, want)
		}
	}
	dec, err := lim.Allow(ctx, "results", "pat-1", bucket)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if dec.Allowed || dec.RetryAfter != time.Second {
		t.Fatalf("got %+v, want denied with 1s retry", dec)
	}
}

func TestBucketKeyHidesCredential(t *testing.T) {
	k := bucketKey("results", "pat-secret")
	if strings.Contains(k, "pat-secret") || !strings.HasPrefix(k, "testlogger:rl:results:") {
		t.Fatalf("unexpected key %q", k)
	}
	if bucketKey(" ", "") != bucketKey("default", "anonymous") {
		t.Fatalf("blank route and credential should fall back to defaults")
	}
}

func TestBucketTTL(t *testing.T) {
	if got := bucketTTL(Bucket{}); got != 2*time.Minute {
		t.Errorf("disabled bucket ttl: %v", got)
	}
	if got := bucketTTL(Bucket{RequestsPerMinute: 60000, BurstSize: 1}); got != 30*time.Second {
		t.Errorf("expected min ttl, got %v", got)
	}
	if got := bucketTTL(Bucket{RequestsPerMinute: 1, BurstSize: 1000}); got != time.Hour {
		t.Errorf("expected max ttl, got %v", got)
	}
	if got := bucketTTL(Bucket{RequestsPerMinute: 60, BurstSize: 30}); got != 65*time.Second {
		t.Errorf("expected two fill cycles plus slack, got %v", got)
	}
}
