// Package ratelimit throttles backend calls per credential so clients can be
// exercised against 429 responses.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "testlogger:rl"

// Bucket sizes a per-credential token bucket.
type Bucket struct {
	RequestsPerMinute int
	BurstSize         int
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

func (b Bucket) perMilli() float64 { return float64(b.RequestsPerMinute) / float64(time.Minute/time.Millisecond) }

// Decision is the outcome of one Allow call. Remaining is the whole number of
// tokens left after it.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the credential may make another call on a route.
type Limiter interface {
	Allow(ctx context.Context, route string, credential string, bucket Bucket) (Decision, error)
}

// TokenBucketLimiter keeps bucket state in Redis so every backend replica
// throttles the same credential consistently.
type TokenBucketLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewTokenBucketLimiter(rdb *redis.Client) *TokenBucketLimiter {
	return &TokenBucketLimiter{rdb: rdb, now: time.Now}
}

// KEYS[1] bucket hash; ARGV: refill per ms, capacity, now ms, ttl ms.
// Returns {allowed, remaining, wait ms}.
var takeScript = redis.NewScript(`
local per_ms, cap, now, ttl = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4])
local state = redis.call("HMGET", KEYS[1], "level", "at")
local level = tonumber(state[1]) or cap
local at = tonumber(state[2]) or now
if at > now then at = now end

level = math.min(cap, level + (now - at) * per_ms)
local wait = 0
local ok = 0
if level >= 1 then
  ok = 1
  level = level - 1
else
  wait = math.ceil((1 - level) / per_ms)
end

redis.call("HSET", KEYS[1], "level", tostring(level), "at", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {ok, math.floor(level), wait}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, route string, credential string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}

	nowMS := l.now().UTC().UnixMilli()
	ttl := bucketTTL(bucket)
	res, err := takeScript.Run(ctx, l.rdb, []string{bucketKey(route, credential)},
		bucket.perMilli(), bucket.BurstSize, nowMS, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}

	dec := Decision{Allowed: res[0] == 1, Remaining: int(res[1])}
	if !dec.Allowed {
		dec.RetryAfter = time.Duration(res[2]) * time.Millisecond
		if dec.RetryAfter < time.Second {
			dec.RetryAfter = time.Second
		}
	}
	return dec, nil
}

// bucketKey hashes the credential so tokens never appear in Redis keys.
func bucketKey(route, credential string) string {
	route = strings.TrimSpace(route)
	if route == "" {
		route = "default"
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		credential = "anonymous"
	}
	sum := sha256.Sum256([]byte(credential))
	return keyPrefix + ":" + route + ":" + hex.EncodeToString(sum[:])
}

// bucketTTL keeps idle state for two refill-to-full cycles, clamped to
// [30s, 1h].
func bucketTTL(b Bucket) time.Duration {
	const (
		minTTL = 30 * time.Second
		maxTTL = time.Hour
	)
	if !b.Enabled() {
		return 2 * time.Minute
	}
	fill := float64(b.BurstSize) / b.perMilli()
	ttl := time.Duration(math.Ceil(2*fill))*time.Millisecond + 5*time.Second
	return min(max(ttl, minTTL), maxTTL)
}
