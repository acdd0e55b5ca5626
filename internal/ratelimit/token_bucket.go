// Package ratelimit is a redis-backed token bucket keyed by an arbitrary
// subject (the proxy keys it by client IP). State lives in redis so limits
// hold across replicas.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type TokenBucket struct {
	client      redis.UniversalClient
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
	script      *redis.Script
}

// refill and take happen atomically in redis; the script returns
// {allowed, remaining, retry_after_ms}.
const bucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local state = redis.call("HMGET", key, "tokens", "stamp")
local tokens = tonumber(state[1])
local stamp = tonumber(state[2])

if tokens == nil then
  tokens = capacity
end
if stamp == nil then
  stamp = now_ms
end

local elapsed = math.max(0, now_ms - stamp)
tokens = math.min(capacity, tokens + (elapsed * refill_per_ms))

local allowed = 0
local retry_after_ms = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
else
  retry_after_ms = math.ceil((requested - tokens) / refill_per_ms)
end

redis.call("HMSET", key, "tokens", tokens, "stamp", now_ms)
redis.call("PEXPIRE", key, ttl_ms)

return {allowed, math.floor(tokens), retry_after_ms}
`

// NewTokenBucket allows capacity requests per window, refilling continuously.
func NewTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*TokenBucket, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "pixelthrift:ratelimit"
	}

	windowMS := window.Milliseconds()
	if windowMS < 1 {
		windowMS = 1
	}

	return &TokenBucket{
		client:      client,
		capacity:    int64(capacity),
		refillPerMS: float64(capacity) / float64(windowMS),
		ttl:         2 * window,
		keyPrefix:   keyPrefix,
		now:         time.Now,
		script:      redis.NewScript(bucketScript),
	}, nil
}

func (b *TokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "unknown"
	}

	key := b.keyPrefix + ":" + subject
	nowMS := b.now().UTC().UnixMilli()
	raw, err := b.script.Run(
		ctx,
		b.client,
		[]string{key},
		b.capacity,
		b.refillPerMS,
		nowMS,
		1,
		b.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("unexpected token bucket reply")
	}

	allowed, err := replyInt(values[0])
	if err != nil {
		return Decision{}, fmt.Errorf("parse allowed: %w", err)
	}
	remaining, err := replyInt(values[1])
	if err != nil {
		return Decision{}, fmt.Errorf("parse remaining: %w", err)
	}
	retryAfterMS, err := replyInt(values[2])
	if err != nil {
		return Decision{}, fmt.Errorf("parse retry-after: %w", err)
	}

	return Decision{
		Allowed:    allowed == 1,
		Remaining:  remaining,
		RetryAfter: time.Duration(retryAfterMS) * time.Millisecond,
	}, nil
}

func replyInt(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported reply type %T", in)
	}
}
