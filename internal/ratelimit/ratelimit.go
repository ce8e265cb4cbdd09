// Package ratelimit implements a Redis token-bucket rate limiter per task
// name, exposed as a filter.PreFilter so it composes into the executor's
// filter chain (spec §4.10). Grounded on the teacher's
// internal/service/ratelimiter.RedisLuaLimiter token-bucket Lua script,
// generalized from a provider-cost rate limit keyed by AI provider name to
// one keyed by task name, and with the Postgres mirroring dropped since
// nothing here needs a durable bucket snapshot across Redis restarts.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/taskqueue/internal/domain"
	"github.com/fairyhunter13/taskqueue/internal/filter"
)

// BucketConfig configures one task's token bucket: Capacity tokens,
// refilled at RefillRate tokens/second.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64
}

// PerMinute builds a BucketConfig capped at perMinute executions/minute.
func PerMinute(perMinute int) BucketConfig {
	if perMinute <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{Capacity: int64(perMinute), RefillRate: float64(perMinute) / 60.0}
}

const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end

tokens = math.min(capacity, tokens + delta * refill_rate)
last_refill = now

local allowed = 0
local retry_after = 0

if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  local shortage = cost - tokens
  if refill_rate > 0 then
    retry_after = shortage / refill_rate
  else
    retry_after = 0
  end
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)

return { allowed, retry_after }
`

// Limiter is a Redis-backed token-bucket limiter, one bucket per task name.
type Limiter struct {
	rdb     *redis.Client
	script  *redis.Script
	mu      sync.RWMutex
	buckets map[string]BucketConfig
}

// New constructs a Limiter. Tasks with no configured bucket are never
// throttled.
func New(rdb *redis.Client, buckets map[string]BucketConfig) *Limiter {
	if buckets == nil {
		buckets = map[string]BucketConfig{}
	}
	return &Limiter{rdb: rdb, script: redis.NewScript(luaTokenBucketScript), buckets: buckets}
}

// SetBucket configures (or reconfigures) the bucket for a task name.
func (l *Limiter) SetBucket(taskName string, cfg BucketConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[taskName] = cfg
}

// Allow consumes one token from taskName's bucket, returning false and a
// retry-after duration when the bucket is empty. Fails open (allowed=true)
// on a missing bucket config or a Redis error, so a limiter outage never
// blocks task execution outright.
func (l *Limiter) Allow(ctx context.Context, taskName string) (bool, time.Duration, error) {
	l.mu.RLock()
	cfg, ok := l.buckets[taskName]
	l.mu.RUnlock()
	if !ok || cfg.Capacity <= 0 || cfg.RefillRate <= 0 {
		return true, 0, nil
	}

	now := float64(time.Now().UnixNano()) / 1e9
	res, err := l.script.Run(ctx, l.rdb, []string{"ratelimit:" + taskName}, cfg.Capacity, cfg.RefillRate, now, 1).Result()
	if err != nil {
		return true, 0, fmt.Errorf("op=ratelimit.allow: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return true, 0, nil
	}
	allowed := toInt64(vals[0]) == 1
	retryAfter := time.Duration(toFloat64(vals[1]) * float64(time.Second))
	return allowed, retryAfter, nil
}

// PreFilter adapts Limiter into a filter.PreFilter: when the bucket for
// fc.TaskName is exhausted, it short-circuits with a domain.Retry so the
// executor's standard backoff/requeue path handles the delay.
func (l *Limiter) PreFilter() filter.PreFilter {
	return func(ctx context.Context, fc *filter.Context, input any) (any, error, bool) {
		allowed, retryAfter, err := l.Allow(ctx, fc.TaskName)
		if err != nil || allowed {
			return nil, nil, false
		}
		return nil, &domain.Retry{Countdown: &retryAfter, Cause: fmt.Errorf("op=ratelimit.prefilter: rate limit exceeded for task %q", fc.TaskName)}, true
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}
