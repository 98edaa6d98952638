package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RateLimiter admits at most a fixed number of events per key in a window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, resetAt time.Time)
}

// slidingWindowScript keeps one sorted-set member per admitted event,
// scored by its millisecond timestamp. It returns {allowed, resetAtMillis}
// where resetAt is when the oldest event in the window ages out.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowMs = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - windowMs)

if redis.call('ZCARD', key) >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    if #oldest == 2 then
        return {0, tonumber(oldest[2]) + windowMs}
    end
    return {0, now + windowMs}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, windowMs)
return {1, now + windowMs}
`)

// RedisRateLimiter shares its counters across server instances. Failures
// to reach Redis deny the request.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, time.Time) {
	now := time.Now()
	fullKey := "ratelimit:" + rl.prefix + ":" + key

	result, err := slidingWindowScript.Run(ctx, rl.client, []string{fullKey},
		now.UnixMilli(), rl.window.Milliseconds(), rl.limit, uuid.NewString(),
	).Int64Slice()
	if err == nil && len(result) != 2 {
		err = fmt.Errorf("unexpected script result %v", result)
	}
	if err != nil {
		log.Warn().Err(err).Str("key", fullKey).Msg("rate limit check failed, denying request")
		return false, now.Add(rl.window)
	}

	return result[0] == 1, time.UnixMilli(result[1])
}

type windowCount struct {
	count       int
	windowStart time.Time
}

// MemoryRateLimiter is a fixed-window limiter for single-instance
// deployments without Redis.
type MemoryRateLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	counts      map[string]*windowCount
	lastCleanup time.Time
	now         func() time.Time
}

func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limit:       limit,
		window:      window,
		counts:      make(map[string]*windowCount),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanup(now)

	entry, exists := l.counts[key]
	if !exists || now.Sub(entry.windowStart) >= l.window {
		l.counts[key] = &windowCount{count: 1, windowStart: now}
		return true, now.Add(l.window)
	}

	resetAt := entry.windowStart.Add(l.window)
	if entry.count >= l.limit {
		return false, resetAt
	}
	entry.count++
	return true, resetAt
}

// cleanup drops expired windows at most once per five windows.
func (l *MemoryRateLimiter) cleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < 5*l.window {
		return
	}
	l.lastCleanup = now

	for key, entry := range l.counts {
		if now.Sub(entry.windowStart) >= l.window {
			delete(l.counts, key)
		}
	}
}
