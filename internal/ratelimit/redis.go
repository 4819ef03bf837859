package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces limiter keys in Redis
const KeyPrefix = "ratelimit:"

// allowScript opens a window on the first hit and refuses further hits
// once the limit is reached without touching the counter.
// Returns {allowed, count, pttl}.
var allowScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = tonumber(redis.call('GET', key) or '0')
	if current == 0 then
		redis.call('SET', key, 1, 'PX', window)
		return {1, 1, window}
	end

	local ttl = redis.call('PTTL', key)
	if ttl < 0 then
		redis.call('PEXPIRE', key, window)
		ttl = window
	end

	if current >= limit then
		return {0, current, ttl}
	end

	local count = redis.call('INCR', key)
	return {1, count, ttl}
`)

// RedisLimiter shares fixed windows between processes
type RedisLimiter struct {
	redis redis.Cmdable
	now   func() time.Time
}

// NewRedisLimiter creates a limiter backed by client
func NewRedisLimiter(client redis.Cmdable) *RedisLimiter {
	return &RedisLimiter{redis: client, now: time.Now}
}

// Allow runs the window script atomically for key
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	windowMs := max(int64(1), window.Milliseconds())

	result, err := allowScript.Run(ctx, l.redis, []string{KeyPrefix + key}, limit, windowMs).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(result) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply: %v", result)
	}

	count := int(result[1])
	return Decision{
		OK:        result[0] == 1,
		Remaining: max(0, limit-count),
		ResetAt:   l.now().Add(time.Duration(result[2]) * time.Millisecond),
	}, nil
}
