package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// fixedWindowScript increments the counter and starts the window on the first
// hit. Returns {count, pttl}.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter shares windows across instances through Redis.
type RedisLimiter struct {
	rdb redis.Scripter
	log zerolog.Logger
}

// NewRedisLimiter creates a limiter backed by rdb.
func NewRedisLimiter(rdb redis.Scripter, log zerolog.Logger) *RedisLimiter {
	return &RedisLimiter{
		rdb: rdb,
		log: log.With().Str("component", "redis_rate_limiter").Logger(),
	}
}

// Check counts one request against key. Redis failures fail open.
func (l *RedisLimiter) Check(ctx context.Context, key string, max int, win time.Duration) Result {
	vals, err := fixedWindowScript.Run(ctx, l.rdb, []string{key}, win.Milliseconds()).Int64Slice()
	if err != nil || len(vals) != 2 {
		l.log.Warn().Err(err).Str("key", key).Msg("Rate limit check failed, allowing request")
		return Result{Allowed: true, Remaining: max, ResetIn: win}
	}

	count, ttl := vals[0], vals[1]
	return Result{
		Allowed:   count <= int64(max),
		Remaining: remaining(max, count),
		ResetIn:   time.Duration(ttl) * time.Millisecond,
	}
}
