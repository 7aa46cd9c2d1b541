package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Youssef-Hatem/policylens/internal/config"
	"github.com/Youssef-Hatem/policylens/internal/service"
)

const forceKeyPrefix = "pl:force:"

// forceWindowScript counts the request in a fixed window and stamps the
// window TTL on first use. Returns {count, ttl_remaining_seconds}.
var forceWindowScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])

local count = redis.call("INCR", key)
if count == 1 then
	redis.call("EXPIRE", key, window)
end
local ttl = redis.call("TTL", key)
if ttl < 0 then
	ttl = window
end
return {count, ttl}
`)

// ForceLimiter caps cache-bypassing submissions per origin using a fixed
// window counter.
type ForceLimiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
}

func NewForceLimiter(rdb *redis.Client, cfg config.ForceAnalyzeConfig) service.ForceLimiter {
	return &ForceLimiter{
		rdb:    rdb,
		limit:  int64(cfg.Limit),
		window: cfg.Window,
	}
}

func (l *ForceLimiter) Allow(ctx context.Context, origin string) (bool, time.Duration, error) {
	if origin == "" {
		origin = "unknown"
	}
	res, err := forceWindowScript.Run(ctx, l.rdb,
		[]string{forceKeyPrefix + origin},
		int64(l.window.Seconds())).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("force limiter: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("force limiter: unexpected script reply")
	}
	count, ttl := res[0], time.Duration(res[1])*time.Second
	if count > l.limit {
		return false, ttl, nil
	}
	return true, 0, nil
}
