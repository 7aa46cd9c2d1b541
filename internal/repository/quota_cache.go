package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Youssef-Hatem/policylens/internal/domain"
	"github.com/Youssef-Hatem/policylens/internal/service"
)

const quotaKeyPrefix = "pl:quota:"

// recordUsageScript increments both counters of one period and stamps the
// TTL only when the key is fresh, in a single round trip.
var recordUsageScript = redis.NewScript(`
local tokens_key = KEYS[1]
local requests_key = KEYS[2]
local tokens = tonumber(ARGV[1])
local requests = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

redis.call("INCRBY", tokens_key, tokens)
redis.call("INCRBY", requests_key, requests)
if redis.call("TTL", tokens_key) < 0 then
	redis.call("EXPIRE", tokens_key, ttl)
end
if redis.call("TTL", requests_key) < 0 then
	redis.call("EXPIRE", requests_key, ttl)
end
return 1
`)

// reserveScript checks all four budgets and books the reservation in one
// atomic step. It returns the denial reason for the first exhausted budget,
// or an empty string after incrementing every counter. The denial order
// matches the tracker's reporting order: daily before hourly, tokens before
// requests.
var reserveScript = redis.NewScript(`
local dt_key = KEYS[1]
local dr_key = KEYS[2]
local ht_key = KEYS[3]
local hr_key = KEYS[4]
local tokens = tonumber(ARGV[1])
local dt_limit = tonumber(ARGV[2])
local dr_limit = tonumber(ARGV[3])
local ht_limit = tonumber(ARGV[4])
local hr_limit = tonumber(ARGV[5])
local daily_ttl = tonumber(ARGV[6])
local hourly_ttl = tonumber(ARGV[7])

local dt = tonumber(redis.call("GET", dt_key) or "0")
local dr = tonumber(redis.call("GET", dr_key) or "0")
local ht = tonumber(redis.call("GET", ht_key) or "0")
local hr = tonumber(redis.call("GET", hr_key) or "0")

if dt + tokens > dt_limit then
	return "daily token quota exhausted"
end
if dr + 1 > dr_limit then
	return "daily request quota exhausted"
end
if ht + tokens > ht_limit then
	return "hourly token quota exhausted"
end
if hr + 1 > hr_limit then
	return "hourly request quota exhausted"
end

redis.call("INCRBY", dt_key, tokens)
redis.call("INCR", dr_key)
redis.call("INCRBY", ht_key, tokens)
redis.call("INCR", hr_key)
if redis.call("TTL", dt_key) < 0 then
	redis.call("EXPIRE", dt_key, daily_ttl)
end
if redis.call("TTL", dr_key) < 0 then
	redis.call("EXPIRE", dr_key, daily_ttl)
end
if redis.call("TTL", ht_key) < 0 then
	redis.call("EXPIRE", ht_key, hourly_ttl)
end
if redis.call("TTL", hr_key) < 0 then
	redis.call("EXPIRE", hr_key, hourly_ttl)
end
return ""
`)

// QuotaCache holds the per-provider period counters.
type QuotaCache struct {
	rdb *redis.Client
}

func NewQuotaCache(rdb *redis.Client) service.QuotaCache {
	return &QuotaCache{rdb: rdb}
}

func quotaKey(provider, period, periodKey, metric string) string {
	return fmt.Sprintf("%s%s:%s:%s:%s", quotaKeyPrefix, provider, period, periodKey, metric)
}

func (c *QuotaCache) Usage(ctx context.Context, provider, period, periodKey string) (int64, int64, error) {
	pipe := c.rdb.Pipeline()
	tokensCmd := pipe.Get(ctx, quotaKey(provider, period, periodKey, "tokens"))
	requestsCmd := pipe.Get(ctx, quotaKey(provider, period, periodKey, "requests"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, fmt.Errorf("quota usage: %w", err)
	}
	tokens, _ := tokensCmd.Int64()
	requests, _ := requestsCmd.Int64()
	return tokens, requests, nil
}

func (c *QuotaCache) Add(ctx context.Context, provider, period, periodKey string, tokens, requests int64, ttl time.Duration) error {
	keys := []string{
		quotaKey(provider, period, periodKey, "tokens"),
		quotaKey(provider, period, periodKey, "requests"),
	}
	err := recordUsageScript.Run(ctx, c.rdb, keys,
		tokens, requests, int64(ttl.Seconds())).Err()
	if err != nil {
		return fmt.Errorf("quota add: %w", err)
	}
	return nil
}

func (c *QuotaCache) Reserve(ctx context.Context, provider string, r service.QuotaReservation) (string, error) {
	keys := []string{
		quotaKey(provider, domain.QuotaPeriodDaily, r.DailyKey, "tokens"),
		quotaKey(provider, domain.QuotaPeriodDaily, r.DailyKey, "requests"),
		quotaKey(provider, domain.QuotaPeriodHourly, r.HourlyKey, "tokens"),
		quotaKey(provider, domain.QuotaPeriodHourly, r.HourlyKey, "requests"),
	}
	denial, err := reserveScript.Run(ctx, c.rdb, keys,
		r.Tokens,
		r.DailyTokenLimit, r.DailyRequestLimit,
		r.HourlyTokenLimit, r.HourlyRequestLimit,
		int64(r.DailyTTL.Seconds()), int64(r.HourlyTTL.Seconds())).Text()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("quota reserve: %w", err)
	}
	return denial, nil
}

func (c *QuotaCache) Reset(ctx context.Context, provider string) error {
	pattern := quotaKeyPrefix + provider + ":*"
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return fmt.Errorf("quota reset scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("quota reset del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
