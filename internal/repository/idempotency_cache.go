package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Youssef-Hatem/policylens/internal/service"
)

const (
	idempotencyKeyPrefix = "pl:idem:"
	idempotencyHitsKey   = "pl:idem:stats:hits"
	idempotencyMissesKey = "pl:idem:stats:misses"

	// statsKeyScanLimit caps the SCAN work of the stats probe.
	statsKeyScanLimit = 100_000
)

// IdempotencyCache stores terminal analysis results under their request
// fingerprint. Redis TTL is the expiry index; nothing is reaped manually.
type IdempotencyCache struct {
	rdb *redis.Client
}

func NewIdempotencyCache(rdb *redis.Client) service.IdempotencyCache {
	return &IdempotencyCache{rdb: rdb}
}

func (c *IdempotencyCache) Get(ctx context.Context, key string) (*service.AnalysisResponse, error) {
	raw, err := c.rdb.Get(ctx, idempotencyKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.rdb.Incr(context.WithoutCancel(ctx), idempotencyMissesKey)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency get: %w", err)
	}

	var resp service.AnalysisResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("idempotency decode: %w", err)
	}
	c.rdb.Incr(context.WithoutCancel(ctx), idempotencyHitsKey)
	return &resp, nil
}

func (c *IdempotencyCache) Store(ctx context.Context, key string, resp *service.AnalysisResponse, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("idempotency encode: %w", err)
	}
	if err := c.rdb.Set(ctx, idempotencyKeyPrefix+key, raw, jitteredTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}
	return nil
}

// Has is a pure existence probe; unlike Get it leaves the hit and miss
// counters alone.
func (c *IdempotencyCache) Has(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, idempotencyKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency has: %w", err)
	}
	return n > 0, nil
}

func (c *IdempotencyCache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, idempotencyKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency delete: %w", err)
	}
	return nil
}

func (c *IdempotencyCache) Stats(ctx context.Context) (*service.CacheStats, error) {
	stats := &service.CacheStats{}
	stats.Hits, _ = c.rdb.Get(ctx, idempotencyHitsKey).Int64()
	stats.Misses, _ = c.rdb.Get(ctx, idempotencyMissesKey).Int64()

	var cursor uint64
	scanned := 0
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, idempotencyKeyPrefix+"*", 500).Result()
		if err != nil {
			return nil, fmt.Errorf("idempotency stats scan: %w", err)
		}
		for _, k := range keys {
			if k != idempotencyHitsKey && k != idempotencyMissesKey {
				stats.Keys++
			}
		}
		scanned += len(keys)
		cursor = next
		if cursor == 0 || scanned >= statsKeyScanLimit {
			break
		}
	}
	return stats, nil
}
