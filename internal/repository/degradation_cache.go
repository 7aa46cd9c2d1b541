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

const degradationKeyPrefix = "pl:degrade:"

// DegradationCache keeps the last good result per (policy type, content
// hash) so a provider outage can serve stale-but-real analyses.
type DegradationCache struct {
	rdb *redis.Client
}

func NewDegradationCache(rdb *redis.Client) service.DegradationCache {
	return &DegradationCache{rdb: rdb}
}

func degradationKey(policyType, contentHash string) string {
	return degradationKeyPrefix + policyType + ":" + contentHash
}

func (c *DegradationCache) Find(ctx context.Context, policyType, contentHash string) (*service.AnalysisResponse, error) {
	raw, err := c.rdb.Get(ctx, degradationKey(policyType, contentHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("degradation find: %w", err)
	}

	var resp service.AnalysisResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("degradation decode: %w", err)
	}
	return &resp, nil
}

func (c *DegradationCache) Store(ctx context.Context, policyType, contentHash string, resp *service.AnalysisResponse, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("degradation encode: %w", err)
	}
	if err := c.rdb.Set(ctx, degradationKey(policyType, contentHash), raw, jitteredTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("degradation store: %w", err)
	}
	return nil
}

// Clear drops every fallback entry of one policy type, such as after a
// ruleset update makes the stale copies misleading.
func (c *DegradationCache) Clear(ctx context.Context, policyType string) (int, error) {
	pattern := degradationKeyPrefix + policyType + ":*"
	removed := 0
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return removed, fmt.Errorf("degradation clear scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("degradation clear del: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
