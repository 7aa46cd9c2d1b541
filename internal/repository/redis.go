// Package repository implements the service-layer store interfaces on Redis.
// TTLs stand in for expiry indexes; nothing here needs a relational schema.
package repository

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Youssef-Hatem/policylens/internal/config"
)

// NewRedisClient connects and verifies the configured Redis instance.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, func(), error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	cleanup := func() { _ = rdb.Close() }
	return rdb, cleanup, nil
}

// RedisPinger adapts the client to the health probe interface.
type RedisPinger struct {
	rdb *redis.Client
}

func NewRedisPinger(rdb *redis.Client) *RedisPinger {
	return &RedisPinger{rdb: rdb}
}

func (p *RedisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// jitteredTTL spreads expirations by ±10% so cache cohorts created together
// do not expire together.
func jitteredTTL(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 5))
	return base - base/10 + jitter
}
