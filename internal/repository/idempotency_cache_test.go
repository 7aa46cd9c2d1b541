package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youssef-Hatem/policylens/internal/domain"
	"github.com/Youssef-Hatem/policylens/internal/service"
)

func TestIdempotencyCacheRoundtrip(t *testing.T) {
	mr, rdb := newTestRedis(t)
	cache := NewIdempotencyCache(rdb)
	ctx := context.Background()

	resp := &service.AnalysisResponse{
		Success:    true,
		PolicyType: domain.PolicyTypeReturns,
		ShopName:   "Corner Books",
	}
	require.NoError(t, cache.Store(ctx, "abc123", resp, time.Hour))

	got, err := cache.Get(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Success)
	assert.Equal(t, "Corner Books", got.ShopName)

	// The entry expires on its own.
	assert.Greater(t, mr.TTL(idempotencyKeyPrefix+"abc123"), time.Duration(0))
}

func TestIdempotencyCacheMiss(t *testing.T) {
	_, rdb := newTestRedis(t)
	cache := NewIdempotencyCache(rdb)

	got, err := cache.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIdempotencyCacheHasAndDelete(t *testing.T) {
	_, rdb := newTestRedis(t)
	cache := NewIdempotencyCache(rdb)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "k1", &service.AnalysisResponse{Success: true}, time.Hour))

	had, err := cache.Has(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, had)

	require.NoError(t, cache.Delete(ctx, "k1"))
	had, err = cache.Has(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, had)

	// Probes do not move the hit and miss counters.
	stats, err := cache.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
}

func TestIdempotencyCacheStats(t *testing.T) {
	_, rdb := newTestRedis(t)
	cache := NewIdempotencyCache(rdb)
	ctx := context.Background()

	resp := &service.AnalysisResponse{Success: true}
	require.NoError(t, cache.Store(ctx, "k1", resp, time.Hour))
	require.NoError(t, cache.Store(ctx, "k2", resp, time.Hour))

	_, err := cache.Get(ctx, "k1")
	require.NoError(t, err)
	_, err = cache.Get(ctx, "missing")
	require.NoError(t, err)

	stats, err := cache.Stats(ctx)
	require.NoError(t, err)
	// Counter keys share the prefix but are not cache entries.
	assert.Equal(t, int64(2), stats.Keys)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}
