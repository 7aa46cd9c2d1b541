package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youssef-Hatem/policylens/internal/config"
)

func TestForceLimiterFixedWindow(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := NewForceLimiter(rdb, config.ForceAnalyzeConfig{Limit: 3, Window: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}

	allowed, retryAfter, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Hour)
}

func TestForceLimiterPerOrigin(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := NewForceLimiter(rdb, config.ForceAnalyzeConfig{Limit: 1, Window: time.Hour})
	ctx := context.Background()

	allowed, _, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, _, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestForceLimiterWindowResets(t *testing.T) {
	mr, rdb := newTestRedis(t)
	limiter := NewForceLimiter(rdb, config.ForceAnalyzeConfig{Limit: 1, Window: time.Hour})
	ctx := context.Background()

	allowed, _, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	mr.FastForward(61 * time.Minute)

	allowed, _, err = limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestForceLimiterEmptyOrigin(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := NewForceLimiter(rdb, config.ForceAnalyzeConfig{Limit: 1, Window: time.Hour})
	ctx := context.Background()

	allowed, _, err := limiter.Allow(ctx, "")
	require.NoError(t, err)
	assert.True(t, allowed)

	// Originless callers share the fallback bucket.
	allowed, _, err = limiter.Allow(ctx, "")
	require.NoError(t, err)
	assert.False(t, allowed)
}
