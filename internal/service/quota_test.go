package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youssef-Hatem/policylens/internal/config"
	"github.com/Youssef-Hatem/policylens/internal/domain"
)

type memQuotaCache struct {
	tokens   map[string]int64
	requests map[string]int64
}

func newMemQuotaCache() *memQuotaCache {
	return &memQuotaCache{tokens: map[string]int64{}, requests: map[string]int64{}}
}

func (c *memQuotaCache) key(provider, period, periodKey string) string {
	return provider + "/" + period + "/" + periodKey
}

func (c *memQuotaCache) Usage(_ context.Context, provider, period, periodKey string) (int64, int64, error) {
	k := c.key(provider, period, periodKey)
	return c.tokens[k], c.requests[k], nil
}

func (c *memQuotaCache) Add(_ context.Context, provider, period, periodKey string, tokens, requests int64, _ time.Duration) error {
	k := c.key(provider, period, periodKey)
	c.tokens[k] += tokens
	c.requests[k] += requests
	return nil
}

func (c *memQuotaCache) Reserve(_ context.Context, provider string, r QuotaReservation) (string, error) {
	dk := c.key(provider, domain.QuotaPeriodDaily, r.DailyKey)
	hk := c.key(provider, domain.QuotaPeriodHourly, r.HourlyKey)
	switch {
	case c.tokens[dk]+r.Tokens > r.DailyTokenLimit:
		return "daily token quota exhausted", nil
	case c.requests[dk]+1 > r.DailyRequestLimit:
		return "daily request quota exhausted", nil
	case c.tokens[hk]+r.Tokens > r.HourlyTokenLimit:
		return "hourly token quota exhausted", nil
	case c.requests[hk]+1 > r.HourlyRequestLimit:
		return "hourly request quota exhausted", nil
	}
	c.tokens[dk] += r.Tokens
	c.requests[dk]++
	c.tokens[hk] += r.Tokens
	c.requests[hk]++
	return "", nil
}

func (c *memQuotaCache) Reset(_ context.Context, provider string) error {
	for k := range c.tokens {
		delete(c.tokens, k)
	}
	for k := range c.requests {
		delete(c.requests, k)
	}
	return nil
}

func testQuotaConfig() config.QuotaConfig {
	return config.QuotaConfig{
		DailyTokens:       100_000,
		DailyRequests:     100,
		HourlyTokens:      10_000,
		HourlyRequests:    20,
		WarnThreshold:     0.75,
		CriticalThreshold: 0.90,
	}
}

func newTestTracker(cache QuotaCache) *QuotaTracker {
	tr := NewQuotaTracker(cache, testQuotaConfig())
	tr.now = func() time.Time { return time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC) }
	return tr
}

func TestQuotaCheckAllowsWithinBudget(t *testing.T) {
	tr := newTestTracker(newMemQuotaCache())

	ok, reason, err := tr.Check(context.Background(), domain.ProviderOpenAI, EstimateComplianceTokens)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestQuotaCheckDenials(t *testing.T) {
	ctx := context.Background()

	t.Run("hourly tokens", func(t *testing.T) {
		cache := newMemQuotaCache()
		tr := newTestTracker(cache)
		require.NoError(t, cache.Add(ctx, domain.ProviderOpenAI, domain.QuotaPeriodHourly, "2026-03-14-10", 9_500, 1, 0))

		ok, reason, err := tr.Check(ctx, domain.ProviderOpenAI, 1_000)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "hourly token quota exhausted", reason)
	})

	t.Run("daily tokens", func(t *testing.T) {
		cache := newMemQuotaCache()
		tr := newTestTracker(cache)
		require.NoError(t, cache.Add(ctx, domain.ProviderOpenAI, domain.QuotaPeriodDaily, "2026-03-14", 99_500, 1, 0))

		ok, reason, err := tr.Check(ctx, domain.ProviderOpenAI, 1_000)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "daily token quota exhausted", reason)
	})

	t.Run("hourly requests", func(t *testing.T) {
		cache := newMemQuotaCache()
		tr := newTestTracker(cache)
		require.NoError(t, cache.Add(ctx, domain.ProviderOpenAI, domain.QuotaPeriodHourly, "2026-03-14-10", 0, 20, 0))

		ok, reason, err := tr.Check(ctx, domain.ProviderOpenAI, 100)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "hourly request quota exhausted", reason)
	})

	t.Run("daily requests", func(t *testing.T) {
		cache := newMemQuotaCache()
		tr := newTestTracker(cache)
		require.NoError(t, cache.Add(ctx, domain.ProviderOpenAI, domain.QuotaPeriodDaily, "2026-03-14", 0, 100, 0))

		ok, reason, err := tr.Check(ctx, domain.ProviderOpenAI, 100)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "daily request quota exhausted", reason)
	})
}

func TestQuotaCheckReservesBudget(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(newMemQuotaCache())

	// The hourly token budget fits one of these calls, not two. The first
	// check must book its estimate so the second is turned away.
	ok, _, err := tr.Check(ctx, domain.ProviderOpenAI, 6_000)
	require.NoError(t, err)
	require.True(t, ok)

	ok, reason, err := tr.Check(ctx, domain.ProviderOpenAI, 6_000)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "hourly token quota exhausted", reason)
}

func TestQuotaCommitSettlesToActual(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(newMemQuotaCache())

	ok, _, err := tr.Check(ctx, domain.ProviderOpenAI, 5_000)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tr.Commit(ctx, domain.ProviderOpenAI, 5_000, 321))

	snap, err := tr.Snapshot(ctx, domain.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, int64(321), snap.Daily.Tokens)
	assert.Equal(t, int64(1), snap.Daily.Requests)
	assert.Equal(t, int64(321), snap.Hourly.Tokens)
}

func TestQuotaReleaseReturnsReservation(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(newMemQuotaCache())

	ok, _, err := tr.Check(ctx, domain.ProviderOpenAI, 5_000)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tr.Release(ctx, domain.ProviderOpenAI, 5_000))

	snap, err := tr.Snapshot(ctx, domain.ProviderOpenAI)
	require.NoError(t, err)
	assert.Zero(t, snap.Daily.Tokens)
	assert.Zero(t, snap.Daily.Requests)
	assert.Zero(t, snap.Hourly.Tokens)
	assert.Zero(t, snap.Hourly.Requests)
}

func TestQuotaRecordAndSnapshot(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(newMemQuotaCache())

	require.NoError(t, tr.Record(ctx, domain.ProviderGemini, 4_000))
	require.NoError(t, tr.Record(ctx, domain.ProviderGemini, 1_000))

	snap, err := tr.Snapshot(ctx, domain.ProviderGemini)
	require.NoError(t, err)

	assert.Equal(t, domain.ProviderGemini, snap.Provider)
	assert.Equal(t, int64(5_000), snap.Daily.Tokens)
	assert.Equal(t, int64(2), snap.Daily.Requests)
	assert.Equal(t, int64(5_000), snap.Hourly.Tokens)
	assert.Equal(t, int64(2), snap.Hourly.Requests)
	assert.InDelta(t, 0.05, snap.Daily.TokenPct, 1e-9)
	assert.InDelta(t, 0.5, snap.Hourly.TokenPct, 1e-9)
}

func TestQuotaResetClearsCounters(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(newMemQuotaCache())

	require.NoError(t, tr.Record(ctx, domain.ProviderOpenAI, 9_999))
	require.NoError(t, tr.Reset(ctx, domain.ProviderOpenAI))

	snap, err := tr.Snapshot(ctx, domain.ProviderOpenAI)
	require.NoError(t, err)
	assert.Zero(t, snap.Daily.Tokens)
	assert.Zero(t, snap.Hourly.Requests)
}
