package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youssef-Hatem/policylens/internal/config"
	"github.com/Youssef-Hatem/policylens/internal/domain"
)

func newTestRegistry(t *testing.T) (*ProviderRegistry, *time.Time) {
	t.Helper()
	clock := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	r := NewProviderRegistry(config.ProvidersConfig{
		Primary:           domain.ProviderOpenAI,
		BlacklistDuration: 5 * time.Minute,
	}, []Provider{
		{Name: domain.ProviderOpenAI},
		{Name: domain.ProviderGemini},
	})
	r.now = func() time.Time { return clock }
	return r, &clock
}

func TestRegistrySelectPrefersPrimary(t *testing.T) {
	r, _ := newTestRegistry(t)

	p, ok := r.Select(nil)
	require.True(t, ok)
	assert.Equal(t, domain.ProviderOpenAI, p.Name)
}

func TestRegistrySelectSkipsTried(t *testing.T) {
	r, _ := newTestRegistry(t)

	p, ok := r.Select(map[string]bool{domain.ProviderOpenAI: true})
	require.True(t, ok)
	assert.Equal(t, domain.ProviderGemini, p.Name)

	_, ok = r.Select(map[string]bool{
		domain.ProviderOpenAI: true,
		domain.ProviderGemini: true,
	})
	assert.False(t, ok)
}

func TestRegistryBlacklistAndExpiry(t *testing.T) {
	r, clock := newTestRegistry(t)

	r.MarkFailure(domain.ProviderOpenAI, domain.ErrorKindServerError, "502")

	p, ok := r.Select(nil)
	require.True(t, ok)
	assert.Equal(t, domain.ProviderGemini, p.Name)

	// Past the cooldown the primary is eligible again.
	*clock = clock.Add(5*time.Minute + time.Second)
	p, ok = r.Select(nil)
	require.True(t, ok)
	assert.Equal(t, domain.ProviderOpenAI, p.Name)
}

func TestRegistryResponseFaultsDoNotBlacklist(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.MarkFailure(domain.ProviderOpenAI, domain.ErrorKindMissingData, "malformed body")

	p, ok := r.Select(nil)
	require.True(t, ok)
	assert.Equal(t, domain.ProviderOpenAI, p.Name)
}

func TestRegistryQuotaAndAuthDenialsDoNotBlacklist(t *testing.T) {
	r, _ := newTestRegistry(t)

	// Denials are routed around per call; a quota window may reopen any
	// minute, so no number of them should bench the provider.
	for i := 0; i < 5; i++ {
		r.MarkFailure(domain.ProviderOpenAI, domain.ErrorKindQuotaExceeded, "quota")
		r.MarkFailure(domain.ProviderOpenAI, domain.ErrorKindAuthentication, "401")
	}

	p, ok := r.Select(nil)
	require.True(t, ok)
	assert.Equal(t, domain.ProviderOpenAI, p.Name)
}

func TestRegistryTimeoutsBlacklistOnlyWhenConsecutive(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.MarkFailure(domain.ProviderOpenAI, domain.ErrorKindTimeout, "deadline")
	r.MarkFailure(domain.ProviderOpenAI, domain.ErrorKindTimeout, "deadline")

	// Two in a row is still within the grace.
	p, ok := r.Select(nil)
	require.True(t, ok)
	assert.Equal(t, domain.ProviderOpenAI, p.Name)

	r.MarkFailure(domain.ProviderOpenAI, domain.ErrorKindTimeout, "deadline")

	p, ok = r.Select(nil)
	require.True(t, ok)
	assert.Equal(t, domain.ProviderGemini, p.Name)
}

func TestRegistrySuccessResetsFailureStreak(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.MarkFailure(domain.ProviderOpenAI, domain.ErrorKindTimeout, "deadline")
	r.MarkFailure(domain.ProviderOpenAI, domain.ErrorKindTimeout, "deadline")
	r.MarkSuccess(domain.ProviderOpenAI)
	r.MarkFailure(domain.ProviderOpenAI, domain.ErrorKindTimeout, "deadline")

	p, ok := r.Select(nil)
	require.True(t, ok)
	assert.Equal(t, domain.ProviderOpenAI, p.Name)
}

func TestRegistrySuccessLiftsBlacklist(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.MarkFailure(domain.ProviderOpenAI, domain.ErrorKindServerError, "502")
	r.MarkSuccess(domain.ProviderOpenAI)

	p, ok := r.Select(nil)
	require.True(t, ok)
	assert.Equal(t, domain.ProviderOpenAI, p.Name)
}

func TestRegistrySwitchPrimary(t *testing.T) {
	r, _ := newTestRegistry(t)

	require.Error(t, r.SwitchPrimary("mistral"))
	require.NoError(t, r.SwitchPrimary(domain.ProviderGemini))
	assert.Equal(t, domain.ProviderGemini, r.Primary())

	p, ok := r.Select(nil)
	require.True(t, ok)
	assert.Equal(t, domain.ProviderGemini, p.Name)

	health := r.Health()
	require.Len(t, health, 2)
	assert.Equal(t, domain.ProviderGemini, health[0].Name)
}

func TestRegistryHealthReport(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.MarkSuccess(domain.ProviderOpenAI)
	r.MarkSuccess(domain.ProviderOpenAI)
	r.MarkFailure(domain.ProviderGemini, domain.ErrorKindServerError, "502")
	r.MarkFailover(domain.ProviderGemini)

	health := r.Health()
	require.Len(t, health, 2)

	assert.Equal(t, domain.ProviderOpenAI, health[0].Name)
	assert.True(t, health[0].Healthy)
	assert.Equal(t, int64(2), health[0].Successes)
	assert.InDelta(t, 1.0, health[0].SuccessRate, 1e-9)

	assert.Equal(t, domain.ProviderGemini, health[1].Name)
	assert.True(t, health[1].Blacklisted)
	assert.False(t, health[1].Healthy)
	require.NotNil(t, health[1].BlacklistedUntil)
	assert.Equal(t, domain.ErrorKindServerError, health[1].LastErrorKind)
	assert.Equal(t, int64(1), health[1].FailoverCount)
}
