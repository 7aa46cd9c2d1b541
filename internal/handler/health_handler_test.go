package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youssef-Hatem/policylens/internal/config"
	"github.com/Youssef-Hatem/policylens/internal/domain"
	"github.com/Youssef-Hatem/policylens/internal/repository"
	"github.com/Youssef-Hatem/policylens/internal/service"
)

type healthHarness struct {
	router   *gin.Engine
	quota    *service.QuotaTracker
	degraded service.DegradationCache
}

func newHealthHarness(t *testing.T) *healthHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	registry := service.NewProviderRegistry(config.ProvidersConfig{
		Primary:           domain.ProviderOpenAI,
		BlacklistDuration: 5 * time.Minute,
	}, []service.Provider{
		{Name: domain.ProviderOpenAI},
		{Name: domain.ProviderGemini},
	})
	quota := service.NewQuotaTracker(repository.NewQuotaCache(rdb), config.QuotaConfig{
		DailyTokens:       100_000,
		DailyRequests:     100,
		HourlyTokens:      10_000,
		HourlyRequests:    20,
		WarnThreshold:     0.75,
		CriticalThreshold: 0.90,
	})
	degraded := repository.NewDegradationCache(rdb)
	health := service.NewHealthService(
		repository.NewRedisPinger(rdb),
		registry,
		repository.NewTaskQueue(rdb),
		repository.NewIdempotencyCache(rdb),
		quota,
	)
	h := NewHealthHandler(health, quota, degraded)

	router := gin.New()
	router.GET("/healthz", h.Healthz)
	v1 := router.Group("/api/v1")
	v1.GET("/providers/health", h.Providers)
	v1.POST("/providers/:provider/primary", h.SwitchPrimary)
	v1.GET("/quota/:provider", h.Quota)
	v1.POST("/quota/:provider/reset", h.QuotaReset)
	v1.DELETE("/degradation/:type", h.DegradationClear)
	return &healthHarness{router: router, quota: quota, degraded: degraded}
}

func get(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthzHealthy(t *testing.T) {
	h := newHealthHarness(t)

	rec := get(h.router, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var report service.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, service.HealthHealthy, report.Status)
	assert.Contains(t, report.Checks, "redis")
	assert.Contains(t, report.Checks, "providers")
	assert.Contains(t, report.Checks, "quota")
}

func TestHealthzDegradedWhenDailyBudgetExhausted(t *testing.T) {
	h := newHealthHarness(t)

	require.NoError(t, h.quota.Record(context.Background(), domain.ProviderOpenAI, 100_000))

	rec := get(h.router, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var report service.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, service.HealthDegraded, report.Status)
}

func TestProvidersEndpoint(t *testing.T) {
	h := newHealthHarness(t)
	router := h.router

	rec := get(router, http.MethodGet, "/api/v1/providers/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Providers []service.ProviderHealth `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Providers, 2)
	assert.Equal(t, domain.ProviderOpenAI, payload.Providers[0].Name)
}

func TestSwitchPrimaryEndpoint(t *testing.T) {
	h := newHealthHarness(t)

	rec := get(h.router, http.MethodPost, "/api/v1/providers/gemini/primary")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.ProviderGemini)

	// The providers view now lists the new primary first.
	rec = get(h.router, http.MethodGet, "/api/v1/providers/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Providers []service.ProviderHealth `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Providers, 2)
	assert.Equal(t, domain.ProviderGemini, payload.Providers[0].Name)

	rec = get(h.router, http.MethodPost, "/api/v1/providers/acme/primary")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "PROVIDER_NOT_FOUND")
}

func TestDegradationClearEndpoint(t *testing.T) {
	h := newHealthHarness(t)
	ctx := context.Background()

	resp := &service.AnalysisResponse{Success: true}
	require.NoError(t, h.degraded.Store(ctx, domain.PolicyTypeReturns, "hash-1", resp, time.Hour))
	require.NoError(t, h.degraded.Store(ctx, domain.PolicyTypeReturns, "hash-2", resp, time.Hour))
	require.NoError(t, h.degraded.Store(ctx, domain.PolicyTypePrivacy, "hash-3", resp, time.Hour))

	rec := get(h.router, http.MethodDelete, "/api/v1/degradation/returns")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"removed":2`)

	// Other policy types keep their entries.
	kept, err := h.degraded.Find(ctx, domain.PolicyTypePrivacy, "hash-3")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	rec = get(h.router, http.MethodDelete, "/api/v1/degradation/warranty")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "POLICY_TYPE_NOT_FOUND")
}

func TestQuotaEndpoints(t *testing.T) {
	h := newHealthHarness(t)
	router, quota := h.router, h.quota

	require.NoError(t, quota.Record(context.Background(), domain.ProviderOpenAI, 4_000))

	rec := get(router, http.MethodGet, "/api/v1/quota/openai")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap service.QuotaSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(4_000), snap.Daily.Tokens)

	rec = get(router, http.MethodPost, "/api/v1/quota/openai/reset")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(router, http.MethodGet, "/api/v1/quota/openai")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Zero(t, snap.Daily.Tokens)
}

func TestQuotaUnknownProvider(t *testing.T) {
	router := newHealthHarness(t).router

	rec := get(router, http.MethodGet, "/api/v1/quota/acme")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "PROVIDER_NOT_FOUND")

	rec = get(router, http.MethodPost, "/api/v1/quota/acme/reset")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
