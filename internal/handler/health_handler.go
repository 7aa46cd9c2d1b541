package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Youssef-Hatem/policylens/internal/domain"
	apperrors "github.com/Youssef-Hatem/policylens/internal/pkg/errors"
	"github.com/Youssef-Hatem/policylens/internal/service"
)

// HealthHandler serves the health and operations endpoints.
type HealthHandler struct {
	health   *service.HealthService
	quota    *service.QuotaTracker
	degraded service.DegradationCache
}

func NewHealthHandler(health *service.HealthService, quota *service.QuotaTracker, degraded service.DegradationCache) *HealthHandler {
	return &HealthHandler{health: health, quota: quota, degraded: degraded}
}

// Healthz reports aggregate service health. Unhealthy returns 503 so load
// balancers can rotate the instance out.
func (h *HealthHandler) Healthz(c *gin.Context) {
	report := h.health.Report(c.Request.Context())
	status := http.StatusOK
	if report.Status == service.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// Providers reports the registry's per-provider health view.
func (h *HealthHandler) Providers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.health.Providers()})
}

// Quota reports usage against the budgets of one provider.
func (h *HealthHandler) Quota(c *gin.Context) {
	provider := c.Param("provider")
	if !knownProvider(provider) {
		respondError(c, apperrors.NotFound("PROVIDER_NOT_FOUND", "unknown provider"))
		return
	}
	snapshot, err := h.quota.Snapshot(c.Request.Context(), provider)
	if err != nil {
		respondError(c, apperrors.InternalServer("QUOTA_LOOKUP_FAILED", "could not load quota usage").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// QuotaReset clears the counters of one provider.
func (h *HealthHandler) QuotaReset(c *gin.Context) {
	provider := c.Param("provider")
	if !knownProvider(provider) {
		respondError(c, apperrors.NotFound("PROVIDER_NOT_FOUND", "unknown provider"))
		return
	}
	if err := h.quota.Reset(c.Request.Context(), provider); err != nil {
		respondError(c, apperrors.InternalServer("QUOTA_RESET_FAILED", "could not reset quota usage").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": provider, "reset": true})
}

// SwitchPrimary repoints provider selection at the named provider.
func (h *HealthHandler) SwitchPrimary(c *gin.Context) {
	provider := c.Param("provider")
	if !knownProvider(provider) {
		respondError(c, apperrors.NotFound("PROVIDER_NOT_FOUND", "unknown provider"))
		return
	}
	if err := h.health.SwitchPrimary(provider); err != nil {
		respondError(c, apperrors.InternalServer("PRIMARY_SWITCH_FAILED", "could not switch the primary provider").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"primary": provider})
}

// DegradationClear drops every fallback entry of one policy type.
func (h *HealthHandler) DegradationClear(c *gin.Context) {
	policyType := c.Param("type")
	if !domain.ValidPolicyType(policyType) {
		respondError(c, apperrors.NotFound("POLICY_TYPE_NOT_FOUND", "unknown policy type"))
		return
	}
	removed, err := h.degraded.Clear(c.Request.Context(), policyType)
	if err != nil {
		respondError(c, apperrors.InternalServer("DEGRADATION_CLEAR_FAILED", "could not clear the fallback entries").WithCause(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"policy_type": policyType, "removed": removed})
}

func knownProvider(name string) bool {
	switch name {
	case domain.ProviderOpenAI, domain.ProviderGemini:
		return true
	}
	return false
}
