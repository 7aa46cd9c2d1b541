package service

import (
	"context"
	"time"
)

// Health statuses.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// HealthPinger checks the backing store's liveness.
type HealthPinger interface {
	Ping(ctx context.Context) error
}

// HealthReport is the /healthz payload.
type HealthReport struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// HealthService aggregates store liveness, broker depth, provider health,
// quota headroom and cache statistics into one report.
type HealthService struct {
	pinger   HealthPinger
	registry *ProviderRegistry
	queue    TaskQueue
	idem     IdempotencyCache
	quota    *QuotaTracker
}

func NewHealthService(pinger HealthPinger, registry *ProviderRegistry, queue TaskQueue, idem IdempotencyCache, quota *QuotaTracker) *HealthService {
	return &HealthService{pinger: pinger, registry: registry, queue: queue, idem: idem, quota: quota}
}

// Report never fails; individual probe errors surface inside the payload and
// shape the overall status. Redis being down is unhealthy; every provider
// blacklisted, or any provider's daily budget exhausted, is degraded.
func (h *HealthService) Report(ctx context.Context) *HealthReport {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	checks := make(map[string]any, 5)
	status := HealthHealthy

	if err := h.pinger.Ping(probeCtx); err != nil {
		checks["redis"] = map[string]any{"ok": false, "error": err.Error()}
		status = HealthUnhealthy
	} else {
		checks["redis"] = map[string]any{"ok": true}
	}

	if depth, err := h.queue.Depth(probeCtx); err != nil {
		checks["queue"] = map[string]any{"ok": false, "error": err.Error()}
	} else {
		checks["queue"] = map[string]any{"ok": true, "depth": depth}
	}

	providers := h.registry.Health()
	available := 0
	for _, p := range providers {
		if !p.Blacklisted {
			available++
		}
	}
	checks["providers"] = map[string]any{
		"ok":        available > 0,
		"available": available,
		"total":     len(providers),
	}
	if available == 0 && status == HealthHealthy {
		status = HealthDegraded
	}

	quota := make(map[string]any, len(providers))
	exhausted := false
	for _, p := range providers {
		snap, err := h.quota.Snapshot(probeCtx, p.Name)
		if err != nil {
			quota[p.Name] = map[string]any{"ok": false, "error": err.Error()}
			continue
		}
		full := snap.Daily.TokenPct >= 1 || snap.Daily.RequestPct >= 1
		quota[p.Name] = map[string]any{
			"ok":                !full,
			"daily_token_pct":   snap.Daily.TokenPct,
			"daily_request_pct": snap.Daily.RequestPct,
		}
		if full {
			exhausted = true
		}
	}
	checks["quota"] = quota
	if exhausted && status == HealthHealthy {
		status = HealthDegraded
	}

	if stats, err := h.idem.Stats(probeCtx); err == nil && stats != nil {
		checks["idempotency_cache"] = stats
	}

	return &HealthReport{Status: status, Checks: checks}
}

// Providers exposes the registry view for the providers health endpoint.
func (h *HealthService) Providers() []ProviderHealth {
	return h.registry.Health()
}

// SwitchPrimary repoints the registry's preferred provider.
func (h *HealthService) SwitchPrimary(name string) error {
	return h.registry.SwitchPrimary(name)
}
