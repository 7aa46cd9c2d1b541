package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Youssef-Hatem/policylens/internal/config"
	"github.com/Youssef-Hatem/policylens/internal/domain"
)

// ProviderManager executes one model call with quota precheck and
// cross-provider failover. A failing provider is never retried within the
// same call; the next candidate is tried instead, until the registry runs
// out.
type ProviderManager struct {
	registry *ProviderRegistry
	quota    *QuotaTracker
	timeout  time.Duration
}

func NewProviderManager(registry *ProviderRegistry, quota *QuotaTracker, cfg config.ProvidersConfig) *ProviderManager {
	return &ProviderManager{
		registry: registry,
		quota:    quota,
		timeout:  cfg.CallTimeout,
	}
}

// Call sends prompt to the best available provider and returns the raw
// completion text plus the provider that served it. Errors are always
// *ClassifiedError except for caller cancellation.
func (m *ProviderManager) Call(ctx context.Context, prompt string, estimatedTokens int64) (string, string, error) {
	tried := make(map[string]bool)
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		p, ok := m.registry.Select(tried)
		if !ok {
			if lastErr != nil {
				return "", "", lastErr
			}
			return "", "", NewClassifiedError(domain.ErrorKindServerError,
				errors.New("no analysis provider is available"))
		}
		tried[p.Name] = true

		// Check atomically reserves the estimate; a denial books nothing.
		allowed, reason, err := m.quota.Check(ctx, p.Name, estimatedTokens)
		if err != nil {
			return "", "", NewClassifiedError(domain.ErrorKindUnknown, err)
		}
		if !allowed {
			lastErr = NewClassifiedError(domain.ErrorKindQuotaExceeded,
				fmt.Errorf("%s: %s", p.Name, reason))
			m.registry.MarkFailure(p.Name, domain.ErrorKindQuotaExceeded, reason)
			slog.InfoContext(ctx, "provider_quota_denied",
				"provider", p.Name,
				"reason", reason)
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		text, tokens, callErr := p.Client.Complete(callCtx, prompt)
		cancel()

		if callErr == nil {
			m.registry.MarkSuccess(p.Name)
			used := int64(tokens)
			if used <= 0 {
				// Provider omitted usage; keep the booked estimate.
				used = estimatedTokens
			}
			if comErr := m.quota.Commit(ctx, p.Name, estimatedTokens, used); comErr != nil {
				slog.WarnContext(ctx, "quota_commit_failed",
					"provider", p.Name,
					"error", comErr.Error())
			}
			return text, p.Name, nil
		}

		m.releaseReservation(ctx, p.Name, estimatedTokens)

		if ctx.Err() != nil {
			// The caller's deadline or cancellation, not the provider's
			// fault.
			return "", "", ctx.Err()
		}

		kind := ClassifyError(callErr)
		m.registry.MarkFailure(p.Name, kind, callErr.Error())
		lastErr = NewClassifiedError(kind, callErr)

		if !FailoverWorthy(kind) {
			return "", "", lastErr
		}
		m.registry.MarkFailover(p.Name)
		slog.WarnContext(ctx, "provider_failover",
			"provider", p.Name,
			"kind", kind,
			"error", callErr.Error())
	}
}

// releaseReservation returns a failed call's booked estimate. It runs on a
// detached context so a dead caller context cannot strand the reservation.
func (m *ProviderManager) releaseReservation(ctx context.Context, provider string, estimatedTokens int64) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.quota.Release(relCtx, provider, estimatedTokens); err != nil {
		slog.WarnContext(relCtx, "quota_release_failed",
			"provider", provider,
			"error", err.Error())
	}
}
