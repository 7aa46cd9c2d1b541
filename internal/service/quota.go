package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Youssef-Hatem/policylens/internal/config"
	"github.com/Youssef-Hatem/policylens/internal/domain"
)

// Token cost estimates used for the pre-call quota check. Recording always
// uses the actual count reported by the provider.
const (
	EstimateMatchTokens      int64 = 2_000
	EstimateComplianceTokens int64 = 10_000
	EstimateRegenerateTokens int64 = 12_000
)

// Counter key TTLs. Keys outlive their period so a late report still lands,
// then Redis expires them; no sweeper has to visit hot keys.
const (
	dailyQuotaKeyTTL  = 48 * time.Hour
	hourlyQuotaKeyTTL = 2 * time.Hour
)

// QuotaReservation is one atomic check-and-reserve against every budget of a
// provider. Tokens is the estimated cost; one request is booked alongside it.
type QuotaReservation struct {
	DailyKey  string
	HourlyKey string
	Tokens    int64

	DailyTokenLimit    int64
	DailyRequestLimit  int64
	HourlyTokenLimit   int64
	HourlyRequestLimit int64

	DailyTTL  time.Duration
	HourlyTTL time.Duration
}

// QuotaCache is the counter store behind the tracker. Reserve checks all
// four budgets and books the reservation in one atomic step; a non-empty
// denial names the exhausted budget and means nothing was booked.
type QuotaCache interface {
	Usage(ctx context.Context, provider, period, periodKey string) (tokens, requests int64, err error)
	Add(ctx context.Context, provider, period, periodKey string, tokens, requests int64, ttl time.Duration) error
	Reserve(ctx context.Context, provider string, r QuotaReservation) (denial string, err error)
	Reset(ctx context.Context, provider string) error
}

// QuotaTracker enforces per-provider daily and hourly budgets on tokens and
// request counts.
type QuotaTracker struct {
	cache QuotaCache
	cfg   config.QuotaConfig
	now   func() time.Time
}

func NewQuotaTracker(cache QuotaCache, cfg config.QuotaConfig) *QuotaTracker {
	return &QuotaTracker{cache: cache, cfg: cfg, now: time.Now}
}

// Check reserves estimatedTokens plus one request against every budget of
// the provider in a single atomic step. A denial names the exhausted budget
// and books nothing, so racing callers cannot jointly overshoot a limit. An
// allowed call must be settled with Commit, or returned with Release when
// the provider was never reached.
func (t *QuotaTracker) Check(ctx context.Context, provider string, estimatedTokens int64) (bool, string, error) {
	now := t.now().UTC()

	denial, err := t.cache.Reserve(ctx, provider, QuotaReservation{
		DailyKey:           dailyPeriodKey(now),
		HourlyKey:          hourlyPeriodKey(now),
		Tokens:             estimatedTokens,
		DailyTokenLimit:    t.cfg.DailyTokens,
		DailyRequestLimit:  t.cfg.DailyRequests,
		HourlyTokenLimit:   t.cfg.HourlyTokens,
		HourlyRequestLimit: t.cfg.HourlyRequests,
		DailyTTL:           dailyQuotaKeyTTL,
		HourlyTTL:          hourlyQuotaKeyTTL,
	})
	if err != nil {
		return false, "", fmt.Errorf("quota reserve: %w", err)
	}
	if denial != "" {
		return false, denial, nil
	}
	return true, "", nil
}

// Commit settles a reservation to the actual token count reported by the
// provider and logs threshold crossings. Crossings warn, never deny.
func (t *QuotaTracker) Commit(ctx context.Context, provider string, estimatedTokens, actualTokens int64) error {
	now := t.now().UTC()

	if delta := actualTokens - estimatedTokens; delta != 0 {
		if err := t.cache.Add(ctx, provider, domain.QuotaPeriodDaily, dailyPeriodKey(now), delta, 0, dailyQuotaKeyTTL); err != nil {
			return fmt.Errorf("quota commit (daily): %w", err)
		}
		if err := t.cache.Add(ctx, provider, domain.QuotaPeriodHourly, hourlyPeriodKey(now), delta, 0, hourlyQuotaKeyTTL); err != nil {
			return fmt.Errorf("quota commit (hourly): %w", err)
		}
	}

	t.warnThresholds(ctx, provider, now)
	return nil
}

// Release returns a reservation whose call never consumed anything, such as
// a network fault before the provider answered.
func (t *QuotaTracker) Release(ctx context.Context, provider string, estimatedTokens int64) error {
	now := t.now().UTC()

	if err := t.cache.Add(ctx, provider, domain.QuotaPeriodDaily, dailyPeriodKey(now), -estimatedTokens, -1, dailyQuotaKeyTTL); err != nil {
		return fmt.Errorf("quota release (daily): %w", err)
	}
	if err := t.cache.Add(ctx, provider, domain.QuotaPeriodHourly, hourlyPeriodKey(now), -estimatedTokens, -1, hourlyQuotaKeyTTL); err != nil {
		return fmt.Errorf("quota release (hourly): %w", err)
	}
	return nil
}

// Record books the actual token consumption of one completed call and logs
// threshold crossings. Crossings warn, never deny.
func (t *QuotaTracker) Record(ctx context.Context, provider string, tokens int64) error {
	now := t.now().UTC()

	if err := t.cache.Add(ctx, provider, domain.QuotaPeriodDaily, dailyPeriodKey(now), tokens, 1, dailyQuotaKeyTTL); err != nil {
		return fmt.Errorf("quota record (daily): %w", err)
	}
	if err := t.cache.Add(ctx, provider, domain.QuotaPeriodHourly, hourlyPeriodKey(now), tokens, 1, hourlyQuotaKeyTTL); err != nil {
		return fmt.Errorf("quota record (hourly): %w", err)
	}

	t.warnThresholds(ctx, provider, now)
	return nil
}

func (t *QuotaTracker) warnThresholds(ctx context.Context, provider string, now time.Time) {
	dailyTokens, _, err := t.cache.Usage(ctx, provider, domain.QuotaPeriodDaily, dailyPeriodKey(now))
	if err != nil {
		return
	}
	pct := float64(dailyTokens) / float64(t.cfg.DailyTokens)
	switch {
	case pct >= t.cfg.CriticalThreshold:
		slog.WarnContext(ctx, "quota_critical_threshold",
			"provider", provider,
			"daily_tokens", dailyTokens,
			"limit", t.cfg.DailyTokens,
			"pct", pct)
	case pct >= t.cfg.WarnThreshold:
		slog.WarnContext(ctx, "quota_warn_threshold",
			"provider", provider,
			"daily_tokens", dailyTokens,
			"limit", t.cfg.DailyTokens,
			"pct", pct)
	}
}

// Snapshot reports consumption against all budgets of one provider.
func (t *QuotaTracker) Snapshot(ctx context.Context, provider string) (*QuotaSnapshot, error) {
	now := t.now().UTC()

	dailyTokens, dailyRequests, err := t.cache.Usage(ctx, provider, domain.QuotaPeriodDaily, dailyPeriodKey(now))
	if err != nil {
		return nil, err
	}
	hourlyTokens, hourlyRequests, err := t.cache.Usage(ctx, provider, domain.QuotaPeriodHourly, hourlyPeriodKey(now))
	if err != nil {
		return nil, err
	}

	return &QuotaSnapshot{
		Provider: provider,
		Daily: PeriodUsage{
			Tokens:       dailyTokens,
			TokenLimit:   t.cfg.DailyTokens,
			Requests:     dailyRequests,
			RequestLimit: t.cfg.DailyRequests,
			TokenPct:     pct(dailyTokens, t.cfg.DailyTokens),
			RequestPct:   pct(dailyRequests, t.cfg.DailyRequests),
		},
		Hourly: PeriodUsage{
			Tokens:       hourlyTokens,
			TokenLimit:   t.cfg.HourlyTokens,
			Requests:     hourlyRequests,
			RequestLimit: t.cfg.HourlyRequests,
			TokenPct:     pct(hourlyTokens, t.cfg.HourlyTokens),
			RequestPct:   pct(hourlyRequests, t.cfg.HourlyRequests),
		},
	}, nil
}

// Reset clears every counter of one provider. Admin operation.
func (t *QuotaTracker) Reset(ctx context.Context, provider string) error {
	if err := t.cache.Reset(ctx, provider); err != nil {
		return fmt.Errorf("quota reset: %w", err)
	}
	slog.InfoContext(ctx, "quota_reset", "provider", provider)
	return nil
}

func dailyPeriodKey(t time.Time) string  { return t.Format("2006-01-02") }
func hourlyPeriodKey(t time.Time) string { return t.Format("2006-01-02-15") }

func pct(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit)
}
