package service

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Youssef-Hatem/policylens/internal/config"
	"github.com/Youssef-Hatem/policylens/internal/domain"
	"github.com/Youssef-Hatem/policylens/internal/pkg/llm"
)

// Provider pairs a client with its registry bookkeeping.
type Provider struct {
	Name   string
	Client llm.ChatClient
}

// consecutiveFailureLimit is how many back-to-back transient failures a
// provider gets before it is blacklisted. A crash-class failure skips the
// grace and blacklists immediately.
const consecutiveFailureLimit = 3

type providerState struct {
	provider         Provider
	blacklistedUntil time.Time
	successes        int64
	failures         int64
	consecutive      int
	failovers        int64
	lastErrorKind    string
	lastError        string
}

// ProviderRegistry tracks provider health in-process. Crash-class failures
// blacklist a provider for a fixed window; any success clears the record.
// State is per-instance on purpose: a provider failing from one node may be
// fine from another.
type ProviderRegistry struct {
	mu       sync.Mutex
	order    []string
	states   map[string]*providerState
	primary  string
	cooldown time.Duration
	now      func() time.Time
}

func NewProviderRegistry(cfg config.ProvidersConfig, providers []Provider) *ProviderRegistry {
	r := &ProviderRegistry{
		states:   make(map[string]*providerState, len(providers)),
		primary:  cfg.Primary,
		cooldown: cfg.BlacklistDuration,
		now:      time.Now,
	}
	for _, p := range providers {
		r.order = append(r.order, p.Name)
		r.states[p.Name] = &providerState{provider: p}
	}
	return r
}

// Select returns the preferred available provider, skipping names in tried.
// The primary wins whenever it is not blacklisted; the remaining providers
// follow registration order.
func (r *ProviderRegistry) Select(tried map[string]bool) (Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if p, ok := r.eligibleLocked(r.primary, tried, now); ok {
		return p, true
	}
	for _, name := range r.order {
		if name == r.primary {
			continue
		}
		if p, ok := r.eligibleLocked(name, tried, now); ok {
			return p, true
		}
	}
	return Provider{}, false
}

func (r *ProviderRegistry) eligibleLocked(name string, tried map[string]bool, now time.Time) (Provider, bool) {
	st, ok := r.states[name]
	if !ok || tried[name] {
		return Provider{}, false
	}
	if now.Before(st.blacklistedUntil) {
		return Provider{}, false
	}
	return st.provider, true
}

// MarkSuccess records a successful call and lifts any blacklist.
func (r *ProviderRegistry) MarkSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[name]
	if !ok {
		return
	}
	st.successes++
	st.consecutive = 0
	st.blacklistedUntil = time.Time{}
	st.lastErrorKind = ""
	st.lastError = ""
}

// MarkFailure records a failed call. A crash-class failure (5xx) blacklists
// the provider right away; timeouts and network faults have to pile up before
// they count, since a slow call is usually worth a plain retry. Quota and
// auth denials never blacklist: the next call is already routed around them
// and a quota window may reopen any minute.
func (r *ProviderRegistry) MarkFailure(name, kind, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[name]
	if !ok {
		return
	}
	st.failures++
	st.consecutive++
	st.lastErrorKind = kind
	st.lastError = detail

	blacklist := false
	switch kind {
	case domain.ErrorKindServerError:
		blacklist = true
	case domain.ErrorKindTimeout, domain.ErrorKindNetwork:
		blacklist = st.consecutive >= consecutiveFailureLimit
	}
	if blacklist {
		st.blacklistedUntil = r.now().Add(r.cooldown)
		slog.Warn("provider_blacklisted",
			"provider", name,
			"kind", kind,
			"consecutive_failures", st.consecutive,
			"until", st.blacklistedUntil)
	}
}

// SwitchPrimary changes which provider Select prefers. The previous primary
// stays registered and keeps serving as a fallback.
func (r *ProviderRegistry) SwitchPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[name]; !ok {
		return fmt.Errorf("unknown provider %q", name)
	}
	if r.primary != name {
		slog.Info("provider_primary_switched", "from", r.primary, "to", name)
		r.primary = name
	}
	return nil
}

// Primary returns the currently preferred provider name.
func (r *ProviderRegistry) Primary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.primary
}

// MarkFailover counts a call that succeeded only after leaving this provider.
func (r *ProviderRegistry) MarkFailover(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[name]; ok {
		st.failovers++
	}
}

// Health reports the registry's view of every provider, in registration
// order with the primary first.
func (r *ProviderRegistry) Health() []ProviderHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]ProviderHealth, 0, len(r.order))
	appendState := func(name string) {
		st := r.states[name]
		h := ProviderHealth{
			Name:          name,
			Successes:     st.successes,
			Failures:      st.failures,
			FailoverCount: st.failovers,
			LastErrorKind: st.lastErrorKind,
			LastError:     st.lastError,
		}
		if now.Before(st.blacklistedUntil) {
			h.Blacklisted = true
			until := st.blacklistedUntil
			h.BlacklistedUntil = &until
		}
		h.Healthy = !h.Blacklisted
		if total := st.successes + st.failures; total > 0 {
			h.SuccessRate = float64(st.successes) / float64(total)
		}
		out = append(out, h)
	}

	if _, ok := r.states[r.primary]; ok {
		appendState(r.primary)
	}
	for _, name := range r.order {
		if name != r.primary {
			appendState(name)
		}
	}
	return out
}
