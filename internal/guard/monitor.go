package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jax-advisor-core/internal/observability"
)

// MonitorConfig controls the health monitor's polling and escalation logic.
type MonitorConfig struct {
	// Interval between checks (default 30s).
	Interval time.Duration
	// FailuresBeforeHalt: how many consecutive cycles with at least one
	// critical probe failure before triggering a halt (default 3).
	FailuresBeforeHalt int
	// CriticalProbes lists ProbeName values that escalate to halt. An
	// empty list means every probe is critical.
	CriticalProbes []string
}

// DefaultMonitorConfig returns the production defaults: every registered
// probe is critical (CriticalProbes is empty), checked every 30 seconds,
// halting after 3 consecutive cycles in which a probe reports
// StatusFailed. A StatusDegraded result never counts toward a halt.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:           30 * time.Second,
		FailuresBeforeHalt: 3,
	}
}

// HealthMonitor runs periodic probes and escalates to a halt after
// FailuresBeforeHalt consecutive cycles with a critical failure.
type HealthMonitor struct {
	cfg         MonitorConfig
	haltCb      HaltCallback
	criticalSet map[string]bool

	mu         sync.RWMutex
	probes     []Probe
	latest     map[string]CheckResult
	failStreak int
	halted     bool
}

// NewHealthMonitor builds a HealthMonitor. haltCb may be nil (monitoring
// only, no halt escalation — useful in tests or a dry-run deployment).
func NewHealthMonitor(cfg MonitorConfig, haltCb HaltCallback, probes ...Probe) *HealthMonitor {
	critical := make(map[string]bool, len(cfg.CriticalProbes))
	for _, name := range cfg.CriticalProbes {
		critical[name] = true
	}
	return &HealthMonitor{
		cfg:         cfg,
		haltCb:      haltCb,
		criticalSet: critical,
		probes:      probes,
		latest:      make(map[string]CheckResult),
	}
}

// SetHaltCallback replaces the monitor's halt callback. Used by New to
// wire a Controller's own halt handling in after construction, since the
// Controller needs a constructed Monitor and the Monitor's original
// callback needs a constructed Controller.
func (m *HealthMonitor) SetHaltCallback(cb HaltCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.haltCb = cb
}

// RegisterProbe adds a probe at runtime.
func (m *HealthMonitor) RegisterProbe(p Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, p)
}

// RunOnce performs one round of checks synchronously and returns the results.
func (m *HealthMonitor) RunOnce(ctx context.Context) []CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]CheckResult, 0, len(m.probes))
	criticalFailed := false

	for _, probe := range m.probes {
		r := probe.Check(ctx)
		m.latest[r.Name] = r
		results = append(results, r)

		if r.Status == StatusFailed {
			isCritical := len(m.criticalSet) == 0 || m.criticalSet[r.Name]
			fields := map[string]any{"probe": r.Name, "message": r.Message, "critical": isCritical}
			if isCritical {
				criticalFailed = true
				observability.Error(ctx, "guard_probe_failed", fields)
			} else {
				observability.Warn(ctx, "guard_probe_failed", fields)
			}
		}
	}

	if criticalFailed {
		m.failStreak++
		if !m.halted && m.failStreak >= m.cfg.FailuresBeforeHalt && m.haltCb != nil {
			m.halted = true
			reason := fmt.Sprintf("health monitor: %d consecutive critical failures", m.failStreak)
			observability.Error(ctx, "guard_halt_triggered", map[string]any{"reason": reason})
			go m.haltCb(reason)
		}
	} else {
		m.failStreak = 0
	}

	return results
}

// Latest returns the most recent result for each probe.
func (m *HealthMonitor) Latest() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CheckResult, len(m.latest))
	for k, v := range m.latest {
		out[k] = v
	}
	return out
}

// IsHalted reports whether the monitor has escalated to a halt.
func (m *HealthMonitor) IsHalted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted
}

// FailStreak returns the current count of consecutive critical-failure cycles.
func (m *HealthMonitor) FailStreak() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failStreak
}

// ResetHalt clears the halt state — an operator override after manual review.
func (m *HealthMonitor) ResetHalt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
	m.failStreak = 0
}

// Run drives the periodic check loop until ctx is canceled, waiting for the
// current cycle to finish before returning.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}
