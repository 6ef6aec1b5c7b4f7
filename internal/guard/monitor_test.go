package guard

import (
	"context"
	"testing"
	"time"
)

func okProbe(name string) *FuncProbe {
	return NewFuncProbe(name, func(_ context.Context) CheckResult {
		return CheckResult{Name: name, Status: StatusOK, Message: "healthy"}
	})
}

func failProbe(name string) *FuncProbe {
	return NewFuncProbe(name, func(_ context.Context) CheckResult {
		return CheckResult{Name: name, Status: StatusFailed, Message: "connection refused"}
	})
}

func TestHealthMonitorAllOK(t *testing.T) {
	m := NewHealthMonitor(DefaultMonitorConfig(), nil, okProbe("store"), okProbe("broker"))
	results := m.RunOnce(context.Background())
	if len(results) != 2 {
		t.Fatalf("want 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != StatusOK {
			t.Errorf("probe %q: want OK, got %q", r.Name, r.Status)
		}
	}
	if m.IsHalted() {
		t.Error("monitor should not be halted when all probes pass")
	}
}

func TestHealthMonitorFailStreakBelowThreshold(t *testing.T) {
	cfg := DefaultMonitorConfig()
	cfg.FailuresBeforeHalt = 3

	haltCalled := false
	m := NewHealthMonitor(cfg, func(_ string) { haltCalled = true }, failProbe("store"))

	m.RunOnce(context.Background())
	m.RunOnce(context.Background())

	if m.FailStreak() != 2 {
		t.Fatalf("want failStreak 2, got %d", m.FailStreak())
	}
	if m.IsHalted() {
		t.Error("should not halt before threshold is reached")
	}
	if haltCalled {
		t.Error("halt callback should not have fired yet")
	}
}

func TestHealthMonitorHaltsAtThreshold(t *testing.T) {
	cfg := DefaultMonitorConfig()
	cfg.FailuresBeforeHalt = 2

	halted := make(chan string, 1)
	m := NewHealthMonitor(cfg, func(reason string) { halted <- reason }, failProbe("store"))

	m.RunOnce(context.Background())
	m.RunOnce(context.Background())

	select {
	case <-halted:
	case <-time.After(time.Second):
		t.Fatal("expected halt callback to fire")
	}
	if !m.IsHalted() {
		t.Error("expected monitor to report halted")
	}
}

func TestHealthMonitorNonCriticalFailureDoesNotEscalate(t *testing.T) {
	cfg := DefaultMonitorConfig()
	cfg.FailuresBeforeHalt = 1
	cfg.CriticalProbes = []string{"broker"}

	haltCalled := false
	m := NewHealthMonitor(cfg, func(_ string) { haltCalled = true }, failProbe("feed"))

	m.RunOnce(context.Background())

	if haltCalled {
		t.Error("a failure outside CriticalProbes should not escalate")
	}
}

func TestHealthMonitorFailStreakResetsOnSuccess(t *testing.T) {
	cfg := DefaultMonitorConfig()
	cfg.FailuresBeforeHalt = 5
	m := NewHealthMonitor(cfg, nil, failProbe("store"))

	m.RunOnce(context.Background())
	if m.FailStreak() != 1 {
		t.Fatalf("want failStreak 1, got %d", m.FailStreak())
	}

	m.RegisterProbe(okProbe("broker"))
	// Replace the failing probe's slot isn't possible via RegisterProbe
	// alone; build a fresh monitor with an OK probe to confirm the reset path.
	m2 := NewHealthMonitor(cfg, nil, okProbe("store"))
	m2.RunOnce(context.Background())
	if m2.FailStreak() != 0 {
		t.Fatalf("want failStreak 0 after an OK cycle, got %d", m2.FailStreak())
	}
}

func TestResetHaltClearsState(t *testing.T) {
	cfg := DefaultMonitorConfig()
	cfg.FailuresBeforeHalt = 1
	m := NewHealthMonitor(cfg, func(string) {}, failProbe("store"))
	m.RunOnce(context.Background())
	if !m.IsHalted() {
		t.Fatal("expected monitor to be halted")
	}
	m.ResetHalt()
	if m.IsHalted() {
		t.Error("expected ResetHalt to clear halted state")
	}
	if m.FailStreak() != 0 {
		t.Error("expected ResetHalt to clear the fail streak")
	}
}
