package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"jax-advisor-core/internal/domain"
)

func TestOverrideControllerDefaultsToAllowAll(t *testing.T) {
	c := NewOverrideController()
	if !c.AllowEntry() {
		t.Error("expected entry allowed by default")
	}
	if !c.AllowAnyActivity() {
		t.Error("expected activity allowed by default")
	}
}

func TestOverrideControllerPauseBlocksEntryOnly(t *testing.T) {
	c := NewOverrideController()
	c.Pause("manual review")

	if c.AllowEntry() {
		t.Error("expected entry blocked while paused")
	}
	if !c.AllowAnyActivity() {
		t.Error("expected existing activity still allowed while paused")
	}
	state, reason := c.State()
	if state != OverridePause || reason != "manual review" {
		t.Errorf("unexpected state: %s %q", state, reason)
	}
}

func TestOverrideControllerHaltBlocksEverything(t *testing.T) {
	c := NewOverrideController()
	c.Halt("critical probe failure")

	if c.AllowEntry() {
		t.Error("expected entry blocked while halted")
	}
	if c.AllowAnyActivity() {
		t.Error("expected all activity blocked while halted")
	}
}

func TestOverrideControllerResumeClearsState(t *testing.T) {
	c := NewOverrideController()
	c.Halt("x")
	c.Resume("resolved")

	if !c.AllowEntry() || !c.AllowAnyActivity() {
		t.Error("expected Resume to restore full activity")
	}
	if !c.Since().IsZero() {
		t.Error("expected Since to reset after Resume")
	}
}

func TestControllerAllowAnyActivityReturnsErrHalted(t *testing.T) {
	override := NewOverrideController()
	log, err := OpenIncidentLog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	monitor := NewHealthMonitor(DefaultMonitorConfig(), nil)
	ctrl := New(monitor, override, log)

	if err := ctrl.AllowAnyActivity(context.Background()); err != nil {
		t.Fatalf("expected nil before any halt, got %v", err)
	}

	override.Halt("operator request")
	err = ctrl.AllowAnyActivity(context.Background())
	if !errors.Is(err, ErrHalted) {
		t.Fatalf("expected ErrHalted, got %v", err)
	}
}

func TestControllerAllowEntryDistinguishesPauseFromHalt(t *testing.T) {
	override := NewOverrideController()
	log, _ := OpenIncidentLog(t.TempDir())
	monitor := NewHealthMonitor(DefaultMonitorConfig(), nil)
	ctrl := New(monitor, override, log)

	override.Pause("staging a release")
	if err := ctrl.AllowEntry(context.Background()); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}

	override.Halt("incident")
	if err := ctrl.AllowEntry(context.Background()); !errors.Is(err, ErrHalted) {
		t.Fatalf("expected ErrHalted, got %v", err)
	}
}

func TestMonitorHaltEscalatesOverrideAndOpensIncident(t *testing.T) {
	override := NewOverrideController()
	log, err := OpenIncidentLog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultMonitorConfig()
	cfg.FailuresBeforeHalt = 1
	monitor := NewHealthMonitor(cfg, nil, failProbe("store"))
	New(monitor, override, log) // wires monitor's halt callback to override+log

	monitor.RunOnce(context.Background())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !override.AllowAnyActivity() {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if override.AllowAnyActivity() {
		t.Error("expected the monitor's halt to escalate the override")
	}
	open := log.List(domain.IncidentOpen)
	if len(open) != 1 {
		t.Fatalf("expected a single open incident from the halt, got %d", len(open))
	}
}

func TestBuildReportSummarizesState(t *testing.T) {
	override := NewOverrideController()
	log, _ := OpenIncidentLog(t.TempDir())
	monitor := NewHealthMonitor(DefaultMonitorConfig(), nil, okProbe("store"))
	ctrl := New(monitor, override, log)

	monitor.RunOnce(context.Background())
	override.Pause("testing")

	report := ctrl.BuildReport()
	if report.Override != OverridePause {
		t.Errorf("want override pause in report, got %s", report.Override)
	}
	if len(report.ProbeStates) != 1 {
		t.Errorf("want 1 probe state, got %d", len(report.ProbeStates))
	}
}
