package guard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"jax-advisor-core/internal/domain"
)

// ErrHalted is returned by Controller.AllowAnyActivity when an operator
// or the health monitor has set the override to Halt. Surfaced distinctly
// from a broker failure so operators can tell a deliberate halt from an
// outage.
var ErrHalted = errors.New("guard: trading halted")

// ErrPaused is returned by Controller.AllowEntry when new trade entry is
// paused; existing pending trades may still resolve.
var ErrPaused = errors.New("guard: new trade entry paused")

// OverrideState is the current operator-controlled trading state.
type OverrideState string

const (
	// OverrideNone: no override active, the system runs normally.
	OverrideNone OverrideState = "none"
	// OverridePause: new trade creation is blocked; a trade already
	// pending may still resolve (C8 keeps reconciling it).
	OverridePause OverrideState = "pause"
	// OverrideHalt: all trading activity is blocked, including C8's
	// reconciliation of outstanding fills.
	OverrideHalt OverrideState = "halt"
)

// OverrideController lets operators pause or halt trading, and lets the
// health monitor's halt callback do the same automatically. Safe for
// concurrent use.
type OverrideController struct {
	mu     sync.RWMutex
	state  OverrideState
	reason string
	since  time.Time
}

// NewOverrideController returns a controller in the OverrideNone state.
func NewOverrideController() *OverrideController {
	return &OverrideController{state: OverrideNone}
}

// Pause blocks new trade creation while leaving pending trades to resolve.
func (c *OverrideController) Pause(reason string) {
	c.set(OverridePause, reason)
}

// Halt blocks all trading activity, including synchronizer reconciliation.
func (c *OverrideController) Halt(reason string) {
	c.set(OverrideHalt, reason)
}

// Resume clears any active override.
func (c *OverrideController) Resume(reason string) {
	c.set(OverrideNone, reason)
}

func (c *OverrideController) set(state OverrideState, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.reason = reason
	if state == OverrideNone {
		c.since = time.Time{}
	} else {
		c.since = time.Now().UTC()
	}
}

// State returns the current override state and the reason it was set.
func (c *OverrideController) State() (OverrideState, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.reason
}

// AllowEntry reports whether new trade entry is permitted (blocked by
// both Pause and Halt).
func (c *OverrideController) AllowEntry() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == OverrideNone
}

// AllowAnyActivity reports whether any trading activity — including
// resolving an already-pending trade — is permitted. Only Halt blocks it.
func (c *OverrideController) AllowAnyActivity() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state != OverrideHalt
}

// Since returns when the current override was set (zero if none active).
func (c *OverrideController) Since() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.since
}

// Controller ties the health monitor, override controller, and incident
// log together into the single guard object C7 and C8 consult before any
// broker-facing call.
type Controller struct {
	Monitor  *HealthMonitor
	Override *OverrideController
	Log      *IncidentLog
}

// New builds a Controller. The monitor's halt callback opens a critical
// incident and escalates the override to Halt — so a health-triggered
// halt and an operator-triggered halt converge on the same AllowAnyActivity
// check.
func New(monitor *HealthMonitor, override *OverrideController, log *IncidentLog) *Controller {
	c := &Controller{Monitor: monitor, Override: override, Log: log}
	monitor.SetHaltCallback(c.onHalt)
	return c
}

// AllowAnyActivity implements execution.GuardChecker: it returns
// ErrHalted once an operator or the health monitor has called Halt, and
// nil otherwise. ctx is unused but kept to satisfy the interface and to
// leave room for a future per-request override (e.g. an admin bypass
// token) without a breaking signature change.
func (c *Controller) AllowAnyActivity(_ context.Context) error {
	if !c.Override.AllowAnyActivity() {
		return ErrHalted
	}
	return nil
}

// AllowEntry reports whether new trade creation is permitted — false
// under both Pause and Halt.
func (c *Controller) AllowEntry(_ context.Context) error {
	if !c.Override.AllowEntry() {
		state, _ := c.Override.State()
		if state == OverrideHalt {
			return ErrHalted
		}
		return ErrPaused
	}
	return nil
}

// Report is a point-in-time snapshot of the guard state, surfaced by the
// HTTP API's /health endpoint.
type Report struct {
	Override       OverrideState
	OverrideReason string
	IsHalted       bool
	FailStreak     int
	ProbeStates    map[string]CheckResult
	OpenIncidents  int
}

// BuildReport assembles a Report from the controller's current state.
func (c *Controller) BuildReport() Report {
	state, reason := c.Override.State()
	return Report{
		Override:       state,
		OverrideReason: reason,
		IsHalted:       c.Monitor.IsHalted(),
		FailStreak:     c.Monitor.FailStreak(),
		ProbeStates:    c.Monitor.Latest(),
		OpenIncidents:  len(c.Log.List(domain.IncidentOpen)),
	}
}

func (r Report) String() string {
	var sb strings.Builder
	sb.WriteString("override=")
	sb.WriteString(string(r.Override))
	if r.IsHalted {
		sb.WriteString(" halted=true")
	}
	return sb.String()
}

// onHalt is the HaltCallback guard.New installs on the health monitor via
// SetHaltCallback: it escalates the override to Halt and opens a critical
// incident.
func (c *Controller) onHalt(reason string) {
	c.Override.Halt(reason)
	if _, err := c.Log.Open("health_monitor", reason, domain.IncidentCritical); err != nil {
		return
	}
}
