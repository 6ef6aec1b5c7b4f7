// Package resilience wraps external calls (broker, market data, LLM) with a
// circuit breaker so a degraded dependency fails fast instead of stalling
// every request that touches it.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"jax-advisor-core/internal/observability"
)

// Config defines the tuning knobs for one breaker instance.
type Config struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures uint32
}

// DefaultConfig returns the tuning this core uses for every external
// dependency: trip after 5 consecutive failures or a 60% failure ratio once
// at least 3 requests have been observed in the rolling interval.
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		MaxFailures: 5,
	}
}

// Breaker wraps gobreaker with structured state-change logging and two
// counters gobreaker itself doesn't expose across a breaker's lifetime:
// how many times it has tripped open, and how long it dwelt in the state
// it just left. Counts() resets every Interval, so "how flaky has this
// dependency been since the process started" needs its own accounting —
// C12's guard probes and C10's degraded-mode messaging both want that
// number, not just the current state.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string

	trips atomic.Uint64

	mu             sync.Mutex
	lastTransition time.Time
}

// New creates a circuit breaker from config.
func New(config Config) *Breaker {
	b := &Breaker{name: config.Name, lastTransition: time.Now()}

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && (counts.ConsecutiveFailures >= config.MaxFailures || failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.mu.Lock()
			dwell := time.Since(b.lastTransition)
			b.lastTransition = time.Now()
			b.mu.Unlock()

			if to == gobreaker.StateOpen {
				b.trips.Add(1)
			}

			observability.Warn(context.Background(), "circuit_breaker_state_change", map[string]any{
				"breaker":           name,
				"from":              from.String(),
				"to":                to.String(),
				"trips":             b.trips.Load(),
				"dwell_in_from_sec": dwell.Seconds(),
			})
		},
	}

	b.cb = gobreaker.NewCircuitBreaker[any](settings)
	return b
}

// Trips returns how many times this breaker has transitioned to Open since
// it was created.
func (b *Breaker) Trips() uint64 {
	return b.trips.Load()
}

// TimeInState returns how long the breaker has held its current state.
func (b *Breaker) TimeInState() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Since(b.lastTransition)
}

// Execute runs fn, tripping the breaker's failure accounting on error.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		return nil, fmt.Errorf("circuit breaker %s: %w", b.name, err)
	}
	return result, nil
}

// ExecuteWithContext is Execute but short-circuits immediately if ctx is
// already done, so a cancelled caller never consumes a breaker slot.
func (b *Breaker) ExecuteWithContext(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.Execute(fn)
}

func (b *Breaker) State() gobreaker.State   { return b.cb.State() }
func (b *Breaker) Counts() gobreaker.Counts { return b.cb.Counts() }
func (b *Breaker) Name() string             { return b.name }
