package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func TestBreakerSuccess(t *testing.T) {
	b := New(DefaultConfig("test"))

	result, err := b.Execute(func() (any, error) {
		return "success", nil
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got %v", result)
	}
}

func TestBreakerTripsOpenOnRepeatedFailure(t *testing.T) {
	config := DefaultConfig("test")
	config.MaxFailures = 2
	b := New(config)

	expectedErr := errors.New("test error")
	for i := 0; i < 5; i++ {
		if _, err := b.Execute(func() (any, error) { return nil, expectedErr }); err == nil {
			t.Error("expected error, got nil")
		}
	}

	if b.State() != gobreaker.StateOpen {
		t.Errorf("expected state Open, got %v", b.State())
	}
	if b.Trips() != 1 {
		t.Errorf("expected Trips()=1 after a single open transition, got %d", b.Trips())
	}
}

func TestBreakerTripsAccumulateAcrossCycles(t *testing.T) {
	config := DefaultConfig("test")
	config.MaxFailures = 2
	config.Timeout = 20 * time.Millisecond
	b := New(config)

	openOnce := func() {
		for i := 0; i < 5; i++ {
			b.Execute(func() (any, error) { return nil, errors.New("fail") })
		}
	}

	openOnce()
	if b.Trips() != 1 {
		t.Fatalf("expected Trips()=1, got %d", b.Trips())
	}

	time.Sleep(30 * time.Millisecond) // let the breaker go half-open
	openOnce()
	if b.Trips() != 2 {
		t.Errorf("expected Trips()=2 after a second failure cycle, got %d", b.Trips())
	}
}

func TestBreakerTimeInStateResetsOnTransition(t *testing.T) {
	config := DefaultConfig("test")
	config.MaxFailures = 2
	b := New(config)

	first := b.TimeInState()
	time.Sleep(5 * time.Millisecond)
	if b.TimeInState() <= first {
		t.Error("expected TimeInState to grow while the breaker stays Closed")
	}

	for i := 0; i < 5; i++ {
		b.Execute(func() (any, error) { return nil, errors.New("fail") })
	}
	if b.TimeInState() >= first+5*time.Millisecond {
		t.Error("expected TimeInState to reset after the Closed->Open transition")
	}
}

func TestBreakerExecuteWithContextCanceled(t *testing.T) {
	b := New(DefaultConfig("test"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.ExecuteWithContext(ctx, func() (any, error) {
		return "should not execute", nil
	})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled error, got %v", err)
	}
}

func TestBreakerCounts(t *testing.T) {
	b := New(DefaultConfig("test"))

	b.Execute(func() (any, error) { return "ok", nil })
	b.Execute(func() (any, error) { return nil, errors.New("fail") })
	b.Execute(func() (any, error) { return "ok", nil })

	if counts := b.Counts(); counts.Requests != 3 {
		t.Errorf("expected 3 requests, got %d", counts.Requests)
	}
}
