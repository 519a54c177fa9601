package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/channel"
)

func newTestBreaker(maxFailures int, recovery time.Duration) *CircuitBreaker {
	return New(Config{
		Name:                "test",
		MaxFailures:         maxFailures,
		RecoveryTimeout:     recovery,
		HalfOpenMaxRequests: 1,
	}, zap.NewNop())
}

func TestStartsClosed(t *testing.T) {
	cb := newTestBreaker(3, time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want closed", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("closed breaker should allow requests")
	}
}

func TestOpensAfterThreshold(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Error("should stay closed below threshold")
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Errorf("state = %v, want open after 3 failures", cb.GetState())
	}
	if cb.Allow() {
		t.Error("open breaker should reject requests")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.GetState() != StateClosed {
		t.Error("intermittent failures should not open the breaker")
	}
}

func TestHalfOpenProbeAfterRecoveryTimeout(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("probe should be allowed after recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("state = %v, want half-open", cb.GetState())
	}

	// Probe budget is one request.
	if cb.Allow() {
		t.Error("second request should be rejected in half-open state")
	}
}

func TestProbeSuccessCloses(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow()
	cb.RecordSuccess()

	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want closed after successful probe", cb.GetState())
	}
}

func TestProbeFailureReopens(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow()
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Errorf("state = %v, want open after failed probe", cb.GetState())
	}
}

func TestReset(t *testing.T) {
	cb := newTestBreaker(1, time.Minute)

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want closed after reset", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("reset breaker should allow requests")
	}
}

func TestStats(t *testing.T) {
	cb := newTestBreaker(5, time.Minute)

	cb.Allow()
	cb.RecordSuccess()
	cb.RecordFailure()

	stats := cb.Stats()
	if stats.Name != "test" {
		t.Errorf("name = %q", stats.Name)
	}
	if stats.TotalRequests != 1 {
		t.Errorf("total requests = %d, want 1", stats.TotalRequests)
	}
	if stats.TotalSuccesses != 1 {
		t.Errorf("total successes = %d, want 1", stats.TotalSuccesses)
	}
	if stats.TotalFailures != 1 {
		t.Errorf("total failures = %d, want 1", stats.TotalFailures)
	}
}

type stubProvider struct {
	ch     channel.Channel
	result *channel.Result
	err    error
	calls  int
}

func (s *stubProvider) Channel() channel.Channel { return s.ch }

func (s *stubProvider) Deliver(ctx context.Context, payload *channel.Payload) (*channel.Result, error) {
	s.calls++
	return s.result, s.err
}

func TestProtectedProviderDelegates(t *testing.T) {
	stub := &stubProvider{ch: channel.Push, result: &channel.Result{Success: true}}
	p := NewProtectedProvider(stub, newTestBreaker(3, time.Minute), zap.NewNop())

	if p.Channel() != channel.Push {
		t.Errorf("channel = %s", p.Channel())
	}

	result, err := p.Deliver(context.Background(), &channel.Payload{})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !result.Success {
		t.Error("delivery should succeed")
	}
	if stub.calls != 1 {
		t.Errorf("provider calls = %d, want 1", stub.calls)
	}
}

func TestProtectedProviderOpenCircuitRejectsWithoutCalling(t *testing.T) {
	stub := &stubProvider{ch: channel.Push, result: &channel.Result{Success: false, ProviderError: "gateway timeout"}}
	p := NewProtectedProvider(stub, newTestBreaker(2, time.Minute), zap.NewNop())
	ctx := context.Background()

	// Two failed deliveries open the circuit.
	p.Deliver(ctx, &channel.Payload{})
	p.Deliver(ctx, &channel.Payload{})

	result, err := p.Deliver(ctx, &channel.Payload{})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if result.Success {
		t.Error("open circuit should report failure")
	}
	if result.ProviderError != ErrCircuitOpen.Error() {
		t.Errorf("provider error = %q", result.ProviderError)
	}
	if stub.calls != 2 {
		t.Errorf("provider calls = %d, want 2 (rejection must not reach the provider)", stub.calls)
	}
}
