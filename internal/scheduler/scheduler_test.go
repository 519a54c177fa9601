package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeTicker struct {
	calls      atomic.Int64
	inactivity atomic.Int64
	err        error
}

func (f *fakeTicker) ProcessScheduledJourneys(ctx context.Context) (int, error) {
	f.calls.Add(1)
	return 1, f.err
}

func (f *fakeTicker) ProcessInactivityJourneys(ctx context.Context) (int, error) {
	f.inactivity.Add(1)
	return 0, f.err
}

type fakeDrainer struct {
	calls atomic.Int64
	err   error
}

func (f *fakeDrainer) DeliverQueued(ctx context.Context, limit int) (int, error) {
	f.calls.Add(1)
	return 1, f.err
}

func TestTickRunsAllTasks(t *testing.T) {
	journeys := &fakeTicker{}
	queue := &fakeDrainer{}
	s := New(journeys, queue, Config{}, zap.NewNop())

	s.tick(context.Background())

	if journeys.calls.Load() != 1 {
		t.Errorf("journey ticks = %d, want 1", journeys.calls.Load())
	}
	if journeys.inactivity.Load() != 1 {
		t.Errorf("inactivity scans = %d, want 1", journeys.inactivity.Load())
	}
	if queue.calls.Load() != 1 {
		t.Errorf("queue drains = %d, want 1", queue.calls.Load())
	}
}

func TestTickJourneyErrorDoesNotBlockQueueDrain(t *testing.T) {
	journeys := &fakeTicker{err: errors.New("db down")}
	queue := &fakeDrainer{}
	s := New(journeys, queue, Config{}, zap.NewNop())

	s.tick(context.Background())

	if queue.calls.Load() != 1 {
		t.Errorf("queue drains = %d, want 1 despite journey error", queue.calls.Load())
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	journeys := &fakeTicker{}
	queue := &fakeDrainer{}
	s := New(journeys, queue, Config{Interval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}

	if journeys.calls.Load() == 0 {
		t.Error("scheduler never ticked")
	}
}
