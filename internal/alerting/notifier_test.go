package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pipewatch/internal/models"
)

type flakySink struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	delivered []models.Alert
}

func (s *flakySink) Notify(_ context.Context, alert models.Alert, _ Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFirst {
		return errors.New("broker unavailable")
	}
	s.delivered = append(s.delivered, alert)
	return nil
}

func (s *flakySink) stats() (calls, delivered int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, len(s.delivered)
}

func TestRetryEmitterDeliversAfterTransientFailure(t *testing.T) {
	sink := &flakySink{failFirst: 2}
	em := NewRetryEmitter(sink, EmitterConfig{
		Attempts:  3,
		Backoff:   5 * time.Millisecond,
		QueueSize: 8,
		Workers:   1,
	})
	em.Start()
	defer em.Stop()

	em.Emit(models.Alert{ID: "alert-1", DeviceID: "dev-1"}, TransitionCreated)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, delivered := sink.stats(); delivered == 1 {
			break
		}
		if time.Now().After(deadline) {
			calls, delivered := sink.stats()
			t.Fatalf("notification not delivered: calls=%d delivered=%d", calls, delivered)
		}
		time.Sleep(10 * time.Millisecond)
	}

	calls, _ := sink.stats()
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryEmitterBoundedAttempts(t *testing.T) {
	sink := &flakySink{failFirst: 100}
	em := NewRetryEmitter(sink, EmitterConfig{
		Attempts:  3,
		Backoff:   5 * time.Millisecond,
		QueueSize: 8,
		Workers:   1,
	})
	em.Start()
	defer em.Stop()

	em.Emit(models.Alert{ID: "alert-1"}, TransitionCreated)

	deadline := time.Now().Add(2 * time.Second)
	for {
		calls, _ := sink.stats()
		if calls >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 attempts, got %d", calls)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Give the worker a chance to (incorrectly) keep retrying.
	time.Sleep(50 * time.Millisecond)
	calls, delivered := sink.stats()
	if calls != 3 {
		t.Errorf("attempts not bounded: %d calls", calls)
	}
	if delivered != 0 {
		t.Errorf("nothing should have been delivered, got %d", delivered)
	}
}

func TestRetryEmitterDropsWhenQueueFull(t *testing.T) {
	sink := &flakySink{}
	em := NewRetryEmitter(sink, EmitterConfig{
		Attempts:  1,
		Backoff:   time.Millisecond,
		QueueSize: 1,
		Workers:   1,
	})
	// Workers not started: the queue fills and Emit must not block.

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			em.Emit(models.Alert{ID: "alert"}, TransitionCreated)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on full queue")
	}
}
