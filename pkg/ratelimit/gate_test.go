package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewGate_InvalidCapacity(t *testing.T) {
	for _, c := range []int{0, -2} {
		if _, err := NewGate(c); !errors.Is(err, ErrInvalidConcurrency) {
			t.Errorf("NewGate(%d) error = %v, want ErrInvalidConcurrency", c, err)
		}
	}
}

func TestGate_BoundsActiveWorkers(t *testing.T) {
	gate, err := NewGate(3)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gate.Enter(context.Background()); err != nil {
				t.Errorf("Enter() error = %v", err)
				return
			}
			defer gate.Exit()

			if active := gate.Active(); active > 3 {
				t.Errorf("Active() = %d inside gate, want <= 3", active)
			}
			time.Sleep(5 * time.Millisecond)
		}()
	}
	wg.Wait()

	if gate.Peak() > 3 {
		t.Errorf("Peak() = %d, want <= 3", gate.Peak())
	}
	if gate.Peak() < 1 {
		t.Errorf("Peak() = %d, want >= 1", gate.Peak())
	}
	if gate.Active() != 0 {
		t.Errorf("Active() = %d after all exits, want 0", gate.Active())
	}
}

func TestGate_EnterRespectsContext(t *testing.T) {
	gate, err := NewGate(1)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	if err := gate.Enter(context.Background()); err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	defer gate.Exit()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := gate.Enter(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Enter() on full gate error = %v, want deadline exceeded", err)
	}
	if gate.Active() != 1 {
		t.Errorf("Active() = %d, want 1", gate.Active())
	}
}

func TestGate_ExitWakesWaiter(t *testing.T) {
	gate, err := NewGate(1)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	if err := gate.Enter(context.Background()); err != nil {
		t.Fatalf("Enter() error = %v", err)
	}

	entered := make(chan struct{})
	go func() {
		if err := gate.Enter(context.Background()); err == nil {
			close(entered)
		}
	}()

	select {
	case <-entered:
		t.Fatal("second worker entered a full gate")
	case <-time.After(20 * time.Millisecond):
	}

	gate.Exit()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Exit")
	}
	gate.Exit()
}
