package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

var (
	gateActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proofread_gate_active_workers",
		Help: "Number of workers currently holding the concurrency gate",
	})

	gateCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proofread_gate_capacity",
		Help: "Configured maximum number of concurrently active workers",
	})
)

// ErrInvalidConcurrency is returned when the gate capacity is not positive.
var ErrInvalidConcurrency = errors.New("max concurrency must be > 0")

// Gate is a counting gate bounding how many workers are active at once.
// A worker holds it for its entire lifetime, including time spent waiting
// on the Pacer and inside the transformation call.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
	active   atomic.Int64
	peak     atomic.Int64
}

// NewGate creates a gate admitting at most capacity workers.
func NewGate(capacity int) (*Gate, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidConcurrency, capacity)
	}
	gateCapacity.Set(float64(capacity))
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}, nil
}

// Enter blocks until a slot is free or ctx is done.
func (g *Gate) Enter(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("enter concurrency gate: %w", err)
	}

	n := g.active.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	gateActiveWorkers.Inc()
	return nil
}

// Exit releases a slot taken by Enter and wakes one waiter, if any.
func (g *Gate) Exit() {
	g.active.Add(-1)
	gateActiveWorkers.Dec()
	g.sem.Release(1)
}

// Capacity returns the configured maximum.
func (g *Gate) Capacity() int {
	return int(g.capacity)
}

// Active returns the number of workers currently inside the gate.
func (g *Gate) Active() int {
	return int(g.active.Load())
}

// Peak returns the highest number of simultaneously active workers observed.
func (g *Gate) Peak() int {
	return int(g.peak.Load())
}
