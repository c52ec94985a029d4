package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for dispatch pacing.
var (
	pacerSlotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proofread_pacer_slots_total",
		Help: "Total number of dispatch slots granted by the pacing gate",
	})

	pacerWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proofread_pacer_wait_seconds",
		Help:    "Time a caller slept inside the pacing gate before its slot was granted",
		Buckets: []float64{0, 0.5, 1, 2, 4, 8, 15, 30, 60},
	})

	pacerIntervalSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proofread_pacer_interval_seconds",
		Help: "Configured minimum spacing between dispatches",
	})
)

// ErrInvalidRate is returned when the requests-per-minute ceiling is not positive.
var ErrInvalidRate = errors.New("requests per minute must be > 0")

// Pacer enforces a minimum spacing between external call dispatches across
// all workers of a run. It is a token bucket of size one, refilled
// continuously: at most rpm slots are granted in any trailing minute.
//
// Acquisition is serialized by a single mutex wrapping a
// compare, sleep and stamp sequence, so waiters are served in lock order
// and there is no burst allowance.
type Pacer struct {
	mu     sync.Mutex
	state  PacingState
	clock  Clock
	logger zerolog.Logger
}

// NewPacer creates a pacer for the given requests-per-minute ceiling.
// A nil clock selects the wall clock.
func NewPacer(rpm float64, clock Clock, logger zerolog.Logger) (*Pacer, error) {
	if rpm <= 0 {
		return nil, fmt.Errorf("%w (got %v)", ErrInvalidRate, rpm)
	}
	if clock == nil {
		clock = SystemClock
	}

	interval := IntervalForRPM(rpm)
	pacerIntervalSeconds.Set(interval.Seconds())

	return &Pacer{
		state:  PacingState{Interval: interval},
		clock:  clock,
		logger: logger,
	}, nil
}

// Interval returns the configured dispatch spacing.
func (p *Pacer) Interval() time.Duration {
	return p.state.Interval
}

// Acquire blocks until at least one interval has elapsed since the previous
// grant to any caller, then stamps and returns the grant instant.
// The mutex is held while sleeping; only ctx cancellation of the sleep
// aborts an acquisition, in which case no slot is consumed.
func (p *Pacer) Acquire(ctx context.Context) (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wait := p.state.TimeUntilNext(p.clock.Now())
	if wait > 0 {
		p.logger.Debug().
			Dur("wait", wait).
			Int64("granted", p.state.Granted).
			Msg("Pacing gate waiting for next slot")

		if err := p.clock.Sleep(ctx, wait); err != nil {
			return time.Time{}, fmt.Errorf("pacing wait: %w", err)
		}
	}

	now := p.clock.Now()
	p.state.Stamp(now)

	pacerSlotsTotal.Inc()
	pacerWaitSeconds.Observe(wait.Seconds())

	return now, nil
}

// State returns a copy of the current pacing state.
func (p *Pacer) State() PacingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
