// Package ledger implements the durable progress ledger: one slot per work
// item, Pending until a result is merged, then Done for good. Every merge
// re-reads the durable ledger, updates one slot and re-persists the whole
// ledger under a single run-scoped mutex.
package ledger

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

var (
	ledgerMergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proofread_ledger_merges_total",
		Help: "Total ledger merges by result",
	}, []string{"result"})

	ledgerRecoveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proofread_ledger_recoveries_total",
		Help: "Total lossy rebuilds of an unreadable ledger",
	})

	ledgerWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proofread_ledger_write_duration_seconds",
		Help:    "Duration of a read-modify-write ledger merge",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)

// Ledger serializes every mutation of a durable ledger.
type Ledger struct {
	mu     sync.Mutex
	store  Store
	length int
	logger zerolog.Logger
}

// Open loads the ledger from store, creating it all-Pending if absent.
// A stored ledger whose length differs from expectedLen is a fatal
// *LengthMismatchError. An unparseable ledger is replaced by a fresh
// all-Pending one and a warning is logged; previously completed work is lost.
func Open(ctx context.Context, store Store, expectedLen int, logger zerolog.Logger) (*Ledger, Entries, error) {
	if expectedLen < 0 {
		return nil, nil, fmt.Errorf("invalid ledger length %d", expectedLen)
	}
	l := &Ledger{
		store:  store,
		length: expectedLen,
		logger: logger.With().Str("ledger", store.Location()).Logger(),
	}

	entries, err := store.Load(ctx)
	switch {
	case err == nil:
		if len(entries) != expectedLen {
			return nil, nil, &LengthMismatchError{Location: store.Location(), Got: len(entries), Want: expectedLen}
		}
		l.logger.Info().
			Int("entries", len(entries)).
			Int("done", entries.DoneCount()).
			Msg("Ledger loaded")
		return l, entries, nil

	case errors.Is(err, ErrNotFound):
		entries = NewEntries(expectedLen)
		if err := store.Save(ctx, entries); err != nil {
			return nil, nil, fmt.Errorf("create ledger: %w", err)
		}
		l.logger.Info().Int("entries", expectedLen).Msg("Ledger created")
		return l, entries, nil

	case errors.Is(err, ErrCorrupt):
		l.logger.Warn().Err(err).Msg("Ledger unreadable, starting from an empty ledger")
		ledgerRecoveriesTotal.Inc()
		entries = NewEntries(expectedLen)
		if err := store.Save(ctx, entries); err != nil {
			return nil, nil, fmt.Errorf("recreate ledger: %w", err)
		}
		return l, entries, nil

	default:
		return nil, nil, fmt.Errorf("load ledger: %w", err)
	}
}

// Len returns the number of slots.
func (l *Ledger) Len() int {
	return l.length
}

// Location identifies the durable ledger.
func (l *Ledger) Location() string {
	return l.store.Location()
}

// Merge records text as the result for index. It re-reads the durable
// ledger, sets the one slot and persists the whole ledger. If the durable
// ledger is unreadable or has the wrong length, it is rebuilt all-Pending
// before applying the update and recovered is true. A slot that is already
// Done is left unchanged.
func (l *Ledger) Merge(ctx context.Context, index int, text string) (recovered bool, err error) {
	if index < 0 || index >= l.length {
		return false, fmt.Errorf("%w: %d (ledger has %d entries)", ErrIndexOutOfRange, index, l.length)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	defer func() {
		ledgerWriteDuration.Observe(time.Since(start).Seconds())
	}()

	current, err := l.store.Load(ctx)
	switch {
	case err == nil && len(current) == l.length:
	case err == nil, errors.Is(err, ErrNotFound), errors.Is(err, ErrCorrupt):
		l.logger.Warn().
			Err(err).
			Int("index", index).
			Int("found_entries", len(current)).
			Msg("Ledger unreadable during merge, rebuilding; earlier results are lost")
		ledgerRecoveriesTotal.Inc()
		current = NewEntries(l.length)
		recovered = true
	default:
		ledgerMergesTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("reload ledger: %w", err)
	}

	if current[index] != nil && !recovered {
		l.logger.Debug().Int("index", index).Msg("Entry already done, keeping existing result")
		ledgerMergesTotal.WithLabelValues("already_done").Inc()
		return false, nil
	}

	current[index] = Text(text)
	if err := l.store.Save(ctx, current); err != nil {
		ledgerMergesTotal.WithLabelValues("error").Inc()
		return recovered, fmt.Errorf("persist ledger: %w", err)
	}

	if recovered {
		ledgerMergesTotal.WithLabelValues("recovered").Inc()
	} else {
		ledgerMergesTotal.WithLabelValues("ok").Inc()
	}
	return recovered, nil
}

// Snapshot re-reads the durable ledger. A missing, unreadable or
// wrong-length ledger yields an all-Pending snapshot rather than an error.
func (l *Ledger) Snapshot(ctx context.Context) (Entries, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.store.Load(ctx)
	switch {
	case err == nil && len(current) == l.length:
		return current, nil
	case err == nil, errors.Is(err, ErrNotFound), errors.Is(err, ErrCorrupt):
		l.logger.Warn().Err(err).Msg("Ledger unreadable at snapshot, reporting all entries pending")
		return NewEntries(l.length), nil
	default:
		return nil, fmt.Errorf("snapshot ledger: %w", err)
	}
}
