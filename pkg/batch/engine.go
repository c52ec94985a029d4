package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Sternrassler/proofreader/pkg/cache"
	"github.com/Sternrassler/proofreader/pkg/ledger"
	"github.com/Sternrassler/proofreader/pkg/logging"
	"github.com/Sternrassler/proofreader/pkg/ratelimit"
	"github.com/Sternrassler/proofreader/pkg/rollup"
	"github.com/Sternrassler/proofreader/pkg/transform"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for batch runs.
var (
	batchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proofread_batch_items_total",
		Help: "Total processed items by status",
	}, []string{"status"})

	batchItemDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proofread_batch_item_duration_seconds",
		Help:    "Time from entering the concurrency gate to the ledger merge",
		Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 160, 320},
	})

	batchPendingItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proofread_batch_pending_items",
		Help: "Items dispatched in the current run and not yet finished",
	})

	batchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proofread_batch_runs_total",
		Help: "Total runs by result",
	}, []string{"result"})
)

// Transformer turns one prompt into proofread text. *transform.Client
// implements it.
type Transformer interface {
	Resolve(model string) error
	Transform(ctx context.Context, model string, prompt transform.Prompt) (string, error)
	Resolved(model string) (apiModel string, temperature float64)
	SystemPrompt() string
}

// Cache stores completed transformations across runs. *cache.Manager
// implements it.
type Cache interface {
	Get(ctx context.Context, key cache.Key) (*cache.Entry, error)
	Put(ctx context.Context, key cache.Key, text string) error
}

// ItemStatus is how an item's run ended.
type ItemStatus string

const (
	// StatusCompleted means the result was merged into the ledger.
	StatusCompleted ItemStatus = "completed"
	// StatusSkipped means the transformation or merge failed; the item stays Pending.
	StatusSkipped ItemStatus = "skipped"
	// StatusInterrupted means the run was cancelled before the item finished.
	StatusInterrupted ItemStatus = "interrupted"
)

// ItemResult reports one finished item.
type ItemResult struct {
	Index     int
	Status    ItemStatus
	Cached    bool
	Recovered bool
	Chars     int
	Elapsed   time.Duration
	Err       error
}

// Config holds engine configuration.
type Config struct {
	// Store is the durable ledger. Required. The caller closes it.
	Store ledger.Store

	// RunLogPath is the append-only progress log. Empty disables it.
	RunLogPath string

	// RollupPath receives the combined document at run end. Empty disables it.
	RollupPath string

	// Placement selects where context goes in the prompt.
	Placement transform.ContextPlacement

	// Cache is consulted before pacing. Optional.
	Cache Cache

	// Clock drives pacing. Defaults to the wall clock.
	Clock ratelimit.Clock

	// OnItem is called once per finished item. Calls are serialized.
	OnItem func(ItemResult)

	// Logger receives diagnostics.
	Logger zerolog.Logger
}

// Result is the outcome of a run.
type Result struct {
	// Entries is the ledger as re-read after all workers finished.
	Entries ledger.Entries
	// Stats summarizes Entries against the input.
	Stats Stats
	// Dispatched lists the indices the run worked on, in dispatch order.
	Dispatched []int
	// Noop is true when nothing requested was Pending.
	Noop bool
	// PeakConcurrency is the highest number of simultaneously active workers.
	PeakConcurrency int
	// SlotsGranted is the number of pacing slots taken. Cache hits take none.
	SlotsGranted int64
}

// Engine drives work items through the transformation client under a
// pacing gate and a concurrency gate, merging each result into the ledger
// as soon as it arrives.
type Engine struct {
	client Transformer
	cfg    Config
	logger zerolog.Logger
}

// New creates an engine.
func New(client Transformer, cfg Config) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock
	}
	if cfg.Placement == "" {
		cfg.Placement = transform.PlacementMaterial
	}
	return &Engine{
		client: client,
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// run holds the run-scoped state shared by all workers.
type run struct {
	req     RunRequest
	items   []WorkItem
	ledger  *ledger.Ledger
	pacer   *ratelimit.Pacer
	gate    *ratelimit.Gate
	runlog  *logging.RunLog
	onItemM sync.Mutex
}

// Run processes every requested item that is still Pending in the ledger.
//
// Configuration errors (invalid request, unsupported model) and a ledger
// whose length differs from items abort before any call is made. Items
// whose transformation fails are logged and left Pending; the run goes on.
// If ctx is cancelled, in-flight items stay Pending, the ledger is still
// summarized and ctx's error is returned alongside the result.
func (e *Engine) Run(ctx context.Context, items []WorkItem, req RunRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := e.client.Resolve(req.Model); err != nil {
		return nil, fmt.Errorf("resolve model: %w", err)
	}

	led, entries, err := ledger.Open(ctx, e.cfg.Store, len(items), e.logger)
	if err != nil {
		batchRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	pending := entries.Pending(req.Requested(len(items)))
	if len(pending) == 0 {
		e.logger.Info().
			Int("total", len(items)).
			Int("done", entries.DoneCount()).
			Msg("Nothing to process")
		batchRunsTotal.WithLabelValues("noop").Inc()
		return &Result{
			Entries: entries,
			Stats:   ComputeStats(items, entries),
			Noop:    true,
		}, nil
	}

	pacer, err := ratelimit.NewPacer(req.RequestsPerMinute, e.cfg.Clock, e.logger.With().Str("component", "pacer").Logger())
	if err != nil {
		return nil, err
	}
	gate, err := ratelimit.NewGate(req.MaxConcurrency)
	if err != nil {
		return nil, err
	}

	r := &run{
		req:    req,
		items:  items,
		ledger: led,
		pacer:  pacer,
		gate:   gate,
	}
	if e.cfg.RunLogPath != "" {
		rl, err := logging.OpenRunLog(e.cfg.RunLogPath)
		if err != nil {
			return nil, err
		}
		defer rl.Close()
		r.runlog = rl
	} else {
		r.runlog = logging.NewRunLog(io.Discard)
	}

	start := e.cfg.Clock.Now()
	r.runlog.Start(logging.RunStart{
		Time:              start,
		Pending:           len(pending),
		Total:             len(items),
		MaxConcurrency:    req.MaxConcurrency,
		Model:             req.Model,
		RequestsPerMinute: req.RequestsPerMinute,
	})
	e.logger.Info().
		Int("pending", len(pending)).
		Int("total", len(items)).
		Str("model", req.Model).
		Float64("rpm", req.RequestsPerMinute).
		Dur("interval", pacer.Interval()).
		Int("max_concurrency", gate.Capacity()).
		Msg("Starting batch run")

	// Workers never return errors: a failed item must not cancel its siblings.
	var g errgroup.Group
	for _, idx := range pending {
		batchPendingItems.Inc()
		g.Go(func() error {
			defer batchPendingItems.Dec()
			e.report(r, e.process(ctx, r, idx))
			return nil
		})
	}
	_ = g.Wait()

	// The run is summarized even after cancellation.
	final := context.WithoutCancel(ctx)
	snapshot, err := led.Snapshot(final)
	if err != nil {
		return nil, err
	}
	stats := ComputeStats(items, snapshot)
	stats.Duration = e.cfg.Clock.Now().Sub(start)

	r.runlog.Finish(logging.RunSummary{
		Time:           e.cfg.Clock.Now(),
		Total:          stats.Total,
		Completed:      stats.Completed,
		CompletedChars: stats.CompletedChars,
		PendingChars:   stats.PendingChars,
		TotalChars:     stats.TotalChars,
		Duration:       stats.Duration,
	})

	if e.cfg.RollupPath != "" {
		if err := rollup.WriteFile(e.cfg.RollupPath, snapshot); err != nil {
			return nil, err
		}
	}

	e.logger.Info().
		Int("completed", stats.Completed).
		Int("pending", stats.Pending).
		Int("total", stats.Total).
		Dur("duration", stats.Duration).
		Int("peak_concurrency", gate.Peak()).
		Int64("slots_granted", pacer.State().Granted).
		Msg("Batch run finished")

	result := &Result{
		Entries:         snapshot,
		Stats:           stats,
		Dispatched:      pending,
		PeakConcurrency: gate.Peak(),
		SlotsGranted:    pacer.State().Granted,
	}
	if err := ctx.Err(); err != nil {
		batchRunsTotal.WithLabelValues("cancelled").Inc()
		return result, err
	}
	batchRunsTotal.WithLabelValues("ok").Inc()
	return result, nil
}

// process runs one item through the gates and the transformation client.
func (e *Engine) process(ctx context.Context, r *run, idx int) ItemResult {
	res := ItemResult{Index: idx}
	item := r.items[idx]
	total := len(r.items)
	logger := e.logger.With().Int("index", idx).Logger()

	if err := r.gate.Enter(ctx); err != nil {
		res.Status, res.Err = StatusInterrupted, err
		return res
	}
	defer r.gate.Exit()

	start := e.cfg.Clock.Now()
	prompt := transform.BuildPrompt(item.Target, item.Context, item.Reference, e.cfg.Placement)
	apiModel, temperature := e.client.Resolved(r.req.Model)
	key := cache.Key{
		Model:       r.req.Model,
		APIModel:    apiModel,
		Temperature: temperature,
		Instruction: e.client.SystemPrompt(),
		Prompt:      prompt.Combined(),
	}

	text, cached := e.lookup(ctx, key, logger)
	if !cached {
		if _, err := r.pacer.Acquire(ctx); err != nil {
			res.Status, res.Err = StatusInterrupted, err
			return res
		}

		var err error
		text, err = e.client.Transform(ctx, r.req.Model, prompt)
		if err != nil {
			res.Elapsed = e.cfg.Clock.Now().Sub(start)
			res.Err = err
			// Only the run's own cancellation interrupts; a provider
			// timeout is an ordinary failure.
			if ctx.Err() != nil {
				res.Status = StatusInterrupted
				logger.Debug().Err(err).Msg("Item interrupted")
				return res
			}
			res.Status = StatusSkipped
			logger.Warn().Err(err).Dur("elapsed", res.Elapsed).Msg("Item failed, skipping")
			r.runlog.Skipped(idx, total, Snippet(item.Target), err)
			return res
		}
		e.remember(ctx, key, text, logger)
	}

	// A finished completion is persisted even if the run is being cancelled.
	recovered, err := r.ledger.Merge(context.WithoutCancel(ctx), idx, text)
	res.Elapsed = e.cfg.Clock.Now().Sub(start)
	res.Cached = cached
	if err != nil {
		res.Status, res.Err = StatusSkipped, err
		logger.Error().Err(err).Msg("Ledger merge failed, skipping")
		r.runlog.Skipped(idx, total, Snippet(item.Target), err)
		return res
	}
	if recovered {
		res.Recovered = true
		r.runlog.Recovered(idx, total)
	}

	res.Status = StatusCompleted
	res.Chars = utf8.RuneCountInString(item.Target)
	r.runlog.Completed(idx, total, res.Chars, res.Elapsed)
	logger.Info().
		Int("chars", res.Chars).
		Dur("elapsed", res.Elapsed).
		Bool("cached", cached).
		Msg("Item completed")
	return res
}

// lookup consults the cache. Cache errors count as misses.
func (e *Engine) lookup(ctx context.Context, key cache.Key, logger zerolog.Logger) (string, bool) {
	if e.cfg.Cache == nil {
		return "", false
	}
	entry, err := e.cfg.Cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn().Err(err).Msg("Cache get error")
		}
		return "", false
	}
	logger.Debug().Msg("Cache hit")
	return entry.Text, true
}

func (e *Engine) remember(ctx context.Context, key cache.Key, text string, logger zerolog.Logger) {
	if e.cfg.Cache == nil {
		return
	}
	if err := e.cfg.Cache.Put(ctx, key, text); err != nil {
		logger.Warn().Err(err).Msg("Failed to cache completion")
	}
}

func (e *Engine) report(r *run, res ItemResult) {
	batchItemsTotal.WithLabelValues(string(res.Status)).Inc()
	if res.Status == StatusCompleted {
		batchItemDuration.Observe(res.Elapsed.Seconds())
	}
	if e.cfg.OnItem == nil {
		return
	}
	r.onItemM.Lock()
	defer r.onItemM.Unlock()
	e.cfg.OnItem(res)
}
