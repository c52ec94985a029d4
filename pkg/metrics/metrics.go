// Package metrics exposes the Prometheus metrics of the proofreader.
// All metrics are defined in their respective packages (ratelimit,
// transform, ledger, cache, batch) to maintain modularity and avoid
// circular dependencies.
//
// This package serves them over HTTP and documents what is available.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the proofreader.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// shutdownTimeout bounds how long Serve waits for in-flight scrapes.
const shutdownTimeout = 5 * time.Second

// Metrics Documentation
//
// Pacing Metrics (pkg/ratelimit):
//   - proofread_pacer_slots_total (Counter): Dispatch slots granted
//   - proofread_pacer_wait_seconds (Histogram): Time slept before a slot was granted
//   - proofread_pacer_interval_seconds (Gauge): Configured spacing between dispatches
//   - proofread_gate_active_workers (Gauge): Workers inside the concurrency gate
//   - proofread_gate_capacity (Gauge): Concurrency gate size
//
// Transformation Metrics (pkg/transform):
//   - proofread_transform_requests_total{model, status} (Counter): Provider calls by model and HTTP status
//   - proofread_transform_request_duration_seconds{model} (Histogram): Provider call duration
//   - proofread_transform_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, empty, cancelled)
//
// Retry Metrics (pkg/transform):
//   - proofread_transform_retries_total{error_class} (Counter): Retry attempts by error class
//   - proofread_transform_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - proofread_transform_retry_exhausted_total{error_class} (Counter): Items that exhausted their attempts
//
// Ledger Metrics (pkg/ledger):
//   - proofread_ledger_merges_total{result} (Counter): Merges by result
//   - proofread_ledger_recoveries_total (Counter): Unreadable ledgers rebuilt
//   - proofread_ledger_write_duration_seconds (Histogram): Durable write duration
//
// Cache Metrics (pkg/cache):
//   - proofread_cache_hits_total{layer="redis"} (Counter): Completion cache hits
//   - proofread_cache_misses_total (Counter): Completion cache misses
//   - proofread_cache_written_bytes_total (Counter): Bytes written to the cache
//   - proofread_cache_errors_total{operation} (Counter): Cache operation errors
//
// Batch Metrics (pkg/batch):
//   - proofread_batch_items_total{status} (Counter): Items by status (completed, skipped, interrupted)
//   - proofread_batch_item_duration_seconds (Histogram): Gate entry to ledger merge
//   - proofread_batch_pending_items (Gauge): Dispatched items not yet finished
//   - proofread_batch_runs_total{result} (Counter): Runs by result (ok, noop, cancelled, error)
//
// Example Prometheus Queries:
//
//   # Effective dispatch rate per minute
//   rate(proofread_pacer_slots_total[5m]) * 60
//
//   # Skip rate
//   rate(proofread_batch_items_total{status="skipped"}[5m]) /
//   rate(proofread_batch_items_total[5m])
//
//   # P95 provider latency
//   histogram_quantile(0.95, rate(proofread_transform_request_duration_seconds_bucket[5m]))
//
//   # Cache Hit Rate
//   sum(rate(proofread_cache_hits_total[5m])) /
//   (sum(rate(proofread_cache_hits_total[5m])) + sum(rate(proofread_cache_misses_total[5m])))

// Handler serves /metrics in the Prometheus text format and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Serve runs the metrics endpoint on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	}
}
