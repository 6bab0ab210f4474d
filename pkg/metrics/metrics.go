// Package metrics provides the Prometheus registry and /metrics endpoint for
// contractooor. All metrics are defined in their respective packages (retry,
// transport, pagination, pipeline, executor, checkpoint, opensea) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry used by contractooor.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler exposing every registered metric.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done. A run of the CLI is
// short-lived, so the listener is best effort: failures are logged and never
// fail the command.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", addr).Msg("Metrics listener failed")
		}
	}()
}

// Metrics Documentation
//
// Retry Metrics (pkg/retry):
//   - contractooor_retries_total{operation} (Counter): Retry attempts by guarded operation
//   - contractooor_retry_exhausted_total{operation} (Counter): Calls that spent their retry budget
//
// Transport Metrics (pkg/transport):
//   - contractooor_http_requests_total{host, status} (Counter): Requests by host and HTTP status
//   - contractooor_http_request_duration_seconds{host} (Histogram): Request duration by host
//   - contractooor_rate_limit_waits_total{host} (Counter): 429 responses honoured with a wait
//   - contractooor_rate_limit_wait_seconds (Histogram): Length of server-directed waits
//
// Pagination Metrics (pkg/pagination):
//   - contractooor_pages_fetched_total{source} (Counter): Pages fetched per listing
//
// Pipeline Metrics (pkg/pipeline):
//   - contractooor_pipeline_in_flight{pipeline} (Gauge): Calls currently in flight
//   - contractooor_pipeline_leaf_failures_total{pipeline} (Counter): Failed leaf calls
//
// Executor Metrics (pkg/executor):
//   - contractooor_batches_total{result} (Counter): Batches by outcome (confirmed, failed, skipped)
//   - contractooor_batch_gas_used (Histogram): Gas used per confirmed batch
//   - contractooor_operations_submitted_total (Counter): Operations in confirmed batches
//
// Checkpoint Metrics (pkg/checkpoint):
//   - contractooor_checkpoint_writes_total{kind} (Counter): Checkpoints written
//   - contractooor_checkpoint_misses_total (Counter): Loads that found no checkpoint
//   - contractooor_checkpoint_errors_total{operation} (Counter): Redis failures
//
// OpenSea Metrics (pkg/opensea):
//   - contractooor_opensea_assets_total{operation, result} (Counter): Assets processed
//
// Example Prometheus Queries:
//
//   # Rate limit pressure
//   rate(contractooor_rate_limit_waits_total[5m])
//
//   # Retry budget exhaustion by operation
//   sum by (operation) (increase(contractooor_retry_exhausted_total[1h]))
//
//   # Average gas per batch
//   rate(contractooor_batch_gas_used_sum[1h]) / rate(contractooor_batch_gas_used_count[1h])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(contractooor_http_request_duration_seconds_bucket[5m]))
