// Package metrics provides centralized Prometheus metrics registry for the
// batch engine. All metrics are defined in their respective packages
// (registry, executor, pool, queue, snapshot, webhook) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the batch engine.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Engine Metrics (pkg/registry):
//   - batch_engine_created_total{priority} (Counter): Batches created by priority
//   - batch_engine_admitted_total (Counter): Batches admitted into execution
//   - batch_engine_active_batches (Gauge): Batches currently executing
//   - batch_engine_finished_total{status} (Counter): Terminal batches by status
//
// Document Metrics (pkg/executor):
//   - batch_documents_total{outcome} (Counter): Document outcomes (completed, failed)
//   - batch_document_retries_total (Counter): Document retry attempts
//   - batch_execution_seconds (Histogram): Per-document processing duration
//   - batch_timeouts_total (Counter): Batches failed by their timeout
//
// Worker Pool Metrics (pkg/pool):
//   - batch_pool_busy_workers (Gauge): Slots currently held
//   - batch_pool_acquire_wait_seconds (Histogram): Time spent waiting for a slot
//   - batch_pool_acquire_timeouts_total (Counter): Slot waits that gave up
//
// Queue Metrics (pkg/queue):
//   - batch_queue_depth (Gauge): Batches waiting for admission
//   - batch_queue_enqueued_total{priority} (Counter): Enqueued batches by priority
//
// Snapshot Metrics (pkg/snapshot):
//   - batch_snapshot_saves_total (Counter): Persisted batch snapshots
//   - batch_snapshot_errors_total{operation} (Counter): Snapshot store errors
//
// Webhook Metrics (pkg/webhook):
//   - batch_webhook_deliveries_total{outcome} (Counter): Deliveries by outcome
//
// Example Prometheus Queries:
//
//   # Document Failure Rate
//   sum(rate(batch_documents_total{outcome="failed"}[5m])) /
//   sum(rate(batch_documents_total[5m]))
//
//   # Worker Pool Saturation
//   batch_pool_busy_workers / on() group_left() count(batch_pool_busy_workers)
//
//   # P95 Document Latency
//   histogram_quantile(0.95, rate(batch_execution_seconds_bucket[5m]))
//
//   # Queue Backlog
//   batch_queue_depth > 10
//
//   # Retry Pressure
//   rate(batch_document_retries_total[5m])
