// Package registry hosts the batch engine: the authoritative batch store
// and public API, the queue admission loop, and the global statistics
// aggregation.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docpipe/batch-engine/pkg/batch"
	"github.com/docpipe/batch-engine/pkg/events"
	"github.com/docpipe/batch-engine/pkg/executor"
	"github.com/docpipe/batch-engine/pkg/logging"
	"github.com/docpipe/batch-engine/pkg/pool"
	"github.com/docpipe/batch-engine/pkg/queue"
	"github.com/docpipe/batch-engine/pkg/snapshot"
	"github.com/docpipe/batch-engine/pkg/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for the engine.
var (
	batchesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_engine_created_total",
		Help: "Total batches created by priority",
	}, []string{"priority"})

	batchesAdmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batch_engine_admitted_total",
		Help: "Total batches admitted into execution",
	})

	activeBatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batch_engine_active_batches",
		Help: "Batches currently executing",
	})

	batchesFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_engine_finished_total",
		Help: "Total batches reaching a terminal state by status",
	}, []string{"status"})
)

// Engine is the entry point for the public batch API. It owns the batch
// map; batches are mutated only through its operations or by the
// executing task for that specific batch.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.RWMutex
	batches map[string]*batch.Batch

	queue *queue.Queue
	pool  *pool.Pool
	exec  *executor.Executor
	store snapshot.Store
	bus   *events.Bus
	hooks *webhook.Sender
	stats *aggregator

	activeMu sync.Mutex
	active   int

	// settled guards the once-per-batch terminal bookkeeping. A cancelled
	// batch can reach finalize twice, from CancelBatch and from the
	// executing task draining.
	settled sync.Map

	runCtx  context.Context
	stop    context.CancelFunc
	group   *errgroup.Group
	started bool
}

// New creates an engine and, when persistence is enabled, recovers
// previously stored batches: terminal batches stay queryable and every
// non-terminal batch is reset and re-enqueued.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	store := cfg.Store
	if store == nil {
		store = snapshot.NopStore{}
	}

	logger := logging.NewLogger("engine")
	bus := events.NewBus(logging.NewLogger("events"))

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		batches: make(map[string]*batch.Batch),
		queue:   queue.New(),
		pool:    pool.New(cfg.MaxWorkers),
		store:   store,
		bus:     bus,
		hooks:   webhook.NewSender(logging.NewLogger("webhook")),
		stats:   &aggregator{},
	}
	e.exec = executor.New(e.pool, cfg.Processor, bus, logging.NewLogger("executor"))

	if err := e.recover(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// Bus exposes the event bus so callers can subscribe to lifecycle events.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Start launches the admission loop.
func (e *Engine) Start() {
	if e.started {
		return
	}
	e.started = true
	ctx, cancel := context.WithCancel(context.Background())
	e.runCtx = ctx
	e.stop = cancel
	e.group, _ = errgroup.WithContext(ctx)
	e.group.Go(func() error {
		e.dispatchLoop(ctx)
		return nil
	})
	e.logger.Info().
		Int("max_workers", e.cfg.MaxWorkers).
		Int("max_concurrent_batches", e.cfg.MaxConcurrentBatches).
		Dur("poll_interval", e.cfg.PollInterval).
		Msg("Engine started")
}

// Stop cancels the admission loop and waits for in-flight batch
// executions to wind down or ctx to expire. Interrupted batches stay in
// their snapshotted state for recovery.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.started {
		return nil
	}
	e.stop()

	done := make(chan error, 1)
	go func() { done <- e.group.Wait() }()

	select {
	case err := <-done:
		e.logger.Info().Msg("Engine stopped")
		return err
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}
}

// CreateBatch validates the input, stores the batch, and enqueues it for
// admission.
func (e *Engine) CreateBatch(ctx context.Context, inputs []batch.DocumentInput, opts batch.Options) (*CreateReceipt, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: batch has no documents", batch.ErrValidation)
	}
	if len(inputs) > e.cfg.MaxDocumentsPerBatch {
		return nil, fmt.Errorf("%w: batch has %d documents, maximum is %d",
			batch.ErrValidation, len(inputs), e.cfg.MaxDocumentsPerBatch)
	}

	b := batch.New(inputs, opts)

	e.mu.Lock()
	e.batches[b.ID] = b
	e.mu.Unlock()

	if err := b.MarkQueued(); err != nil {
		return nil, err
	}
	e.queue.Push(b.ID, b.Options.Priority)
	e.persist(ctx, b)

	batchesCreatedTotal.WithLabelValues(string(b.Options.Priority)).Inc()
	e.logger.Info().
		Str("batch_id", b.ID).
		Int("documents", len(b.Documents)).
		Str("priority", string(b.Options.Priority)).
		Msg("Batch created")
	e.bus.Publish(events.BatchCreated, b.ID, map[string]any{
		"documents": len(b.Documents),
		"priority":  string(b.Options.Priority),
	})

	return &CreateReceipt{
		BatchID:             b.ID,
		Status:              b.CurrentStatus(),
		QueuePosition:       e.queue.Position(b.ID),
		EstimatedCompletion: e.estimateCompletion(len(b.Documents)),
	}, nil
}

// GetBatchStatus returns the current status view of a batch.
func (e *Engine) GetBatchStatus(ctx context.Context, id string) (*StatusView, error) {
	b, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	cp := b.Clone()
	view := &StatusView{
		BatchID:       cp.ID,
		Status:        cp.Status,
		FailureReason: cp.FailureReason,
		Progress:      batch.SnapshotProgress(cp.Documents),
		CreatedAt:     cp.CreatedAt,
		StartedAt:     cp.StartedAt,
		CompletedAt:   cp.CompletedAt,
		QueuePosition: e.queue.Position(id),
	}
	if !cp.Status.IsTerminal() {
		remaining := 0
		for _, d := range cp.Documents {
			if d.Status == batch.DocPending || d.Status == batch.DocProcessing {
				remaining++
			}
		}
		view.EstimatedCompletion = e.estimateCompletion(remaining)
	}
	return view, nil
}

// GetBatchResults returns the summary and statistics of a batch, with
// per-document detail on request.
func (e *Engine) GetBatchResults(ctx context.Context, id string, includeDetails bool) (*ResultsView, error) {
	b, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	cp := b.Clone()
	view := &ResultsView{
		BatchID: cp.ID,
		Status:  cp.Status,
		Summary: b.Summary(),
		Stats:   cp.Stats,
		Results: cp.Results,
	}
	if includeDetails {
		view.Documents = cp.Documents
	}
	return view, nil
}

// CancelBatch cancels a batch from any non-terminal state. In-flight
// document attempts are not interrupted; they drain best-effort.
func (e *Engine) CancelBatch(ctx context.Context, id string) error {
	b, err := e.lookup(id)
	if err != nil {
		return err
	}
	if err := b.MarkCancelled(time.Now()); err != nil {
		return err
	}
	e.queue.Remove(id)

	e.logger.Info().Str("batch_id", id).Msg("Batch cancelled")
	e.bus.Publish(events.BatchCancelled, id, nil)
	e.finalize(b)
	return nil
}

// GetGlobalStatistics returns the running global aggregates plus current
// engine gauges.
func (e *Engine) GetGlobalStatistics(ctx context.Context) *GlobalView {
	e.activeMu.Lock()
	active := e.active
	e.activeMu.Unlock()

	return &GlobalView{
		GlobalStats:     e.stats.Snapshot(),
		ActiveJobs:      active,
		QueueSize:       e.queue.Len(),
		WorkerPoolUsage: float64(e.pool.Busy()) / float64(e.pool.Size()),
	}
}

// WorkerSnapshot exposes per-slot diagnostics.
func (e *Engine) WorkerSnapshot() []pool.SlotInfo { return e.pool.Snapshot() }

func (e *Engine) lookup(id string) (*batch.Batch, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", batch.ErrNotFound, id)
	}
	return b, nil
}

// persist snapshots the batch. Persistence is best-effort: failures are
// logged and never fail the triggering operation.
func (e *Engine) persist(ctx context.Context, b *batch.Batch) {
	if err := e.store.Save(ctx, b.Clone()); err != nil {
		e.logger.Warn().Err(err).Str("batch_id", b.ID).Msg("Snapshot save failed")
	}
}

// estimateCompletion projects a finish time from the global running mean.
// It is a best-effort hint, nil until enough history exists.
func (e *Engine) estimateCompletion(documents int) *time.Time {
	avg := e.stats.Snapshot().AverageProcessingTime
	if avg <= 0 || documents <= 0 {
		return nil
	}
	eta := time.Now().UTC().Add(avg * time.Duration(documents) / time.Duration(e.cfg.MaxWorkers))
	return &eta
}

// recover reloads persisted batches. Non-terminal batches are rewound and
// re-enqueued; terminal ones stay queryable.
func (e *Engine) recover(ctx context.Context) error {
	stored, err := e.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("recover batches: %w", err)
	}
	requeued := 0
	for _, b := range stored {
		e.batches[b.ID] = b
		if b.CurrentStatus().IsTerminal() {
			continue
		}
		b.ResetForRequeue()
		e.queue.Push(b.ID, b.Options.Priority)
		e.persist(ctx, b)
		requeued++
	}
	if len(stored) > 0 {
		e.logger.Info().
			Int("recovered", len(stored)).
			Int("requeued", requeued).
			Msg("Recovered persisted batches")
	}
	return nil
}
