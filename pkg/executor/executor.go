// Package executor drives one admitted batch to a terminal state: it fans
// the batch's documents out over the shared worker pool, runs the
// per-document attempt loop with linear retry backoff, races the batch
// timeout against settlement, and finalizes statistics.
package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docpipe/batch-engine/pkg/batch"
	"github.com/docpipe/batch-engine/pkg/events"
	"github.com/docpipe/batch-engine/pkg/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for batch execution.
var (
	documentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_documents_total",
		Help: "Total documents settled by outcome",
	}, []string{"outcome"})

	documentRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batch_document_retries_total",
		Help: "Total document retry attempts",
	})

	batchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_execution_seconds",
		Help:    "Wall-clock duration of batch execution",
		Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 300, 600},
	})

	batchTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batch_timeouts_total",
		Help: "Total batches that hit their timeout",
	})
)

// defaultAcquireWait bounds how long a document attempt waits for a worker
// slot before the batch is treated as infrastructure-failed.
const defaultAcquireWait = 30 * time.Second

// FailureReasonTimeout marks batches that hit Options.Timeout.
const FailureReasonTimeout = "timeout"

// FailureReasonInfrastructure marks batches where no worker slot freed
// within the bounded wait.
const FailureReasonInfrastructure = "infrastructure: no worker available"

// Executor runs admitted batches against the shared worker pool.
type Executor struct {
	pool        *pool.Pool
	processor   Processor
	bus         *events.Bus
	logger      zerolog.Logger
	clock       Clock
	acquireWait time.Duration
}

// New creates an executor. The pool is shared across all active batches;
// the executor itself is stateless between Run calls.
func New(p *pool.Pool, proc Processor, bus *events.Bus, logger zerolog.Logger) *Executor {
	return &Executor{
		pool:        p,
		processor:   proc,
		bus:         bus,
		logger:      logger,
		clock:       RealClock(),
		acquireWait: defaultAcquireWait,
	}
}

// SetClock replaces the wall clock (for testing).
func (e *Executor) SetClock(c Clock) { e.clock = c }

// SetAcquireWait overrides the bounded worker wait (for testing).
func (e *Executor) SetAcquireWait(d time.Duration) { e.acquireWait = d }

// Run executes the batch until every document settled, the batch timeout
// fires, or the batch is cancelled. It always leaves the batch in a
// terminal state (or cancelled by the registry) before returning.
func (e *Executor) Run(ctx context.Context, b *batch.Batch) error {
	if err := b.MarkProcessing(e.clock.Now()); err != nil {
		return err
	}
	start := time.Now()
	logger := e.logger.With().Str("batch_id", b.ID).Logger()

	logger.Info().
		Int("documents", len(b.Documents)).
		Str("priority", string(b.Options.Priority)).
		Dur("timeout", b.Options.Timeout).
		Msg("Batch execution started")

	e.bus.Publish(events.BatchStarted, b.ID, b.Progress())

	// runCtx bounds new attempts and retry waits. Process calls get the
	// parent ctx: external calls are non-preemptible and drain on their
	// own after a timeout.
	runCtx, cancel := context.WithTimeout(ctx, b.Options.Timeout)
	defer cancel()

	var (
		wg    sync.WaitGroup
		infra atomic.Bool
	)
	for _, d := range b.Documents {
		wg.Add(1)
		go func(d *batch.Document) {
			defer wg.Done()
			e.runDocument(ctx, runCtx, b, d, &infra, logger)
		}(d)
	}

	settled := make(chan struct{})
	go func() {
		wg.Wait()
		close(settled)
	}()

	timedOut := false
	interrupted := false
	select {
	case <-settled:
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			timedOut = true
		} else {
			// Parent context cancelled: engine shutdown. The batch is
			// left processing so a snapshot restart can re-enqueue it.
			interrupted = true
		}
	}
	cancel()

	// Finalize. Statistics and the summary reflect the state at the
	// moment the race resolved; results from attempts still draining are
	// not folded in.
	b.ComputeStats()
	batchDurationSeconds.Observe(time.Since(start).Seconds())

	switch {
	case interrupted:
		logger.Info().Msg("Batch execution interrupted by shutdown")
	case b.CurrentStatus() == batch.StatusCancelled:
		// Registry already flipped the status; in-flight attempts drain.
		logger.Info().Msg("Batch execution stopped by cancellation")
	case timedOut:
		batchTimeoutsTotal.Inc()
		if err := b.MarkFailed(FailureReasonTimeout, e.clock.Now()); err == nil {
			logger.Warn().
				Dur("timeout", b.Options.Timeout).
				Msg("Batch timed out")
			e.bus.Publish(events.BatchFailed, b.ID, map[string]any{
				"reason":  FailureReasonTimeout,
				"summary": b.Summary(),
			})
		}
	case infra.Load():
		if err := b.MarkFailed(FailureReasonInfrastructure, e.clock.Now()); err == nil {
			logger.Error().Msg("Batch failed: no worker became available")
			e.bus.Publish(events.BatchFailed, b.ID, map[string]any{
				"reason":  FailureReasonInfrastructure,
				"summary": b.Summary(),
			})
		}
	default:
		if err := b.MarkCompleted(e.clock.Now()); err == nil {
			s := b.Summary()
			logger.Info().
				Int("successful", s.Successful).
				Int("failed", s.Failed).
				Dur("duration", time.Since(start)).
				Msg("Batch completed")
			e.bus.Publish(events.BatchCompleted, b.ID, s)
		}
	}
	return nil
}

// runDocument is the per-document attempt loop. It is the single writer
// for its document's state.
func (e *Executor) runDocument(ctx, runCtx context.Context, b *batch.Batch, d *batch.Document, infra *atomic.Bool, logger zerolog.Logger) {
	for {
		attempt, ok := b.StartAttempt(d)
		if !ok {
			// Batch stopped accepting attempts (cancelled, timed out).
			return
		}
		e.bus.Publish(events.BatchProgress, b.ID, b.Progress())

		slot, err := e.acquireSlot(runCtx, d.ID)
		if err != nil {
			if runCtx.Err() != nil {
				// Batch budget expired or shutdown; the run loop
				// reports the batch-level outcome.
				return
			}
			// No worker within the bounded wait: infrastructure failure.
			infra.Store(true)
			b.RecordFailure(d, attempt, err.Error(), true, e.clock.Now())
			documentsTotal.WithLabelValues("failed").Inc()
			e.bus.Publish(events.DocumentFailed, b.ID, map[string]any{
				"documentId": d.ID,
				"attempts":   attempt,
				"error":      err.Error(),
			})
			return
		}

		start := time.Now()
		result, perr := e.processor.Process(ctx, d.Payload, b.Options)
		took := time.Since(start)

		// Release immediately, success or failure. The slot is never
		// held during retry backoff.
		e.pool.Release(slot)

		if perr == nil {
			b.RecordSuccess(d, result, took)
			documentsTotal.WithLabelValues("completed").Inc()
			logger.Debug().
				Str("doc_id", d.ID).
				Int("attempt", attempt).
				Dur("took", took).
				Msg("Document completed")
			e.bus.Publish(events.DocumentCompleted, b.ID, map[string]any{
				"documentId":     d.ID,
				"index":          d.Index,
				"processingTime": took.String(),
			})
			e.bus.Publish(events.BatchProgress, b.ID, b.Progress())
			return
		}

		final := attempt >= b.Options.MaxRetries+1
		b.RecordFailure(d, attempt, perr.Error(), final, e.clock.Now())
		e.bus.Publish(events.BatchProgress, b.ID, b.Progress())

		if final {
			documentsTotal.WithLabelValues("failed").Inc()
			logger.Warn().
				Str("doc_id", d.ID).
				Int("attempts", attempt).
				Err(perr).
				Msg("Document failed, retries exhausted")
			e.bus.Publish(events.DocumentFailed, b.ID, map[string]any{
				"documentId": d.ID,
				"attempts":   attempt,
				"error":      perr.Error(),
			})
			return
		}

		// Linear backoff: attempt n waits RetryDelay*n, without a slot.
		delay := b.Options.RetryDelay * time.Duration(attempt)
		documentRetriesTotal.Inc()
		logger.Debug().
			Str("doc_id", d.ID).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(perr).
			Msg("Retrying document after backoff")

		select {
		case <-e.clock.After(delay):
		case <-runCtx.Done():
			return
		}
	}
}

// acquireSlot waits for a worker slot, bounded by both the batch budget
// and the executor's acquire wait.
func (e *Executor) acquireSlot(runCtx context.Context, docID string) (*pool.Slot, error) {
	waitCtx, cancel := context.WithTimeout(runCtx, e.acquireWait)
	defer cancel()

	slot, err := e.pool.Acquire(waitCtx)
	if err != nil {
		return nil, err
	}
	slot.SetCurrent(docID)
	return slot, nil
}
