package registry

import (
	"context"
	"time"

	"github.com/docpipe/batch-engine/pkg/batch"
	"github.com/docpipe/batch-engine/pkg/webhook"
)

// dispatchLoop polls the queue and admits batches while concurrency
// headroom exists. Admission order is strictly priority first, FIFO
// within a priority level; there is no aging.
func (e *Engine) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.admit(ctx)
		}
	}
}

// admit pops queued batches until the concurrency cap is reached or the
// queue drains. Batches that left the queued state while waiting
// (cancelled) are skipped.
func (e *Engine) admit(ctx context.Context) {
	for {
		e.activeMu.Lock()
		if e.active >= e.cfg.MaxConcurrentBatches {
			e.activeMu.Unlock()
			return
		}
		id, ok := e.queue.Pop()
		if !ok {
			e.activeMu.Unlock()
			return
		}

		b, err := e.lookup(id)
		if err != nil || b.CurrentStatus() != batch.StatusQueued {
			e.activeMu.Unlock()
			continue
		}

		e.active++
		e.activeMu.Unlock()
		activeBatches.Inc()
		batchesAdmittedTotal.Inc()

		e.group.Go(func() error {
			defer func() {
				e.activeMu.Lock()
				e.active--
				e.activeMu.Unlock()
				activeBatches.Dec()
			}()
			e.execute(ctx, b)
			return nil
		})
	}
}

// execute runs one batch through the executor and settles the bookkeeping
// afterwards. A batch left non-terminal after an engine shutdown is
// persisted as-is so recovery can requeue it.
func (e *Engine) execute(ctx context.Context, b *batch.Batch) {
	e.exec.Run(ctx, b)
	e.finalize(b)
}

// finalize persists the batch and, if it reached a terminal state,
// settles the once-per-batch bookkeeping.
func (e *Engine) finalize(b *batch.Batch) {
	status := b.CurrentStatus()

	// Persist with a fresh context: the run context may already be
	// cancelled during shutdown.
	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.persist(persistCtx, b)

	if !status.IsTerminal() {
		// Interrupted by shutdown. The snapshot keeps the batch
		// recoverable; nothing else to settle.
		return
	}
	if _, dup := e.settled.LoadOrStore(b.ID, struct{}{}); dup {
		return
	}

	batchesFinishedTotal.WithLabelValues(string(status)).Inc()
	e.stats.Fold(b)

	summary := b.Summary()
	e.logger.Info().
		Str("batch_id", b.ID).
		Str("status", string(status)).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Msg("Batch finished")

	if url := b.Options.NotifyURL; url != "" {
		e.hooks.Notify(url, webhook.Payload{
			BatchID:   b.ID,
			Status:    status,
			Summary:   summary,
			Timestamp: time.Now().UTC(),
		})
	}
}
