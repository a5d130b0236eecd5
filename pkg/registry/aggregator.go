package registry

import (
	"sync"
	"time"

	"github.com/docpipe/batch-engine/pkg/batch"
)

// aggregator folds completed-batch metrics into the running global
// statistics with an incremental mean: newAvg = (oldAvg*(n-1)+v)/n.
// It is rebuildable from persisted snapshots and not itself persisted.
type aggregator struct {
	mu    sync.Mutex
	stats batch.GlobalStats

	// n counts the batches folded into the running means.
	n int64
}

// Fold incorporates one terminal batch. Cancelled batches count toward
// the totals but not toward the running means, since they carry no
// meaningful processing statistics.
func (a *aggregator) Fold(b *batch.Batch) {
	cp := b.Clone()
	summary := b.Summary()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalBatches++
	a.stats.TotalDocuments += int64(len(cp.Documents))

	switch cp.Status {
	case batch.StatusCompleted:
		a.stats.CompletedBatches++
	case batch.StatusFailed:
		a.stats.FailedBatches++
	default:
		return
	}

	a.n++
	n := float64(a.n)
	a.stats.AverageProcessingTime = time.Duration(
		(float64(a.stats.AverageProcessingTime)*(n-1) + float64(cp.Stats.AverageProcessingTime)) / n,
	)
	a.stats.SuccessRate = (a.stats.SuccessRate*(n-1) + summary.SuccessRate) / n
}

// Snapshot returns a copy of the current global statistics.
func (a *aggregator) Snapshot() batch.GlobalStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
