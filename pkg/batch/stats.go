package batch

import (
	"encoding/json"
	"time"
)

// AccuracyStats summarizes the numeric "accuracy" field found in successful
// document results, when the processor reports one.
type AccuracyStats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// Stats are the per-batch processing statistics computed at finalization.
type Stats struct {
	TotalProcessingTime   time.Duration  `json:"totalProcessingTimeNs"`
	AverageProcessingTime time.Duration  `json:"averageProcessingTimeNs"`
	Accuracy              *AccuracyStats `json:"accuracy,omitempty"`
}

// Summary is the caller-facing roll-up of a settled batch. It is always
// well-formed, including for partially failed batches, so callers can
// resubmit only the failed subset.
type Summary struct {
	TotalDocuments      int           `json:"totalDocuments"`
	Successful          int           `json:"successful"`
	Failed              int           `json:"failed"`
	SuccessRate         float64       `json:"successRate"`
	TotalProcessingTime time.Duration `json:"totalProcessingTimeNs"`
}

// GlobalStats are the running aggregates folded over completed batches.
type GlobalStats struct {
	TotalBatches          int64         `json:"totalBatches"`
	CompletedBatches      int64         `json:"completedBatches"`
	FailedBatches         int64         `json:"failedBatches"`
	TotalDocuments        int64         `json:"totalDocuments"`
	AverageProcessingTime time.Duration `json:"averageProcessingTimeNs"`
	SuccessRate           float64       `json:"successRate"`
}

// ComputeStats fills b.Stats from the recorded results under lock.
func (b *Batch) ComputeStats() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total time.Duration
	for _, r := range b.Results.Successful {
		total += r.ProcessingTime
	}
	b.Stats.TotalProcessingTime = total
	if n := len(b.Results.Successful); n > 0 {
		b.Stats.AverageProcessingTime = total / time.Duration(n)
	}
	b.Stats.Accuracy = accuracyOf(b.Results.Successful)
}

// Summary builds the caller-facing roll-up under lock.
func (b *Batch) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Summary{
		TotalDocuments:      len(b.Documents),
		Successful:          len(b.Results.Successful),
		Failed:              len(b.Results.Failed),
		TotalProcessingTime: b.Stats.TotalProcessingTime,
	}
	if s.TotalDocuments > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.TotalDocuments)
	}
	return s
}

// accuracyOf probes successful results for a top-level numeric "accuracy"
// field and folds min/max/avg over the ones that carry it.
func accuracyOf(results []DocumentResult) *AccuracyStats {
	var (
		acc   *AccuracyStats
		sum   float64
		count int
	)
	for _, r := range results {
		if len(r.Result) == 0 {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(r.Result, &fields); err != nil {
			continue
		}
		raw, ok := fields["accuracy"]
		if !ok {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		if acc == nil {
			acc = &AccuracyStats{Min: v, Max: v}
		}
		if v < acc.Min {
			acc.Min = v
		}
		if v > acc.Max {
			acc.Max = v
		}
		sum += v
		count++
	}
	if acc != nil {
		acc.Avg = sum / float64(count)
	}
	return acc
}
