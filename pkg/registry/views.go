package registry

import (
	"time"

	"github.com/docpipe/batch-engine/pkg/batch"
)

// CreateReceipt is returned from CreateBatch.
type CreateReceipt struct {
	BatchID             string       `json:"batchId"`
	Status              batch.Status `json:"status"`
	QueuePosition       int          `json:"queuePosition"`
	EstimatedCompletion *time.Time   `json:"estimatedCompletion,omitempty"`
}

// StatusView is returned from GetBatchStatus.
type StatusView struct {
	BatchID             string         `json:"batchId"`
	Status              batch.Status   `json:"status"`
	FailureReason       string         `json:"failureReason,omitempty"`
	Progress            batch.Progress `json:"progress"`
	CreatedAt           time.Time      `json:"createdAt"`
	StartedAt           *time.Time     `json:"startedAt,omitempty"`
	CompletedAt         *time.Time     `json:"completedAt,omitempty"`
	QueuePosition       int            `json:"queuePosition"`
	EstimatedCompletion *time.Time     `json:"estimatedCompletion,omitempty"`
}

// ResultsView is returned from GetBatchResults. Summary is always
// well-formed, including for partially failed batches, so callers can
// resubmit only the failed subset.
type ResultsView struct {
	BatchID   string            `json:"batchId"`
	Status    batch.Status      `json:"status"`
	Summary   batch.Summary     `json:"summary"`
	Stats     batch.Stats       `json:"statistics"`
	Results   batch.Results     `json:"results"`
	Documents []*batch.Document `json:"documents,omitempty"`
}

// GlobalView is returned from GetGlobalStatistics.
type GlobalView struct {
	batch.GlobalStats

	ActiveJobs      int     `json:"activeJobs"`
	QueueSize       int     `json:"queueSize"`
	WorkerPoolUsage float64 `json:"workerPoolUsage"`
}
