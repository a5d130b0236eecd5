package registry

import (
	"fmt"
	"time"

	"github.com/docpipe/batch-engine/pkg/executor"
	"github.com/docpipe/batch-engine/pkg/snapshot"
)

// Config holds the engine configuration.
type Config struct {
	// Processor is the injected per-document extraction logic (REQUIRED).
	Processor executor.Processor

	// Concurrency caps. MaxWorkers bounds documents in flight across all
	// active batches; MaxConcurrentBatches bounds batches executing
	// simultaneously.
	MaxWorkers           int
	MaxConcurrentBatches int

	// MaxDocumentsPerBatch rejects oversized createBatch calls.
	MaxDocumentsPerBatch int

	// PollInterval is the admission loop period. Admission latency is
	// bounded by this interval.
	PollInterval time.Duration

	// Store persists batch snapshots for recovery. Nil disables
	// persistence.
	Store snapshot.Store
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(proc executor.Processor) Config {
	return Config{
		Processor:            proc,
		MaxWorkers:           4,
		MaxConcurrentBatches: 2,
		MaxDocumentsPerBatch: 100,
		PollInterval:         250 * time.Millisecond,
	}
}

func (c *Config) validate() error {
	if c.Processor == nil {
		return fmt.Errorf("document processor is required")
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be positive (got %d)", c.MaxWorkers)
	}
	if c.MaxConcurrentBatches <= 0 {
		return fmt.Errorf("max_concurrent_batches must be positive (got %d)", c.MaxConcurrentBatches)
	}
	if c.MaxDocumentsPerBatch <= 0 {
		return fmt.Errorf("max_documents_per_batch must be positive (got %d)", c.MaxDocumentsPerBatch)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive (got %v)", c.PollInterval)
	}
	return nil
}
