package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/docpipe/batch-engine/pkg/batch"
)

// Processor is the injected per-document extraction logic. The engine
// treats it as an opaque, blocking, non-preemptible call: a timed-out
// batch leaves in-flight Process calls to drain on their own.
type Processor interface {
	Process(ctx context.Context, payload json.RawMessage, opts batch.Options) (json.RawMessage, error)
}

// ProcessingError is a per-document failure raised by the Processor. It is
// recovered locally via retry; exhaustion converts it into a recorded
// failure entry without failing the batch.
type ProcessingError struct {
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("processing failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("processing failed: %s", e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ProcessingError) Unwrap() error {
	return e.Err
}
