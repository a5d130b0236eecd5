// Package testutil provides test fakes for the batch engine.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/docpipe/batch-engine/pkg/batch"
	"github.com/docpipe/batch-engine/pkg/executor"
)

// FakeProcessor is a configurable stand-in for the external document
// processor. It lets scheduling tests control latency and failures and
// observe concurrency without any real extraction logic.
type FakeProcessor struct {
	mu sync.Mutex

	// Latency is slept on every Process call.
	Latency time.Duration

	// FailuresPerDoc scripts how many times a given payload "doc" key
	// fails before succeeding. -1 fails forever.
	FailuresPerDoc map[string]int

	// FailAll makes every call fail regardless of FailuresPerDoc.
	FailAll bool

	// Result is returned on success; defaults to a small JSON object.
	Result json.RawMessage

	calls      map[string]int
	totalCalls int
	inFlight   int
	maxSeen    int
}

// NewFakeProcessor creates a fake with no latency and no failures.
func NewFakeProcessor() *FakeProcessor {
	return &FakeProcessor{
		FailuresPerDoc: map[string]int{},
		calls:          map[string]int{},
	}
}

type fakePayload struct {
	Doc string `json:"doc"`
}

// Process implements executor.Processor.
func (f *FakeProcessor) Process(ctx context.Context, payload json.RawMessage, opts batch.Options) (json.RawMessage, error) {
	var p fakePayload
	_ = json.Unmarshal(payload, &p)

	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.totalCalls++
	f.calls[p.Doc]++
	call := f.calls[p.Doc]
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	latency := f.Latency
	failAll := f.FailAll
	scripted, hasScript := f.FailuresPerDoc[p.Doc]
	result := f.Result
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, &executor.ProcessingError{Message: "interrupted", Err: ctx.Err()}
		}
	}

	if failAll || (hasScript && (scripted < 0 || call <= scripted)) {
		return nil, &executor.ProcessingError{
			Message: fmt.Sprintf("scripted failure %d for %q", call, p.Doc),
		}
	}

	if result == nil {
		result = json.RawMessage(fmt.Sprintf(`{"text":"processed","accuracy":0.9,"call":%d}`, call))
	}
	return result, nil
}

// Calls returns how many times the given payload doc key was processed.
func (f *FakeProcessor) Calls(doc string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[doc]
}

// TotalCalls returns the overall number of Process invocations.
func (f *FakeProcessor) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalCalls
}

// MaxConcurrent returns the high-water mark of simultaneous Process
// calls, used to assert the worker ceiling.
func (f *FakeProcessor) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

// DocInput builds a DocumentInput whose payload carries the given doc key.
func DocInput(doc string) batch.DocumentInput {
	return batch.DocumentInput{Payload: json.RawMessage(fmt.Sprintf(`{"doc":%q}`, doc))}
}

// DocInputs builds n inputs keyed doc-0..doc-n-1.
func DocInputs(n int) []batch.DocumentInput {
	inputs := make([]batch.DocumentInput, n)
	for i := range inputs {
		inputs[i] = DocInput(fmt.Sprintf("doc-%d", i))
	}
	return inputs
}
