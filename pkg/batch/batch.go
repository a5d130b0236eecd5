// Package batch defines the core data model for document batches: statuses,
// options, per-document attempt state, progress snapshots, and result
// aggregation. All mutation of a live batch goes through the methods on
// Batch, which guard the struct with an internal mutex so API reads can
// race safely against the executing tasks.
package batch

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a batch.
type Status string

const (
	// StatusCreated is the initial state after submission.
	StatusCreated Status = "created"

	// StatusQueued means the batch is waiting for admission.
	StatusQueued Status = "queued"

	// StatusProcessing means documents are being executed.
	StatusProcessing Status = "processing"

	// StatusCompleted is terminal: all documents settled, batch-level success.
	// Individual documents may still have failed (partial failure).
	StatusCompleted Status = "completed"

	// StatusFailed is terminal: timeout or infrastructure failure.
	StatusFailed Status = "failed"

	// StatusCancelled is terminal: cancelled by the caller.
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is final and immutable.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// DocumentStatus represents the state of a single document within a batch.
type DocumentStatus string

const (
	DocPending    DocumentStatus = "pending"
	DocProcessing DocumentStatus = "processing"
	DocCompleted  DocumentStatus = "completed"
	DocFailed     DocumentStatus = "failed"
)

// AttemptError is one entry in a document's ordered error history.
type AttemptError struct {
	Attempt int       `json:"attempt"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Document is one unit of work within a batch.
type Document struct {
	ID             string          `json:"id"`
	Index          int             `json:"index"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         DocumentStatus  `json:"status"`
	Attempts       int             `json:"attempts"`
	Errors         []AttemptError  `json:"errors,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	ProcessingTime time.Duration   `json:"processingTimeNs"`
}

// DocumentInput is the caller-supplied description of one document.
type DocumentInput struct {
	// ID is optional; a UUID is assigned when empty.
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DocumentResult records one successful document in the batch results.
type DocumentResult struct {
	DocumentID     string          `json:"documentId"`
	Index          int             `json:"index"`
	Result         json.RawMessage `json:"result,omitempty"`
	ProcessingTime time.Duration   `json:"processingTimeNs"`
}

// DocumentFailure records one document that exhausted its retries.
type DocumentFailure struct {
	DocumentID string `json:"documentId"`
	Index      int    `json:"index"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error"`
}

// Results collects per-document outcomes of a batch.
type Results struct {
	Successful []DocumentResult  `json:"successful"`
	Failed     []DocumentFailure `json:"failed"`
}

// Batch is a submitted collection of documents processed as one logical job.
//
// A Batch is owned by the registry; the executing tasks mutate documents
// through the methods below. Each document is mutated by exactly one task,
// the mutex exists so concurrent API reads observe consistent state.
type Batch struct {
	mu sync.Mutex

	ID            string      `json:"id"`
	Documents     []*Document `json:"documents"`
	Options       Options     `json:"options"`
	Status        Status      `json:"status"`
	FailureReason string      `json:"failureReason,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	StartedAt     *time.Time  `json:"startedAt,omitempty"`
	CompletedAt   *time.Time  `json:"completedAt,omitempty"`
	Results       Results     `json:"results"`
	Stats         Stats       `json:"stats"`
}

// New builds a batch in state created with one pending document per input.
func New(inputs []DocumentInput, opts Options) *Batch {
	docs := make([]*Document, len(inputs))
	for i, in := range inputs {
		id := in.ID
		if id == "" {
			id = uuid.NewString()
		}
		docs[i] = &Document{
			ID:      id,
			Index:   i,
			Payload: in.Payload,
			Status:  DocPending,
		}
	}
	return &Batch{
		ID:        uuid.NewString(),
		Documents: docs,
		Options:   opts.Normalize(),
		Status:    StatusCreated,
		CreatedAt: time.Now().UTC(),
	}
}

// CurrentStatus returns the batch status under lock.
func (b *Batch) CurrentStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Status
}

// MarkQueued transitions created -> queued.
func (b *Batch) MarkQueued() error {
	return b.transition(StatusCreated, StatusQueued)
}

// MarkProcessing transitions queued -> processing and records StartedAt.
func (b *Batch) MarkProcessing(now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Status != StatusQueued {
		return fmt.Errorf("%w: cannot start batch in state %q", ErrInvalidState, b.Status)
	}
	b.Status = StatusProcessing
	t := now.UTC()
	b.StartedAt = &t
	return nil
}

// MarkCancelled transitions any non-terminal state to cancelled.
// In-flight document attempts are not interrupted; they drain on their own.
func (b *Batch) MarkCancelled(now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Status.IsTerminal() {
		return fmt.Errorf("%w: batch already %q", ErrInvalidState, b.Status)
	}
	b.Status = StatusCancelled
	t := now.UTC()
	b.CompletedAt = &t
	return nil
}

// MarkFailed transitions processing -> failed with a reason (timeout or
// infrastructure). Terminal states are left untouched.
func (b *Batch) MarkFailed(reason string, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Status.IsTerminal() {
		return fmt.Errorf("%w: batch already %q", ErrInvalidState, b.Status)
	}
	b.Status = StatusFailed
	b.FailureReason = reason
	t := now.UTC()
	b.CompletedAt = &t
	return nil
}

// MarkCompleted transitions processing -> completed. Documents in
// Results.Failed do not prevent this: partial failure is a completed batch.
func (b *Batch) MarkCompleted(now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Status.IsTerminal() {
		return fmt.Errorf("%w: batch already %q", ErrInvalidState, b.Status)
	}
	b.Status = StatusCompleted
	t := now.UTC()
	b.CompletedAt = &t
	return nil
}

func (b *Batch) transition(from, to Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Status != from {
		return fmt.Errorf("%w: cannot move batch from %q to %q", ErrInvalidState, b.Status, to)
	}
	b.Status = to
	return nil
}

// StartAttempt marks the document processing and increments its attempt
// counter. It returns the attempt number (1-based) and false when the batch
// is no longer accepting new attempts (cancelled or timed out).
func (b *Batch) StartAttempt(d *Document) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Status != StatusProcessing {
		return d.Attempts, false
	}
	d.Status = DocProcessing
	d.Attempts++
	return d.Attempts, true
}

// RecordSuccess marks the document completed and appends its result.
// Results of a batch that already reached a terminal state (timeout,
// cancellation) are not amended: a draining attempt only updates its own
// document for diagnostics.
func (b *Batch) RecordSuccess(d *Document, result json.RawMessage, took time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d.Status = DocCompleted
	d.Result = result
	d.ProcessingTime = took
	if b.Status != StatusProcessing {
		return
	}
	b.Results.Successful = append(b.Results.Successful, DocumentResult{
		DocumentID:     d.ID,
		Index:          d.Index,
		Result:         result,
		ProcessingTime: took,
	})
}

// RecordFailure appends an error-history entry for the given attempt. When
// final is true the document is marked failed and added to Results.Failed.
// Otherwise it goes back to pending for the retry wait.
func (b *Batch) RecordFailure(d *Document, attempt int, msg string, final bool, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d.Errors = append(d.Errors, AttemptError{Attempt: attempt, Message: msg, At: now.UTC()})
	if final {
		d.Status = DocFailed
		if b.Status != StatusProcessing {
			return
		}
		b.Results.Failed = append(b.Results.Failed, DocumentFailure{
			DocumentID: d.ID,
			Index:      d.Index,
			Attempts:   d.Attempts,
			Error:      msg,
		})
		return
	}
	d.Status = DocPending
}

// Progress derives the current progress snapshot under lock.
func (b *Batch) Progress() Progress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return SnapshotProgress(b.Documents)
}

// Settled reports whether every document reached a terminal document state.
func (b *Batch) Settled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.Documents {
		if d.Status != DocCompleted && d.Status != DocFailed {
			return false
		}
	}
	return true
}

// ResetForRequeue rewinds a recovered non-terminal batch so it can re-enter
// the queue after a restart: in-flight documents drop back to pending and
// the batch returns to queued.
func (b *Batch) ResetForRequeue() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.Documents {
		if d.Status == DocProcessing {
			d.Status = DocPending
		}
	}
	b.Status = StatusQueued
	b.StartedAt = nil
}

// Clone returns a deep copy of the batch for API views and persistence,
// taken under lock so the copy is internally consistent.
func (b *Batch) Clone() *Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	docs := make([]*Document, len(b.Documents))
	for i, d := range b.Documents {
		cp := *d
		cp.Errors = append([]AttemptError(nil), d.Errors...)
		docs[i] = &cp
	}

	cp := &Batch{
		ID:            b.ID,
		Documents:     docs,
		Options:       b.Options,
		Status:        b.Status,
		FailureReason: b.FailureReason,
		CreatedAt:     b.CreatedAt,
		Results: Results{
			Successful: append([]DocumentResult(nil), b.Results.Successful...),
			Failed:     append([]DocumentFailure(nil), b.Results.Failed...),
		},
		Stats: b.Stats,
	}
	if b.StartedAt != nil {
		t := *b.StartedAt
		cp.StartedAt = &t
	}
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		cp.CompletedAt = &t
	}
	if b.Stats.Accuracy != nil {
		acc := *b.Stats.Accuracy
		cp.Stats.Accuracy = &acc
	}
	return cp
}
