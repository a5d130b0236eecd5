package batch

import "errors"

// Sentinel errors surfaced by the public batch API.
var (
	// ErrValidation indicates bad createBatch input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates an unknown batch id.
	ErrNotFound = errors.New("batch not found")

	// ErrInvalidState indicates an operation that is illegal for the
	// batch's current status, e.g. cancelling a terminal batch.
	ErrInvalidState = errors.New("invalid batch state")
)
