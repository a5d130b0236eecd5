// Package snapshot persists batch records so non-terminal batches can be
// recovered after a restart. Persistence is best-effort bookkeeping, not a
// transactional log: save failures are logged by callers and never fail
// the batch operation that triggered them.
package snapshot

import (
	"context"
	"errors"

	"github.com/docpipe/batch-engine/pkg/batch"
)

// ErrNotFound indicates the requested batch id has no stored record.
var ErrNotFound = errors.New("snapshot not found")

// Store is the persistence adapter. One record per batch, keyed by id,
// containing the full batch structure.
type Store interface {
	Save(ctx context.Context, b *batch.Batch) error
	Load(ctx context.Context, id string) (*batch.Batch, error)
	LoadAll(ctx context.Context) ([]*batch.Batch, error)
	Delete(ctx context.Context, id string) error
}

// NopStore is used when persistence is disabled.
type NopStore struct{}

func (NopStore) Save(context.Context, *batch.Batch) error { return nil }

func (NopStore) Load(context.Context, string) (*batch.Batch, error) {
	return nil, ErrNotFound
}

func (NopStore) LoadAll(context.Context) ([]*batch.Batch, error) { return nil, nil }

func (NopStore) Delete(context.Context, string) error { return nil }
