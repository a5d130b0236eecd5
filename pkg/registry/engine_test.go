package registry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/docpipe/batch-engine/internal/testutil"
	"github.com/docpipe/batch-engine/pkg/batch"
	"github.com/docpipe/batch-engine/pkg/registry"
	"github.com/docpipe/batch-engine/pkg/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Fire-and-forget webhook deliveries may outlive a test briefly.
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// memStore is an in-memory snapshot.Store for recovery tests.
type memStore struct {
	mu      sync.Mutex
	batches map[string]*batch.Batch
}

func newMemStore() *memStore {
	return &memStore{batches: make(map[string]*batch.Batch)}
}

func (s *memStore) Save(_ context.Context, b *batch.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = b
	return nil
}

func (s *memStore) Load(_ context.Context, id string) (*batch.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, snapshot.ErrNotFound
	}
	return b, nil
}

func (s *memStore) LoadAll(_ context.Context) ([]*batch.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*batch.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, b)
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, id)
	return nil
}

func fastConfig(proc *testutil.FakeProcessor) registry.Config {
	cfg := registry.DefaultConfig(proc)
	cfg.PollInterval = 10 * time.Millisecond
	return cfg
}

func startEngine(t *testing.T, cfg registry.Config) *registry.Engine {
	t.Helper()
	eng, err := registry.New(cfg)
	require.NoError(t, err)
	eng.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, eng.Stop(ctx))
	})
	return eng
}

// waitTerminal polls until the batch reaches a terminal state.
func waitTerminal(t *testing.T, eng *registry.Engine, id string) *registry.StatusView {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		view, err := eng.GetBatchStatus(context.Background(), id)
		require.NoError(t, err)
		if view.Status.IsTerminal() {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("batch %s did not reach a terminal state", id)
	return nil
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*registry.Config)
	}{
		{"missing processor", func(c *registry.Config) { c.Processor = nil }},
		{"zero workers", func(c *registry.Config) { c.MaxWorkers = 0 }},
		{"zero concurrent batches", func(c *registry.Config) { c.MaxConcurrentBatches = 0 }},
		{"zero poll interval", func(c *registry.Config) { c.PollInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := registry.DefaultConfig(&testutil.FakeProcessor{})
			tt.mutate(&cfg)
			_, err := registry.New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestCreateBatchValidation(t *testing.T) {
	proc := &testutil.FakeProcessor{}
	cfg := fastConfig(proc)
	cfg.MaxDocumentsPerBatch = 3
	eng, err := registry.New(cfg)
	require.NoError(t, err)

	_, err = eng.CreateBatch(context.Background(), nil, batch.DefaultOptions())
	assert.ErrorIs(t, err, batch.ErrValidation)

	_, err = eng.CreateBatch(context.Background(), testutil.DocInputs(4), batch.DefaultOptions())
	assert.ErrorIs(t, err, batch.ErrValidation)
}

func TestCreateBatchReceipt(t *testing.T) {
	eng, err := registry.New(fastConfig(&testutil.FakeProcessor{}))
	require.NoError(t, err)

	// Engine not started: batches stay queued so positions are stable.
	first, err := eng.CreateBatch(context.Background(), testutil.DocInputs(2), batch.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, batch.StatusQueued, first.Status)
	assert.Equal(t, 1, first.QueuePosition)
	assert.Nil(t, first.EstimatedCompletion)

	second, err := eng.CreateBatch(context.Background(), testutil.DocInputs(2), batch.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, second.QueuePosition)
	assert.NotEqual(t, first.BatchID, second.BatchID)
}

func TestEngineProcessesBatchToCompletion(t *testing.T) {
	proc := &testutil.FakeProcessor{}
	eng := startEngine(t, fastConfig(proc))

	receipt, err := eng.CreateBatch(context.Background(), testutil.DocInputs(5), batch.DefaultOptions())
	require.NoError(t, err)

	view := waitTerminal(t, eng, receipt.BatchID)
	assert.Equal(t, batch.StatusCompleted, view.Status)
	assert.Equal(t, 5, view.Progress.Completed)
	assert.Equal(t, 100, view.Progress.Percentage)
	require.NotNil(t, view.StartedAt)
	require.NotNil(t, view.CompletedAt)

	results, err := eng.GetBatchResults(context.Background(), receipt.BatchID, false)
	require.NoError(t, err)
	assert.Len(t, results.Results.Successful, 5)
	assert.Empty(t, results.Results.Failed)
	assert.Equal(t, 1.0, results.Summary.SuccessRate)
	assert.Nil(t, results.Documents)

	detailed, err := eng.GetBatchResults(context.Background(), receipt.BatchID, true)
	require.NoError(t, err)
	assert.Len(t, detailed.Documents, 5)
}

func TestPartialFailureCompletesBatch(t *testing.T) {
	proc := &testutil.FakeProcessor{
		FailuresPerDoc: map[string]int{"doc-1": -1},
	}
	eng := startEngine(t, fastConfig(proc))

	opts := batch.DefaultOptions()
	opts.MaxRetries = 1
	opts.RetryDelay = time.Millisecond
	receipt, err := eng.CreateBatch(context.Background(), testutil.DocInputs(3), opts)
	require.NoError(t, err)

	view := waitTerminal(t, eng, receipt.BatchID)
	assert.Equal(t, batch.StatusCompleted, view.Status)

	results, err := eng.GetBatchResults(context.Background(), receipt.BatchID, false)
	require.NoError(t, err)
	assert.Len(t, results.Results.Successful, 2)
	require.Len(t, results.Results.Failed, 1)
	assert.Equal(t, 2, results.Results.Failed[0].Attempts)
}

func TestPriorityOrdersAdmission(t *testing.T) {
	proc := &testutil.FakeProcessor{Latency: 20 * time.Millisecond}
	cfg := fastConfig(proc)
	cfg.MaxConcurrentBatches = 1
	eng, err := registry.New(cfg)
	require.NoError(t, err)

	makeBatch := func(p batch.Priority) string {
		opts := batch.DefaultOptions()
		opts.Priority = p
		receipt, err := eng.CreateBatch(context.Background(), testutil.DocInputs(1), opts)
		require.NoError(t, err)
		return receipt.BatchID
	}

	// Enqueued before the engine starts: admission must go high,
	// normal, low regardless of creation order.
	low := makeBatch(batch.PriorityLow)
	normal := makeBatch(batch.PriorityNormal)
	high := makeBatch(batch.PriorityHigh)

	eng.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, eng.Stop(ctx))
	})

	waitTerminal(t, eng, low)

	startOf := func(id string) time.Time {
		view, err := eng.GetBatchStatus(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, view.StartedAt)
		return *view.StartedAt
	}
	assert.True(t, startOf(high).Before(startOf(normal)), "high priority should start first")
	assert.True(t, startOf(normal).Before(startOf(low)), "normal priority should start before low")
}

func TestCancelQueuedBatch(t *testing.T) {
	eng, err := registry.New(fastConfig(&testutil.FakeProcessor{}))
	require.NoError(t, err)

	receipt, err := eng.CreateBatch(context.Background(), testutil.DocInputs(2), batch.DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, eng.CancelBatch(context.Background(), receipt.BatchID))

	view, err := eng.GetBatchStatus(context.Background(), receipt.BatchID)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusCancelled, view.Status)
	assert.Equal(t, 0, view.QueuePosition)

	// Cancelling a terminal batch is rejected.
	err = eng.CancelBatch(context.Background(), receipt.BatchID)
	assert.ErrorIs(t, err, batch.ErrInvalidState)
}

func TestCancelUnknownBatch(t *testing.T) {
	eng, err := registry.New(fastConfig(&testutil.FakeProcessor{}))
	require.NoError(t, err)

	err = eng.CancelBatch(context.Background(), "no-such-batch")
	assert.ErrorIs(t, err, batch.ErrNotFound)
}

func TestGetBatchStatusUnknown(t *testing.T) {
	eng, err := registry.New(fastConfig(&testutil.FakeProcessor{}))
	require.NoError(t, err)

	_, err = eng.GetBatchStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, batch.ErrNotFound)
	_, err = eng.GetBatchResults(context.Background(), "missing", false)
	assert.ErrorIs(t, err, batch.ErrNotFound)
}

func TestGlobalStatistics(t *testing.T) {
	proc := &testutil.FakeProcessor{}
	eng := startEngine(t, fastConfig(proc))

	first, err := eng.CreateBatch(context.Background(), testutil.DocInputs(3), batch.DefaultOptions())
	require.NoError(t, err)
	second, err := eng.CreateBatch(context.Background(), testutil.DocInputs(2), batch.DefaultOptions())
	require.NoError(t, err)
	waitTerminal(t, eng, first.BatchID)
	waitTerminal(t, eng, second.BatchID)

	stats := eng.GetGlobalStatistics(context.Background())
	assert.Equal(t, int64(2), stats.TotalBatches)
	assert.Equal(t, int64(2), stats.CompletedBatches)
	assert.Equal(t, int64(0), stats.FailedBatches)
	assert.Equal(t, int64(5), stats.TotalDocuments)
	assert.Equal(t, 1.0, stats.SuccessRate)
	assert.Positive(t, stats.AverageProcessingTime)
	assert.Equal(t, 0, stats.QueueSize)
	assert.Equal(t, 0, stats.ActiveJobs)
}

func TestSnapshotPersistedOnTransitions(t *testing.T) {
	store := newMemStore()
	proc := &testutil.FakeProcessor{}
	cfg := fastConfig(proc)
	cfg.Store = store
	eng := startEngine(t, cfg)

	receipt, err := eng.CreateBatch(context.Background(), testutil.DocInputs(2), batch.DefaultOptions())
	require.NoError(t, err)
	waitTerminal(t, eng, receipt.BatchID)

	saved, err := store.Load(context.Background(), receipt.BatchID)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusCompleted, saved.CurrentStatus())
}

func TestRecoveryRequeuesNonTerminalBatches(t *testing.T) {
	store := newMemStore()

	// Seed the store as a previous engine run would have left it: one
	// completed batch and one that was mid-processing when the process
	// died.
	done := batch.New(testutil.DocInputs(1), batch.DefaultOptions())
	require.NoError(t, done.MarkQueued())
	require.NoError(t, done.MarkProcessing(time.Now()))
	require.NoError(t, done.MarkCompleted(time.Now()))
	require.NoError(t, store.Save(context.Background(), done))

	interrupted := batch.New(testutil.DocInputs(3), batch.DefaultOptions())
	require.NoError(t, interrupted.MarkQueued())
	require.NoError(t, interrupted.MarkProcessing(time.Now()))
	require.NoError(t, store.Save(context.Background(), interrupted))

	proc := &testutil.FakeProcessor{}
	cfg := fastConfig(proc)
	cfg.Store = store
	eng := startEngine(t, cfg)

	// The completed batch stays queryable and untouched.
	view, err := eng.GetBatchStatus(context.Background(), done.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusCompleted, view.Status)

	// The interrupted batch is requeued and runs to completion.
	view = waitTerminal(t, eng, interrupted.ID)
	assert.Equal(t, batch.StatusCompleted, view.Status)

	results, err := eng.GetBatchResults(context.Background(), interrupted.ID, false)
	require.NoError(t, err)
	assert.Len(t, results.Results.Successful, 3)
}

func TestStopLeavesQueuedBatchesRecoverable(t *testing.T) {
	store := newMemStore()
	proc := &testutil.FakeProcessor{}
	cfg := fastConfig(proc)
	cfg.Store = store

	eng, err := registry.New(cfg)
	require.NoError(t, err)
	// Never started: created batches stay queued.
	receipt, err := eng.CreateBatch(context.Background(), testutil.DocInputs(2), batch.DefaultOptions())
	require.NoError(t, err)

	// A fresh engine over the same store picks the batch up again.
	next, err := registry.New(cfg)
	require.NoError(t, err)
	view, err := next.GetBatchStatus(context.Background(), receipt.BatchID)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusQueued, view.Status)
	assert.Equal(t, 1, view.QueuePosition)

	next.Start()
	ctxStop, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	waitTerminal(t, next, receipt.BatchID)
	require.NoError(t, next.Stop(ctxStop))
}

func TestConcurrentBatchCap(t *testing.T) {
	proc := &testutil.FakeProcessor{Latency: 40 * time.Millisecond}
	cfg := fastConfig(proc)
	cfg.MaxConcurrentBatches = 1
	cfg.MaxWorkers = 4
	eng := startEngine(t, cfg)

	var ids []string
	for i := 0; i < 3; i++ {
		receipt, err := eng.CreateBatch(context.Background(), testutil.DocInputs(2), batch.DefaultOptions())
		require.NoError(t, err)
		ids = append(ids, receipt.BatchID)
	}

	// Sample ActiveJobs while the backlog drains.
	maxActive := 0
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stats := eng.GetGlobalStatistics(context.Background())
		if stats.ActiveJobs > maxActive {
			maxActive = stats.ActiveJobs
		}
		last, err := eng.GetBatchStatus(context.Background(), ids[len(ids)-1])
		require.NoError(t, err)
		if last.Status.IsTerminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	for _, id := range ids {
		view := waitTerminal(t, eng, id)
		assert.Equal(t, batch.StatusCompleted, view.Status)
	}
	assert.LessOrEqual(t, maxActive, 1)
}
