// Package pool provides the fixed-size worker pool bounding concurrent
// document processing. A document is processed only while holding a Slot;
// never more than Size slots are outstanding at once.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for worker pool usage.
var (
	poolBusyWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batch_pool_busy_workers",
		Help: "Number of worker slots currently held",
	})

	poolAcquireWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_pool_acquire_wait_seconds",
		Help:    "Time spent waiting for a free worker slot",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	})

	poolAcquireTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batch_pool_acquire_timeouts_total",
		Help: "Total acquire attempts abandoned before a slot freed",
	})
)

// ErrNoWorker is returned when no worker slot became available before the
// caller's context expired. It surfaces as a batch-level infrastructure
// failure.
var ErrNoWorker = errors.New("no worker available")

// Slot is an exclusive worker permit. The current document id is tracked
// for diagnostics only; a slot is never quarantined after a processing
// error.
type Slot struct {
	ID int

	mu      sync.Mutex
	held    bool
	current string
}

// SetCurrent records the document the slot is working on.
func (s *Slot) SetCurrent(docID string) {
	s.mu.Lock()
	s.current = docID
	s.mu.Unlock()
}

// SlotInfo is a point-in-time view of one slot for diagnostics.
type SlotInfo struct {
	ID         int    `json:"id"`
	Busy       bool   `json:"busy"`
	DocumentID string `json:"documentId,omitempty"`
}

// Pool is a fixed set of worker slots handed out through a free list.
type Pool struct {
	free  chan *Slot
	slots []*Slot
}

// DefaultSize is used when New is given a non-positive size.
const DefaultSize = 4

// New creates a pool with n slots, all free.
func New(n int) *Pool {
	if n <= 0 {
		n = DefaultSize
	}
	p := &Pool{
		free:  make(chan *Slot, n),
		slots: make([]*Slot, n),
	}
	for i := 0; i < n; i++ {
		s := &Slot{ID: i}
		p.slots[i] = s
		p.free <- s
	}
	return p
}

// Acquire blocks until a slot frees or ctx is done. The returned slot is
// held exclusively until Release.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	start := time.Now()
	select {
	case s := <-p.free:
		s.mu.Lock()
		s.held = true
		s.mu.Unlock()
		poolBusyWorkers.Inc()
		poolAcquireWaitSeconds.Observe(time.Since(start).Seconds())
		return s, nil
	case <-ctx.Done():
		poolAcquireTimeoutsTotal.Inc()
		return nil, fmt.Errorf("%w: %v", ErrNoWorker, ctx.Err())
	}
}

// Release returns the slot to the free list. Releasing a slot twice is a
// no-op.
func (p *Pool) Release(s *Slot) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.held {
		s.mu.Unlock()
		return
	}
	s.held = false
	s.current = ""
	s.mu.Unlock()
	poolBusyWorkers.Dec()
	p.free <- s
}

// Size returns the total number of slots.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Busy returns the number of slots currently held.
func (p *Pool) Busy() int {
	return len(p.slots) - len(p.free)
}

// Snapshot returns a diagnostic view of every slot.
func (p *Pool) Snapshot() []SlotInfo {
	infos := make([]SlotInfo, len(p.slots))
	for i, s := range p.slots {
		s.mu.Lock()
		infos[i] = SlotInfo{ID: s.ID, Busy: s.held, DocumentID: s.current}
		s.mu.Unlock()
	}
	return infos
}
