// Package queue orders pending batches for admission: higher priority
// first, FIFO within a priority level.
//
// There is no aging: a continuous stream of high-priority batches can
// starve low-priority ones indefinitely. This is a documented limitation,
// not a bug to silently fix.
package queue

import (
	"container/heap"
	"sync"

	"github.com/docpipe/batch-engine/pkg/batch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the admission queue.
var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batch_queue_depth",
		Help: "Number of batches waiting for admission",
	})

	queueEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_queue_enqueued_total",
		Help: "Total batches enqueued by priority",
	}, []string{"priority"})
)

// entry is one queued batch inside the heap.
type entry struct {
	batchID string
	weight  int
	seq     uint64
	index   int
}

// entryHeap is a max-heap: higher weight first, lower seq (earlier
// insertion) breaks ties.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].weight != h[j].weight {
		return h[i].weight > h[j].weight
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is a mutex-guarded priority queue of batch ids.
type Queue struct {
	mu      sync.Mutex
	heap    entryHeap
	entries map[string]*entry
	seq     uint64
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{entries: make(map[string]*entry)}
}

// Push enqueues a batch id with the given priority. Pushing an id that is
// already queued is a no-op.
func (q *Queue) Push(batchID string, prio batch.Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[batchID]; ok {
		return
	}
	q.seq++
	e := &entry{batchID: batchID, weight: prio.Weight(), seq: q.seq}
	heap.Push(&q.heap, e)
	q.entries[batchID] = e
	queueDepth.Set(float64(len(q.heap)))
	queueEnqueuedTotal.WithLabelValues(string(prio)).Inc()
}

// Pop removes and returns the head of the queue. The second return is
// false when the queue is empty.
func (q *Queue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return "", false
	}
	e := heap.Pop(&q.heap).(*entry)
	delete(q.entries, e.batchID)
	queueDepth.Set(float64(len(q.heap)))
	return e.batchID, true
}

// Remove drops a queued batch, used when a queued batch is cancelled.
// It reports whether the id was present.
func (q *Queue) Remove(batchID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[batchID]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, e.index)
	delete(q.entries, batchID)
	queueDepth.Set(float64(len(q.heap)))
	return true
}

// Len returns the number of queued batches.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Position returns the 1-based admission position of a queued batch, or 0
// when the batch is not queued. Runs in O(n).
func (q *Queue) Position(batchID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[batchID]
	if !ok {
		return 0
	}
	pos := 1
	for _, other := range q.heap {
		if other == e {
			continue
		}
		if other.weight > e.weight || (other.weight == e.weight && other.seq < e.seq) {
			pos++
		}
	}
	return pos
}
