package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_DefaultSize(t *testing.T) {
	p := New(0)
	if p.Size() != DefaultSize {
		t.Errorf("Size() = %d, want %d", p.Size(), DefaultSize)
	}
}

func TestPool_AcquireRelease(t *testing.T) {
	p := New(2)
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	s2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if s1.ID == s2.ID {
		t.Error("two acquires returned the same slot")
	}
	if p.Busy() != 2 {
		t.Errorf("Busy() = %d, want 2", p.Busy())
	}

	p.Release(s1)
	if p.Busy() != 1 {
		t.Errorf("Busy() after release = %d, want 1", p.Busy())
	}
	p.Release(s2)
}

func TestPool_AcquireBlocksUntilReleased(t *testing.T) {
	p := New(1)
	ctx := context.Background()

	s, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	acquired := make(chan *Slot)
	go func() {
		s2, err := p.Acquire(ctx)
		if err != nil {
			t.Errorf("second Acquire() error = %v", err)
		}
		acquired <- s2
	}()

	select {
	case <-acquired:
		t.Fatal("Acquire returned while all slots were held")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(s)

	select {
	case s2 := <-acquired:
		p.Release(s2)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not wake after Release")
	}
}

func TestPool_AcquireContextCancelled(t *testing.T) {
	p := New(1)
	s, _ := p.Acquire(context.Background())
	defer p.Release(s)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Acquire(ctx)
	if !errors.Is(err, ErrNoWorker) {
		t.Errorf("error = %v, want ErrNoWorker", err)
	}
}

func TestPool_ReleaseIdempotent(t *testing.T) {
	p := New(1)
	s, _ := p.Acquire(context.Background())

	p.Release(s)
	p.Release(s) // second release must not free a phantom slot
	p.Release(nil)

	if p.Busy() != 0 {
		t.Errorf("Busy() = %d, want 0", p.Busy())
	}

	// Exactly one slot may be re-acquired.
	ctx := context.Background()
	s1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	ctx2, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx2); !errors.Is(err, ErrNoWorker) {
		t.Error("double release created an extra slot")
	}
	p.Release(s1)
}

func TestPool_NeverExceedsSize(t *testing.T) {
	const size = 3
	p := New(size)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		current atomic.Int32
		peak    atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.Acquire(ctx)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
			p.Release(s)
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > size {
		t.Errorf("peak concurrent holders = %d, want <= %d", got, size)
	}
}

func TestPool_Snapshot(t *testing.T) {
	p := New(2)
	s, _ := p.Acquire(context.Background())
	s.SetCurrent("doc-42")

	var busy int
	for _, info := range p.Snapshot() {
		if info.Busy {
			busy++
			if info.DocumentID != "doc-42" {
				t.Errorf("DocumentID = %q, want doc-42", info.DocumentID)
			}
		}
	}
	if busy != 1 {
		t.Errorf("busy slots in snapshot = %d, want 1", busy)
	}

	p.Release(s)
	for _, info := range p.Snapshot() {
		if info.Busy {
			t.Error("slot still busy after release")
		}
	}
}
