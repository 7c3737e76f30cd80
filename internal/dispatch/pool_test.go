package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsAllTasks(t *testing.T) {
	p := New(4)
	defer p.Stop()

	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			n.Add(1)
		})
	}
	wg.Wait()

	if got := n.Load(); got != 100 {
		t.Fatalf("n = %d, want 100", got)
	}
	if got := p.TotalTasks(); got != 100 {
		t.Fatalf("TotalTasks() = %d, want 100", got)
	}
}

func TestPoolConcurrentDispatch(t *testing.T) {
	p := New(8)
	defer p.Stop()

	var inFlight atomic.Int32
	var maxSeen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			cur := inFlight.Add(1)
			for {
				max := maxSeen.Load()
				if cur <= max || maxSeen.CompareAndSwap(max, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
		})
	}
	wg.Wait()

	if maxSeen.Load() < 2 {
		t.Fatalf("expected tasks to overlap, maxSeen = %d", maxSeen.Load())
	}
}

func TestPoolStopWaitsForInFlight(t *testing.T) {
	p := New(2)
	var done atomic.Bool
	p.Submit(func() {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
	})
	p.Stop()
	if !done.Load() {
		t.Fatal("Stop returned before in-flight task finished")
	}
}

func TestPoolDefaultsToOneWorker(t *testing.T) {
	p := New(0)
	defer p.Stop()
	if got := p.ActiveWorkers(); got != 1 {
		t.Fatalf("ActiveWorkers() = %d, want 1", got)
	}
}
