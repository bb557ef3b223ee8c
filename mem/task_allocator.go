package mem

import (
	"github.com/pingcap/tunadb/queue"
)

// TaskSlabSize bounds a single task's serialized size. Tasks in this Go port
// are ordinary heap-allocated values; TaskAllocator instead caps how many task
// slots a worker may have outstanding before it must drain its cross-worker
// free inbox, preserving the "fixed-size slab" backpressure property without
// requiring manual memory layout.
const TaskSlabSize = 256

// TaskAllocator hands out task slots for one worker and recycles them through
// a bounded free list; cross-worker frees arrive via an MPSC inbox that the
// owning worker drains when its local slab runs low.
type TaskAllocator struct {
	worker    uint8
	free      []interface{}
	maxFree   int
	crossFree *queue.MPSC
}

// NewTaskAllocator returns an allocator for worker, caching up to maxFree
// recycled task slots locally.
func NewTaskAllocator(worker uint8, maxFree int) *TaskAllocator {
	return &TaskAllocator{
		worker:    worker,
		maxFree:   maxFree,
		crossFree: queue.NewMPSC(),
	}
}

// Acquire returns a recycled slot if one is available, draining the
// cross-worker inbox first when the local slab is empty.
func (a *TaskAllocator) Acquire() (interface{}, bool) {
	if len(a.free) == 0 {
		a.drain()
	}
	if len(a.free) == 0 {
		return nil, false
	}
	n := len(a.free) - 1
	v := a.free[n]
	a.free[n] = nil
	a.free = a.free[:n]
	return v, true
}

func (a *TaskAllocator) drain() {
	for len(a.free) < a.maxFree {
		v, ok := a.crossFree.Pop()
		if !ok {
			return
		}
		a.free = append(a.free, v)
	}
}

// Release returns slot to its owner, freeing cross-worker if called from a
// different worker's allocator.
func (a *TaskAllocator) Release(owner *TaskAllocator, slot interface{}) {
	if owner == a {
		if len(a.free) < a.maxFree {
			a.free = append(a.free, slot)
		}
		return
	}
	owner.crossFree.Push(slot)
}

// WorkerID returns the worker this allocator serves.
func (a *TaskAllocator) WorkerID() uint8 { return a.worker }
