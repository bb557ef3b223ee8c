package queue

import (
	"unsafe"

	"go.uber.org/atomic"
)

// MPSC is a multi-producer/single-consumer intrusive queue: any worker may
// push (the "remote inbox"), only the owning worker pops. Implemented as a
// Michael-Scott style linked queue with a dummy head node, using
// go.uber.org/atomic for the head/tail pointers so pushes from multiple
// goroutines never race.
type MPSC struct {
	head atomic.UnsafePointer // *node
	tail atomic.UnsafePointer // *node
}

type mpscNode struct {
	next  atomic.UnsafePointer // *mpscNode
	value interface{}
}

// NewMPSC returns an empty MPSC queue.
func NewMPSC() *MPSC {
	q := &MPSC{}
	dummy := &mpscNode{}
	q.head.Store(ptrOf(dummy))
	q.tail.Store(ptrOf(dummy))
	return q
}

// Push enqueues value; safe to call concurrently from any number of workers.
func (q *MPSC) Push(value interface{}) {
	n := &mpscNode{value: value}
	for {
		tail := (*mpscNode)(q.tail.Load())
		next := (*mpscNode)(tail.next.Load())
		if next == nil {
			if tail.next.CAS(nil, ptrOf(n)) {
				q.tail.CAS(ptrOf(tail), ptrOf(n))
				return
			}
		} else {
			// Tail lagged behind; help advance it before retrying.
			q.tail.CAS(ptrOf(tail), ptrOf(next))
		}
	}
}

// Pop dequeues the oldest value, or returns (nil, false) if empty. Only the
// owning worker may call Pop.
func (q *MPSC) Pop() (interface{}, bool) {
	head := (*mpscNode)(q.head.Load())
	next := (*mpscNode)(head.next.Load())
	if next == nil {
		return nil, false
	}
	q.head.Store(ptrOf(next))
	v := next.value
	next.value = nil
	return v, true
}

// Empty reports whether the queue currently holds no values. Racy with
// concurrent Push; intended only as a hint for the worker loop's precedence
// order.
func (q *MPSC) Empty() bool {
	head := (*mpscNode)(q.head.Load())
	return head.next.Load() == nil
}

func ptrOf(n *mpscNode) unsafe.Pointer {
	return unsafe.Pointer(n)
}
