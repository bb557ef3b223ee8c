// Package queue implements the channel primitives a worker uses: an intrusive
// SPSC list for self-produced work, an intrusive MPSC queue for cross-worker
// delivery, a bounded MPMC ring for the optional steal-out path, and a
// priority-tiered queue for task traces.
package queue

// Node is the intrusive link every queue in this package threads through.
// Value carries the caller's payload (typically a runtime.Task); wrapping
// it in a Node once at enqueue time is the closest idiomatic-Go equivalent
// of an embedded-link intrusive list, without resorting to unsafe
// container-of casts.
type Node struct {
	Value interface{}
	next  *Node
}

// NewNode wraps value for insertion into any queue in this package.
func NewNode(value interface{}) *Node {
	return &Node{Value: value}
}

// SPSC is a single-producer/single-consumer intrusive linked list, the
// worker's local ready queue. Only the owning worker pushes and pops.
type SPSC struct {
	head *Node
	tail *Node
	n    int
}

// NewSPSC returns an empty queue.
func NewSPSC() *SPSC { return &SPSC{} }

// PushBack enqueues node at the tail.
func (q *SPSC) PushBack(node *Node) {
	node.next = nil
	if q.tail == nil {
		q.head, q.tail = node, node
	} else {
		q.tail.next = node
		q.tail = node
	}
	q.n++
}

// PopFront dequeues the head node, or returns nil if empty.
func (q *SPSC) PopFront() *Node {
	if q.head == nil {
		return nil
	}
	n := q.head
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	n.next = nil
	q.n--
	return n
}

// Len returns the number of queued nodes.
func (q *SPSC) Len() int { return q.n }

// Empty reports whether the queue holds no nodes.
func (q *SPSC) Empty() bool { return q.head == nil }
