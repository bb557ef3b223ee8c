package queue

import "container/heap"

// Priority is a small fixed number of FIFO tiers; items in a lower-numbered
// tier always drain before any item in a higher-numbered tier, and FIFO order
// is preserved within a tier. Used by the runtime's task-trace log, where a
// handful of priority classes (failed tasks ahead of successful ones) need
// tiering without a full comparison-based priority queue.
type Priority struct {
	tiers [][]interface{}
}

// NewPriority returns a tiered queue with the given number of tiers.
func NewPriority(tiers int) *Priority {
	return &Priority{tiers: make([][]interface{}, tiers)}
}

// Push enqueues value into the given tier (0 = highest priority).
func (p *Priority) Push(tier int, value interface{}) {
	p.tiers[tier] = append(p.tiers[tier], value)
}

// Pop removes and returns the next value in tier order, or (nil, false) if
// every tier is empty.
func (p *Priority) Pop() (interface{}, bool) {
	for t := range p.tiers {
		if len(p.tiers[t]) > 0 {
			v := p.tiers[t][0]
			p.tiers[t] = p.tiers[t][1:]
			return v, true
		}
	}
	return nil, false
}

// Len returns the total number of queued values across all tiers.
func (p *Priority) Len() int {
	n := 0
	for _, t := range p.tiers {
		n += len(t)
	}
	return n
}

// WeightedItem is a (priority, sequence, value) triple ordered by a
// container/heap.Interface implementation; used when tiers need to be
// dynamic (e.g. cost-ordered finalisation tasks) rather than fixed-arity.
type WeightedItem struct {
	Priority int64
	seq      int64
	Value    interface{}
}

type weightedHeap []*WeightedItem

func (h weightedHeap) Len() int { return len(h) }
func (h weightedHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h weightedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *weightedHeap) Push(x interface{}) { *h = append(*h, x.(*WeightedItem)) }
func (h *weightedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// WeightedPriority is a priority queue ordered by an int64 weight, used when
// the fixed-tier Priority type is too coarse.
type WeightedPriority struct {
	h    weightedHeap
	next int64
}

// NewWeightedPriority returns an empty weighted priority queue.
func NewWeightedPriority() *WeightedPriority {
	return &WeightedPriority{}
}

// Push enqueues value with the given priority (lower values pop first).
func (w *WeightedPriority) Push(priority int64, value interface{}) {
	heap.Push(&w.h, &WeightedItem{Priority: priority, seq: w.next, Value: value})
	w.next++
}

// Pop removes and returns the lowest-priority value, or (nil, false) if empty.
func (w *WeightedPriority) Pop() (interface{}, bool) {
	if w.h.Len() == 0 {
		return nil, false
	}
	item := heap.Pop(&w.h).(*WeightedItem)
	return item.Value, true
}

// Len returns the number of queued values.
func (w *WeightedPriority) Len() int { return w.h.Len() }
