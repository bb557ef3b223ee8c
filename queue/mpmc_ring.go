package queue

import (
	"go.uber.org/atomic"

	"github.com/pingcap/errors"
)

// MPMCRing is a bounded multi-producer/multi-consumer ring buffer, sized to
// the inter-worker bus and used only for the optional "steal-out" path an
// operator may annotate into. Implementation follows the classic Vyukov
// bounded MPMC queue: each slot carries a sequence number so producers and
// consumers can detect emptiness/fullness without a separate lock.
type MPMCRing struct {
	mask  uint64
	enq   atomic.Uint64
	deq   atomic.Uint64
	slots []ringSlot
}

type ringSlot struct {
	seq   atomic.Uint64
	value interface{}
}

// NewMPMCRing returns a ring of the given capacity, rounded up to the next
// power of two.
func NewMPMCRing(capacity int) *MPMCRing {
	cap := nextPow2(capacity)
	r := &MPMCRing{
		mask:  uint64(cap - 1),
		slots: make([]ringSlot, cap),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r
}

func nextPow2(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// ErrFull is returned by Push when the ring is at capacity.
var ErrFull = errors.New("queue: mpmc ring full")

// Push enqueues value, returning ErrFull if the ring has no free slot.
func (r *MPMCRing) Push(value interface{}) error {
	pos := r.enq.Load()
	for {
		slot := &r.slots[pos&r.mask]
		seq := slot.seq.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if r.enq.CAS(pos, pos+1) {
				slot.value = value
				slot.seq.Store(pos + 1)
				return nil
			}
			pos = r.enq.Load()
		case diff < 0:
			return ErrFull
		default:
			pos = r.enq.Load()
		}
	}
}

// Pop dequeues the oldest value, or returns (nil, false) if empty.
func (r *MPMCRing) Pop() (interface{}, bool) {
	pos := r.deq.Load()
	for {
		slot := &r.slots[pos&r.mask]
		seq := slot.seq.Load()
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if r.deq.CAS(pos, pos+1) {
				v := slot.value
				slot.value = nil
				slot.seq.Store(pos + r.mask + 1)
				return v, true
			}
			pos = r.deq.Load()
		case diff < 0:
			return nil, false
		default:
			pos = r.deq.Load()
		}
	}
}

// Cap returns the ring's fixed capacity.
func (r *MPMCRing) Cap() int { return len(r.slots) }
