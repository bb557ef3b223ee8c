package dataflow

import "go.uber.org/atomic"

// Barrier is the per-edge finalisation mechanism: a pair of counters,
// in-flight tokens and producer-done, observed with acquire/release semantics.
// The edge finalises once every producer has declared done and in-flight
// reaches zero.
type Barrier struct {
	inFlight     atomic.Int64
	producersDone atomic.Int64
	producerCount int64
	onComplete    func()
	fired         atomic.Bool
}

// NewBarrier returns a Barrier expecting producerCount distinct producing
// workers to each call Done exactly once.
func NewBarrier(producerCount int, onComplete func()) *Barrier {
	return &Barrier{producerCount: int64(producerCount), onComplete: onComplete}
}

// Emit records that one token has been produced on this edge.
func (b *Barrier) Emit() {
	b.inFlight.Inc()
}

// Consumed records that one token's downstream Consume has returned.
func (b *Barrier) Consumed() {
	if b.inFlight.Dec() == 0 {
		b.maybeFire()
	}
}

// ProducerDone records that one producing worker will emit no more tokens
// on this edge.
func (b *Barrier) ProducerDone() {
	if b.producersDone.Inc() == b.producerCount {
		b.maybeFire()
	}
}

// maybeFire invokes onComplete exactly once, the instant producer-done is
// set on all producers AND in-flight has reached zero (in either order).
func (b *Barrier) maybeFire() {
	if b.producersDone.Load() != b.producerCount {
		return
	}
	if b.inFlight.Load() != 0 {
		return
	}
	if b.fired.CAS(false, true) {
		b.onComplete()
	}
}

// Finalised reports whether this edge has already fired its completion.
func (b *Barrier) Finalised() bool {
	return b.fired.Load()
}
