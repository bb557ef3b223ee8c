package runtime

import "time"

// PrefetchDistance selects how many positions ahead the pipeline peeks. A
// negative value means "auto": the runtime chooses per-operator based on
// measured cycles.
type PrefetchDistance int

// Auto requests the automatic, cycle-measurement-driven prefetch distance.
const Auto PrefetchDistance = -1

// Prefetcher chooses the prefetch ring depth D: a fixed configured value, or
// under Auto a depth derived from observed task durations. It only computes
// the depth; the worker loop does not peek ahead at queued tasks or issue
// prefetch hints for their prefetch sets. The auto heuristic uses wall-clock
// cycle accounting rather than rdtscp-based counters, which Go cannot reach
// without assembly.
type Prefetcher struct {
	configured PrefetchDistance
	// movingAvg holds a decayed average task-execution duration, used by
	// the auto heuristic to decide how many tasks' worth of lead time a
	// depth-D pipeline buys.
	movingAvg time.Duration
	samples   int
}

// NewPrefetcher returns a Prefetcher configured with either a fixed depth
// (d >= 0) or Auto.
func NewPrefetcher(d PrefetchDistance) *Prefetcher {
	return &Prefetcher{configured: d}
}

// Observe records one task's actual execution duration, feeding the auto
// heuristic's moving average.
func (p *Prefetcher) Observe(d time.Duration) {
	p.samples++
	if p.samples == 1 {
		p.movingAvg = d
		return
	}
	// Exponential decay, alpha = 1/8: coarse smoothing is enough, the
	// depth heuristic only needs the order of magnitude.
	p.movingAvg += (d - p.movingAvg) / 8
}

// Depth returns the current prefetch ring depth: the configured value, or,
// under Auto, a depth derived from the moving average (more work observed
// per task => deeper pipeline, bounded to keep memory-traffic bounded).
func (p *Prefetcher) Depth() int {
	if p.configured >= 0 {
		return int(p.configured)
	}
	switch {
	case p.samples == 0:
		return 4
	case p.movingAvg > 2*time.Microsecond:
		return 8
	case p.movingAvg > 500*time.Nanosecond:
		return 4
	default:
		return 2
	}
}

// PrefetchSink issues the actual prefetch hint for an offset within a
// resource. A CPU prefetch intrinsic is not available from pure Go, so the
// default Sink is a no-op. Workers store the configured sink but never call
// it.
type PrefetchSink func(r interface{}, offset int)

// NoopSink discards every prefetch hint.
func NoopSink(interface{}, int) {}
