package runtime

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pingcap/tunadb/queue"
)

// TraceID is an opaque per-task or per-query identifier used by the tracing
// subsystem. Backed by google/uuid so ids are unique across workers without
// coordination.
type TraceID uuid.UUID

// NewTraceID returns a fresh, globally-unique trace id.
func NewTraceID() TraceID {
	return TraceID(uuid.New())
}

// String renders the trace id, e.g. for the wire protocol's TaskTrace
// response.
func (t TraceID) String() string {
	return uuid.UUID(t).String()
}

// Zero reports whether t is the unset trace id.
func (t TraceID) Zero() bool {
	return t == TraceID{}
}

// TraceRecord is one completed task execution, as captured by the worker
// loop for tasks that implement Traced.
type TraceRecord struct {
	Trace    TraceID
	Worker   int
	Duration time.Duration
	Failed   bool
}

// TraceLog buffers the most recent TraceRecords in a two-tier priority
// queue: failed tasks drain ahead of successful ones, FIFO within each
// tier. Bounded; the oldest surviving record is dropped once full.
type TraceLog struct {
	mu  sync.Mutex
	q   *queue.Priority
	max int
}

// NewTraceLog returns a log holding up to max records.
func NewTraceLog(max int) *TraceLog {
	return &TraceLog{q: queue.NewPriority(2), max: max}
}

// Record appends rec, evicting the highest-priority (oldest failed, then
// oldest successful) record if the log is full.
func (l *TraceLog) Record(rec TraceRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.q.Len() >= l.max {
		l.q.Pop()
	}
	tier := 1
	if rec.Failed {
		tier = 0
	}
	l.q.Push(tier, rec)
}

// Drain removes and returns up to max records, failures first.
func (l *TraceLog) Drain(max int) []TraceRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []TraceRecord
	for len(out) < max {
		v, ok := l.q.Pop()
		if !ok {
			break
		}
		out = append(out, v.(TraceRecord))
	}
	return out
}
