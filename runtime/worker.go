package runtime

import (
	goruntime "runtime"
	"time"

	"github.com/pingcap/failpoint"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/pingcap/tunadb/epoch"
	"github.com/pingcap/tunadb/logutil"
	"github.com/pingcap/tunadb/queue"
	"github.com/pingcap/tunadb/topology"
)

// Worker runs one cooperative inner loop bound to one core. It owns a local
// SPSC ready queue, a remote MPSC inbox, and an optional bounded MPMC
// steal-out queue.
type Worker struct {
	id         int
	core       topology.Core
	local      *queue.SPSC
	remote     *queue.MPSC
	stealOut   *queue.MPMCRing
	prefetcher *Prefetcher
	sink       PrefetchSink
	epochs     *epoch.Manager
	traces     *TraceLog

	running atomic.Bool
	stopped chan struct{}
}

func newWorker(id int, core topology.Core, prefetchDistance PrefetchDistance, sink PrefetchSink, stealCap int, epochs *epoch.Manager, traces *TraceLog) *Worker {
	w := &Worker{
		id:         id,
		core:       core,
		local:      queue.NewSPSC(),
		remote:     queue.NewMPSC(),
		prefetcher: NewPrefetcher(prefetchDistance),
		sink:       sink,
		epochs:     epochs,
		traces:     traces,
		stopped:    make(chan struct{}),
	}
	if stealCap > 0 {
		w.stealOut = queue.NewMPMCRing(stealCap)
	}
	w.running.Store(true)
	return w
}

// ID returns this worker's dense id.
func (w *Worker) ID() int { return w.id }

// QueueDepth returns the number of tasks waiting in the local ready queue.
// The remote inbox is excluded: its length is not tracked, and walking it
// would race concurrent producers.
func (w *Worker) QueueDepth() int { return w.local.Len() }

// Push enqueues t for this worker, choosing the local ready queue if the
// caller *is* this worker, or the remote inbox otherwise.
func (w *Worker) Push(t Task, fromWorker int) {
	if fromWorker == w.id {
		w.local.PushBack(queue.NewNode(t))
		return
	}
	w.remote.Push(t)
}

// PushStealOut offers t to the bounded steal-out queue; used only when a
// task's annotation explicitly opts into that path. Returns false if the
// ring is full.
func (w *Worker) PushStealOut(t Task) bool {
	if w.stealOut == nil {
		return false
	}
	return w.stealOut.Push(t) == nil
}

// requestStop asks the worker to shut down once its local queue drains.
func (w *Worker) requestStop() {
	w.running.Store(false)
}

// next dequeues the next task to run, in precedence order: local ready ->
// remote inbox -> steal-out ring (when configured). There is no separate
// prefetch-pipeline source.
func (w *Worker) next() (Task, bool) {
	if n := w.local.PopFront(); n != nil {
		return n.Value.(Task), true
	}
	if v, ok := w.remote.Pop(); ok {
		return v.(Task), true
	}
	if w.stealOut != nil {
		if v, ok := w.stealOut.Pop(); ok {
			return v.(Task), true
		}
	}
	return nil, false
}

// runLoop drains tasks until told to stop, following succeed() chains
// in-place and feeding each task's duration to the prefetcher's depth
// heuristic. It issues no prefetch hints: the worker's PrefetchSink is never
// called.
func (w *Worker) runLoop(dispatch func(t Task, fromWorker int)) {
	defer close(w.stopped)
	goruntime.LockOSThread()
	topology.PinCurrentThread(w.core)

	for {
		t, ok := w.next()
		if !ok {
			if !w.running.Load() {
				return
			}
			if w.epochs != nil {
				w.epochs.Drain(w.id)
			}
			failpoint.Inject("mockWorkerStall", func() {
				// Simulates a worker stuck on its idle loop, for tests that
				// need a laggard (e.g. epoch-reclamation behind a slow worker).
				time.Sleep(time.Millisecond)
			})
			// Busy-wait with a brief yield instead of a hardware pause instruction; Go
			// has no portable PAUSE intrinsic, so a short sleep stands in for it
			// without spinning a full core.
			time.Sleep(10 * time.Microsecond)
			continue
		}
		w.runChain(t, dispatch)
		if !w.running.Load() && w.local.Empty() {
			return
		}
	}
}

// runChain executes t and follows its succeed() continuation chain without
// re-entering the queue, as long as each successor targets this worker.
func (w *Worker) runChain(t Task, dispatch func(t Task, fromWorker int)) {
	for {
		if w.epochs != nil {
			w.epochs.Enter(w.id)
		}
		start := time.Now()
		res, err := t.Execute(w.id)
		elapsed := time.Since(start)
		w.prefetcher.Observe(elapsed)
		if tr, ok := t.(Traced); ok && w.traces != nil && !tr.TraceID().Zero() {
			w.traces.Record(TraceRecord{Trace: tr.TraceID(), Worker: w.id, Duration: elapsed, Failed: err != nil})
		}
		if err != nil {
			logutil.L().Warn("task failed", zap.Int("worker", w.id), zap.Error(err))
			return
		}

		switch res.Kind {
		case Remove, SucceedAndRemove:
			if res.Kind == Remove {
				return
			}
			if res.Next == nil {
				return
			}
			if res.Next.Annotation().IsLocalToCurrentWorker(w.id) {
				t = res.Next
				continue
			}
			dispatch(res.Next, w.id)
			return
		case Succeed:
			if res.Next == nil {
				return
			}
			if res.Next.Annotation().IsLocalToCurrentWorker(w.id) {
				t = res.Next
				continue
			}
			dispatch(res.Next, w.id)
			return
		case Stop:
			w.requestStop()
			return
		default:
			return
		}
	}
}
