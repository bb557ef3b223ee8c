package runtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/pingcap/tunadb/epoch"
	"github.com/pingcap/tunadb/logutil"
	"github.com/pingcap/tunadb/topology"
)

// Options configures a Runtime at construction.
type Options struct {
	PrefetchDistance PrefetchDistance
	PrefetchSink     PrefetchSink
	StealOutCapacity int // 0 disables the steal-out path
	// Epoch, when non-nil, has each worker publish its observed epoch at
	// the start of every task and drain its deferred-free list while idle.
	Epoch *epoch.Manager
}

// Runtime owns every Worker and the dispatch function that resolves an
// Annotation to a target Worker and delivers a Task there. Encapsulated as an
// explicit object passed by reference, never package-level state.
type Runtime struct {
	cores   *topology.CoreSet
	workers []*Worker
	traces  *TraceLog
	wg      sync.WaitGroup
}

// New starts no goroutines yet; call Start to launch the worker loops.
func New(cores *topology.CoreSet, opts Options) *Runtime {
	if opts.PrefetchSink == nil {
		opts.PrefetchSink = NoopSink
	}
	rt := &Runtime{cores: cores, traces: NewTraceLog(4096)}
	rt.workers = make([]*Worker, cores.Len())
	for w := 0; w < cores.Len(); w++ {
		rt.workers[w] = newWorker(w, cores.Core(w), opts.PrefetchDistance, opts.PrefetchSink, opts.StealOutCapacity, opts.Epoch, rt.traces)
	}
	return rt
}

// Traces returns the runtime's task-trace log.
func (rt *Runtime) Traces() *TraceLog { return rt.traces }

// NumWorkers returns N, the dense worker count.
func (rt *Runtime) NumWorkers() int { return rt.cores.Len() }

// Worker returns the Worker bound to id.
func (rt *Runtime) Worker(id int) *Worker { return rt.workers[id] }

// Start launches one goroutine per worker, each pinned to its core and running
// the cooperative inner loop. runLoop locks its goroutine to the current OS
// thread before calling PinCurrentThread, so the pinned thread stays the
// worker's thread for the life of the loop.
func (rt *Runtime) Start() {
	rt.wg.Add(len(rt.workers))
	for _, w := range rt.workers {
		w := w
		go func() {
			defer rt.wg.Done()
			w.runLoop(rt.dispatch)
		}()
	}
	logutil.L().Info("runtime started", zap.Int("workers", len(rt.workers)))
}

// Wait blocks until every worker has stopped.
func (rt *Runtime) Wait() { rt.wg.Wait() }

// Spawn schedules t for the first time, resolving its annotation from the
// perspective of caller (use -1 if the caller is not itself a worker, e.g.
// the server accept loop).
func (rt *Runtime) Spawn(t Task, caller int) {
	rt.dispatch(t, caller)
}

// dispatch resolves t's annotation to a target worker and delivers it. If
// target equals fromWorker, delivery goes to the local ready queue; otherwise
// the remote inbox.
func (rt *Runtime) dispatch(t Task, fromWorker int) {
	target := t.Annotation().Resolve(fromWorker)
	if target < 0 || target >= len(rt.workers) {
		logutil.L().Error("dispatch: target worker out of range", zap.Int("target", target))
		return
	}
	rt.workers[target].Push(t, fromWorker)
}

// StopAll requests every worker to shut down after draining its local queue;
// the runtime terminates once every worker has stopped.
func (rt *Runtime) StopAll() {
	for _, w := range rt.workers {
		w.requestStop()
	}
}
