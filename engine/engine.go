// Package engine is the glue layer: it owns one database catalog, one
// tasking runtime, one set of per-worker tile allocators, and the UDF
// registry, and drives a logical plan through optimize -> dataflow ->
// operator -> result end to end. It accepts an already-built plan.PlanView;
// parsing SQL text into one is a separate front-end's job.
package engine

import (
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/pingcap/tunadb/catalog"
	"github.com/pingcap/tunadb/config"
	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/epoch"
	"github.com/pingcap/tunadb/errkind"
	"github.com/pingcap/tunadb/logutil"
	"github.com/pingcap/tunadb/mem"
	"github.com/pingcap/tunadb/optimize"
	"github.com/pingcap/tunadb/persist"
	"github.com/pingcap/tunadb/plan"
	"github.com/pingcap/tunadb/result"
	"github.com/pingcap/tunadb/runtime"
	"github.com/pingcap/tunadb/topology"
	"github.com/pingcap/tunadb/udf"
)

// Engine is the process-wide handle query execution is driven through;
// shared state is reachable only through it, never through package-level
// variables.
type Engine struct {
	Config config.Config

	DB         *catalog.Database
	Runtime    *runtime.Runtime
	Allocators map[int]*mem.TileAllocator
	UDF        *udf.Registry
	Epoch      *epoch.Manager

	cores *topology.CoreSet
}

// New boots an Engine from cfg: detects (or builds, if cfg.Cores is
// explicit) the core set, starts the runtime, and allocates one
// TileAllocator per worker. The runtime is left running; call Stop to
// drain it.
func New(cfg config.Config) (*Engine, error) {
	cores, err := coreSetFor(cfg)
	if err != nil {
		return nil, errkind.IO(err, "engine: detecting core set")
	}
	topology.ApplyGOMAXPROCS(cores)

	epochs := epoch.NewManager(cores.Len(), epoch.PerWorkerDrain)
	epochs.StartTicker(5 * time.Millisecond)

	rt := runtime.New(cores, runtime.Options{
		PrefetchDistance: runtime.PrefetchDistance(cfg.PrefetchDistance),
		Epoch:            epochs,
	})
	rt.Start()

	allocs := make(map[int]*mem.TileAllocator, cores.Len())
	for w := 0; w < cores.Len(); w++ {
		allocs[w] = mem.NewTileAllocator(uint8(w))
	}

	e := &Engine{
		Config:     cfg,
		DB:         catalog.NewDatabase(),
		Runtime:    rt,
		Allocators: allocs,
		UDF:        udf.NewRegistry(),
		Epoch:      epochs,
		cores:      cores,
	}
	logutil.L().Info("engine started", zap.Int("workers", cores.Len()))
	return e, nil
}

func coreSetFor(cfg config.Config) (*topology.CoreSet, error) {
	ordering := topologyOrdering(cfg.CoreOrdering)
	if cfg.Cores > 0 {
		cores := make([]topology.Core, cfg.Cores)
		for i := range cores {
			cores[i] = topology.Core{ID: i, SiblingID: -1}
		}
		return topology.New(cores, ordering)
	}
	return topology.Detect(ordering)
}

func topologyOrdering(o config.CoreOrdering) topology.Ordering {
	switch o {
	case config.OrderNUMAAware:
		return topology.NUMAAware
	case config.OrderPhysicalThenSMT:
		return topology.PhysicalThenSMT
	default:
		return topology.Ascending
	}
}

// NumWorkers returns the engine's worker count.
func (e *Engine) NumWorkers() int { return e.Runtime.NumWorkers() }

// Describe renders the engine's core set, used by the server boundary's
// GetConfiguration response and the ".config" dot-command.
func (e *Engine) Describe() string { return e.cores.Describe() }

// Stop requests every worker to drain and shut down, and blocks until they
// have.
func (e *Engine) Stop() {
	e.Runtime.StopAll()
	e.Runtime.Wait()
	e.Epoch.Stop()
	logutil.L().Info("engine stopped")
}

// Execute optimizes v in place, compiles its root to a dataflow graph, runs
// the graph to completion, and returns the accumulated result.
func (e *Engine) Execute(v *plan.PlanView) (*result.QueryResult, error) {
	root := optimize.Optimize(v)

	g := dataflow.NewGraph(e.Runtime)
	rootID, err := e.compile(g, v, root)
	if err != nil {
		return nil, errors.Annotate(err, "engine: compiling plan")
	}

	outSchema := v.Node(root).OutputSchema()
	sink := newResultSink(outSchema)
	sinkID := g.AddNode(sink)
	g.Connect(rootID, sinkID, 0)
	g.SetSink(sinkID, 0)

	g.Start(e.NumWorkers())
	sink.wait()
	if err := g.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	// Source nodes that do their work in InitialTokens (Create, Copy)
	// record failures on themselves rather than on an edge.
	for _, n := range g.Nodes() {
		if errNode, ok := n.(interface{ Err() error }); ok {
			if err := errNode.Err(); err != nil {
				return nil, errors.Trace(err)
			}
		}
	}
	return sink.result, nil
}

// Save persists every table in e.DB to path.
func (e *Engine) Save(path string) error {
	return persist.Save(e.DB, path, e.NumWorkers())
}

// Restore loads path into e.DB, reattaching tiles round-robin across the
// engine's current worker count.
func (e *Engine) Restore(path string) error {
	return persist.Restore(e.DB, path, e.NumWorkers())
}
