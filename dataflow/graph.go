package dataflow

import (
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/pingcap/tunadb/logutil"
	"github.com/pingcap/tunadb/runtime"
)

// NodeID is an integer handle into a Graph's node arena.
type NodeID int

// edgeKey identifies one incoming edge of a node: which input slot (0 for
// unary/build, 1 for probe) it feeds.
type edgeKey struct {
	to    NodeID
	input int
}

type edge struct {
	barrier *Barrier
	done    chan struct{} // closed once the edge finalises
}

// Graph owns every node (arena-allocated) and the per-edge finalisation
// state. Edges are single-successor from each node's perspective except for
// the sink, which has none.
type Graph struct {
	rt    *runtime.Runtime
	nodes []Node
	// successor records, for each node, the (to, input) it feeds; empty
	// for the sink node.
	successor map[NodeID]edgeKey

	mu    sync.Mutex
	edges map[edgeKey]*edge
	// finalisedInputs counts how many of a node's input edges have finalised,
	// used to propagate a node's own producer-done declaration downstream once
	// every one of its inputs has finished.
	finalisedInputs map[NodeID]int
	// hookRan marks BuildAware nodes whose OnBuildComplete task has
	// returned; a BuildAware node's producer-done must not be declared
	// before that (the hook is where the node emits its built output, and
	// the barrier invariant is that every Emit happens-before ProducerDone).
	hookRan map[NodeID]bool
	// declaredDone guards against declaring a node's producer-done twice
	// when the last input edge and the build hook finish concurrently.
	declaredDone map[NodeID]bool

	sinkID NodeID
	done   chan struct{}

	firstErr error
}

// NewGraph returns an empty graph bound to rt.
func NewGraph(rt *runtime.Runtime) *Graph {
	return &Graph{
		rt:              rt,
		successor:       make(map[NodeID]edgeKey),
		edges:           make(map[edgeKey]*edge),
		finalisedInputs: make(map[NodeID]int),
		hookRan:         make(map[NodeID]bool),
		declaredDone:    make(map[NodeID]bool),
		done:            make(chan struct{}),
	}
}

// AddNode arena-allocates n and returns its handle.
func (g *Graph) AddNode(n Node) NodeID {
	g.nodes = append(g.nodes, n)
	return NodeID(len(g.nodes) - 1)
}

// Nodes returns the arena's nodes, in handle order. Callers use it after a
// run to collect per-node state (e.g. a source node's deferred I/O error).
func (g *Graph) Nodes() []Node { return g.nodes }

// Connect wires from's single successor edge to (to, input), with a fresh
// finalisation barrier. Producer-done granularity is one declaration per
// upstream node.
func (g *Graph) Connect(from NodeID, to NodeID, input int) {
	key := edgeKey{to: to, input: input}
	g.successor[from] = key
	e := &edge{done: make(chan struct{})}
	e.barrier = NewBarrier(1, func() { g.onEdgeFinalised(key, e) })
	g.edges[key] = e
}

// SetSink marks sinkID as the graph's terminal node; its incoming edge's
// finalisation ends the whole graph's run.
func (g *Graph) SetSink(sinkID NodeID, input int) {
	g.sinkID = sinkID
	key := edgeKey{to: sinkID, input: input}
	e := &edge{done: make(chan struct{})}
	e.barrier = NewBarrier(1, func() {
		g.onEdgeFinalised(key, e)
		close(g.done)
	})
	g.edges[key] = e
}

func (g *Graph) onEdgeFinalised(key edgeKey, e *edge) {
	close(e.done)
	to := g.nodes[key.to]

	if s, ok := to.(Sink); ok && key.to == g.sinkID {
		s.Finish()
		return
	}
	g.mu.Lock()
	g.finalisedInputs[key.to]++
	g.mu.Unlock()

	if ba, ok := to.(BuildAware); ok && key.input == 0 {
		// on_build_complete runs on an arbitrary worker; worker 0 is the
		// runtime's designated driver for finalisation tasks. Producer-done
		// for this node is withheld until the hook returns: the hook is
		// where the built output gets emitted, and emitting on an edge whose
		// producer-done has already been observed would race the downstream
		// barrier's finalisation.
		g.rt.Spawn(runtime.FuncTask{
			BaseTask: runtime.NewBaseTask(runtime.ForWorker(0, runtime.Write), runtime.NewTraceID()),
			Fn: func(worker int) (runtime.Result, error) {
				em := newEmitter(g, key.to)
				if err := ba.OnBuildComplete(worker, em); err != nil {
					g.recordError(err)
					logutil.L().Error("build-complete hook failed", zap.Error(err))
				}
				g.mu.Lock()
				g.hookRan[key.to] = true
				g.mu.Unlock()
				g.maybeDeclareDone(key.to)
				return runtime.RemoveResult(), nil
			},
		}, -1)
		return
	}

	g.maybeDeclareDone(key.to)
}

// maybeDeclareDone declares producer-done on id's successor edge once every
// input edge has finalised and, for BuildAware nodes, the build hook has
// run. Exactly-once even when the last input edge and the hook's
// finalisation task race.
func (g *Graph) maybeDeclareDone(id NodeID) {
	n := g.nodes[id]
	_, buildAware := n.(BuildAware)
	g.mu.Lock()
	ready := g.finalisedInputs[id] >= n.Arity() &&
		(!buildAware || g.hookRan[id]) &&
		!g.declaredDone[id]
	if ready {
		g.declaredDone[id] = true
	}
	g.mu.Unlock()
	if ready {
		g.declareProducerDone(id)
	}
}

// Wait blocks until the graph's sink edge finalises.
func (g *Graph) Wait() {
	<-g.done
}

// Start schedules every node's initial tokens as runtime tasks, one per token,
// targeted at the token's owning worker. Call AddNode/Connect/SetSink to build
// the graph before Start.
func (g *Graph) Start(numWorkers int) {
	for id, n := range g.nodes {
		if n.Arity() != 0 {
			continue
		}
		for _, tok := range n.InitialTokens(numWorkers) {
			g.scheduleConsume(NodeID(id), tok)
		}
		g.declareProducerDone(NodeID(id))
	}
}

// scheduleConsume dispatches a consumeTask for tok arriving at whichever
// node/input Connect wired as the producer's successor.
func (g *Graph) scheduleConsume(producer NodeID, tok Token) {
	key, ok := g.successor[producer]
	if !ok {
		return
	}
	e := g.edges[key]
	e.barrier.Emit()
	task := &consumeTask{
		BaseTask: runtime.NewBaseTask(tok.Annotation, runtime.NewTraceID()),
		graph:    g,
		node:     key.to,
		input:    key.input,
		tok:      tok,
		edge:     e,
	}
	g.rt.Spawn(task, -1)
}

// declareProducerDone records that producer will emit no further tokens on
// its successor edge. Source nodes call this once after Start exhausts
// their InitialTokens; every other node has it called automatically by
// onEdgeFinalised once all of its own input edges have finalised.
func (g *Graph) declareProducerDone(producer NodeID) {
	key, ok := g.successor[producer]
	if !ok {
		return
	}
	g.edges[key].barrier.ProducerDone()
}

// consumeTask is the runtime.Task wrapping one Node.Consume invocation.
type consumeTask struct {
	runtime.BaseTask
	graph *Graph
	node  NodeID
	input int
	tok   Token
	edge  *edge
}

func (t *consumeTask) Execute(worker int) (runtime.Result, error) {
	g := t.graph
	if g.Err() != nil {
		// A previous task already failed this query; drain the token so the edge
		// still finalises, without doing any further work.
		t.edge.barrier.Consumed()
		return runtime.RemoveResult(), nil
	}
	n := g.nodes[t.node]
	em := newEmitter(g, t.node)
	err := n.Consume(worker, em, t.input, t.tok)
	t.edge.barrier.Consumed()
	if err != nil {
		g.recordError(err)
		return runtime.Result{}, errors.Trace(err)
	}
	return runtime.RemoveResult(), nil
}

// recordError keeps the first error raised by any of the graph's tasks;
// subsequent tokens are drained unconsumed so every barrier still
// finalises and the sink's Finish fires.
func (g *Graph) recordError(err error) {
	g.mu.Lock()
	if g.firstErr == nil {
		g.firstErr = err
	}
	g.mu.Unlock()
}

// Err returns the first error recorded by any of the graph's tasks, or nil.
func (g *Graph) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.firstErr
}
