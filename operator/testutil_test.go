package operator

import (
	"testing"
	"time"

	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/mem"
	"github.com/pingcap/tunadb/runtime"
	"github.com/pingcap/tunadb/tile"
	"github.com/pingcap/tunadb/topology"
	"github.com/pingcap/tunadb/typesys"
)

func testCoreSet(t *testing.T, n int) *topology.CoreSet {
	t.Helper()
	cores := make([]topology.Core, n)
	for i := range cores {
		cores[i] = topology.Core{ID: i, SiblingID: -1}
	}
	cs, err := topology.New(cores, topology.Ascending)
	if err != nil {
		t.Fatal(err)
	}
	return cs
}

func testAllocators(n int) map[int]*mem.TileAllocator {
	out := make(map[int]*mem.TileAllocator, n)
	for w := 0; w < n; w++ {
		out[w] = mem.NewTileAllocator(uint8(w))
	}
	return out
}

// literalSource replays a fixed slice of tokens once as its initial tokens,
// the arity-0 harness every operator test in this package drives through a
// real dataflow.Graph (same pattern as dataflow_test.go's sourceNode).
type literalSource struct {
	toks []dataflow.Token
}

func (s *literalSource) Arity() int                       { return 0 }
func (s *literalSource) InitialTokens(int) []dataflow.Token { return s.toks }
func (s *literalSource) Consume(int, *dataflow.Emitter, int, dataflow.Token) error { return nil }
func (s *literalSource) RequiresOwnerWorker() bool        { return false }

type collectingSink struct {
	ch   chan dataflow.Token
	toks []dataflow.Token
	done chan struct{}
}

func newCollectingSink() *collectingSink {
	return &collectingSink{ch: make(chan dataflow.Token, 4096), done: make(chan struct{})}
}
func (s *collectingSink) Arity() int                       { return 1 }
func (s *collectingSink) InitialTokens(int) []dataflow.Token { return nil }
func (s *collectingSink) Consume(_ int, _ *dataflow.Emitter, _ int, tok dataflow.Token) error {
	s.ch <- tok
	return nil
}
func (s *collectingSink) RequiresOwnerWorker() bool { return false }
func (s *collectingSink) Finish()                   { close(s.done) }

// runUnary wires src -> node -> sink on a single-worker runtime and returns
// every token the sink received.
func runUnary(t *testing.T, node dataflow.Node, input []dataflow.Token) []dataflow.Token {
	t.Helper()
	return runGraph(t, 1, func(g *dataflow.Graph, src dataflow.NodeID) dataflow.NodeID {
		n := g.AddNode(node)
		g.Connect(src, n, 0)
		return n
	}, input)
}

// runBinary wires build -> node (input 0) and probe -> node (input 1) on a
// single-worker runtime, returning every sink token.
func runBinary(t *testing.T, node dataflow.Node, build, probe []dataflow.Token) []dataflow.Token {
	t.Helper()
	rt := runtime.New(testCoreSet(t, 1), runtime.Options{})
	rt.Start()
	defer func() {
		rt.StopAll()
		rt.Wait()
	}()

	g := dataflow.NewGraph(rt)
	buildSrc := g.AddNode(&literalSource{toks: build})
	probeSrc := g.AddNode(&literalSource{toks: probe})
	n := g.AddNode(node)
	sink := newCollectingSink()
	sinkID := g.AddNode(sink)

	g.Connect(buildSrc, n, 0)
	g.Connect(probeSrc, n, 1)
	g.Connect(n, sinkID, 0)
	g.SetSink(sinkID, 0)

	g.Start(rt.NumWorkers())
	waitSink(t, sink)
	return drain(sink)
}

func runGraph(t *testing.T, workers int, wire func(g *dataflow.Graph, src dataflow.NodeID) dataflow.NodeID, input []dataflow.Token) []dataflow.Token {
	t.Helper()
	rt := runtime.New(testCoreSet(t, workers), runtime.Options{})
	rt.Start()
	defer func() {
		rt.StopAll()
		rt.Wait()
	}()

	g := dataflow.NewGraph(rt)
	src := g.AddNode(&literalSource{toks: input})
	n := wire(g, src)
	sink := newCollectingSink()
	sinkID := g.AddNode(sink)
	g.Connect(n, sinkID, 0)
	g.SetSink(sinkID, 0)

	g.Start(rt.NumWorkers())
	waitSink(t, sink)
	return drain(sink)
}

func waitSink(t *testing.T, sink *collectingSink) {
	t.Helper()
	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("graph did not finalise")
	}
}

func drain(sink *collectingSink) []dataflow.Token {
	for {
		select {
		case tok := <-sink.ch:
			sink.toks = append(sink.toks, tok)
		default:
			return sink.toks
		}
	}
}

// oneTileToken builds a single-tile token over schema, writing rows via
// fill, and freezing it before wrapping in a ForWorker(0, ReadOnly) token.
func oneTileToken(schema typesys.Schema, n int, fill func(v tile.View, row int)) dataflow.Token {
	tl := tile.New(schema)
	for i := 0; i < n; i++ {
		v, _ := tl.Allocate()
		fill(v, i)
	}
	tl.Freeze()
	return dataflow.Token{Set: dataflow.RecordSet{Tile: tl}, Annotation: runtime.ForWorker(0, runtime.ReadOnly)}
}
