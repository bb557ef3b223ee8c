package dataflow

import (
	"sync"
	"testing"
	"time"

	"github.com/pingcap/tunadb/runtime"
	"github.com/pingcap/tunadb/topology"
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

// sourceNode emits one empty token per worker, each annotated to that
// worker, then declares itself done.
type sourceNode struct{}

func (sourceNode) Arity() int { return 0 }
func (sourceNode) InitialTokens(numWorkers int) []Token {
	toks := make([]Token, numWorkers)
	for w := 0; w < numWorkers; w++ {
		toks[w] = Token{Annotation: runtime.ForWorker(w, runtime.ReadOnly)}
	}
	return toks
}
func (sourceNode) Consume(int, *Emitter, int, Token) error { return nil }
func (sourceNode) RequiresOwnerWorker() bool               { return false }

// passthroughNode forwards every token it consumes unchanged.
type passthroughNode struct{}

func (passthroughNode) Arity() int { return 1 }
func (passthroughNode) InitialTokens(int) []Token { return nil }
func (passthroughNode) Consume(_ int, em *Emitter, _ int, tok Token) error {
	em.Emit(tok)
	return nil
}
func (passthroughNode) RequiresOwnerWorker() bool { return false }

// collectingSink accumulates every token it receives and signals done on Finish.
type collectingSink struct {
	mu   sync.Mutex
	toks []Token
	done chan struct{}
}

func newCollectingSink() *collectingSink {
	return &collectingSink{done: make(chan struct{})}
}
func (s *collectingSink) Arity() int { return 1 }
func (s *collectingSink) InitialTokens(int) []Token { return nil }
func (s *collectingSink) Consume(_ int, _ *Emitter, _ int, tok Token) error {
	s.mu.Lock()
	s.toks = append(s.toks, tok)
	s.mu.Unlock()
	return nil
}
func (s *collectingSink) RequiresOwnerWorker() bool { return false }
func (s *collectingSink) Finish()                   { close(s.done) }

func TestGraphRunsSourceThroughPassthroughToSink(t *testing.T) {
	rt := runtime.New(testCoreSet(t, 3), runtime.Options{})
	rt.Start()
	defer func() {
		rt.StopAll()
		rt.Wait()
	}()

	g := NewGraph(rt)
	src := g.AddNode(sourceNode{})
	mid := g.AddNode(passthroughNode{})
	sink := newCollectingSink()
	sinkID := g.AddNode(sink)

	g.Connect(src, mid, 0)
	g.Connect(mid, sinkID, 0)
	g.SetSink(sinkID, 0)

	g.Start(rt.NumWorkers())

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("graph did not finalise")
	}
	g.Wait()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.toks) != 3 {
		t.Fatalf("got %d tokens, want 3", len(sink.toks))
	}
}

// buildProbeNode is a minimal binary node: counts build-side tokens and
// forwards every probe-side token as it arrives.
type buildProbeNode struct {
	mu        sync.Mutex
	buildSeen int
	built     bool
}

func (n *buildProbeNode) Arity() int { return 2 }
func (n *buildProbeNode) InitialTokens(int) []Token { return nil }
func (n *buildProbeNode) Consume(_ int, em *Emitter, inputIdx int, tok Token) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if inputIdx == 0 {
		n.buildSeen++
		return nil
	}
	// Probe-side token: only valid to observe after the build completed.
	em.Emit(tok)
	return nil
}
func (n *buildProbeNode) RequiresOwnerWorker() bool { return false }
func (n *buildProbeNode) OnBuildComplete(int, *Emitter) error {
	n.mu.Lock()
	n.built = true
	n.mu.Unlock()
	return nil
}

// accumulatingNode is a minimal arity-1 BuildAware node in the shape of an
// aggregation: it swallows every input token and emits exactly one output
// token from OnBuildComplete.
type accumulatingNode struct{}

func (accumulatingNode) Arity() int                { return 1 }
func (accumulatingNode) InitialTokens(int) []Token { return nil }
func (accumulatingNode) Consume(int, *Emitter, int, Token) error {
	return nil
}
func (accumulatingNode) RequiresOwnerWorker() bool { return false }
func (accumulatingNode) OnBuildComplete(_ int, em *Emitter) error {
	em.Emit(Token{Annotation: runtime.ForWorker(0, runtime.ReadOnly)})
	return nil
}

func TestBuildHookEmitReachesSinkBeforeFinalisation(t *testing.T) {
	rt := runtime.New(testCoreSet(t, 2), runtime.Options{})
	rt.Start()
	defer func() {
		rt.StopAll()
		rt.Wait()
	}()

	g := NewGraph(rt)
	src := g.AddNode(sourceNode{})
	agg := g.AddNode(accumulatingNode{})
	sink := newCollectingSink()
	sinkID := g.AddNode(sink)

	g.Connect(src, agg, 0)
	g.Connect(agg, sinkID, 0)
	g.SetSink(sinkID, 0)

	g.Start(rt.NumWorkers())

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("graph did not finalise")
	}
	g.Wait()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.toks) != 1 {
		t.Fatalf("sink received %d tokens, want exactly the build hook's 1", len(sink.toks))
	}
}

func TestBuildSideFinalisationInvokesOnBuildComplete(t *testing.T) {
	rt := runtime.New(testCoreSet(t, 1), runtime.Options{})
	rt.Start()
	defer func() {
		rt.StopAll()
		rt.Wait()
	}()

	g := NewGraph(rt)
	build := g.AddNode(sourceNode{})
	node := &buildProbeNode{}
	nodeID := g.AddNode(node)
	sink := newCollectingSink()
	sinkID := g.AddNode(sink)

	g.Connect(build, nodeID, 0)
	g.Connect(nodeID, sinkID, 0)
	g.SetSink(sinkID, 0)

	g.Start(rt.NumWorkers())

	deadline := time.After(2 * time.Second)
	for {
		node.mu.Lock()
		built := node.built
		node.mu.Unlock()
		if built {
			break
		}
		select {
		case <-deadline:
			t.Fatal("OnBuildComplete never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
