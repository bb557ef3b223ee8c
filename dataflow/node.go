package dataflow

// Node is the capability interface every dataflow operator implements.
type Node interface {
	// Arity is 0 (source), 1 (unary), or 2 (binary, join-shaped).
	Arity() int
	// InitialTokens returns the tokens this node produces with no input: for scan
	// nodes, one token per owned tile; for other nullary nodes, a single empty
	// token per worker.
	InitialTokens(numWorkers int) []Token
	// Consume handles one input token arriving on input edge inputIdx (0
	// for unary nodes and the binary node's build edge, 1 for the binary
	// node's probe edge). It may call em.Emit any number of times.
	Consume(worker int, em *Emitter, inputIdx int, tok Token) error
	// RequiresOwnerWorker reports whether Consume must run on the worker that
	// owns the token's tile (the default for every operator).
	RequiresOwnerWorker() bool
}

// BuildAware is implemented by binary nodes (joins, and any operator with a
// build/probe distinction) that need to react once their build-side edge
// finalises.
type BuildAware interface {
	Node
	OnBuildComplete(worker int, em *Emitter) error
}

// Sink is implemented by the terminal node of a graph: it receives tokens but
// has no successor edge, accumulating them into a result instead.
type Sink interface {
	Node
	// Finish is called once the graph's final edge finalises.
	Finish()
}
