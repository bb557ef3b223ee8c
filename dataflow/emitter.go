package dataflow

// Emitter is passed to Node.Consume so a node can emit zero or more output
// tokens to its single successor edge.
type Emitter struct {
	graph *Graph
	node  NodeID
}

func newEmitter(g *Graph, node NodeID) *Emitter {
	return &Emitter{graph: g, node: node}
}

// Emit schedules tok for consumption by this node's successor.
func (e *Emitter) Emit(tok Token) {
	e.graph.scheduleConsume(e.node, tok)
}
