package operator

import (
	"github.com/pingcap/errors"

	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/mem"
	"github.com/pingcap/tunadb/typesys"
)

// Projection emits a token over a new tile whose schema is a subset/ reorder
// of the input, copying only surviving rows. Optimizer rule j
// (RemoveProjection) drops this node only when Columns is the identity
// mapping over the whole input; a Projection that reorders the input's
// columns without dropping any stays in the dataflow graph.
type Projection struct {
	OutSchema typesys.Schema
	// Columns[i] is the input schema index supplying OutSchema column i.
	Columns []int
	// Allocators is the engine's per-worker tile allocator set.
	Allocators map[int]*mem.TileAllocator
}

func (p *Projection) Arity() int                  { return 1 }
func (p *Projection) InitialTokens(int) []dataflow.Token { return nil }
func (p *Projection) RequiresOwnerWorker() bool   { return false }

func (p *Projection) Consume(worker int, em *dataflow.Emitter, _ int, tok dataflow.Token) error {
	src := tok.Set.Tile
	w := newTileWriter(p.OutSchema, p.Allocators[worker], worker, em.Emit)
	for i := 0; i < src.Size(); i++ {
		if !tok.Set.Alive(i) {
			continue
		}
		view := w.nextRow()
		if err := copyColumns(view, indicesOf(p.OutSchema), rowRef{t: src, row: i}, p.Columns); err != nil {
			return errors.Annotate(err, "projection")
		}
	}
	w.flush()
	return nil
}

// indicesOf returns [0, 1, ..., n-1] for an n-column schema, the identity
// destination-column sequence every writer in this package uses.
func indicesOf(s typesys.Schema) []int {
	out := make([]int, s.Len())
	for i := range out {
		out[i] = i
	}
	return out
}
