package operator

import (
	"github.com/pingcap/errors"

	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/mem"
	"github.com/pingcap/tunadb/typesys"
)

// Arithmetic appends computed columns to a new tile, one expression at a time.
// InSchema's columns are carried through unchanged ahead of the computed ones,
// matching how OutSchema is built: input columns first, then one column per
// entry in Exprs.
type Arithmetic struct {
	InSchema, OutSchema typesys.Schema
	Exprs               []Expr
	Allocators          map[int]*mem.TileAllocator
}

func (a *Arithmetic) Arity() int                  { return 1 }
func (a *Arithmetic) InitialTokens(int) []dataflow.Token { return nil }
func (a *Arithmetic) RequiresOwnerWorker() bool   { return false }

func (a *Arithmetic) Consume(worker int, em *dataflow.Emitter, _ int, tok dataflow.Token) error {
	src := tok.Set.Tile
	w := newTileWriter(a.OutSchema, a.Allocators[worker], worker, em.Emit)
	n := a.InSchema.Len()
	for i := 0; i < src.Size(); i++ {
		if !tok.Set.Alive(i) {
			continue
		}
		view := w.nextRow()
		for c := 0; c < n; c++ {
			d, err := readDatum(src, c, i, src.Schema().Columns[c].Type)
			if err != nil {
				return errors.Annotate(err, "arithmetic: carry column")
			}
			writeDatum(view, c, d)
		}
		for e, expr := range a.Exprs {
			d, err := expr.Eval(src, i)
			if err != nil {
				return errors.Annotatef(err, "arithmetic: expr %d", e)
			}
			writeDatum(view, n+e, d)
		}
	}
	w.flush()
	return nil
}
