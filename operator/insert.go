package operator

import (
	"github.com/pingcap/tunadb/catalog"
	"github.com/pingcap/tunadb/dataflow"
)

// Insert appends each incoming token's tile to the target table's per-owner
// tile list. Insert does not copy rows; it takes ownership of whatever tile
// already materialised upstream (typically a Copy, Projection, or Arithmetic
// node's output), so it requires RequiresOwnerWorker so the append happens on
// the worker whose list is being mutated.
type Insert struct {
	Table *catalog.Table
}

// NewInsert returns a ready-to-consume insert node.
func NewInsert(table *catalog.Table) *Insert { return &Insert{Table: table} }

func (ins *Insert) Arity() int                       { return 1 }
func (ins *Insert) InitialTokens(int) []dataflow.Token { return nil }
func (ins *Insert) RequiresOwnerWorker() bool        { return true }

func (ins *Insert) Consume(worker int, em *dataflow.Emitter, _ int, tok dataflow.Token) error {
	return ins.Table.AppendTile(worker, tok.Set.Tile)
}
