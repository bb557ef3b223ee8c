package operator

import (
	"github.com/pingcap/errors"

	"github.com/pingcap/tunadb/catalog"
	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/runtime"
)

// TableSelection fuses a Scan with a Selection (optimizer rule k,
// MergeTableSelection): rows are not materialised, the emitted token instead
// carries a bitmask with bit i=1 iff row i satisfies the predicate.
type TableSelection struct {
	Table     *catalog.Table
	Predicate Expr
	Prefetch  []int
}

func (s *TableSelection) Arity() int { return 0 }

func (s *TableSelection) InitialTokens(numWorkers int) []dataflow.Token {
	var toks []dataflow.Token
	for w := 0; w < numWorkers; w++ {
		for _, tl := range s.Table.TilesForWorker(w) {
			mask := make([]bool, tl.Size())
			for i := 0; i < tl.Size(); i++ {
				v, err := s.Predicate.Eval(tl, i)
				if err != nil {
					// A row that fails to evaluate (e.g. a cast error on
					// stored data) is conservatively excluded rather than
					// aborting the whole scan; the error still surfaces to
					// the client via Selection for the non-fused path.
					continue
				}
				mask[i] = !v.Null && v.I64 != 0
			}
			ann := runtime.ForWorker(w, runtime.ReadOnly).WithPrefetch(runtime.PrefetchDescriptor{Offsets: s.Prefetch})
			toks = append(toks, dataflow.Token{
				Set:        dataflow.RecordSet{Tile: tl, Mask: mask},
				Annotation: ann,
			})
		}
	}
	return toks
}

func (s *TableSelection) Consume(int, *dataflow.Emitter, int, dataflow.Token) error { return nil }
func (s *TableSelection) RequiresOwnerWorker() bool                                 { return true }

// Selection evaluates its predicate against each row of an incoming token,
// guided by any upstream mask, and emits a token with an updated mask.
type Selection struct {
	Predicate Expr
}

func (s *Selection) Arity() int                  { return 1 }
func (s *Selection) InitialTokens(int) []dataflow.Token { return nil }
func (s *Selection) RequiresOwnerWorker() bool   { return true }

func (s *Selection) Consume(worker int, em *dataflow.Emitter, _ int, tok dataflow.Token) error {
	t := tok.Set.Tile
	mask := make([]bool, t.Size())
	for i := 0; i < t.Size(); i++ {
		if !tok.Set.Alive(i) {
			continue
		}
		v, err := s.Predicate.Eval(t, i)
		if err != nil {
			return errors.Annotatef(err, "selection: row %d", i)
		}
		mask[i] = !v.Null && v.I64 != 0
	}
	out := tok
	out.Set.Mask = mask
	em.Emit(out)
	return nil
}
