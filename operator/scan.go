package operator

import (
	"github.com/pingcap/tunadb/catalog"
	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/runtime"
)

// Scan emits one token per owned tile in the scanned table, targeted at the
// tile's owning worker, with readonly intent and the operator's prefetch set.
type Scan struct {
	Table    *catalog.Table
	Prefetch []int
}

// NewScan returns a Scan over table, with the prefetch set computed for
// every column (the caller narrows it via PrefetchSet when a predicate is
// known to apply further downstream, e.g. once fused into a
// TableSelection by optimizer rule k).
func NewScan(table *catalog.Table) *Scan {
	all := make([]int, table.Schema().Len())
	for i := range all {
		all[i] = i
	}
	return &Scan{Table: table, Prefetch: PrefetchSet(table.Schema(), all, nil, false)}
}

func (s *Scan) Arity() int { return 0 }

func (s *Scan) InitialTokens(numWorkers int) []dataflow.Token {
	var toks []dataflow.Token
	for w := 0; w < numWorkers; w++ {
		for _, tl := range s.Table.TilesForWorker(w) {
			ann := runtime.ForWorker(w, runtime.ReadOnly).WithPrefetch(runtime.PrefetchDescriptor{Offsets: s.Prefetch})
			toks = append(toks, dataflow.Token{Set: dataflow.RecordSet{Tile: tl}, Annotation: ann})
		}
	}
	return toks
}

func (s *Scan) Consume(int, *dataflow.Emitter, int, dataflow.Token) error { return nil }

func (s *Scan) RequiresOwnerWorker() bool { return true }
