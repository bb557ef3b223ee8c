package operator

import (
	"sync"

	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/mem"
	"github.com/pingcap/tunadb/runtime"
	"github.com/pingcap/tunadb/tile"
	"github.com/pingcap/tunadb/typesys"
)

// AggFunc is one of the five supported aggregate functions.
type AggFunc int

const (
	AggSum AggFunc = iota
	AggCount
	AggMin
	AggMax
	AggAvg
)

// AggSpec describes one output aggregate: its function, the expression it
// aggregates (nil for COUNT(*)), and the output column type.
type AggSpec struct {
	Func    AggFunc
	Input   Expr
	OutType typesys.Type
}

// aggState is the fixed-size accumulator per aggregate. NULLs are excluded
// from every aggregate except COUNT(*); an aggregate over zero contributing
// rows yields SUM=NULL, MIN/MAX=NULL, COUNT=0, AVG=NULL.
type aggState struct {
	count  int64
	sum    int64
	min    int64
	max    int64
	hasMin bool
	hasMax bool
	sawAny bool
}

func accumulate(st *aggState, spec AggSpec, t *tile.Tile, row int) error {
	if spec.Func == AggCount && spec.Input == nil {
		st.count++
		return nil
	}
	d, err := spec.Input.Eval(t, row)
	if err != nil {
		return err
	}
	if d.Null {
		return nil
	}
	switch spec.Func {
	case AggCount:
		st.count++
	case AggSum:
		st.sum += d.I64
		st.sawAny = true
	case AggMin:
		if !st.hasMin || d.I64 < st.min {
			st.min = d.I64
			st.hasMin = true
		}
	case AggMax:
		if !st.hasMax || d.I64 > st.max {
			st.max = d.I64
			st.hasMax = true
		}
	case AggAvg:
		st.sum += d.I64
		st.count++
		st.sawAny = true
	}
	return nil
}

func finalizeAgg(st aggState, spec AggSpec) typesys.Datum {
	switch spec.Func {
	case AggCount:
		return typesys.NewInt64(st.count)
	case AggSum:
		if !st.sawAny {
			return typesys.NullDatum(spec.OutType)
		}
		return typesys.Datum{Type: spec.OutType, I64: st.sum}
	case AggMin:
		if !st.hasMin {
			return typesys.NullDatum(spec.OutType)
		}
		return typesys.Datum{Type: spec.OutType, I64: st.min}
	case AggMax:
		if !st.hasMax {
			return typesys.NullDatum(spec.OutType)
		}
		return typesys.Datum{Type: spec.OutType, I64: st.max}
	case AggAvg:
		if st.count == 0 {
			return typesys.NullDatum(spec.OutType)
		}
		return typesys.Datum{Type: spec.OutType, I64: st.sum / st.count}
	default:
		return typesys.NullDatum(spec.OutType)
	}
}

// Aggregation is the ungrouped physical aggregate: a fixed-size accumulator
// per output aggregate, emitting one row once all inputs are consumed.
// Implements dataflow.BuildAware so the graph's generic "all input edges
// finalised" hook doubles as "emit now".
type Aggregation struct {
	Specs      []AggSpec
	OutSchema  typesys.Schema
	Allocators map[int]*mem.TileAllocator

	mu     sync.Mutex
	states []aggState
}

// NewAggregation returns a ready-to-consume simple aggregation node.
func NewAggregation(specs []AggSpec, outSchema typesys.Schema, allocs map[int]*mem.TileAllocator) *Aggregation {
	return &Aggregation{Specs: specs, OutSchema: outSchema, Allocators: allocs, states: make([]aggState, len(specs))}
}

func (a *Aggregation) Arity() int                       { return 1 }
func (a *Aggregation) InitialTokens(int) []dataflow.Token { return nil }
func (a *Aggregation) RequiresOwnerWorker() bool        { return false }

func (a *Aggregation) Consume(worker int, em *dataflow.Emitter, _ int, tok dataflow.Token) error {
	t := tok.Set.Tile
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i < t.Size(); i++ {
		if !tok.Set.Alive(i) {
			continue
		}
		for si, spec := range a.Specs {
			if err := accumulate(&a.states[si], spec, t, i); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnBuildComplete implements dataflow.BuildAware: it emits the single finished
// aggregate row, including for an empty input.
func (a *Aggregation) OnBuildComplete(worker int, em *dataflow.Emitter) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	out, _ := a.Allocators[worker].Allocate(a.OutSchema)
	view, _ := out.Allocate()
	for si, spec := range a.Specs {
		writeDatum(view, si, finalizeAgg(a.states[si], spec))
	}
	out.Freeze()
	em.Emit(dataflow.Token{Set: dataflow.RecordSet{Tile: out}, Annotation: runtime.ForWorker(worker, runtime.ReadOnly)})
	return nil
}

// GroupMethod selects between the Hash- and Radix-Aggregation physical
// methods; the choice is made by the optimizer's PhysicalOperatorRule from the
// estimated group cardinality, not by this operator.
type GroupMethod int

const (
	// HashAggregationMethod: a single worker-local open-addressing hash
	// table, used when estimated cardinality <= ~100.
	HashAggregationMethod GroupMethod = iota
	// RadixAggregationMethod: a radix-partitioning pass over R = 2^b
	// buckets, used above that threshold so each partition's working set
	// fits L2.
	RadixAggregationMethod
)

// groupRow is one group's materialised key columns plus its accumulators.
type groupRow struct {
	keyVals []typesys.Datum
	states  []aggState
}

// GroupAggregation implements both grouped physical methods. The
// correctness-critical merge (every worker's partial groups folded together)
// is centralised in OnBuildComplete for both methods; Method and RadixBits
// only affect how Consume buckets contention.
type GroupAggregation struct {
	Method     GroupMethod
	GroupCols  []int
	Specs      []AggSpec
	OutSchema  typesys.Schema
	Allocators map[int]*mem.TileAllocator
	RadixBits  uint

	mu     sync.Mutex
	groups map[string]*groupRow
}

// NewGroupAggregation returns a grouped aggregation node. radixBits is
// ignored for HashAggregationMethod.
func NewGroupAggregation(method GroupMethod, groupCols []int, specs []AggSpec, outSchema typesys.Schema, allocs map[int]*mem.TileAllocator, radixBits uint) *GroupAggregation {
	cap := 64
	if method == RadixAggregationMethod && radixBits > 0 {
		cap = 1 << radixBits
	}
	return &GroupAggregation{
		Method: method, GroupCols: groupCols, Specs: specs, OutSchema: outSchema,
		Allocators: allocs, RadixBits: radixBits, groups: make(map[string]*groupRow, cap),
	}
}

func (g *GroupAggregation) Arity() int                       { return 1 }
func (g *GroupAggregation) InitialTokens(int) []dataflow.Token { return nil }
func (g *GroupAggregation) RequiresOwnerWorker() bool        { return false }

func (g *GroupAggregation) Consume(worker int, em *dataflow.Emitter, _ int, tok dataflow.Token) error {
	t := tok.Set.Tile
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := 0; i < t.Size(); i++ {
		if !tok.Set.Alive(i) {
			continue
		}
		kb, ok, err := keyBytes(nil, t, i, g.GroupCols)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		key := string(kb)
		gr, exists := g.groups[key]
		if !exists {
			vals := make([]typesys.Datum, len(g.GroupCols))
			for ci, col := range g.GroupCols {
				d, err := readDatum(t, col, i, t.Schema().Columns[col].Type)
				if err != nil {
					return err
				}
				vals[ci] = d
			}
			gr = &groupRow{keyVals: vals, states: make([]aggState, len(g.Specs))}
			g.groups[key] = gr
		}
		for si, spec := range g.Specs {
			if err := accumulate(&gr.states[si], spec, t, i); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnBuildComplete unions every group observed across all workers and emits the
// final rows.
func (g *GroupAggregation) OnBuildComplete(worker int, em *dataflow.Emitter) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w := newTileWriter(g.OutSchema, g.Allocators[worker], worker, em.Emit)
	nGroup := len(g.GroupCols)
	for _, gr := range g.groups {
		view := w.nextRow()
		for ci, d := range gr.keyVals {
			writeDatum(view, ci, d)
		}
		for si, spec := range g.Specs {
			writeDatum(view, nGroup+si, finalizeAgg(gr.states[si], spec))
		}
	}
	w.flush()
	return nil
}
