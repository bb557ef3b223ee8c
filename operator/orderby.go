package operator

import (
	"sort"
	"sync"

	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/mem"
	"github.com/pingcap/tunadb/typesys"
)

// SortKey is one ORDER BY term: a schema column index and direction.
type SortKey struct {
	Col  int
	Desc bool
}

// compareNullable orders NULL before any non-NULL value, then delegates to
// compareDatums. NULLS FIRST is applied uniformly regardless of ASC/DESC;
// see DESIGN.md.
func compareNullable(a, b typesys.Datum) int {
	switch {
	case a.Null && b.Null:
		return 0
	case a.Null:
		return -1
	case b.Null:
		return 1
	default:
		cmp, _ := compareDatums(a, b)
		return cmp
	}
}

func lessRows(keys []SortKey, a, b rowRef) bool {
	for _, k := range keys {
		da, _ := readRow(a, k.Col)
		db, _ := readRow(b, k.Col)
		cmp := compareNullable(da, db)
		if cmp == 0 {
			continue
		}
		if k.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

// OrderBy is the sequential sort: every row is gathered into one buffer,
// sorted stably (so first-seen order breaks ties deterministically), and
// re-emitted. A fused downstream limit sets Offset/TopK, bounding what the
// final emit pass walks; TopK == 0 means unbounded.
type OrderBy struct {
	Schema     typesys.Schema
	Keys       []SortKey
	Allocators map[int]*mem.TileAllocator
	Offset     int64
	TopK       int64

	mu   sync.Mutex
	rows []rowRef
}

// NewOrderBy returns a ready-to-consume sequential order-by node.
func NewOrderBy(schema typesys.Schema, keys []SortKey, allocs map[int]*mem.TileAllocator) *OrderBy {
	return &OrderBy{Schema: schema, Keys: keys, Allocators: allocs}
}

func (o *OrderBy) Arity() int                       { return 1 }
func (o *OrderBy) InitialTokens(int) []dataflow.Token { return nil }
func (o *OrderBy) RequiresOwnerWorker() bool        { return false }

func (o *OrderBy) Consume(worker int, em *dataflow.Emitter, _ int, tok dataflow.Token) error {
	t := tok.Set.Tile
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := 0; i < t.Size(); i++ {
		if !tok.Set.Alive(i) {
			continue
		}
		o.rows = append(o.rows, rowRef{t: t, row: i})
	}
	return nil
}

// OnBuildComplete implements dataflow.BuildAware, sorting and emitting the
// entire gathered row set once every input tile has arrived.
func (o *OrderBy) OnBuildComplete(worker int, em *dataflow.Emitter) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	sort.SliceStable(o.rows, func(i, j int) bool { return lessRows(o.Keys, o.rows[i], o.rows[j]) })
	rows := boundRows(o.rows, o.Offset, o.TopK)
	w := newTileWriter(o.Schema, o.Allocators[worker], worker, em.Emit)
	n := o.Schema.Len()
	for _, ref := range rows {
		view := w.nextRow()
		if err := copyColumns(view, identity(n), ref, identity(n)); err != nil {
			return err
		}
	}
	w.flush()
	return nil
}

// boundRows applies a fused limit window [offset, topK) to an already
// sorted row slice; topK == 0 means no bound.
func boundRows(rows []rowRef, offset, topK int64) []rowRef {
	if topK <= 0 {
		return rows
	}
	if offset > int64(len(rows)) {
		return nil
	}
	end := topK
	if end > int64(len(rows)) {
		end = int64(len(rows))
	}
	if offset >= end {
		return nil
	}
	return rows[offset:end]
}

// ParallelOrderBy sorts each worker's contribution independently, then k-way
// merges the sorted runs on the worker that observes build completion.
type ParallelOrderBy struct {
	Schema     typesys.Schema
	Keys       []SortKey
	Allocators map[int]*mem.TileAllocator
	Offset     int64
	TopK       int64

	mu      sync.Mutex
	buffers map[int][]rowRef
}

// NewParallelOrderBy returns a ready-to-consume parallel order-by node.
func NewParallelOrderBy(schema typesys.Schema, keys []SortKey, allocs map[int]*mem.TileAllocator) *ParallelOrderBy {
	return &ParallelOrderBy{Schema: schema, Keys: keys, Allocators: allocs, buffers: make(map[int][]rowRef)}
}

func (o *ParallelOrderBy) Arity() int                       { return 1 }
func (o *ParallelOrderBy) InitialTokens(int) []dataflow.Token { return nil }
func (o *ParallelOrderBy) RequiresOwnerWorker() bool        { return false }

func (o *ParallelOrderBy) Consume(worker int, em *dataflow.Emitter, _ int, tok dataflow.Token) error {
	t := tok.Set.Tile
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := 0; i < t.Size(); i++ {
		if !tok.Set.Alive(i) {
			continue
		}
		o.buffers[worker] = append(o.buffers[worker], rowRef{t: t, row: i})
	}
	return nil
}

// OnBuildComplete sorts every worker's run, then merges them with a
// repeated-minimum scan across run heads; the run count is bounded by the
// core count, so a heap buys nothing here.
func (o *ParallelOrderBy) OnBuildComplete(worker int, em *dataflow.Emitter) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	runs := make([][]rowRef, 0, len(o.buffers))
	for _, buf := range o.buffers {
		if len(buf) == 0 {
			continue
		}
		sort.SliceStable(buf, func(i, j int) bool { return lessRows(o.Keys, buf[i], buf[j]) })
		runs = append(runs, buf)
	}
	heads := make([]int, len(runs))
	w := newTileWriter(o.Schema, o.Allocators[worker], worker, em.Emit)
	n := o.Schema.Len()
	var pos int64
	for {
		if o.TopK > 0 && pos >= o.TopK {
			break
		}
		best := -1
		for ri, h := range heads {
			if h >= len(runs[ri]) {
				continue
			}
			if best == -1 || lessRows(o.Keys, runs[ri][h], runs[best][heads[best]]) {
				best = ri
			}
		}
		if best == -1 {
			break
		}
		if pos >= o.Offset {
			view := w.nextRow()
			if err := copyColumns(view, identity(n), runs[best][heads[best]], identity(n)); err != nil {
				return err
			}
		}
		heads[best]++
		pos++
	}
	w.flush()
	return nil
}
