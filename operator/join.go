package operator

import (
	"sync"

	bloomfilter "github.com/holiman/bloomfilter/v2"

	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/mem"
	"github.com/pingcap/tunadb/tile"
	"github.com/pingcap/tunadb/typesys"
)

// JoinPredicate evaluates an arbitrary condition between a build-side row and
// a probe-side row, the nested-loops join's join condition.
type JoinPredicate func(left *tile.Tile, leftRow int, right *tile.Tile, rightRow int) (bool, error)

// joinBuild accumulates the build side's rows across every worker under a
// single mutex (the join's build phase is not itself parallelised; the
// subsequent probe phase is). Probe tokens that arrive before the build edge
// finalises are buffered and replayed from OnBuildComplete, since a task
// scheduler offers no ordering guarantee between a build-edge token and a
// probe-edge token.
type joinBuild struct {
	mu      sync.Mutex
	built   bool
	rows    []rowRef
	pending []pendingProbe
}

type pendingProbe struct {
	worker int
	tok    dataflow.Token
}

func (jb *joinBuild) addRows(t *tile.Tile, alive func(int) bool) {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	for i := 0; i < t.Size(); i++ {
		if !alive(i) {
			continue
		}
		jb.rows = append(jb.rows, rowRef{t: t, row: i})
	}
}

// bufferOrProbe returns (true, nil) if the caller should buffer tok for
// replay later, or (false, nil) if the build side is already complete and
// the caller should probe immediately.
func (jb *joinBuild) bufferOrProbe(worker int, tok dataflow.Token) bool {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	if jb.built {
		return false
	}
	jb.pending = append(jb.pending, pendingProbe{worker: worker, tok: tok})
	return true
}

func (jb *joinBuild) markBuilt() []pendingProbe {
	jb.mu.Lock()
	defer jb.mu.Unlock()
	jb.built = true
	p := jb.pending
	jb.pending = nil
	return p
}

// keysEqual re-checks equality of the join keys on both sides to guard against
// hash collisions between distinct keys.
func keysEqual(left rowRef, leftKeys []int, right *tile.Tile, rightRow int, rightKeys []int) (bool, error) {
	for i := range leftKeys {
		ld, err := readRow(left, leftKeys[i])
		if err != nil {
			return false, err
		}
		rd, err := readDatum(right, rightKeys[i], rightRow, right.Schema().Columns[rightKeys[i]].Type)
		if err != nil {
			return false, err
		}
		if ld.Null || rd.Null {
			return false, nil
		}
		cmp, err := compareDatums(ld, rd)
		if err != nil {
			return false, err
		}
		if cmp != 0 {
			return false, nil
		}
	}
	return true, nil
}

// emitJoined writes one output row: build-side row ref's columns followed
// by probe-side tile row's columns, per combineSchemas' column order.
func emitJoined(w *tileWriter, nLeft int, build rowRef, probe *tile.Tile, probeRow int) error {
	view := w.nextRow()
	if err := copyColumns(view, identity(nLeft), build, identity(nLeft)); err != nil {
		return err
	}
	nRight := probe.Schema().Len()
	probeRef := rowRef{t: probe, row: probeRow}
	if err := copyColumns(view, offsetRange(nLeft, nRight), probeRef, identity(nRight)); err != nil {
		return err
	}
	return nil
}

// HashJoin is the single-hash-table equi-join, used when the build side's
// estimated cardinality is small enough for one table to fit comfortably in
// cache.
type HashJoin struct {
	LeftSchema, RightSchema typesys.Schema
	LeftKeys, RightKeys     []int
	OutSchema               typesys.Schema
	Allocators              map[int]*mem.TileAllocator

	build joinBuild
	mu    sync.Mutex
	index map[uint64][]int
}

// NewHashJoin returns a ready-to-consume hash join over leftKeys/rightKeys
// equi-conditions.
func NewHashJoin(leftSchema, rightSchema typesys.Schema, leftKeys, rightKeys []int, allocs map[int]*mem.TileAllocator) *HashJoin {
	return &HashJoin{
		LeftSchema: leftSchema, RightSchema: rightSchema,
		LeftKeys: leftKeys, RightKeys: rightKeys,
		OutSchema: combineSchemas(leftSchema, rightSchema), Allocators: allocs,
		index: make(map[uint64][]int),
	}
}

func (j *HashJoin) Arity() int                       { return 2 }
func (j *HashJoin) InitialTokens(int) []dataflow.Token { return nil }
func (j *HashJoin) RequiresOwnerWorker() bool        { return false }

func (j *HashJoin) Consume(worker int, em *dataflow.Emitter, inputIdx int, tok dataflow.Token) error {
	if inputIdx == 0 {
		j.build.addRows(tok.Set.Tile, tok.Set.Alive)
		return nil
	}
	if j.build.bufferOrProbe(worker, tok) {
		return nil
	}
	return j.probe(worker, em, tok)
}

// OnBuildComplete implements dataflow.BuildAware: it hashes every build
// row into j.index and drains any probe tokens that raced ahead of the
// build edge's finalisation.
func (j *HashJoin) OnBuildComplete(worker int, em *dataflow.Emitter) error {
	j.mu.Lock()
	for idx, ref := range j.build.rows {
		kb, ok, err := keyBytes(nil, ref.t, ref.row, j.LeftKeys)
		if err != nil {
			j.mu.Unlock()
			return err
		}
		if !ok {
			continue
		}
		h := hash64(kb)
		j.index[h] = append(j.index[h], idx)
	}
	j.mu.Unlock()
	for _, p := range j.build.markBuilt() {
		if err := j.probe(p.worker, em, p.tok); err != nil {
			return err
		}
	}
	return nil
}

func (j *HashJoin) probe(worker int, em *dataflow.Emitter, tok dataflow.Token) error {
	t := tok.Set.Tile
	w := newTileWriter(j.OutSchema, j.Allocators[worker], worker, em.Emit)
	nLeft := j.LeftSchema.Len()
	for i := 0; i < t.Size(); i++ {
		if !tok.Set.Alive(i) {
			continue
		}
		kb, ok, err := keyBytes(nil, t, i, j.RightKeys)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		h := hash64(kb)
		j.mu.Lock()
		candidates := j.index[h]
		j.mu.Unlock()
		for _, bi := range candidates {
			bref := j.build.rows[bi]
			eq, err := keysEqual(bref, j.LeftKeys, t, i, j.RightKeys)
			if err != nil {
				return err
			}
			if !eq {
				continue
			}
			if err := emitJoined(w, nLeft, bref, t, i); err != nil {
				return err
			}
		}
	}
	w.flush()
	return nil
}

// RadixJoin partitions the build side into R = 2^Bits buckets by the low bits
// of the key hash before building per-bucket tables. Used above the
// cardinality threshold where HashJoin's single table would thrash cache.
type RadixJoin struct {
	LeftSchema, RightSchema typesys.Schema
	LeftKeys, RightKeys     []int
	OutSchema               typesys.Schema
	Allocators              map[int]*mem.TileAllocator
	Bits                    uint

	build      joinBuild
	mu         sync.Mutex
	partitions []map[uint64][]int
}

// NewRadixJoin returns a ready-to-consume radix join partitioned into
// 2^bits buckets.
func NewRadixJoin(leftSchema, rightSchema typesys.Schema, leftKeys, rightKeys []int, bits uint, allocs map[int]*mem.TileAllocator) *RadixJoin {
	n := uint(1) << bits
	parts := make([]map[uint64][]int, n)
	for i := range parts {
		parts[i] = make(map[uint64][]int)
	}
	return &RadixJoin{
		LeftSchema: leftSchema, RightSchema: rightSchema,
		LeftKeys: leftKeys, RightKeys: rightKeys,
		OutSchema: combineSchemas(leftSchema, rightSchema), Allocators: allocs,
		Bits: bits, partitions: parts,
	}
}

func (j *RadixJoin) partitionOf(h uint64) uint64 {
	return h & ((uint64(1) << j.Bits) - 1)
}

func (j *RadixJoin) Arity() int                       { return 2 }
func (j *RadixJoin) InitialTokens(int) []dataflow.Token { return nil }
func (j *RadixJoin) RequiresOwnerWorker() bool        { return false }

func (j *RadixJoin) Consume(worker int, em *dataflow.Emitter, inputIdx int, tok dataflow.Token) error {
	if inputIdx == 0 {
		j.build.addRows(tok.Set.Tile, tok.Set.Alive)
		return nil
	}
	if j.build.bufferOrProbe(worker, tok) {
		return nil
	}
	return j.probe(worker, em, tok)
}

func (j *RadixJoin) OnBuildComplete(worker int, em *dataflow.Emitter) error {
	j.mu.Lock()
	for idx, ref := range j.build.rows {
		kb, ok, err := keyBytes(nil, ref.t, ref.row, j.LeftKeys)
		if err != nil {
			j.mu.Unlock()
			return err
		}
		if !ok {
			continue
		}
		h := hash64(kb)
		p := j.partitionOf(h)
		j.partitions[p][h] = append(j.partitions[p][h], idx)
	}
	j.mu.Unlock()
	for _, p := range j.build.markBuilt() {
		if err := j.probe(p.worker, em, p.tok); err != nil {
			return err
		}
	}
	return nil
}

func (j *RadixJoin) probe(worker int, em *dataflow.Emitter, tok dataflow.Token) error {
	t := tok.Set.Tile
	w := newTileWriter(j.OutSchema, j.Allocators[worker], worker, em.Emit)
	nLeft := j.LeftSchema.Len()
	for i := 0; i < t.Size(); i++ {
		if !tok.Set.Alive(i) {
			continue
		}
		kb, ok, err := keyBytes(nil, t, i, j.RightKeys)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		h := hash64(kb)
		p := j.partitionOf(h)
		j.mu.Lock()
		candidates := j.partitions[p][h]
		j.mu.Unlock()
		for _, bi := range candidates {
			bref := j.build.rows[bi]
			eq, err := keysEqual(bref, j.LeftKeys, t, i, j.RightKeys)
			if err != nil {
				return err
			}
			if !eq {
				continue
			}
			if err := emitJoined(w, nLeft, bref, t, i); err != nil {
				return err
			}
		}
	}
	w.flush()
	return nil
}

// FilteredRadixJoin adds a Bloom filter over the build side's keys ahead of a
// RadixJoin's partitioned lookup, letting a probe row that cannot possibly
// match skip the partition map entirely.
type FilteredRadixJoin struct {
	*RadixJoin

	FalsePositiveRate float64
	filterMu          sync.Mutex
	filter            *bloomfilter.Filter
}

// NewFilteredRadixJoin returns a ready-to-consume filtered radix join.
// expectedBuildRows sizes the Bloom filter.
func NewFilteredRadixJoin(leftSchema, rightSchema typesys.Schema, leftKeys, rightKeys []int, bits uint, expectedBuildRows uint64, fpRate float64, allocs map[int]*mem.TileAllocator) *FilteredRadixJoin {
	if expectedBuildRows == 0 {
		expectedBuildRows = 1
	}
	if fpRate <= 0 {
		fpRate = 0.01
	}
	filter, _ := bloomfilter.NewOptimal(expectedBuildRows, fpRate)
	return &FilteredRadixJoin{
		RadixJoin:         NewRadixJoin(leftSchema, rightSchema, leftKeys, rightKeys, bits, allocs),
		FalsePositiveRate: fpRate,
		filter:            filter,
	}
}

// keyHash64 adapts a precomputed 64-bit hash to the hash.Hash64 interface
// the Bloom filter library expects, avoiding a second hash pass over the
// key bytes.
type keyHash64 uint64

func (keyHash64) Write(p []byte) (int, error) { return len(p), nil }
func (keyHash64) Sum(b []byte) []byte          { return b }
func (keyHash64) Reset()                       {}
func (keyHash64) Size() int                    { return 8 }
func (keyHash64) BlockSize() int               { return 8 }
func (h keyHash64) Sum64() uint64              { return uint64(h) }

func (j *FilteredRadixJoin) Consume(worker int, em *dataflow.Emitter, inputIdx int, tok dataflow.Token) error {
	if inputIdx == 0 {
		j.RadixJoin.build.addRows(tok.Set.Tile, tok.Set.Alive)
		return nil
	}
	if j.RadixJoin.build.bufferOrProbe(worker, tok) {
		return nil
	}
	return j.probe(worker, em, tok)
}

func (j *FilteredRadixJoin) OnBuildComplete(worker int, em *dataflow.Emitter) error {
	j.RadixJoin.mu.Lock()
	for idx, ref := range j.RadixJoin.build.rows {
		kb, ok, err := keyBytes(nil, ref.t, ref.row, j.LeftKeys)
		if err != nil {
			j.RadixJoin.mu.Unlock()
			return err
		}
		if !ok {
			continue
		}
		h := hash64(kb)
		p := j.RadixJoin.partitionOf(h)
		j.RadixJoin.partitions[p][h] = append(j.RadixJoin.partitions[p][h], idx)
		j.filterMu.Lock()
		j.filter.Add(keyHash64(h))
		j.filterMu.Unlock()
	}
	j.RadixJoin.mu.Unlock()
	for _, p := range j.RadixJoin.build.markBuilt() {
		if err := j.probe(p.worker, em, p.tok); err != nil {
			return err
		}
	}
	return nil
}

func (j *FilteredRadixJoin) probe(worker int, em *dataflow.Emitter, tok dataflow.Token) error {
	t := tok.Set.Tile
	w := newTileWriter(j.OutSchema, j.Allocators[worker], worker, em.Emit)
	nLeft := j.LeftSchema.Len()
	for i := 0; i < t.Size(); i++ {
		if !tok.Set.Alive(i) {
			continue
		}
		kb, ok, err := keyBytes(nil, t, i, j.RightKeys)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		h := hash64(kb)
		j.filterMu.Lock()
		maybePresent := j.filter.Contains(keyHash64(h))
		j.filterMu.Unlock()
		if !maybePresent {
			continue
		}
		p := j.RadixJoin.partitionOf(h)
		j.RadixJoin.mu.Lock()
		candidates := j.RadixJoin.partitions[p][h]
		j.RadixJoin.mu.Unlock()
		for _, bi := range candidates {
			bref := j.RadixJoin.build.rows[bi]
			eq, err := keysEqual(bref, j.LeftKeys, t, i, j.RightKeys)
			if err != nil {
				return err
			}
			if !eq {
				continue
			}
			if err := emitJoined(w, nLeft, bref, t, i); err != nil {
				return err
			}
		}
	}
	w.flush()
	return nil
}

// NestedLoop evaluates Predicate against every build-row/probe-row pair, the
// fallback join method for conditions that are not a single equality.
type NestedLoop struct {
	LeftSchema, RightSchema typesys.Schema
	Predicate               JoinPredicate
	OutSchema               typesys.Schema
	Allocators              map[int]*mem.TileAllocator

	build joinBuild
}

// NewNestedLoop returns a ready-to-consume nested-loops join.
func NewNestedLoop(leftSchema, rightSchema typesys.Schema, pred JoinPredicate, allocs map[int]*mem.TileAllocator) *NestedLoop {
	return &NestedLoop{
		LeftSchema: leftSchema, RightSchema: rightSchema, Predicate: pred,
		OutSchema: combineSchemas(leftSchema, rightSchema), Allocators: allocs,
	}
}

func (j *NestedLoop) Arity() int                       { return 2 }
func (j *NestedLoop) InitialTokens(int) []dataflow.Token { return nil }
func (j *NestedLoop) RequiresOwnerWorker() bool        { return false }

func (j *NestedLoop) Consume(worker int, em *dataflow.Emitter, inputIdx int, tok dataflow.Token) error {
	if inputIdx == 0 {
		j.build.addRows(tok.Set.Tile, tok.Set.Alive)
		return nil
	}
	if j.build.bufferOrProbe(worker, tok) {
		return nil
	}
	return j.probe(worker, em, tok)
}

func (j *NestedLoop) OnBuildComplete(worker int, em *dataflow.Emitter) error {
	for _, p := range j.build.markBuilt() {
		if err := j.probe(p.worker, em, p.tok); err != nil {
			return err
		}
	}
	return nil
}

func (j *NestedLoop) probe(worker int, em *dataflow.Emitter, tok dataflow.Token) error {
	t := tok.Set.Tile
	w := newTileWriter(j.OutSchema, j.Allocators[worker], worker, em.Emit)
	nLeft := j.LeftSchema.Len()
	j.build.mu.Lock()
	rows := j.build.rows
	j.build.mu.Unlock()
	for i := 0; i < t.Size(); i++ {
		if !tok.Set.Alive(i) {
			continue
		}
		for _, bref := range rows {
			ok, err := j.Predicate(bref.t, bref.row, t, i)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := emitJoined(w, nLeft, bref, t, i); err != nil {
				return err
			}
		}
	}
	w.flush()
	return nil
}
