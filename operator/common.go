package operator

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"

	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/mem"
	"github.com/pingcap/tunadb/runtime"
	"github.com/pingcap/tunadb/tile"
	"github.com/pingcap/tunadb/typesys"
)

// rowRef points at one live row inside a tile already owned by a token;
// join and order-by build sides hold these instead of copying values,
// relying on Go's GC rather than explicit tile-ownership transfer to keep
// the referenced tile alive (see DESIGN.md "tile lifetime" note).
type rowRef struct {
	t   *tile.Tile
	row int
}

func readRow(ref rowRef, col int) (typesys.Datum, error) {
	return readDatum(ref.t, col, ref.row, ref.t.Schema().Columns[col].Type)
}

// keyBytes appends the encoded bytes of the columns named by idx, in
// order, used both for equality comparison and for hashing a composite
// join/group key. NULLs never match under SQL semantics, so the helper
// reports found=false to let callers skip NULL keys entirely.
func keyBytes(buf []byte, t *tile.Tile, row int, idx []int) (out []byte, found bool, err error) {
	out = buf
	for _, col := range idx {
		d, err := readDatum(t, col, row, t.Schema().Columns[col].Type)
		if err != nil {
			return nil, false, err
		}
		if d.Null {
			return nil, false, nil
		}
		if d.Type.Kind == typesys.KindChar {
			out = append(out, d.Bytes...)
		} else {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(d.I64))
			out = append(out, b[:]...)
		}
		out = append(out, 0xFF) // field separator, avoids (1,23) colliding with (12,3)
	}
	return out, true, nil
}

// hash64 hashes key with murmur3, the hash family this package uses for
// join/group routing.
func hash64(key []byte) uint64 {
	return murmur3.Sum64(key)
}

// tileWriter buffers output rows into Capacity-sized tiles and emits each
// as it fills, the common pattern every materialising operator
// (projection, arithmetic, aggregation, join, order-by) uses.
type tileWriter struct {
	schema  typesys.Schema
	alloc   *mem.TileAllocator
	worker  int
	cur     *tile.Tile
	curView tile.View
	emit    func(dataflow.Token)
}

func newTileWriter(schema typesys.Schema, alloc *mem.TileAllocator, worker int, emit func(dataflow.Token)) *tileWriter {
	return &tileWriter{schema: schema, alloc: alloc, worker: worker, emit: emit}
}

// nextRow reserves a row in the current output tile, flushing and
// allocating a fresh one first if the current tile is full or absent.
func (w *tileWriter) nextRow() tile.View {
	if w.cur == nil || w.cur.Full() {
		w.flush()
		w.cur, _ = w.alloc.Allocate(w.schema)
	}
	v, _ := w.cur.Allocate()
	return v
}

// flush emits the current tile (if non-empty) and clears it.
func (w *tileWriter) flush() {
	if w.cur == nil || w.cur.Empty() {
		w.cur = nil
		return
	}
	w.cur.Freeze()
	w.emit(dataflow.Token{
		Set:        dataflow.RecordSet{Tile: w.cur},
		Annotation: runtime.ForWorker(w.worker, runtime.ReadOnly),
	})
	w.cur = nil
}

// copyColumns copies columns named by src/dst index pairs from one row to
// another, sharing the projection/arithmetic/join row-materialisation path.
func copyColumns(dst tile.View, dstCols []int, src rowRef, srcCols []int) error {
	for i := range dstCols {
		d, err := readRow(src, srcCols[i])
		if err != nil {
			return err
		}
		writeDatum(dst, dstCols[i], d)
	}
	return nil
}

// combineSchemas returns the join union schema: a's columns followed by b's.
func combineSchemas(a, b typesys.Schema) typesys.Schema {
	cols := make([]typesys.Column, 0, a.Len()+b.Len())
	cols = append(cols, a.Columns...)
	cols = append(cols, b.Columns...)
	return typesys.NewSchema(cols...)
}

// identity returns [0, 1, ..., n-1].
func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// offsetRange returns [start, start+1, ..., start+n-1].
func offsetRange(start, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}
