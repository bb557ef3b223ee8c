// Package tile implements the PAX-layout fixed-capacity record batch: a
// 64-byte header followed by one contiguous, cache-line aligned column block
// per schema attribute, each block holding the value array and a trailing
// one-bit-per-row null bitmap. Implemented as a single byte array plus typed
// column-slice views computed from offsets, never as a Go union/unsafe-cast
// type.
package tile

import (
	"encoding/binary"

	"github.com/pingcap/tunadb/typesys"
)

// Capacity is the fixed per-tile tuple count T.
const Capacity = 256

// HeaderSize is the fixed tile header size in bytes.
const HeaderSize = 64

// Tile is a fixed-capacity PAX record batch for one schema.
type Tile struct {
	schema       typesys.Schema
	buf          []byte // HeaderSize + schema.PayloadSize(Capacity)
	size         int    // 0..Capacity, frozen once emitted
	isClientTile bool
	isTemporary  bool
	frozen       bool
}

// New allocates a zeroed tile for schema. Tiles are otherwise only produced
// by mem.TileAllocator; this constructor is used by that allocator and by
// tests.
func New(schema typesys.Schema) *Tile {
	return &Tile{
		schema: schema,
		buf:    make([]byte, HeaderSize+schema.PayloadSize(Capacity)),
	}
}

// Schema returns the tile's schema.
func (t *Tile) Schema() typesys.Schema { return t.schema }

// Size returns the number of live rows, 0..Capacity.
func (t *Tile) Size() int { return t.size }

// Full reports size == Capacity.
func (t *Tile) Full() bool { return t.size == Capacity }

// Empty reports size == 0.
func (t *Tile) Empty() bool { return t.size == 0 }

// IsClientTile reports whether this tile crossed the serialization boundary
// and is therefore freed via the standard heap, not a per-worker allocator.
func (t *Tile) IsClientTile() bool { return t.isClientTile }

// SetClientTile marks the tile as client-owned.
func (t *Tile) SetClientTile(v bool) { t.isClientTile = v }

// IsTemporary reports whether the tile is reclaimed on token destruction.
func (t *Tile) IsTemporary() bool { return t.isTemporary }

// SetTemporary marks the tile as temporary.
func (t *Tile) SetTemporary(v bool) { t.isTemporary = v }

// Freeze locks Size against further mutation: once emitted in a token, the
// tile's size is fixed. Allocate/Bulk panic after Freeze.
func (t *Tile) Freeze() { t.frozen = true }

// Reset rewinds the tile to an empty, writable state for reuse by an
// allocator's free list. Value bytes are left as-is (rows are only readable
// below Size, so stale values are never observable), but the null bitmaps
// are cleared: a bulk writer that copies raw value bytes must start from an
// all-valid bitmap, the same state New hands out.
func (t *Tile) Reset() {
	t.size = 0
	t.frozen = false
	t.isClientTile = false
	t.isTemporary = false
	for col := range t.schema.Columns {
		off := t.validityOffset(col)
		for i := 0; i < (Capacity+7)/8; i++ {
			t.buf[off+i] = 0
		}
	}
}

// View is a writable/read-only handle to one row of a tile.
type View struct {
	t   *Tile
	row int
}

// Allocate reserves the next row for writing; it is an error (reported by
// ok=false) to call once Full().
func (t *Tile) Allocate() (View, bool) {
	if t.frozen {
		panic("tile: allocate after freeze")
	}
	if t.size >= Capacity {
		return View{}, false
	}
	v := View{t: t, row: t.size}
	t.size++
	return v, true
}

// Bulk reserves up to n rows in one step, returning the first reserved row
// index and the number actually granted: granted = min(n, Capacity-size).
func (t *Tile) Bulk(n int) (start, granted int) {
	if t.frozen {
		panic("tile: bulk allocate after freeze")
	}
	start = t.size
	granted = Capacity - t.size
	if n < granted {
		granted = n
	}
	t.size += granted
	return start, granted
}

// View returns a read-only record view at row i. Undefined (panics) if
// i >= Size().
func (t *Tile) View(i int) View {
	if i >= t.size {
		panic("tile: view index out of bounds")
	}
	return View{t: t, row: i}
}

// columnOffset returns the byte offset of column i's first element.
func (t *Tile) columnOffset(col int) int {
	return HeaderSize + t.schema.PaxOffset(col, Capacity)
}

func (t *Tile) elemOffset(col, row int) int {
	return t.columnOffset(col) + row*t.schema.Columns[col].Type.Size()
}

// validityOffset returns the byte offset of col's null bitmap (one bit per
// row, trailing the value array inside the column block).
func (t *Tile) validityOffset(col int) int {
	return HeaderSize + t.schema.ValidityOffset(col, Capacity)
}

// SetNull marks (col, v.row) as NULL. The value bytes are left untouched;
// readers consult the bitmap before the value array.
func (v View) SetNull(col int) {
	off := v.t.validityOffset(col)
	v.t.buf[off+v.row/8] |= 1 << (v.row % 8)
}

// IsNull reports whether (col, v.row) holds NULL.
func (v View) IsNull(col int) bool {
	off := v.t.validityOffset(col)
	return v.t.buf[off+v.row/8]&(1<<(v.row%8)) != 0
}

func (v View) setNotNull(col int) {
	off := v.t.validityOffset(col)
	v.t.buf[off+v.row/8] &^= 1 << (v.row % 8)
}

// SetInt32 writes an INT32 value at (col, v.row).
func (v View) SetInt32(col int, val int32) {
	v.setNotNull(col)
	off := v.t.elemOffset(col, v.row)
	binary.LittleEndian.PutUint32(v.t.buf[off:], uint32(val))
}

// Int32 reads an INT32 value at (col, v.row).
func (v View) Int32(col int) int32 {
	off := v.t.elemOffset(col, v.row)
	return int32(binary.LittleEndian.Uint32(v.t.buf[off:]))
}

// SetInt64 writes an INT64 (or DECIMAL-scaled) value at (col, v.row).
func (v View) SetInt64(col int, val int64) {
	v.setNotNull(col)
	off := v.t.elemOffset(col, v.row)
	binary.LittleEndian.PutUint64(v.t.buf[off:], uint64(val))
}

// Int64 reads an INT64 (or DECIMAL-scaled) value at (col, v.row).
func (v View) Int64(col int) int64 {
	off := v.t.elemOffset(col, v.row)
	return int64(binary.LittleEndian.Uint64(v.t.buf[off:]))
}

// SetBool writes a BOOL value at (col, v.row).
func (v View) SetBool(col int, val bool) {
	v.setNotNull(col)
	off := v.t.elemOffset(col, v.row)
	if val {
		v.t.buf[off] = 1
	} else {
		v.t.buf[off] = 0
	}
}

// Bool reads a BOOL value at (col, v.row).
func (v View) Bool(col int) bool {
	off := v.t.elemOffset(col, v.row)
	return v.t.buf[off] != 0
}

// SetChar writes a CHAR(n) value at (col, v.row), nul-padding/truncating s.
func (v View) SetChar(col int, s []byte) {
	v.setNotNull(col)
	n := v.t.schema.Columns[col].Type.Size()
	off := v.t.elemOffset(col, v.row)
	dst := v.t.buf[off : off+n]
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}

// Char reads the raw (nul-padded) CHAR(n) bytes at (col, v.row).
func (v View) Char(col int) []byte {
	n := v.t.schema.Columns[col].Type.Size()
	off := v.t.elemOffset(col, v.row)
	return v.t.buf[off : off+n]
}

// Row returns the row index this view addresses.
func (v View) Row() int { return v.row }

// ColumnBytes returns the full live column block for col (Size() rows
// worth, not Capacity) — used by bulk memcpy paths such as serialization
// and Copy.
func (t *Tile) ColumnBytes(col int) []byte {
	off := t.columnOffset(col)
	width := t.schema.Columns[col].Type.Size()
	return t.buf[off : off+t.size*width]
}

// ColumnBlockCapacityBytes returns the full Capacity-sized column block
// (used when bulk-copying a whole tile's physical layout, e.g. persistence).
func (t *Tile) ColumnBlockCapacityBytes(col int) []byte {
	off := t.columnOffset(col)
	size := t.schema.ColumnBlockSize(col, Capacity)
	return t.buf[off : off+size]
}

// CopyInto bulk-copies src's live rows into dst starting at dst's current
// Size, column by column — the only supported way to copy a tile. Panics if
// dst has insufficient remaining capacity or schemas differ in column widths.
func CopyInto(dst, src *Tile) {
	start, granted := dst.Bulk(src.Size())
	if granted != src.Size() {
		panic("tile: CopyInto destination has insufficient capacity")
	}
	for col := range src.schema.Columns {
		width := src.schema.Columns[col].Type.Size()
		srcOff := src.columnOffset(col)
		dstOff := dst.columnOffset(col) + start*width
		copy(dst.buf[dstOff:dstOff+src.size*width], src.buf[srcOff:srcOff+src.size*width])
		// Null bits move bit-by-bit: start may not be byte-aligned.
		for row := 0; row < src.size; row++ {
			if src.View(row).IsNull(col) {
				dst.View(start + row).SetNull(col)
			}
		}
	}
}
