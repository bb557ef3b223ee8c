// Package result implements query-result assembly and the wire serialization
// format: a QueryResult accumulates the sink's emitted tiles under one
// output schema, then serializes to a fixed byte layout. It reuses
// tile.Tile's own little-endian column encoding directly via
// Tile.ColumnBytes rather than re-encoding values: bulk column-wise memcpy
// is the only supported way to move tile data, so serialization is just
// concatenation.
package result

import (
	"encoding/binary"

	"github.com/pingcap/errors"

	"github.com/pingcap/tunadb/errkind"
	"github.com/pingcap/tunadb/tile"
	"github.com/pingcap/tunadb/typesys"
)

// QueryResult accumulates every tile a dataflow sink emits for one query,
// under a single output schema. OrderedColumns preserves the client-requested
// column order when it differs from the tile's physical column order.
type QueryResult struct {
	Schema         typesys.Schema
	OrderedColumns []int
	Tiles          []*tile.Tile
}

// New returns an empty result over schema, with the identity column order.
func New(schema typesys.Schema) *QueryResult {
	order := make([]int, schema.Len())
	for i := range order {
		order[i] = i
	}
	return &QueryResult{Schema: schema, OrderedColumns: order}
}

// Append adds t's live rows to the result.
func (r *QueryResult) Append(t *tile.Tile) {
	r.Tiles = append(r.Tiles, t)
}

// RowCount returns the total row count across every appended tile.
func (r *QueryResult) RowCount() int64 {
	var n int64
	for _, t := range r.Tiles {
		n += int64(t.Size())
	}
	return n
}

// putString writes a u16 length prefix followed by s's bytes.
func putString(buf []byte, s string) []byte {
	buf = appendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// putType writes a Type record: a 1-byte Kind id, then (precision, scale)
// for DECIMAL or a 2-byte length for CHAR.
func putType(buf []byte, t typesys.Type) []byte {
	buf = append(buf, byte(t.Kind))
	switch t.Kind {
	case typesys.KindDecimal:
		buf = append(buf, t.Precision, t.Scale)
	case typesys.KindChar:
		buf = appendUint16(buf, t.Length)
	}
	return buf
}

func readType(buf []byte) (typesys.Type, []byte, error) {
	if len(buf) < 1 {
		return typesys.Type{}, nil, errors.New("result: truncated type record")
	}
	kind := typesys.Kind(buf[0])
	buf = buf[1:]
	switch kind {
	case typesys.KindDecimal:
		if len(buf) < 2 {
			return typesys.Type{}, nil, errors.New("result: truncated decimal type")
		}
		t := typesys.Decimal(buf[0], buf[1])
		return t, buf[2:], nil
	case typesys.KindChar:
		if len(buf) < 2 {
			return typesys.Type{}, nil, errors.New("result: truncated char type")
		}
		n := binary.LittleEndian.Uint16(buf)
		return typesys.Char(n), buf[2:], nil
	case typesys.KindInt32:
		return typesys.Int32(), buf, nil
	case typesys.KindInt64:
		return typesys.Int64(), buf, nil
	case typesys.KindDate:
		return typesys.Date(), buf, nil
	case typesys.KindBool:
		return typesys.Bool(), buf, nil
	default:
		return typesys.Type{}, nil, errors.Errorf("result: unknown type kind %d", kind)
	}
}

// Serialize encodes r's byte layout: an 8-byte total size, the schema (column
// count, then per column name/type/nullability/key flags), the order-index
// list, the row count, then each column's payload in physical order across
// every tile, each followed by the column's null bitmap.
func (r *QueryResult) Serialize() []byte {
	body := r.serializeBody()
	out := appendUint64(nil, uint64(len(body)))
	return append(out, body...)
}

func (r *QueryResult) serializeBody() []byte {
	var buf []byte
	buf = appendUint16(buf, uint16(r.Schema.Len()))
	for _, c := range r.Schema.Columns {
		buf = putString(buf, c.Term)
		buf = putType(buf, c.Type)
		buf = append(buf, boolByte(c.Nullable), boolByte(c.PrimaryKey))
	}
	buf = appendUint16(buf, uint16(len(r.OrderedColumns)))
	for _, idx := range r.OrderedColumns {
		buf = appendUint16(buf, uint16(idx))
	}
	buf = appendUint64(buf, uint64(r.RowCount()))
	for col := range r.Schema.Columns {
		for _, t := range r.Tiles {
			buf = append(buf, t.ColumnBytes(col)...)
		}
		buf = append(buf, r.columnValidity(col)...)
	}
	return buf
}

// columnValidity flattens col's null bitmap across every tile into one
// RowCount-bit little-endian bitmap (bit g set = global row g is NULL),
// written after the column's value payload.
func (r *QueryResult) columnValidity(col int) []byte {
	out := make([]byte, (int(r.RowCount())+7)/8)
	g := 0
	for _, t := range r.Tiles {
		for i := 0; i < t.Size(); i++ {
			if t.View(i).IsNull(col) {
				out[g/8] |= 1 << (g % 8)
			}
			g++
		}
	}
	return out
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Deserialize is Serialize's exact inverse: it reconstructs the schema,
// allocates client tiles of capacity tile.Capacity, and copies each column's
// payload bytes into them.
func Deserialize(buf []byte) (*QueryResult, error) {
	if len(buf) < 8 {
		return nil, errkind.IO(nil, "result: truncated frame")
	}
	total := binary.LittleEndian.Uint64(buf)
	buf = buf[8:]
	if uint64(len(buf)) < total {
		return nil, errkind.IO(nil, "result: frame shorter than declared size")
	}
	buf = buf[:total]

	if len(buf) < 2 {
		return nil, errkind.IO(nil, "result: truncated column count")
	}
	numCols := int(binary.LittleEndian.Uint16(buf))
	buf = buf[2:]

	cols := make([]typesys.Column, numCols)
	for i := 0; i < numCols; i++ {
		if len(buf) < 2 {
			return nil, errkind.IO(nil, "result: truncated column name length")
		}
		nameLen := int(binary.LittleEndian.Uint16(buf))
		buf = buf[2:]
		if len(buf) < nameLen {
			return nil, errkind.IO(nil, "result: truncated column name")
		}
		name := string(buf[:nameLen])
		buf = buf[nameLen:]

		typ, rest, err := readType(buf)
		if err != nil {
			return nil, errkind.IO(err, "result: bad type record")
		}
		buf = rest
		if len(buf) < 2 {
			return nil, errkind.IO(nil, "result: truncated column flags")
		}
		cols[i] = typesys.Column{Term: name, Type: typ, Nullable: buf[0] != 0, PrimaryKey: buf[1] != 0}
		buf = buf[2:]
	}
	schema := typesys.NewSchema(cols...)

	if len(buf) < 2 {
		return nil, errkind.IO(nil, "result: truncated order count")
	}
	numOrder := int(binary.LittleEndian.Uint16(buf))
	buf = buf[2:]
	order := make([]int, numOrder)
	for i := 0; i < numOrder; i++ {
		if len(buf) < 2 {
			return nil, errkind.IO(nil, "result: truncated order index")
		}
		order[i] = int(binary.LittleEndian.Uint16(buf))
		buf = buf[2:]
	}

	if len(buf) < 8 {
		return nil, errkind.IO(nil, "result: truncated row count")
	}
	rowCount := binary.LittleEndian.Uint64(buf)
	buf = buf[8:]

	r := &QueryResult{Schema: schema, OrderedColumns: order}
	remaining := int64(rowCount)
	bitmapLen := (int(rowCount) + 7) / 8
	colBufs := make([][]byte, numCols)
	colBitmaps := make([][]byte, numCols)
	for col, c := range schema.Columns {
		width := c.Type.Size()
		n := int(rowCount) * width
		if len(buf) < n+bitmapLen {
			return nil, errkind.IO(nil, "result: truncated column payload")
		}
		colBufs[col] = buf[:n]
		colBitmaps[col] = buf[n : n+bitmapLen]
		buf = buf[n+bitmapLen:]
	}
	for remaining > 0 {
		t := tile.New(schema)
		t.SetClientTile(true)
		take := remaining
		if take > tile.Capacity {
			take = tile.Capacity
		}
		_, granted := t.Bulk(int(take))
		base := int(rowCount) - int(remaining)
		for col, c := range schema.Columns {
			width := c.Type.Size()
			off := int64(base) * int64(width)
			dst := t.ColumnBlockCapacityBytes(col)
			copy(dst, colBufs[col][off:off+int64(granted)*int64(width)])
			for i := 0; i < granted; i++ {
				g := base + i
				if colBitmaps[col][g/8]&(1<<(g%8)) != 0 {
					t.View(i).SetNull(col)
				}
			}
		}
		r.Append(t)
		remaining -= int64(granted)
	}
	return r, nil
}
