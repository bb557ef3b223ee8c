// Package persist implements the save/restore byte format: one
// exclusive-locked little-endian stream holding every table's name, schema,
// per-column histogram/distinct-count statistics, and tiles.
package persist

import (
	"encoding/binary"

	"github.com/pingcap/errors"

	"github.com/pingcap/tunadb/errkind"
	"github.com/pingcap/tunadb/statistics"
	"github.com/pingcap/tunadb/typesys"
)

// histogram type discriminator bytes.
const (
	histEquiDepth = 0
	histSingleton = 1
)

func appendUint8(buf []byte, v uint8) []byte { return append(buf, v) }

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendInt64(buf []byte, v int64) []byte { return appendUint64(buf, uint64(v)) }

func appendString(buf []byte, s string) []byte {
	buf = appendUint64(buf, uint64(len(s)))
	return append(buf, s...)
}

// reader walks a byte slice, consuming fields and recording the first
// short-read error it hits.
type reader struct {
	buf []byte
	err error
}

func (r *reader) need(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = errkind.IO(errors.New("persist: truncated stream"), "persist: truncated stream")
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *reader) uint8() uint8 {
	b := r.need(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint16() uint16 {
	b := r.need(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.need(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) uint64() uint64 {
	b := r.need(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) int64() int64 { return int64(r.uint64()) }

func (r *reader) bytes(n int) []byte {
	b := r.need(n)
	return append([]byte(nil), b...)
}

func (r *reader) string() string {
	n := r.uint64()
	b := r.need(int(n))
	return string(b)
}

// putType writes a column's persisted type record: a 4-byte type id, then
// DECIMAL's (precision, scale) or CHAR's length. The persisted id is wider
// than the 1-byte id result.putType uses for the transient wire format; the
// two formats fix their widths independently (see DESIGN.md
// "Open-question decisions").
func putType(buf []byte, t typesys.Type) []byte {
	buf = appendUint32(buf, uint32(t.Kind))
	switch t.Kind {
	case typesys.KindDecimal:
		buf = appendUint8(buf, t.Precision)
		buf = appendUint8(buf, t.Scale)
	case typesys.KindChar:
		buf = appendUint16(buf, t.Length)
	}
	return buf
}

func (r *reader) typ() typesys.Type {
	kind := typesys.Kind(r.uint32())
	switch kind {
	case typesys.KindDecimal:
		p, s := r.uint8(), r.uint8()
		return typesys.Decimal(p, s)
	case typesys.KindChar:
		return typesys.Char(r.uint16())
	case typesys.KindInt32:
		return typesys.Int32()
	case typesys.KindInt64:
		return typesys.Int64()
	case typesys.KindDate:
		return typesys.Date()
	case typesys.KindBool:
		return typesys.Bool()
	default:
		if r.err == nil {
			r.err = errkind.IO(errors.Errorf("persist: unknown type kind %d", kind), "persist: unknown type kind")
		}
		return typesys.Type{}
	}
}

// putHistogram writes a has_histogram flag, and if h is non-nil, the variant
// byte and payload.
func putHistogram(buf []byte, h statistics.Histogram, colType typesys.Type) []byte {
	if h == nil {
		return appendUint8(buf, 0)
	}
	buf = appendUint8(buf, 1)
	switch v := h.(type) {
	case *statistics.EquiDepthHistogram:
		buf = appendUint8(buf, histEquiDepth)
		buf = putEquiDepth(buf, v)
	case *statistics.SingletonHistogram:
		buf = appendUint8(buf, histSingleton)
		buf = putSingleton(buf, v, colType)
	default:
		// Unreachable: statistics.Histogram is a closed, two-member
		// tagged variant (DESIGN.md "statistics").
		buf = appendUint8(buf, histEquiDepth)
		buf = putEquiDepth(buf, &statistics.EquiDepthHistogram{})
	}
	return buf
}

// putEquiDepth writes the equi-depth payload: "u64 count, u64 depth, i64
// lower_key, i64 upper_key, u64 num_bins, {i64 lower, i64 upper, u64 count}*".
func putEquiDepth(buf []byte, h *statistics.EquiDepthHistogram) []byte {
	buf = appendUint64(buf, h.Count)
	buf = appendUint64(buf, h.Depth)
	buf = appendInt64(buf, h.LowerKey)
	buf = appendInt64(buf, h.UpperKey)
	buf = appendUint64(buf, uint64(len(h.Bins)))
	for _, b := range h.Bins {
		buf = appendInt64(buf, b.Lower)
		buf = appendInt64(buf, b.Upper)
		buf = appendUint64(buf, b.Count)
	}
	return buf
}

func (r *reader) equiDepth() *statistics.EquiDepthHistogram {
	h := &statistics.EquiDepthHistogram{
		Count:    r.uint64(),
		Depth:    r.uint64(),
		LowerKey: r.int64(),
		UpperKey: r.int64(),
	}
	n := r.uint64()
	h.Bins = make([]statistics.Bin, n)
	for i := range h.Bins {
		h.Bins[i] = statistics.Bin{Lower: r.int64(), Upper: r.int64(), Count: r.uint64()}
	}
	return h
}

// putSingleton writes the singleton payload: "u64 count, u64 num_bins, {u32
// type_id, <typed value>, u64 count}*". The stored key is always the column's
// 64-bit-reduced value (statistics.ReduceKey), not the typed value CHAR
// columns started from — the same hash-only reduction already applies to
// every histogram key, so round-tripping a persisted CHAR singleton histogram
// recovers the hash, not the string (documented in DESIGN.md, consistent with
// ApproxEquals/ApproxBetween only ever comparing against that reduced key
// anyway).
func putSingleton(buf []byte, h *statistics.SingletonHistogram, colType typesys.Type) []byte {
	counts := h.Counts()
	buf = appendUint64(buf, h.TotalCount())
	buf = appendUint64(buf, uint64(len(counts)))
	for key, count := range counts {
		buf = appendUint32(buf, uint32(colType.Kind))
		buf = appendInt64(buf, key)
		buf = appendUint64(buf, count)
	}
	return buf
}

func (r *reader) singleton() *statistics.SingletonHistogram {
	h := statistics.NewSingletonHistogram()
	total := r.uint64()
	n := r.uint64()
	for i := uint64(0); i < n; i++ {
		_ = r.uint32() // type id, informational only: the key is already reduced
		key := r.int64()
		count := r.uint64()
		h.LoadEntry(key, count)
	}
	_ = total
	return h
}
