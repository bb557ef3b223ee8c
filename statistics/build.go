package statistics

import (
	"github.com/cespare/xxhash/v2"

	"github.com/pingcap/tunadb/typesys"
)

// ReduceKey reduces a column value to the 64-bit key the histograms key on.
func ReduceKey(d typesys.Datum) int64 {
	switch d.Type.Kind {
	case typesys.KindChar:
		return int64(xxhash.Sum64(d.Bytes))
	default:
		return d.I64
	}
}

// singletonMaxDistinct is the threshold below which a singleton histogram is
// chosen over an equi-depth one.
const singletonMaxDistinct = 64

// ColumnBuilder accumulates one column's worth of values during an
// update_statistics scan, then produces its histogram and HLL distinct
// estimate.
type ColumnBuilder struct {
	kind     typesys.Kind
	equi     *EquiDepthBuilder
	single   *SingletonHistogram
	hll      *HyperLogLog
	distinct map[int64]struct{} // exact tracking while under singletonMaxDistinct
}

// NewColumnBuilder returns a builder for a column of the given kind.
func NewColumnBuilder(kind typesys.Kind) *ColumnBuilder {
	return &ColumnBuilder{
		kind:     kind,
		equi:     NewEquiDepthBuilder(),
		single:   NewSingletonHistogram(),
		hll:      NewHyperLogLog(),
		distinct: make(map[int64]struct{}),
	}
}

// Observe records one value.
func (b *ColumnBuilder) Observe(d typesys.Datum) {
	if d.Null {
		return
	}
	key := ReduceKey(d)
	b.equi.Observe(key)
	b.single.Observe(key)
	b.hll.ObserveInt64(key)
	if len(b.distinct) <= singletonMaxDistinct {
		b.distinct[key] = struct{}{}
	}
}

// Finish selects the histogram variant and returns it with the HLL
// distinct-count estimate.
func (b *ColumnBuilder) Finish() (Histogram, uint64) {
	useSingleton := b.kind == typesys.KindBool ||
		(b.kind == typesys.KindChar && len(b.distinct) <= singletonMaxDistinct)
	if useSingleton {
		return b.single, b.hll.Estimate()
	}
	return b.equi.Build(), b.hll.Estimate()
}
