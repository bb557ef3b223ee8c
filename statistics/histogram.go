// Package statistics implements the per-table/per-column statistics engines:
// the equi-depth histogram, the singleton histogram, HyperLogLog distinct
// counting, and the per-column catalog that selectivity estimation reads.
package statistics

import (
	"sort"

	"github.com/google/btree"
)

// Bin is one (lower, upper, count) histogram bucket.
type Bin struct {
	Lower, Upper int64
	Count        uint64
}

// Histogram is implemented by both histogram variants; CardinalityEstimator
// only needs this closed interface.
type Histogram interface {
	ApproxEquals(k int64) float64
	ApproxLesser(k int64) float64
	ApproxLesserEquals(k int64) float64
	ApproxGreater(k int64) float64
	ApproxGreaterEquals(k int64) float64
	ApproxBetween(lo, hi int64) float64
	TotalCount() uint64
}

// keyCount is the btree.Item used to accumulate (key, frequency) pairs
// before cutting them into equi-depth bins.
type keyCount struct {
	key   int64
	count uint64
}

func (a keyCount) Less(than btree.Item) bool { return a.key < than.(keyCount).key }

// EquiDepthBuilder streams distinct keys with their frequencies into an
// ordered tree (github.com/google/btree), then cuts the result into equi-depth
// bins.
type EquiDepthBuilder struct {
	tree  *btree.BTree
	total uint64
}

// NewEquiDepthBuilder returns an empty builder.
func NewEquiDepthBuilder() *EquiDepthBuilder {
	return &EquiDepthBuilder{tree: btree.New(32)}
}

// Observe records one occurrence of key (a 64-bit-reduced column value).
func (b *EquiDepthBuilder) Observe(key int64) {
	item := b.tree.Get(keyCount{key: key})
	if item == nil {
		b.tree.ReplaceOrInsert(keyCount{key: key, count: 1})
	} else {
		kc := item.(keyCount)
		kc.count++
		b.tree.ReplaceOrInsert(kc)
	}
	b.total++
}

const equiDepthMaxBins = 256

// Build cuts the accumulated (key, frequency) stream into at most
// equiDepthMaxBins equi-depth bins and returns the finished histogram.
func (b *EquiDepthBuilder) Build() *EquiDepthHistogram {
	n := b.tree.Len()
	if n == 0 {
		return &EquiDepthHistogram{}
	}
	depth := (b.total + equiDepthMaxBins - 1) / equiDepthMaxBins
	if depth == 0 {
		depth = 1
	}

	var bins []Bin
	var cur Bin
	curCount := uint64(0)
	first := true

	b.tree.Ascend(func(item btree.Item) bool {
		kc := item.(keyCount)
		if first {
			cur = Bin{Lower: kc.key, Upper: kc.key}
			first = false
		}
		cur.Upper = kc.key
		cur.Count += kc.count
		curCount += kc.count
		if curCount >= depth {
			bins = append(bins, cur)
			curCount = 0
			first = true
		}
		return true
	})
	if curCount > 0 {
		bins = append(bins, cur)
	}
	return &EquiDepthHistogram{Bins: bins, Count: b.total, Depth: depth,
		LowerKey: bins[0].Lower, UpperKey: bins[len(bins)-1].Upper}
}

// EquiDepthHistogram is the equi-depth variant.
type EquiDepthHistogram struct {
	Count    uint64
	Depth    uint64
	LowerKey int64
	UpperKey int64
	Bins     []Bin
}

func (h *EquiDepthHistogram) TotalCount() uint64 { return h.Count }

func (h *EquiDepthHistogram) findBin(k int64) (int, bool) {
	idx := sort.Search(len(h.Bins), func(i int) bool { return h.Bins[i].Upper >= k })
	if idx < len(h.Bins) && h.Bins[idx].Lower <= k {
		return idx, true
	}
	return idx, false
}

func binWidth(b Bin) float64 {
	w := float64(b.Upper-b.Lower) + 1
	if w <= 0 {
		w = 1
	}
	return w
}

// ApproxEquals estimates equality matches as max(1, count/width) of the
// containing bin.
func (h *EquiDepthHistogram) ApproxEquals(k int64) float64 {
	idx, ok := h.findBin(k)
	if !ok {
		return 0
	}
	b := h.Bins[idx]
	v := float64(b.Count) / binWidth(b)
	if v < 1 {
		v = 1
	}
	return v
}

// ApproxLesser implements linear interpolation inside the containing bin plus
// the full counts of bins strictly below it.
func (h *EquiDepthHistogram) ApproxLesser(k int64) float64 {
	var total float64
	for _, b := range h.Bins {
		if int64(b.Upper) < k {
			total += float64(b.Count)
			continue
		}
		if int64(b.Lower) <= k {
			frac := float64(k-b.Lower) / binWidth(b)
			total += frac * float64(b.Count)
		}
		break
	}
	return total
}

// ApproxLesserEquals is ApproxLesser plus the equality contribution.
func (h *EquiDepthHistogram) ApproxLesserEquals(k int64) float64 {
	return h.ApproxLesser(k) + h.ApproxEquals(k)
}

// ApproxGreater is the complement of ApproxLesserEquals.
func (h *EquiDepthHistogram) ApproxGreater(k int64) float64 {
	return float64(h.Count) - h.ApproxLesserEquals(k)
}

// ApproxGreaterEquals is the complement of ApproxLesser.
func (h *EquiDepthHistogram) ApproxGreaterEquals(k int64) float64 {
	return float64(h.Count) - h.ApproxLesser(k)
}

// ApproxBetween sums interior bins plus partial contributions of the boundary
// bins.
func (h *EquiDepthHistogram) ApproxBetween(lo, hi int64) float64 {
	if hi < lo {
		return 0
	}
	var total float64
	for _, b := range h.Bins {
		if int64(b.Upper) < lo || int64(b.Lower) > hi {
			continue
		}
		width := binWidth(b)
		overlapLo := b.Lower
		if lo > overlapLo {
			overlapLo = lo
		}
		overlapHi := b.Upper
		if hi < overlapHi {
			overlapHi = hi
		}
		frac := (float64(overlapHi-overlapLo) + 1) / width
		if frac > 1 {
			frac = 1
		}
		total += frac * float64(b.Count)
	}
	return total
}
