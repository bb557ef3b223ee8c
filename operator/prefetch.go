package operator

import (
	"sort"

	"github.com/pingcap/tunadb/tile"
	"github.com/pingcap/tunadb/typesys"
)

// MaxCacheLines is the prefetch pipeline's slot budget. The value is
// empirical; see DESIGN.md.
const MaxCacheLines = 17

// preferPrevalentThreshold gates the prefer-prevalent-for-prefetching
// path: when enabled, a very dominant column (score < 0.12) is prefetched
// on its own before the remaining budget is spent elsewhere.
const preferPrevalentThreshold = 0.12

// columnLines returns the number of MaxCacheLines-sized lines column col's
// full Capacity-sized block spans.
func columnLines(schema typesys.Schema, col int) int {
	n := schema.ColumnBlockSize(col, tile.Capacity) / typesys.CacheLine
	if n == 0 {
		n = 1
	}
	return n
}

// columnLineOffsets returns the byte offset of each of a column's cache
// lines, relative to the tile header's end (the same origin PaxOffset
// uses); the header itself (offset 0, within the 64-byte header region)
// is handled separately by the caller.
func columnLineOffsets(schema typesys.Schema, col int) []int {
	base := schema.PaxOffset(col, tile.Capacity) + tile.HeaderSize
	lines := columnLines(schema, col)
	out := make([]int, lines)
	for i := 0; i < lines; i++ {
		out[i] = base + i*typesys.CacheLine
	}
	return out
}

// PrefetchSet implements the prefetch-set selection: given the set of columns
// an operator touches and, optionally, a per-column prevalence score
// (predicate selectivity; lower is more selective/more "prevalent"), it
// returns an ordered, deduplicated list of byte offsets to prefetch within a
// budget of MaxCacheLines slots.
//
// scores may be nil (no predicate information, e.g. a plain Scan): every
// touched column is then treated as equally prevalent and step 3/4 are
// skipped. preferPrevalent gates step 4.
func PrefetchSet(schema typesys.Schema, touched []int, scores map[int]float64, preferPrevalent bool) []int {
	budget := MaxCacheLines - 1 // step 1: offset 0 (header) always included
	offsets := []int{0}

	cols := append([]int(nil), touched...)
	total := 0
	for _, c := range cols {
		total += columnLines(schema, c)
	}
	if total <= budget {
		// step 2: the full touched set fits.
		for _, c := range cols {
			offsets = append(offsets, columnLineOffsets(schema, c)...)
		}
		return dedupInts(offsets)
	}

	if scores != nil {
		// step 3: rank by prevalence (ascending score = most selective
		// first) and drop the least selective column while it doesn't fit.
		sort.SliceStable(cols, func(i, j int) bool { return scores[cols[i]] < scores[cols[j]] })
		for len(cols) > 0 {
			total = 0
			for _, c := range cols {
				total += columnLines(schema, c)
			}
			if total <= budget {
				for _, c := range cols {
					offsets = append(offsets, columnLineOffsets(schema, c)...)
				}
				return dedupInts(offsets)
			}
			last := cols[len(cols)-1]
			if scores[last] < 1.0 {
				cols = cols[:len(cols)-1]
				continue
			}
			break
		}

		// step 4: a very dominant column gets the budget to itself first.
		if preferPrevalent && len(cols) > 0 && scores[cols[0]] < preferPrevalentThreshold {
			dominant := cols[0]
			lines := columnLineOffsets(schema, dominant)
			take := budget
			if take > len(lines) {
				take = len(lines)
			}
			offsets = append(offsets, lines[:take]...)
			budget -= take
			cols = cols[1:]
		}
	}

	// step 5: spend remaining budget on leading tuples of each remaining
	// column, in prevalence order.
	for _, c := range cols {
		if budget <= 0 {
			break
		}
		lines := columnLineOffsets(schema, c)
		take := budget
		if take > len(lines) {
			take = len(lines)
		}
		offsets = append(offsets, lines[:take]...)
		budget -= take
	}
	return dedupInts(offsets)
}

func dedupInts(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
