// Package dataflow materialises a logical plan into an executable DAG of nodes
// connected by record-token edges. The graph is an arena indexed by integer
// node handles, with finalisation counters living on edges rather than
// nodes, so no reference cycles exist.
package dataflow

import (
	"github.com/pingcap/tunadb/resource"
	"github.com/pingcap/tunadb/runtime"
	"github.com/pingcap/tunadb/tile"
)

// RecordSet wraps one tile handle and an optional secondary-input handle
// (e.g. a built hash table, referenced by a Squad resource pointer).
type RecordSet struct {
	Tile      *tile.Tile
	Secondary resource.Pointer
	// Mask selects live rows when non-nil: Mask[i] true means row i survives.
	Mask []bool
}

// Alive reports whether row i of rs survives its accumulated mask.
func (rs RecordSet) Alive(i int) bool {
	if rs.Mask == nil {
		return true
	}
	return rs.Mask[i]
}

// Token is (RecordSet, Annotation): the unit of data flowing along a dataflow
// edge.
type Token struct {
	Set        RecordSet
	Annotation runtime.Annotation
}
