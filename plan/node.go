// Package plan implements the logical plan: a tagged variant of logical node
// kinds owned by a PlanView arena, each carrying an output relation (schema +
// estimated cardinality) recomputed by a CardinalityEstimator.
package plan

import (
	"github.com/pingcap/tunadb/catalog"
	"github.com/pingcap/tunadb/operator"
	"github.com/pingcap/tunadb/typesys"
)

// Kind discriminates the closed set of logical node variants: Table,
// TableSelection, Selection, Projection, Arithmetic, Aggregation, Join,
// OrderBy, Limit, Copy, Create/Describe/ShowTables, UpdateStatistics.
type Kind int

const (
	KindTable Kind = iota
	KindTableSelection
	KindSelection
	KindProjection
	KindArithmetic
	KindAggregation
	KindJoin
	KindOrderBy
	KindLimit
	KindCopy
	KindCreate
	KindDescribe
	KindShowTables
	KindUpdateStatistics
)

func (k Kind) String() string {
	switch k {
	case KindTable:
		return "Table"
	case KindTableSelection:
		return "TableSelection"
	case KindSelection:
		return "Selection"
	case KindProjection:
		return "Projection"
	case KindArithmetic:
		return "Arithmetic"
	case KindAggregation:
		return "Aggregation"
	case KindJoin:
		return "Join"
	case KindOrderBy:
		return "OrderBy"
	case KindLimit:
		return "Limit"
	case KindCopy:
		return "Copy"
	case KindCreate:
		return "Create"
	case KindDescribe:
		return "Describe"
	case KindShowTables:
		return "ShowTables"
	case KindUpdateStatistics:
		return "UpdateStatistics"
	default:
		return "Unknown"
	}
}

// JoinMethod is the physical join algorithm rule l (PhysicalOperatorRule)
// selects.
type JoinMethod int

const (
	JoinNestedLoop JoinMethod = iota
	JoinHash
	JoinRadix
	JoinFilteredRadix
)

// AggMethod is the physical aggregation algorithm rule l selects.
type AggMethod int

const (
	AggSimple AggMethod = iota // no GROUP BY
	AggHash
	AggRadix
)

// OrderMethod is the physical order-by algorithm rule l selects.
type OrderMethod int

const (
	OrderSequential OrderMethod = iota
	OrderParallel
)

// Relation is a node's output relation: schema plus estimated cardinality.
type Relation struct {
	Schema      typesys.Schema
	Cardinality float64
}

// Node is one logical-plan node. Arity is implied by which of the
// node-specific fields are populated; PlanView tracks the actual parent/child
// edges so Node itself stays a flat payload struct; plan nodes are owned by
// the PlanView arena.
type Node struct {
	Kind Kind
	Rel  Relation

	// Table / TableSelection / Describe / UpdateStatistics
	Table *catalog.Table

	// Selection / TableSelection
	Predicate   operator.Expr
	Selectivity float64 // cached by rule a, AnnotatePredicates
	HasSelectivity bool

	// OutSchema is supplied by the plan builder (not recomputed from
	// children) for node kinds whose output shape the builder already
	// knows precisely: Projection, Arithmetic, Aggregation, Copy, Create.
	OutSchema typesys.Schema

	// Projection
	ProjectColumns []int // output column i <- input column ProjectColumns[i]

	// Arithmetic
	ArithExprs []operator.Expr // appended columns, evaluated against the input schema

	// Aggregation
	AggSpecs  []operator.AggSpec
	GroupCols []int // nil/empty => ungrouped
	AggMethod AggMethod
	RadixBits uint

	// Join
	LeftKeys, RightKeys []int
	JoinMethod          JoinMethod
	JoinPredicate       operator.JoinPredicate // only set for a non-equi join (forces JoinNestedLoop)

	// OrderBy
	OrderKeys   []operator.SortKey
	OrderMethod OrderMethod

	// Limit
	Offset, Count int64

	// Copy
	Path      string
	Delimiter string

	// Create
	CreateName string

	// ShowTables needs no payload beyond the database, held by the engine that
	// compiles this node.
}

// OutputSchema is a convenience accessor for Rel.Schema.
func (n *Node) OutputSchema() typesys.Schema { return n.Rel.Schema }

// Cardinality is a convenience accessor for Rel.Cardinality.
func (n *Node) Cardinality() float64 { return n.Rel.Cardinality }
