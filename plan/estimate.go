package plan

import (
	"github.com/pingcap/tunadb/catalog"
	"github.com/pingcap/tunadb/operator"
	"github.com/pingcap/tunadb/statistics"
	"github.com/pingcap/tunadb/typesys"
)

// CardinalityEstimator recomputes every node's output relation from its
// inputs, using per-attribute histograms where one is available. Stateless:
// all per-table state lives in catalog.Table.Stats.
type CardinalityEstimator struct{}

// EstimateAll recomputes Rel for every node reachable from v.Root(), in
// post-order so a node's children are always estimated first.
func (CardinalityEstimator) EstimateAll(v *PlanView) {
	v.Walk(func(id ID) { estimateOne(v, id) })
}

var describeOutSchema = textSchema("column", "type")
var showTablesOutSchema = textSchema("table")

func textSchema(names ...string) typesys.Schema {
	cols := make([]typesys.Column, len(names))
	for i, n := range names {
		cols[i] = typesys.Column{Term: n, Type: typesys.Char(64)}
	}
	return typesys.NewSchema(cols...)
}

func estimateOne(v *PlanView, id ID) {
	n := v.Node(id)
	children := v.Children(id)

	switch n.Kind {
	case KindTable:
		n.Rel = Relation{Schema: n.Table.Schema(), Cardinality: float64(n.Table.RowCount())}

	case KindTableSelection:
		base := float64(n.Table.RowCount())
		sel := Selectivity(n.Predicate, statsFor(n.Table))
		n.Selectivity, n.HasSelectivity = sel, true
		n.Rel = Relation{Schema: n.Table.Schema(), Cardinality: base * sel}

	case KindSelection:
		child := v.Node(children[0])
		sel := selectivityFor(v, id, n.Predicate)
		n.Selectivity, n.HasSelectivity = sel, true
		n.Rel = Relation{Schema: child.Rel.Schema, Cardinality: child.Rel.Cardinality * sel}

	case KindProjection:
		child := v.Node(children[0])
		n.Rel = Relation{Schema: n.OutSchema, Cardinality: child.Rel.Cardinality}

	case KindArithmetic:
		child := v.Node(children[0])
		n.Rel = Relation{Schema: n.OutSchema, Cardinality: child.Rel.Cardinality}

	case KindAggregation:
		child := v.Node(children[0])
		card := 1.0
		if len(n.GroupCols) > 0 {
			card = estimateGroupCount(v, id, child)
		}
		n.Rel = Relation{Schema: n.OutSchema, Cardinality: card}

	case KindJoin:
		left, right := v.Node(children[0]), v.Node(children[1])
		n.Rel = Relation{
			Schema:      concatSchema(left.Rel.Schema, right.Rel.Schema),
			Cardinality: joinCardinality(v, id, left, right),
		}

	case KindOrderBy:
		child := v.Node(children[0])
		n.Rel = Relation{Schema: child.Rel.Schema, Cardinality: child.Rel.Cardinality}

	case KindLimit:
		child := v.Node(children[0])
		card := child.Rel.Cardinality
		if float64(n.Count) < card {
			card = float64(n.Count)
		}
		n.Rel = Relation{Schema: child.Rel.Schema, Cardinality: card}

	case KindCopy:
		n.Rel = Relation{Schema: n.OutSchema, Cardinality: 0}

	case KindCreate:
		n.Rel = Relation{Schema: n.OutSchema, Cardinality: 0}

	case KindUpdateStatistics:
		n.Rel = Relation{Cardinality: 0}

	case KindDescribe:
		card := 0.0
		if n.Table != nil {
			card = float64(n.Table.Schema().Len())
		}
		n.Rel = Relation{Schema: describeOutSchema, Cardinality: card}

	case KindShowTables:
		n.Rel = Relation{Schema: showTablesOutSchema, Cardinality: 0}
	}
}

func concatSchema(a, b typesys.Schema) typesys.Schema {
	cols := make([]typesys.Column, 0, a.Len()+b.Len())
	cols = append(cols, a.Columns...)
	cols = append(cols, b.Columns...)
	return typesys.NewSchema(cols...)
}

// colStats resolves column index col's histogram and approximate distinct
// count; ok is false when no per-column statistics exist at all (never
// run update_statistics), not merely when the histogram itself is absent.
type colStats func(col int) (h statistics.Histogram, distinct uint64, ok bool)

func statsFor(t *catalog.Table) colStats {
	return func(col int) (statistics.Histogram, uint64, bool) {
		st := t.Stats()
		return st.Histogram(col), st.Distinct(col), true
	}
}

func noStats(int) (statistics.Histogram, uint64, bool) { return nil, 0, false }

// resolveBaseTable walks down through schema-preserving unary nodes to
// find the single table a predicate's column indices resolve against,
// the same structural-recursion boundary DESIGN.md documents for
// is_selective: it stops at the first Projection/Arithmetic/Aggregation/
// Join, since those nodes renumber or merge columns.
func resolveBaseTable(v *PlanView, id ID) (*catalog.Table, bool) {
	for {
		n := v.Node(id)
		switch n.Kind {
		case KindTable, KindTableSelection:
			return n.Table, true
		case KindSelection, KindOrderBy, KindLimit:
			id = v.Children(id)[0]
		default:
			return nil, false
		}
	}
}

func selectivityFor(v *PlanView, id ID, pred operator.Expr) float64 {
	children := v.Children(id)
	t, ok := resolveBaseTable(v, children[0])
	if !ok {
		return Selectivity(pred, noStats)
	}
	return Selectivity(pred, statsFor(t))
}

// Selectivity estimates the fraction of input rows pred keeps, recursively
// over the predicate tree.
func Selectivity(pred operator.Expr, stats colStats) float64 {
	switch e := pred.(type) {
	case operator.Compare:
		return compareSelectivity(e, stats)
	case operator.Between:
		return betweenSelectivity(e, stats)
	case operator.And:
		return Selectivity(e.Left, stats) * Selectivity(e.Right, stats)
	case operator.Or:
		s := Selectivity(e.Left, stats) + Selectivity(e.Right, stats)
		if s > 1 {
			s = 1
		}
		return s
	default:
		return 0.5
	}
}

func asColumn(e operator.Expr) (operator.Column, bool) {
	c, ok := e.(operator.Column)
	return c, ok
}

func asLiteral(e operator.Expr) (operator.Literal, bool) {
	switch v := e.(type) {
	case operator.Literal:
		return v, true
	case operator.CastExpr:
		return asLiteral(v.Child)
	default:
		return operator.Literal{}, false
	}
}

func splitColumnLiteral(l, r operator.Expr) (col operator.Column, lit operator.Literal, flipped, ok bool) {
	if c, isCol := asColumn(l); isCol {
		if v, isLit := asLiteral(r); isLit {
			return c, v, false, true
		}
	}
	if c, isCol := asColumn(r); isCol {
		if v, isLit := asLiteral(l); isLit {
			return c, v, true, true
		}
	}
	return operator.Column{}, operator.Literal{}, false, false
}

func flipOp(op operator.CompareOp) operator.CompareOp {
	switch op {
	case operator.OpLt:
		return operator.OpGt
	case operator.OpLe:
		return operator.OpGe
	case operator.OpGt:
		return operator.OpLt
	case operator.OpGe:
		return operator.OpLe
	default:
		return op
	}
}

func compareSelectivity(c operator.Compare, stats colStats) float64 {
	col, lit, flipped, ok := splitColumnLiteral(c.Left, c.Right)
	if !ok {
		return 0.5
	}
	op := c.Op
	if flipped {
		op = flipOp(op)
	}
	h, distinct, found := stats(col.Index)
	if h == nil {
		if !found {
			return 0.5
		}
		if op == operator.OpEq {
			if distinct > 0 {
				return 1.0 / float64(distinct)
			}
			return 0.5
		}
		return 0.5
	}
	n := float64(h.TotalCount())
	if n == 0 {
		return 0
	}
	k := lit.Value.I64
	switch op {
	case operator.OpEq:
		return h.ApproxEquals(k) / n
	case operator.OpNe:
		return 1 - h.ApproxEquals(k)/n
	case operator.OpLt:
		return h.ApproxLesser(k) / n
	case operator.OpLe:
		return h.ApproxLesserEquals(k) / n
	case operator.OpGt:
		return h.ApproxGreater(k) / n
	case operator.OpGe:
		return h.ApproxGreaterEquals(k) / n
	default:
		return 0.5
	}
}

func betweenSelectivity(b operator.Between, stats colStats) float64 {
	col, isCol := asColumn(b.Value)
	lo, okLo := asLiteral(b.Lo)
	hi, okHi := asLiteral(b.Hi)
	if !isCol || !okLo || !okHi {
		return 0.5
	}
	h, _, found := stats(col.Index)
	if !found || h == nil {
		return 0.5
	}
	n := float64(h.TotalCount())
	if n == 0 {
		return 0
	}
	return h.ApproxBetween(lo.Value.I64, hi.Value.I64) / n
}

func joinCardinality(v *PlanView, id ID, left, right *Node) float64 {
	n := v.Node(id)
	if len(n.LeftKeys) == 0 {
		return left.Rel.Cardinality * right.Rel.Cardinality
	}
	children := v.Children(id)
	leftTable, lok := resolveBaseTable(v, children[0])
	rightTable, rok := resolveBaseTable(v, children[1])
	var maxDistinct uint64
	if lok {
		if d := leftTable.Stats().Distinct(n.LeftKeys[0]); d > maxDistinct {
			maxDistinct = d
		}
	}
	if rok {
		if d := rightTable.Stats().Distinct(n.RightKeys[0]); d > maxDistinct {
			maxDistinct = d
		}
	}
	if maxDistinct == 0 {
		return left.Rel.Cardinality * right.Rel.Cardinality * 0.1
	}
	return left.Rel.Cardinality * right.Rel.Cardinality / float64(maxDistinct)
}

func estimateGroupCount(v *PlanView, id ID, child *Node) float64 {
	n := v.Node(id)
	children := v.Children(id)
	t, ok := resolveBaseTable(v, children[0])
	if ok {
		if d := t.Stats().Distinct(n.GroupCols[0]); d > 0 {
			if float64(d) < child.Rel.Cardinality {
				return float64(d)
			}
		}
	}
	return child.Rel.Cardinality
}
