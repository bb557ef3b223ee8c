// Package optimize implements the fixed pipeline of rule-based rewrites
// applied in order over a plan.PlanView: a slice of rules applied in
// sequence, the multi-pass ones re-run to a fixpoint.
package optimize

import (
	"github.com/pingcap/tunadb/operator"
	"github.com/pingcap/tunadb/plan"
	"github.com/pingcap/tunadb/typesys"
)

// Rule is one rewrite pass over a plan. AffectsRelation reports whether
// applying this rule can change any node's schema/cardinality, in which case
// the pipeline re-runs CardinalityEstimator before the next rule.
type Rule interface {
	Name() string
	AffectsRelation() bool
	// Apply runs one pass over v and reports whether it changed anything.
	Apply(v *plan.PlanView) bool
}

// MultiPass rules are re-applied until a round reports no change.
type MultiPass interface {
	Rule
	MultiPass() bool
}

// Pipeline is the fixed rule sequence, in application order.
func Pipeline() []Rule {
	return []Rule{
		annotatePredicates{},
		evaluatePredicate{},
		removeFixedValueCast{},
		condenseRangePredicatesToBetween{},
		mergePredicates{},
		predicatePushDown{},
		preSelection{},
		splitArithmetic{},
		earlyProjection{},
		removeProjection{},
		mergeTableSelection{},
		physicalOperatorRule{},
		mergeOrderByLimit{},
	}
}

var estimator plan.CardinalityEstimator

// Optimize runs the full rule pipeline over v, re-estimating relations
// whenever a rule reports affects_relation, and returns the (possibly
// moved) root.
func Optimize(v *plan.PlanView) plan.ID {
	estimator.EstimateAll(v)
	for _, r := range Pipeline() {
		runRule(v, r)
	}
	return v.Root()
}

func runRule(v *plan.PlanView, r Rule) {
	changed := r.Apply(v)
	if mp, ok := r.(MultiPass); ok && mp.MultiPass() {
		for changed {
			changed = r.Apply(v)
		}
	}
	if changed && r.AffectsRelation() {
		estimator.EstimateAll(v)
	}
}

// CostModel sums the build-side cardinality of every join in the plan.
type CostModel struct{}

// Cost walks v and totals the left (build-side) child's cardinality at
// every Join node.
func (CostModel) Cost(v *plan.PlanView) float64 {
	var total float64
	v.Walk(func(id plan.ID) {
		n := v.Node(id)
		if n.Kind != plan.KindJoin {
			return
		}
		children := v.Children(id)
		total += v.Node(children[0]).Cardinality()
	})
	return total
}

// collectAnd flattens a right-leaning And tree into its conjuncts.
func collectAnd(e operator.Expr) []operator.Expr {
	and, ok := e.(operator.And)
	if !ok {
		return []operator.Expr{e}
	}
	return append(collectAnd(and.Left), collectAnd(and.Right)...)
}

// buildAnd re-assembles conjuncts into a right-leaning And tree, ordered
// as given.
func buildAnd(parts []operator.Expr) operator.Expr {
	if len(parts) == 0 {
		return nil
	}
	out := parts[len(parts)-1]
	for i := len(parts) - 2; i >= 0; i-- {
		out = operator.And{Left: parts[i], Right: out}
	}
	return out
}

// columnIndices collects every schema-relative column position an
// expression references. Column.Index is positional (resolved once at
// plan-build time against whichever schema the expression was built
// against), so this is the only portable way to ask "which side of a
// join/projection does this expression depend on" without re-resolving
// names.
func columnIndices(e operator.Expr, into map[int]bool) {
	switch v := e.(type) {
	case operator.Column:
		into[v.Index] = true
	case operator.CastExpr:
		columnIndices(v.Child, into)
	case operator.Compare:
		columnIndices(v.Left, into)
		columnIndices(v.Right, into)
	case operator.Between:
		columnIndices(v.Value, into)
		columnIndices(v.Lo, into)
		columnIndices(v.Hi, into)
	case operator.In:
		columnIndices(v.Value, into)
		for _, c := range v.Options {
			columnIndices(c, into)
		}
	case operator.And:
		columnIndices(v.Left, into)
		columnIndices(v.Right, into)
	case operator.Or:
		columnIndices(v.Left, into)
		columnIndices(v.Right, into)
	case operator.Arith:
		columnIndices(v.Left, into)
		columnIndices(v.Right, into)
	}
}

// boundedBy reports whether every column index e references is < n,
// i.e. e only depends on the first n columns of whatever schema it was
// built against.
func boundedBy(e operator.Expr, n int) bool {
	refs := map[int]bool{}
	columnIndices(e, refs)
	for idx := range refs {
		if idx >= n {
			return false
		}
	}
	return true
}

// coveredBy reports whether every column index e references is within
// schema's bounds.
func coveredBy(e operator.Expr, schema typesys.Schema) bool {
	return boundedBy(e, schema.Len())
}
