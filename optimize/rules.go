package optimize

import (
	"fmt"

	"github.com/pingcap/tunadb/operator"
	"github.com/pingcap/tunadb/plan"
	"github.com/pingcap/tunadb/typesys"
)

// annotatePredicates is rule a: compute and cache selectivity on each
// selection. CardinalityEstimator already does this as part of computing Rel
// (selectivity is a by-product of cardinality, not a separate pass), so this
// rule's Apply is a thin re-assertion step kept in the pipeline for ordering
// fidelity with the listed sequence; it never itself changes the tree.
type annotatePredicates struct{}

func (annotatePredicates) Name() string          { return "AnnotatePredicates" }
func (annotatePredicates) AffectsRelation() bool { return false }
func (annotatePredicates) Apply(v *plan.PlanView) bool {
	return false // annotation is always already current; see comment above.
}

// rewriteExpr recursively applies f to every node of e's tree, rebuilding
// parents whose children changed. f returns (replacement, changed).
func rewriteExpr(e operator.Expr, f func(operator.Expr) (operator.Expr, bool)) (operator.Expr, bool) {
	if e == nil {
		return nil, false
	}
	changed := false
	switch v := e.(type) {
	case operator.CastExpr:
		child, c := rewriteExpr(v.Child, f)
		if c {
			v.Child = child
			changed = true
		}
		e = v
	case operator.Compare:
		l, cl := rewriteExpr(v.Left, f)
		r, cr := rewriteExpr(v.Right, f)
		if cl || cr {
			v.Left, v.Right = l, r
			changed = true
		}
		e = v
	case operator.Between:
		val, c1 := rewriteExpr(v.Value, f)
		lo, c2 := rewriteExpr(v.Lo, f)
		hi, c3 := rewriteExpr(v.Hi, f)
		if c1 || c2 || c3 {
			v.Value, v.Lo, v.Hi = val, lo, hi
			changed = true
		}
		e = v
	case operator.In:
		val, c := rewriteExpr(v.Value, f)
		opts := v.Options
		for i, o := range v.Options {
			no, oc := rewriteExpr(o, f)
			if oc {
				if !c {
					opts = append([]operator.Expr(nil), v.Options...)
				}
				opts[i] = no
				c = true
			}
		}
		if c {
			v.Value, v.Options = val, opts
			changed = true
		}
		e = v
	case operator.And:
		l, cl := rewriteExpr(v.Left, f)
		r, cr := rewriteExpr(v.Right, f)
		if cl || cr {
			v.Left, v.Right = l, r
			changed = true
		}
		e = v
	case operator.Or:
		l, cl := rewriteExpr(v.Left, f)
		r, cr := rewriteExpr(v.Right, f)
		if cl || cr {
			v.Left, v.Right = l, r
			changed = true
		}
		e = v
	case operator.Arith:
		l, cl := rewriteExpr(v.Left, f)
		r, cr := rewriteExpr(v.Right, f)
		if cl || cr {
			v.Left, v.Right = l, r
			changed = true
		}
		e = v
	}
	next, top := f(e)
	return next, changed || top
}

func isLiteralTree(e operator.Expr) bool {
	refs := map[int]bool{}
	columnIndices(e, refs)
	return len(refs) == 0
}

// evaluatePredicate is rule b: constant-fold arithmetic within predicates. Any
// Arith subexpression with no Column reference is evaluated once (against a
// nil tile, safe since literal/cast evaluation never touches the tile
// argument) and replaced by its Literal result.
type evaluatePredicate struct{}

func (evaluatePredicate) Name() string          { return "EvaluatePredicate" }
func (evaluatePredicate) AffectsRelation() bool { return true }
func (evaluatePredicate) Apply(v *plan.PlanView) bool {
	changed := false
	v.Walk(func(id plan.ID) {
		n := v.Node(id)
		if n.Predicate == nil {
			return
		}
		next, c := rewriteExpr(n.Predicate, foldArith)
		if c {
			n.Predicate = next
			changed = true
		}
	})
	return changed
}

func foldArith(e operator.Expr) (operator.Expr, bool) {
	a, ok := e.(operator.Arith)
	if !ok || !isLiteralTree(a) {
		return e, false
	}
	d, err := a.Eval(nil, 0)
	if err != nil {
		return e, false // leave the error to surface at execution time
	}
	return operator.Literal{Value: d}, true
}

// removeFixedValueCast is rule c: drop a cast whose child is a constant,
// replacing the whole CastExpr with the cast's result.
type removeFixedValueCast struct{}

func (removeFixedValueCast) Name() string          { return "RemoveFixedValueCast" }
func (removeFixedValueCast) AffectsRelation() bool { return false }
func (removeFixedValueCast) Apply(v *plan.PlanView) bool {
	changed := false
	v.Walk(func(id plan.ID) {
		n := v.Node(id)
		if n.Predicate == nil {
			return
		}
		next, c := rewriteExpr(n.Predicate, foldCast)
		if c {
			n.Predicate = next
			changed = true
		}
	})
	return changed
}

func foldCast(e operator.Expr) (operator.Expr, bool) {
	c, ok := e.(operator.CastExpr)
	if !ok {
		return e, false
	}
	if _, ok := c.Child.(operator.Literal); !ok {
		return e, false
	}
	d, err := c.Eval(nil, 0)
	if err != nil {
		return e, false
	}
	return operator.Literal{Value: d}, true
}

// condenseRangePredicatesToBetween is rule d: two complementary >= / <=
// predicates over the same column, both conjuncts of the same AND chain,
// collapse into one Between. Strict < / > are left alone: Between.Eval is
// defined as >= lo AND <= hi, so folding a strict bound into it would silently
// admit the boundary value — a documented narrowing of the rule to the
// exact-boundary case.
type condenseRangePredicatesToBetween struct{}

func (condenseRangePredicatesToBetween) Name() string          { return "CondenseRangePredicatesToBetween" }
func (condenseRangePredicatesToBetween) AffectsRelation() bool { return true }
func (condenseRangePredicatesToBetween) Apply(v *plan.PlanView) bool {
	changed := false
	v.Walk(func(id plan.ID) {
		n := v.Node(id)
		if n.Predicate == nil {
			return
		}
		conjuncts := collectAnd(n.Predicate)
		rewritten := false
		for {
			next, ok := condenseOnce(conjuncts)
			if !ok {
				break
			}
			conjuncts = next
			rewritten = true
		}
		if rewritten {
			n.Predicate = buildAnd(conjuncts)
			changed = true
		}
	})
	return changed
}

func condenseOnce(conjuncts []operator.Expr) ([]operator.Expr, bool) {
	for i, ci := range conjuncts {
		lo, col1, okLo := asLowerBound(ci)
		if !okLo {
			continue
		}
		for j, cj := range conjuncts {
			if i == j {
				continue
			}
			hi, col2, okHi := asUpperBound(cj)
			if !okHi || col1.Index != col2.Index {
				continue
			}
			next := make([]operator.Expr, 0, len(conjuncts)-1)
			next = append(next, operator.Between{Value: col1, Lo: lo, Hi: hi})
			for k, c := range conjuncts {
				if k != i && k != j {
					next = append(next, c)
				}
			}
			return next, true
		}
	}
	// A Between whose bounds are the same literal is an equality.
	for i, ci := range conjuncts {
		b, isBetween := ci.(operator.Between)
		if !isBetween {
			continue
		}
		llo, okLo := b.Lo.(operator.Literal)
		lhi, okHi := b.Hi.(operator.Literal)
		if okLo && okHi && literalsEqual(llo, lhi) {
			next := append([]operator.Expr(nil), conjuncts...)
			next[i] = operator.Compare{Op: operator.OpEq, Left: b.Value, Right: b.Lo}
			return next, true
		}
	}
	return nil, false
}

func literalsEqual(a, b operator.Literal) bool {
	if a.Value.Null || b.Value.Null {
		return false
	}
	if a.Value.Type.Kind != b.Value.Type.Kind {
		return false
	}
	if a.Value.Type.Kind == typesys.KindChar {
		return string(a.Value.Bytes) == string(b.Value.Bytes)
	}
	return a.Value.I64 == b.Value.I64
}

func asLowerBound(e operator.Expr) (bound operator.Expr, col operator.Column, ok bool) {
	c, isCmp := e.(operator.Compare)
	if !isCmp || c.Op != operator.OpGe {
		return nil, operator.Column{}, false
	}
	lcol, isCol := c.Left.(operator.Column)
	if !isCol {
		return nil, operator.Column{}, false
	}
	return c.Right, lcol, true
}

func asUpperBound(e operator.Expr) (bound operator.Expr, col operator.Column, ok bool) {
	c, isCmp := e.(operator.Compare)
	if !isCmp || c.Op != operator.OpLe {
		return nil, operator.Column{}, false
	}
	lcol, isCol := c.Left.(operator.Column)
	if !isCol {
		return nil, operator.Column{}, false
	}
	return c.Right, lcol, true
}

// mergePredicates is rule e: collapse a chain of stacked Selection nodes into
// one, ordered by descending pre-merge selectivity — most selective conjunct
// evaluated first, so the common short-circuit case (first conjunct already
// false) skips evaluating the rest. Ordering is by each stacked node's own
// cached selectivity rather than re-deriving per-conjunct selectivity after
// the merge; a documented simplification, since conjuncts that started on the
// same node are left in their original relative order.
type mergePredicates struct{}

func (mergePredicates) Name() string          { return "MergePredicates" }
func (mergePredicates) AffectsRelation() bool { return true }
func (mergePredicates) MultiPass() bool       { return true }
func (mergePredicates) Apply(v *plan.PlanView) bool {
	changed := false
	v.Walk(func(id plan.ID) {
		n := v.Node(id)
		if n.Kind != plan.KindSelection {
			return
		}
		children := v.Children(id)
		child := v.Node(children[0])
		if child.Kind != plan.KindSelection {
			return
		}
		outer, inner := n, child
		parts := []operator.Expr{outer.Predicate, inner.Predicate}
		if inner.HasSelectivity && outer.HasSelectivity && inner.Selectivity < outer.Selectivity {
			parts[0], parts[1] = inner.Predicate, outer.Predicate
		}
		outer.Predicate = buildAnd(parts)
		outer.HasSelectivity = false
		v.Erase(children[0])
		changed = true
	})
	return changed
}

// predicatePushDown is rule f: move a Selection as close as possible to the
// provider of the columns it needs, across Projection/Arithmetic and into the
// correct side of a Join. Column.Index is positional, so pushing across a node
// requires rebasing indices to that node's input numbering; pushPast below
// implements the three supported crossings (Projection, Arithmetic's
// carried-through prefix, Join).
type predicatePushDown struct{}

func (predicatePushDown) Name() string          { return "PredicatePushDown" }
func (predicatePushDown) AffectsRelation() bool { return true }
func (predicatePushDown) MultiPass() bool       { return true }
func (predicatePushDown) Apply(v *plan.PlanView) bool {
	changed := false
	v.Walk(func(id plan.ID) {
		n := v.Node(id)
		if n.Kind != plan.KindSelection {
			return
		}
		children := v.Children(id)
		child := v.Node(children[0])
		rebased, target, ok := pushPast(v, children[0], child, n.Predicate)
		if !ok {
			return
		}
		v.MoveBetween(target.parent, target.child, id)
		n.Predicate = rebased
		n.HasSelectivity = false
		changed = true
	})
	return changed
}

type pushTarget struct{ parent, child plan.ID }

// pushPast reports where a predicate currently sitting above childID (a
// node of kind child) can be relocated to, and the predicate rewritten in
// terms of that lower node's output columns. ok is false when child is
// not one of the three crossable kinds, or the predicate cannot be
// rebased unambiguously (e.g. it spans both sides of a join).
func pushPast(v *plan.PlanView, childID plan.ID, child *plan.Node, pred operator.Expr) (operator.Expr, pushTarget, bool) {
	switch child.Kind {
	case plan.KindProjection:
		grandchildren := v.Children(childID)
		rebased, ok := rewriteExpr(pred, func(e operator.Expr) (operator.Expr, bool) {
			c, isCol := e.(operator.Column)
			if !isCol {
				return e, false
			}
			return operator.Column{Index: child.ProjectColumns[c.Index], Type: c.Type}, true
		})
		if !ok && !isLiteralTree(pred) {
			return nil, pushTarget{}, false
		}
		return rebased, pushTarget{parent: childID, child: grandchildren[0]}, true

	case plan.KindArithmetic:
		n := len(child.Rel.Schema.Columns) - len(child.ArithExprs)
		if !boundedBy(pred, n) {
			return nil, pushTarget{}, false
		}
		grandchildren := v.Children(childID)
		return pred, pushTarget{parent: childID, child: grandchildren[0]}, true

	case plan.KindJoin:
		grandchildren := v.Children(childID)
		leftLen := v.Node(grandchildren[0]).Rel.Schema.Len()
		if boundedBy(pred, leftLen) {
			return pred, pushTarget{parent: childID, child: grandchildren[0]}, true
		}
		rightRefs := map[int]bool{}
		columnIndices(pred, rightRefs)
		allRight := true
		for idx := range rightRefs {
			if idx < leftLen {
				allRight = false
			}
		}
		if !allRight {
			return nil, pushTarget{}, false
		}
		rebased, _ := rewriteExpr(pred, func(e operator.Expr) (operator.Expr, bool) {
			c, isCol := e.(operator.Column)
			if !isCol {
				return e, false
			}
			return operator.Column{Index: c.Index - leftLen, Type: c.Type}, true
		})
		return rebased, pushTarget{parent: childID, child: grandchildren[1]}, true

	default:
		return nil, pushTarget{}, false
	}
}

// preSelection is rule g: synthesise a derived single-attribute selection
// conjoined with a predicate that cannot be fully pushed down. Two
// derivations: an Or-chain of equalities on one column becomes an IN list,
// and an Or-chain of both-ways-bounded ranges (BETWEEN or equality leaves)
// on one column becomes a covering BETWEEN over the leaves' overall
// [min, max]. Both derivations are supersets of the disjunction, so
// conjoining them preserves semantics.
type preSelection struct{}

func (preSelection) Name() string          { return "PreSelection" }
func (preSelection) AffectsRelation() bool { return true }
func (preSelection) Apply(v *plan.PlanView) bool {
	changed := false
	v.Walk(func(id plan.ID) {
		n := v.Node(id)
		if n.Kind != plan.KindSelection {
			return
		}
		derived, ok := asEqualityDisjunction(n.Predicate)
		if !ok {
			derived, ok = asRangeDisjunction(n.Predicate)
		}
		if !ok {
			return
		}
		n.Predicate = operator.And{Left: derived, Right: n.Predicate}
		n.HasSelectivity = false
		changed = true
	})
	return changed
}

// asEqualityDisjunction recognises an Or-chain of Compare{OpEq, col, lit}
// over the same column and returns the equivalent In expression.
func asEqualityDisjunction(e operator.Expr) (operator.Expr, bool) {
	var leaves []operator.Expr
	var collect func(operator.Expr) bool
	var col operator.Column
	haveCol := false
	collect = func(e operator.Expr) bool {
		if or, ok := e.(operator.Or); ok {
			return collect(or.Left) && collect(or.Right)
		}
		cmp, ok := e.(operator.Compare)
		if !ok || cmp.Op != operator.OpEq {
			return false
		}
		c, isCol := cmp.Left.(operator.Column)
		if !isCol {
			return false
		}
		if haveCol && c.Index != col.Index {
			return false
		}
		col, haveCol = c, true
		leaves = append(leaves, cmp.Right)
		return true
	}
	if _, isOr := e.(operator.Or); !isOr {
		return nil, false
	}
	if !collect(e) || len(leaves) < 2 {
		return nil, false
	}
	return operator.In{Value: col, Options: leaves}, true
}

// asRangeDisjunction recognises an Or-chain whose every leaf bounds the
// same column on both sides — Between(col, lit, lit) or col = lit, all
// literals of one non-CHAR kind — and returns one Between covering the
// leaves' overall [min, max].
func asRangeDisjunction(e operator.Expr) (operator.Expr, bool) {
	if _, isOr := e.(operator.Or); !isOr {
		return nil, false
	}
	var col operator.Column
	haveCol := false
	var loLit, hiLit operator.Literal
	haveBounds := false
	leaves := 0

	sameCol := func(c operator.Column) bool {
		if haveCol && c.Index != col.Index {
			return false
		}
		col, haveCol = c, true
		return true
	}
	bound := func(lo, hi operator.Literal) bool {
		if lo.Value.Null || hi.Value.Null {
			return false
		}
		if lo.Value.Type.Kind == typesys.KindChar || hi.Value.Type.Kind == typesys.KindChar {
			return false
		}
		if haveBounds && (lo.Value.Type.Kind != loLit.Value.Type.Kind || hi.Value.Type.Kind != hiLit.Value.Type.Kind) {
			return false
		}
		if !haveBounds || lo.Value.I64 < loLit.Value.I64 {
			loLit = lo
		}
		if !haveBounds || hi.Value.I64 > hiLit.Value.I64 {
			hiLit = hi
		}
		haveBounds = true
		return true
	}

	var collect func(operator.Expr) bool
	collect = func(e operator.Expr) bool {
		switch leaf := e.(type) {
		case operator.Or:
			return collect(leaf.Left) && collect(leaf.Right)
		case operator.Between:
			c, isCol := leaf.Value.(operator.Column)
			lo, okLo := leaf.Lo.(operator.Literal)
			hi, okHi := leaf.Hi.(operator.Literal)
			if !isCol || !okLo || !okHi || !sameCol(c) || !bound(lo, hi) {
				return false
			}
			leaves++
			return true
		case operator.Compare:
			if leaf.Op != operator.OpEq {
				return false
			}
			c, isCol := leaf.Left.(operator.Column)
			lit, okLit := leaf.Right.(operator.Literal)
			if !isCol || !okLit || !sameCol(c) || !bound(lit, lit) {
				return false
			}
			leaves++
			return true
		default:
			return false
		}
	}
	if !collect(e) || leaves < 2 || !haveBounds {
		return nil, false
	}
	return operator.Between{Value: col, Lo: loLit, Hi: hiLit}, true
}

// splitArithmetic is rule h: an arithmetic expression mixing attributes
// from both sides of a join is split — each non-trivial single-source
// operand is computed below the join by a per-side Arithmetic node, and
// the mixed expression is rewritten onto the already-computed helper
// columns. A projection inserted above the node restores its original
// output schema, so consumers above never see the helper columns
// travelling through the join.
type splitArithmetic struct{}

func (splitArithmetic) Name() string          { return "SplitArithmetic" }
func (splitArithmetic) AffectsRelation() bool { return true }

func (splitArithmetic) Apply(v *plan.PlanView) bool {
	changed := false
	v.Walk(func(id plan.ID) {
		n := v.Node(id)
		if n.Kind != plan.KindArithmetic {
			return
		}
		children := v.Children(id)
		if len(children) != 1 || v.Node(children[0]).Kind != plan.KindJoin {
			return
		}
		if splitOneArithmetic(v, id, n, children[0]) {
			changed = true
		}
	})
	return changed
}

// refsOnlySide classifies which side of a join x's column references fall
// on: 0 for left-only, 1 for right-only, -1 with ok=true for no references
// at all (a literal operand), and ok=false when refs span both sides.
func refsOnlySide(x operator.Expr, leftLen int) (side int, ok bool) {
	refs := map[int]bool{}
	columnIndices(x, refs)
	if len(refs) == 0 {
		return -1, true
	}
	l, r := false, false
	for c := range refs {
		if c < leftLen {
			l = true
		} else {
			r = true
		}
	}
	switch {
	case l && !r:
		return 0, true
	case r && !l:
		return 1, true
	default:
		return -1, false
	}
}

// nonTrivialExpr reports whether x is worth computing below the join: a
// bare column or literal buys nothing by moving.
func nonTrivialExpr(x operator.Expr) bool {
	switch x.(type) {
	case operator.Column, operator.Literal:
		return false
	}
	return true
}

func rebaseExpr(e operator.Expr, delta int) operator.Expr {
	out, _ := rewriteExpr(e, func(x operator.Expr) (operator.Expr, bool) {
		c, ok := x.(operator.Column)
		if !ok {
			return x, false
		}
		return operator.Column{Index: c.Index + delta, Type: c.Type}, true
	})
	return out
}

// remapExpr rewrites every column reference in e through remap.
func remapExpr(e operator.Expr, remap map[int]int) operator.Expr {
	out, _ := rewriteExpr(e, func(x operator.Expr) (operator.Expr, bool) {
		c, ok := x.(operator.Column)
		if !ok {
			return x, false
		}
		return operator.Column{Index: remap[c.Index], Type: c.Type}, true
	})
	return out
}

func appendColumn(s typesys.Schema, c typesys.Column) typesys.Schema {
	cols := make([]typesys.Column, 0, s.Len()+1)
	cols = append(cols, s.Columns...)
	cols = append(cols, c)
	return typesys.NewSchema(cols...)
}

// splitOneArithmetic splits the first cleanly splittable expression of n
// (an Arithmetic directly above join joinID) and reports whether it did.
func splitOneArithmetic(v *plan.PlanView, id plan.ID, n *plan.Node, joinID plan.ID) bool {
	join := v.Node(joinID)
	if join.JoinPredicate != nil {
		return false
	}
	jc := v.Children(joinID)
	leftSchema := v.Node(jc[0]).Rel.Schema
	rightSchema := v.Node(jc[1]).Rel.Schema
	leftLen, rightLen := leftSchema.Len(), rightSchema.Len()
	total := leftLen + rightLen

	for ei, e := range n.ArithExprs {
		a, isArith := e.(operator.Arith)
		if !isArith {
			continue
		}
		refs := map[int]bool{}
		columnIndices(a, refs)
		hasLeft, hasRight := false, false
		for c := range refs {
			if c < leftLen {
				hasLeft = true
			} else {
				hasRight = true
			}
		}
		if !hasLeft || !hasRight {
			continue // single-source: nothing to split
		}
		lSide, lOK := refsOnlySide(a.Left, leftLen)
		rSide, rOK := refsOnlySide(a.Right, leftLen)
		if !lOK || !rOK {
			continue // an operand itself straddles the join
		}
		pushL := lSide >= 0 && nonTrivialExpr(a.Left)
		pushR := rSide >= 0 && nonTrivialExpr(a.Right)
		if !pushL && !pushR {
			continue
		}

		// Compute each pushed operand below its owning side, appending one
		// helper column at the end of that side's schema.
		leftPushed, rightPushed := false, false
		var leftHelperType, rightHelperType typesys.Type
		push := func(op operator.Expr, side int) {
			if side == 0 {
				helper := typesys.Column{Term: fmt.Sprintf("larith%d", ei), Type: op.ResultType()}
				out := appendColumn(leftSchema, helper)
				aid := v.Add(&plan.Node{
					Kind: plan.KindArithmetic, OutSchema: out,
					ArithExprs: []operator.Expr{op},
					Rel:        plan.Relation{Schema: out},
				})
				v.InsertBetween(joinID, jc[0], aid)
				leftPushed, leftHelperType = true, op.ResultType()
				return
			}
			helper := typesys.Column{Term: fmt.Sprintf("rarith%d", ei), Type: op.ResultType()}
			out := appendColumn(rightSchema, helper)
			aid := v.Add(&plan.Node{
				Kind: plan.KindArithmetic, OutSchema: out,
				ArithExprs: []operator.Expr{rebaseExpr(op, -leftLen)},
				Rel:        plan.Relation{Schema: out},
			})
			v.InsertBetween(joinID, jc[1], aid)
			rightPushed, rightHelperType = true, op.ResultType()
		}
		if pushL {
			push(a.Left, lSide)
		}
		if pushR {
			push(a.Right, rSide)
		}

		newLeftLen, newRightLen := leftLen, rightLen
		if leftPushed {
			newLeftLen++
		}
		if rightPushed {
			newRightLen++
		}

		// Rebase every expression of n onto the widened join output: left
		// columns keep their indices, right columns shift past the left
		// helper.
		outRemap := make(map[int]int, total)
		for i := 0; i < leftLen; i++ {
			outRemap[i] = i
		}
		for j := 0; j < rightLen; j++ {
			outRemap[leftLen+j] = newLeftLen + j
		}
		for k := range n.ArithExprs {
			n.ArithExprs[k] = remapExpr(n.ArithExprs[k], outRemap)
		}

		// Swap the pushed operands for their helper columns.
		ar := n.ArithExprs[ei].(operator.Arith)
		helperCol := func(side int) operator.Column {
			if side == 0 {
				return operator.Column{Index: leftLen, Type: leftHelperType}
			}
			return operator.Column{Index: newLeftLen + rightLen, Type: rightHelperType}
		}
		if pushL {
			ar.Left = helperCol(lSide)
		}
		if pushR {
			ar.Right = helperCol(rSide)
		}
		n.ArithExprs[ei] = ar

		// n now carries the widened join schema; a projection above it
		// restores the original output so nothing upstream renumbers.
		origOut := n.OutSchema
		numExprs := len(n.ArithExprs)
		computed := origOut.Columns[origOut.Len()-numExprs:]
		newJoin := make([]typesys.Column, 0, newLeftLen+newRightLen)
		newJoin = append(newJoin, leftSchema.Columns...)
		if leftPushed {
			newJoin = append(newJoin, typesys.Column{Term: fmt.Sprintf("larith%d", ei), Type: leftHelperType})
		}
		newJoin = append(newJoin, rightSchema.Columns...)
		if rightPushed {
			newJoin = append(newJoin, typesys.Column{Term: fmt.Sprintf("rarith%d", ei), Type: rightHelperType})
		}
		n.OutSchema = typesys.NewSchema(append(newJoin, computed...)...)

		newTotal := newLeftLen + newRightLen
		projCols := make([]int, 0, total+numExprs)
		for i := 0; i < leftLen; i++ {
			projCols = append(projCols, i)
		}
		for j := 0; j < rightLen; j++ {
			projCols = append(projCols, newLeftLen+j)
		}
		for k := 0; k < numExprs; k++ {
			projCols = append(projCols, newTotal+k)
		}
		projNode := &plan.Node{
			Kind: plan.KindProjection, OutSchema: origOut,
			ProjectColumns: projCols,
			Rel:            plan.Relation{Schema: origOut},
		}
		if parent, hasParent := v.Parent(id); hasParent {
			projID := v.Add(projNode)
			v.InsertBetween(parent, id, projID)
		} else {
			projID := v.Add(projNode, id)
			v.SetRoot(projID)
		}
		return true
	}
	return false
}

// earlyProjection is rule i: before a materialising operator, insert a
// projection retaining only the attributes still needed upwards. Two
// shapes are handled: below an Aggregation, whose own group/aggregate
// inputs are exactly the upward needs, and below each side of a Join
// whose upward needs are readable — the ancestor chain up to the nearest
// Projection or Aggregation consists only of pass-through nodes
// (Selection, OrderBy, Limit). Other shapes are left alone.
type earlyProjection struct{}

func (earlyProjection) Name() string          { return "EarlyProjection" }
func (earlyProjection) AffectsRelation() bool { return true }

func (earlyProjection) Apply(v *plan.PlanView) bool {
	joinChanged := false
	v.Walk(func(id plan.ID) {
		if v.Node(id).Kind == plan.KindJoin {
			joinChanged = projectBelowJoin(v, id, v.Node(id)) || joinChanged
		}
	})
	if joinChanged {
		// Aggregations read their child's Rel schema; refresh it before the
		// second pass so a narrowed join below is seen at its new width.
		estimator.EstimateAll(v)
	}
	aggChanged := false
	v.Walk(func(id plan.ID) {
		if v.Node(id).Kind == plan.KindAggregation {
			aggChanged = projectBelowAggregation(v, id, v.Node(id)) || aggChanged
		}
	})
	return joinChanged || aggChanged
}

// aggregationInputCols returns the set of input columns an aggregation
// reads: its group-by columns plus every aggregate input's references.
func aggregationInputCols(n *plan.Node) map[int]bool {
	needed := map[int]bool{}
	for _, c := range n.GroupCols {
		needed[c] = true
	}
	for _, s := range n.AggSpecs {
		if s.Input != nil {
			columnIndices(s.Input, needed)
		}
	}
	return needed
}

// keepColumns returns the ascending list of retained indices out of [0, n)
// and the old->new index map.
func keepColumns(needed map[int]bool, n int) ([]int, map[int]int) {
	var keep []int
	for i := 0; i < n; i++ {
		if needed[i] {
			keep = append(keep, i)
		}
	}
	remap := make(map[int]int, len(keep))
	for newIdx, oldIdx := range keep {
		remap[oldIdx] = newIdx
	}
	return keep, remap
}

func schemaSubset(s typesys.Schema, keep []int) typesys.Schema {
	cols := make([]typesys.Column, len(keep))
	for i, c := range keep {
		cols[i] = s.Columns[c]
	}
	return typesys.NewSchema(cols...)
}

func projectBelowAggregation(v *plan.PlanView, id plan.ID, n *plan.Node) bool {
	child := v.Children(id)[0]
	childSchema := v.Node(child).Rel.Schema
	needed := aggregationInputCols(n)
	if len(needed) == 0 || len(needed) >= childSchema.Len() {
		return false
	}
	keep, remap := keepColumns(needed, childSchema.Len())
	sub := schemaSubset(childSchema, keep)
	projID := v.Add(&plan.Node{
		Kind: plan.KindProjection, OutSchema: sub,
		ProjectColumns: keep,
		Rel:            plan.Relation{Schema: sub},
	})
	v.InsertBetween(id, child, projID)

	for i, c := range n.GroupCols {
		n.GroupCols[i] = remap[c]
	}
	for i := range n.AggSpecs {
		if n.AggSpecs[i].Input != nil {
			n.AggSpecs[i].Input = remapExpr(n.AggSpecs[i].Input, remap)
		}
	}
	return true
}

// joinUpwardNeeds collects which join-output columns the ancestors of id
// still reference, walking up through pass-through nodes until a
// Projection or Aggregation pins the exact need set. ok is false when the
// chain reaches the root or a node whose needs cannot be read off.
func joinUpwardNeeds(v *plan.PlanView, id plan.ID) (map[int]bool, []plan.ID, bool) {
	needed := map[int]bool{}
	var chain []plan.ID
	cur := id
	for {
		parent, hasParent := v.Parent(cur)
		if !hasParent {
			return nil, nil, false
		}
		p := v.Node(parent)
		chain = append(chain, parent)
		switch p.Kind {
		case plan.KindProjection:
			for _, c := range p.ProjectColumns {
				needed[c] = true
			}
			return needed, chain, true
		case plan.KindAggregation:
			for c := range aggregationInputCols(p) {
				needed[c] = true
			}
			return needed, chain, true
		case plan.KindSelection:
			columnIndices(p.Predicate, needed)
		case plan.KindOrderBy:
			for _, k := range p.OrderKeys {
				needed[k.Col] = true
			}
		case plan.KindLimit:
		default:
			return nil, nil, false
		}
		cur = parent
	}
}

func projectBelowJoin(v *plan.PlanView, id plan.ID, n *plan.Node) bool {
	if n.JoinPredicate != nil {
		return false // opaque row predicate: its column needs are unknowable
	}
	needed, chain, ok := joinUpwardNeeds(v, id)
	if !ok {
		return false
	}
	children := v.Children(id)
	leftSchema := v.Node(children[0]).Rel.Schema
	rightSchema := v.Node(children[1]).Rel.Schema
	leftLen := leftSchema.Len()

	leftNeeded := map[int]bool{}
	rightNeeded := map[int]bool{}
	for _, k := range n.LeftKeys {
		leftNeeded[k] = true
	}
	for _, k := range n.RightKeys {
		rightNeeded[k] = true
	}
	for c := range needed {
		if c < leftLen {
			leftNeeded[c] = true
		} else {
			rightNeeded[c-leftLen] = true
		}
	}

	leftKeep, leftRemap := keepColumns(leftNeeded, leftLen)
	rightKeep, rightRemap := keepColumns(rightNeeded, rightSchema.Len())
	if len(leftKeep) == 0 || len(rightKeep) == 0 {
		return false
	}
	if len(leftKeep) == leftLen && len(rightKeep) == rightSchema.Len() {
		return false
	}

	if len(leftKeep) < leftLen {
		sub := schemaSubset(leftSchema, leftKeep)
		projID := v.Add(&plan.Node{
			Kind: plan.KindProjection, OutSchema: sub,
			ProjectColumns: leftKeep,
			Rel:            plan.Relation{Schema: sub},
		})
		v.InsertBetween(id, children[0], projID)
		for i, k := range n.LeftKeys {
			n.LeftKeys[i] = leftRemap[k]
		}
	}
	if len(rightKeep) < rightSchema.Len() {
		sub := schemaSubset(rightSchema, rightKeep)
		projID := v.Add(&plan.Node{
			Kind: plan.KindProjection, OutSchema: sub,
			ProjectColumns: rightKeep,
			Rel:            plan.Relation{Schema: sub},
		})
		v.InsertBetween(id, children[1], projID)
		for i, k := range n.RightKeys {
			n.RightKeys[i] = rightRemap[k]
		}
	}

	// Every ancestor reference moves from the old join-output numbering to
	// the narrowed one, up to and including the boundary node.
	newLeftLen := len(leftKeep)
	outRemap := make(map[int]int, len(leftKeep)+len(rightKeep))
	for newIdx, oldIdx := range leftKeep {
		outRemap[oldIdx] = newIdx
	}
	for newIdx, oldIdx := range rightKeep {
		outRemap[leftLen+oldIdx] = newLeftLen + newIdx
	}
	for _, aid := range chain {
		a := v.Node(aid)
		switch a.Kind {
		case plan.KindSelection:
			a.Predicate = remapExpr(a.Predicate, outRemap)
			a.HasSelectivity = false
		case plan.KindOrderBy:
			for i, k := range a.OrderKeys {
				a.OrderKeys[i].Col = outRemap[k.Col]
			}
		case plan.KindProjection:
			for i, c := range a.ProjectColumns {
				a.ProjectColumns[i] = outRemap[c]
			}
			return true
		case plan.KindAggregation:
			for i, c := range a.GroupCols {
				a.GroupCols[i] = outRemap[c]
			}
			for i := range a.AggSpecs {
				if a.AggSpecs[i].Input != nil {
					a.AggSpecs[i].Input = remapExpr(a.AggSpecs[i].Input, outRemap)
				}
			}
			return true
		}
	}
	return true
}

// removeProjection is rule j: drop a Projection whose ProjectColumns is the
// identity mapping over the child's full width, so its output schema equals
// its child's in the same order. A projection that only reorders the child's
// columns is kept.
type removeProjection struct{}

func (removeProjection) Name() string          { return "RemoveProjection" }
func (removeProjection) AffectsRelation() bool { return true }
func (removeProjection) Apply(v *plan.PlanView) bool {
	changed := false
	v.Walk(func(id plan.ID) {
		n := v.Node(id)
		if n.Kind != plan.KindProjection {
			return
		}
		child := v.Node(v.Children(id)[0])
		if len(n.ProjectColumns) != child.Rel.Schema.Len() || !isIdentityProjection(n.ProjectColumns) {
			return
		}
		v.Erase(id)
		changed = true
	})
	return changed
}

func isIdentityProjection(cols []int) bool {
	for i, c := range cols {
		if c != i {
			return false
		}
	}
	return true
}

// mergeTableSelection is rule k: collapse Selection(Table) into one
// TableSelection node.
type mergeTableSelection struct{}

func (mergeTableSelection) Name() string          { return "MergeTableSelection" }
func (mergeTableSelection) AffectsRelation() bool { return true }
func (mergeTableSelection) Apply(v *plan.PlanView) bool {
	changed := false
	v.Walk(func(id plan.ID) {
		n := v.Node(id)
		if n.Kind != plan.KindSelection {
			return
		}
		children := v.Children(id)
		child := v.Node(children[0])
		if child.Kind != plan.KindTable {
			return
		}
		merged := &plan.Node{Kind: plan.KindTableSelection, Table: child.Table, Predicate: n.Predicate}
		mergedID := v.Add(merged)
		v.Replace(id, mergedID)
		changed = true
	})
	return changed
}

// physicalOperatorRule is rule l: decorate Join/Aggregation/OrderBy nodes
// with a physical method per the cardinality thresholds below.
type physicalOperatorRule struct{}

func (physicalOperatorRule) Name() string          { return "PhysicalOperatorRule" }
func (physicalOperatorRule) AffectsRelation() bool { return false }
func (physicalOperatorRule) Apply(v *plan.PlanView) bool {
	changed := false
	v.Walk(func(id plan.ID) {
		n := v.Node(id)
		switch n.Kind {
		case plan.KindJoin:
			changed = decorateJoin(v, id, n) || changed
		case plan.KindAggregation:
			changed = decorateAggregation(n) || changed
		case plan.KindOrderBy:
			changed = decorateOrderBy(n) || changed
		}
	})
	return changed
}

const nestedLoopMaxRows = 256
const hashJoinMaxBuildRows = 256
const filteredRadixBuildThreshold = 100000

func decorateJoin(v *plan.PlanView, id plan.ID, n *plan.Node) bool {
	children := v.Children(id)
	left, right := v.Node(children[0]), v.Node(children[1])
	before := n.JoinMethod
	switch {
	case n.JoinPredicate != nil:
		n.JoinMethod = plan.JoinNestedLoop
	case left.Rel.Cardinality <= nestedLoopMaxRows && right.Rel.Cardinality <= nestedLoopMaxRows:
		n.JoinMethod = plan.JoinNestedLoop
	case left.Rel.Cardinality <= hashJoinMaxBuildRows:
		n.JoinMethod = plan.JoinHash
	case left.Rel.Cardinality > filteredRadixBuildThreshold:
		n.JoinMethod = plan.JoinFilteredRadix
	default:
		n.JoinMethod = plan.JoinRadix
	}
	return n.JoinMethod != before
}

const hashAggMaxGroups = 100

func decorateAggregation(n *plan.Node) bool {
	before := n.AggMethod
	switch {
	case len(n.GroupCols) == 0:
		n.AggMethod = plan.AggSimple
	case n.Rel.Cardinality <= hashAggMaxGroups:
		n.AggMethod = plan.AggHash
	default:
		n.AggMethod = plan.AggRadix
	}
	return n.AggMethod != before
}

const parallelOrderByMinRows = 10000

func decorateOrderBy(n *plan.Node) bool {
	before := n.OrderMethod
	if n.Rel.Cardinality > parallelOrderByMinRows {
		n.OrderMethod = plan.OrderParallel
	} else {
		n.OrderMethod = plan.OrderSequential
	}
	return n.OrderMethod != before
}

// mergeOrderByLimit is rule m: fold Limit(OrderBy) into OrderBy with a fused
// top-k count (Offset+Count). The physical OrderBy operator still sorts its
// whole input and then emits only rows [Offset, Count); it keeps no bounded
// top-k heap. Reuses the Offset/Count
// fields already on Node — a given node is only ever one Kind at a time, so
// repurposing them for the fused OrderBy's top-k bound costs no extra struct
// field.
type mergeOrderByLimit struct{}

func (mergeOrderByLimit) Name() string          { return "MergeOrderByLimit" }
func (mergeOrderByLimit) AffectsRelation() bool { return true }
func (mergeOrderByLimit) Apply(v *plan.PlanView) bool {
	changed := false
	v.Walk(func(id plan.ID) {
		n := v.Node(id)
		if n.Kind != plan.KindLimit {
			return
		}
		children := v.Children(id)
		child := v.Node(children[0])
		if child.Kind != plan.KindOrderBy {
			return
		}
		child.Offset, child.Count = n.Offset, n.Offset+n.Count
		v.Erase(id)
		changed = true
	})
	return changed
}
