package engine

import (
	"github.com/pingcap/errors"

	"github.com/pingcap/tunadb/dataflow"
	"github.com/pingcap/tunadb/operator"
	"github.com/pingcap/tunadb/plan"
)

// compile walks v depth-first from id, materialising one dataflow.Node per
// plan.Node and wiring Connect calls along the same parent/child edges the
// PlanView already tracks.
func (e *Engine) compile(g *dataflow.Graph, v *plan.PlanView, id plan.ID) (dataflow.NodeID, error) {
	n := v.Node(id)
	children := v.Children(id)

	childIDs := make([]dataflow.NodeID, len(children))
	for i, c := range children {
		cid, err := e.compile(g, v, c)
		if err != nil {
			return 0, err
		}
		childIDs[i] = cid
	}

	node, err := e.buildNode(v, id, children)
	if err != nil {
		return 0, errors.Annotatef(err, "engine: compiling %s node", n.Kind)
	}

	nodeID := g.AddNode(node)
	for i, cid := range childIDs {
		g.Connect(cid, nodeID, i)
	}
	return nodeID, nil
}

// buildNode constructs the operator.* value for n, threading the engine's
// shared allocator map into every node that materialises new tiles.
func (e *Engine) buildNode(v *plan.PlanView, id plan.ID, children []plan.ID) (dataflow.Node, error) {
	n := v.Node(id)

	switch n.Kind {
	case plan.KindTable:
		return operator.NewScan(n.Table), nil

	case plan.KindTableSelection:
		touched := touchedColumns(n.Table.Schema().Len())
		return &operator.TableSelection{
			Table:     n.Table,
			Predicate: n.Predicate,
			Prefetch:  operator.PrefetchSet(n.Table.Schema(), touched, nil, false),
		}, nil

	case plan.KindSelection:
		return &operator.Selection{Predicate: n.Predicate}, nil

	case plan.KindProjection:
		return &operator.Projection{
			OutSchema:  n.OutSchema,
			Columns:    n.ProjectColumns,
			Allocators: e.Allocators,
		}, nil

	case plan.KindArithmetic:
		return &operator.Arithmetic{
			InSchema:   v.Node(children[0]).OutputSchema(),
			OutSchema:  n.OutSchema,
			Exprs:      n.ArithExprs,
			Allocators: e.Allocators,
		}, nil

	case plan.KindAggregation:
		if len(n.GroupCols) == 0 {
			return operator.NewAggregation(n.AggSpecs, n.OutSchema, e.Allocators), nil
		}
		method := operator.HashAggregationMethod
		if n.AggMethod == plan.AggRadix {
			method = operator.RadixAggregationMethod
		}
		return operator.NewGroupAggregation(method, n.GroupCols, n.AggSpecs, n.OutSchema, e.Allocators, n.RadixBits), nil

	case plan.KindJoin:
		return e.buildJoin(v, n, children)

	case plan.KindOrderBy:
		schema := v.Node(children[0]).OutputSchema()
		keys := n.OrderKeys
		if n.OrderMethod == plan.OrderParallel {
			ob := operator.NewParallelOrderBy(schema, keys, e.Allocators)
			ob.Offset, ob.TopK = n.Offset, n.Count
			return ob, nil
		}
		ob := operator.NewOrderBy(schema, keys, e.Allocators)
		ob.Offset, ob.TopK = n.Offset, n.Count
		return ob, nil

	case plan.KindLimit:
		return operator.NewLimit(n.Offset, n.Count), nil

	case plan.KindCopy:
		return operator.NewCopy(n.Path, n.OutSchema, n.Delimiter, 0, e.Allocators), nil

	case plan.KindCreate:
		return operator.NewCreate(e.DB, n.CreateName, n.OutSchema), nil

	case plan.KindDescribe:
		return operator.NewDescribe(n.Table, e.Allocators[0], 0), nil

	case plan.KindShowTables:
		return operator.NewShowTables(e.DB, e.Allocators[0], 0), nil

	case plan.KindUpdateStatistics:
		return operator.NewUpdateStatistics(n.Table), nil

	default:
		return nil, errors.Errorf("engine: unhandled plan node kind %s", n.Kind)
	}
}

// buildJoin picks the physical join operator rule l already chose
// (plan.Node.JoinMethod), defaulting to nested-loop when given an explicit
// non-equi predicate (JoinPredicate forces nested loop regardless of
// JoinMethod: the physical-operator rule only ever assigns a hash/radix method
// to equi-joins).
func (e *Engine) buildJoin(v *plan.PlanView, n *plan.Node, children []plan.ID) (dataflow.Node, error) {
	left := v.Node(children[0]).OutputSchema()
	right := v.Node(children[1]).OutputSchema()

	if n.JoinPredicate != nil {
		return operator.NewNestedLoop(left, right, n.JoinPredicate, e.Allocators), nil
	}

	switch n.JoinMethod {
	case plan.JoinHash:
		return operator.NewHashJoin(left, right, n.LeftKeys, n.RightKeys, e.Allocators), nil
	case plan.JoinRadix:
		return operator.NewRadixJoin(left, right, n.LeftKeys, n.RightKeys, n.RadixBits, e.Allocators), nil
	case plan.JoinFilteredRadix:
		buildRows := uint64(v.Node(children[0]).Cardinality())
		if buildRows == 0 {
			buildRows = 1
		}
		return operator.NewFilteredRadixJoin(left, right, n.LeftKeys, n.RightKeys, n.RadixBits, buildRows, 0.01, e.Allocators), nil
	default:
		// JoinNestedLoop with no explicit JoinPredicate still has equi
		// keys available (rule l only forces nested-loop without keys for
		// a genuinely non-equi condition); hash join is the correct
		// physical operator for that shape.
		return operator.NewHashJoin(left, right, n.LeftKeys, n.RightKeys, e.Allocators), nil
	}
}

func touchedColumns(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
