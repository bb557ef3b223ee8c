// Package operator implements the dataflow node catalogue: scan,
// table-selection, selection, projection, arithmetic, aggregation
// (simple/hash/radix), join (nested-loop/hash/radix/ filtered-radix), order-by
// (sequential/parallel), limit, copy, insert, create/describe/show,
// update-statistics, and the prefetch-set selection algorithm. Layout is one
// file per operator family, a small capability interface, per-row evaluation
// driven from a vectorised batch.
package operator

import (
	"github.com/pingcap/errors"

	"github.com/pingcap/tunadb/errkind"
	"github.com/pingcap/tunadb/tile"
	"github.com/pingcap/tunadb/typesys"
)

// Expr is evaluated per-row against a tile. Implemented as a small closed set
// of node kinds — the expression tree itself is a tagged variant, unlike the
// operator/task alternative sets which stay open interfaces.
type Expr interface {
	Eval(t *tile.Tile, row int) (typesys.Datum, error)
	ResultType() typesys.Type
}

// Column references schema column Index by position, resolved once at
// plan time.
type Column struct {
	Index int
	Type  typesys.Type
}

func (c Column) ResultType() typesys.Type { return c.Type }

func (c Column) Eval(t *tile.Tile, row int) (typesys.Datum, error) {
	return readDatum(t, c.Index, row, c.Type)
}

func readDatum(t *tile.Tile, col, row int, typ typesys.Type) (typesys.Datum, error) {
	v := t.View(row)
	if v.IsNull(col) {
		return typesys.NullDatum(typ), nil
	}
	switch typ.Kind {
	case typesys.KindInt32:
		return typesys.NewInt32(v.Int32(col)), nil
	case typesys.KindInt64, typesys.KindDecimal:
		return typesys.Datum{Type: typ, I64: v.Int64(col)}, nil
	case typesys.KindDate:
		return typesys.Datum{Type: typ, I64: int64(v.Int32(col))}, nil
	case typesys.KindBool:
		b := int64(0)
		if v.Bool(col) {
			b = 1
		}
		return typesys.Datum{Type: typ, I64: b}, nil
	case typesys.KindChar:
		return typesys.Datum{Type: typ, Bytes: append([]byte(nil), v.Char(col)...)}, nil
	default:
		return typesys.Datum{}, errors.Errorf("operator: unknown column kind %v", typ.Kind)
	}
}

// writeDatum appends d into tile dst's next row at column col. Caller must
// have already reserved the row via Allocate/Bulk.
func writeDatum(view tile.View, col int, d typesys.Datum) {
	if d.Null {
		view.SetNull(col)
		return
	}
	switch d.Type.Kind {
	case typesys.KindInt32:
		view.SetInt32(col, int32(d.I64))
	case typesys.KindInt64, typesys.KindDecimal:
		view.SetInt64(col, d.I64)
	case typesys.KindDate:
		view.SetInt32(col, int32(d.I64))
	case typesys.KindBool:
		view.SetBool(col, d.I64 != 0)
	case typesys.KindChar:
		view.SetChar(col, d.Bytes)
	}
}

// Literal is a constant value, already folded by optimizer rule b
// (EvaluatePredicate) where applicable.
type Literal struct{ Value typesys.Datum }

func (l Literal) ResultType() typesys.Type { return l.Value.Type }
func (l Literal) Eval(*tile.Tile, int) (typesys.Datum, error) { return l.Value, nil }

// CastExpr wraps a child expression with a target type conversion.
type CastExpr struct {
	Child Expr
	To    typesys.Type
}

func (c CastExpr) ResultType() typesys.Type { return c.To }
func (c CastExpr) Eval(t *tile.Tile, row int) (typesys.Datum, error) {
	v, err := c.Child.Eval(t, row)
	if err != nil {
		return typesys.Datum{}, err
	}
	return typesys.Cast(v, c.To)
}

// CompareOp is one of the six comparison operators plus BETWEEN/IN, used
// by Predicate.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// Compare evaluates Left <op> Right, following SQL three-valued logic: if
// either operand is NULL the result is NULL.
type Compare struct {
	Op          CompareOp
	Left, Right Expr
}

func (c Compare) ResultType() typesys.Type { return typesys.Bool() }

func (c Compare) Eval(t *tile.Tile, row int) (typesys.Datum, error) {
	l, err := c.Left.Eval(t, row)
	if err != nil {
		return typesys.Datum{}, err
	}
	r, err := c.Right.Eval(t, row)
	if err != nil {
		return typesys.Datum{}, err
	}
	if l.Null || r.Null {
		return typesys.NullDatum(typesys.Bool()), nil
	}
	cmp, err := compareDatums(l, r)
	if err != nil {
		return typesys.Datum{}, err
	}
	var result bool
	switch c.Op {
	case OpEq:
		result = cmp == 0
	case OpNe:
		result = cmp != 0
	case OpLt:
		result = cmp < 0
	case OpLe:
		result = cmp <= 0
	case OpGt:
		result = cmp > 0
	case OpGe:
		result = cmp >= 0
	}
	return typesys.NewBool(result), nil
}

func compareDatums(l, r typesys.Datum) (int, error) {
	if l.Type.Kind == typesys.KindChar {
		rb, err := typesys.Cast(r, l.Type)
		if err != nil {
			return 0, err
		}
		return compareBytes(l.Bytes, rb.Bytes), nil
	}
	rv, err := typesys.Cast(r, l.Type)
	if err != nil {
		return 0, err
	}
	switch {
	case l.I64 < rv.I64:
		return -1, nil
	case l.I64 > rv.I64:
		return 1, nil
	default:
		return 0, nil
	}
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Between is a >= lo AND a <= hi conjunction.
type Between struct {
	Value, Lo, Hi Expr
}

func (b Between) ResultType() typesys.Type { return typesys.Bool() }
func (b Between) Eval(t *tile.Tile, row int) (typesys.Datum, error) {
	ge := Compare{Op: OpGe, Left: b.Value, Right: b.Lo}
	le := Compare{Op: OpLe, Left: b.Value, Right: b.Hi}
	return And{Left: ge, Right: le}.Eval(t, row)
}

// In evaluates Value IN (Options...).
type In struct {
	Value   Expr
	Options []Expr
}

func (in In) ResultType() typesys.Type { return typesys.Bool() }
func (in In) Eval(t *tile.Tile, row int) (typesys.Datum, error) {
	v, err := in.Value.Eval(t, row)
	if err != nil {
		return typesys.Datum{}, err
	}
	if v.Null {
		return typesys.NullDatum(typesys.Bool()), nil
	}
	sawNull := false
	for _, opt := range in.Options {
		o, err := opt.Eval(t, row)
		if err != nil {
			return typesys.Datum{}, err
		}
		if o.Null {
			sawNull = true
			continue
		}
		cmp, err := compareDatums(v, o)
		if err != nil {
			return typesys.Datum{}, err
		}
		if cmp == 0 {
			return typesys.NewBool(true), nil
		}
	}
	if sawNull {
		return typesys.NullDatum(typesys.Bool()), nil
	}
	return typesys.NewBool(false), nil
}

// And/Or implement SQL three-valued logic.
type And struct{ Left, Right Expr }

func (a And) ResultType() typesys.Type { return typesys.Bool() }
func (a And) Eval(t *tile.Tile, row int) (typesys.Datum, error) {
	l, err := a.Left.Eval(t, row)
	if err != nil {
		return typesys.Datum{}, err
	}
	if !l.Null && l.I64 == 0 {
		return typesys.NewBool(false), nil
	}
	r, err := a.Right.Eval(t, row)
	if err != nil {
		return typesys.Datum{}, err
	}
	if !r.Null && r.I64 == 0 {
		return typesys.NewBool(false), nil
	}
	if l.Null || r.Null {
		return typesys.NullDatum(typesys.Bool()), nil
	}
	return typesys.NewBool(true), nil
}

type Or struct{ Left, Right Expr }

func (o Or) ResultType() typesys.Type { return typesys.Bool() }
func (o Or) Eval(t *tile.Tile, row int) (typesys.Datum, error) {
	l, err := o.Left.Eval(t, row)
	if err != nil {
		return typesys.Datum{}, err
	}
	if !l.Null && l.I64 != 0 {
		return typesys.NewBool(true), nil
	}
	r, err := o.Right.Eval(t, row)
	if err != nil {
		return typesys.Datum{}, err
	}
	if !r.Null && r.I64 != 0 {
		return typesys.NewBool(true), nil
	}
	if l.Null || r.Null {
		return typesys.NullDatum(typesys.Bool()), nil
	}
	return typesys.NewBool(false), nil
}

// ArithOp is one of the four arithmetic operators.
type ArithOp int

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithDiv
)

// Arith evaluates Left <op> Right, preserving DECIMAL scale and raising
// ExecutionError on division by a non-NULL zero.
type Arith struct {
	Op          ArithOp
	Left, Right Expr
	Out         typesys.Type
}

func (a Arith) ResultType() typesys.Type { return a.Out }

func (a Arith) Eval(t *tile.Tile, row int) (typesys.Datum, error) {
	l, err := a.Left.Eval(t, row)
	if err != nil {
		return typesys.Datum{}, err
	}
	r, err := a.Right.Eval(t, row)
	if err != nil {
		return typesys.Datum{}, err
	}
	if l.Null || r.Null {
		return typesys.NullDatum(a.Out), nil
	}
	lv, err := typesys.Cast(l, a.Out)
	if err != nil {
		return typesys.Datum{}, err
	}
	rv, err := typesys.Cast(r, a.Out)
	if err != nil {
		return typesys.Datum{}, err
	}
	scale := int64(1)
	for i := uint8(0); i < a.Out.Scale; i++ {
		scale *= 10
	}
	if a.Out.Kind != typesys.KindDecimal {
		scale = 1
	}
	switch a.Op {
	case ArithAdd:
		return typesys.Datum{Type: a.Out, I64: lv.I64 + rv.I64}, nil
	case ArithSub:
		return typesys.Datum{Type: a.Out, I64: lv.I64 - rv.I64}, nil
	case ArithMul:
		v := lv.I64 * rv.I64
		if a.Out.Kind == typesys.KindDecimal {
			v /= scale
		}
		return typesys.Datum{Type: a.Out, I64: v}, nil
	case ArithDiv:
		if rv.I64 == 0 {
			return typesys.Datum{}, errkind.Execution(errkind.ExecOperationNotAllowed, "operator: division by zero")
		}
		v := lv.I64 * scale / rv.I64
		return typesys.Datum{Type: a.Out, I64: v}, nil
	default:
		return typesys.Datum{}, errors.Errorf("operator: unknown arithmetic op %v", a.Op)
	}
}
