package udf

import (
	"testing"

	"github.com/pingcap/tunadb/operator"
	"github.com/pingcap/tunadb/tile"
	"github.com/pingcap/tunadb/typesys"
)

// testUDF is an arbitrary compute-bound decimal function registered for
// benchmarking, not a real business computation.
func testUDF(args []typesys.Datum) (typesys.Datum, error) {
	result := args[0].I64
	add := args[1].I64
	for i := 0; i < 15; i++ {
		if i%5 == 0 || result%5 == 0 {
			result += add
		}
		result += add
	}
	return typesys.Datum{Type: typesys.Decimal(16, 2), I64: result}, nil
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	d := Descriptor{
		Name:           "test",
		IsComputeBound: true,
		Params: []Param{
			{Name: "o_totalprice", Type: typesys.Decimal(16, 2)},
			{Name: "l_extendedprice", Type: typesys.Decimal(16, 2)},
		},
		ReturnType: typesys.Decimal(16, 2),
		Fn:         testUDF,
	}
	if err := r.Register(d); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(d); err == nil {
		t.Fatal("expected error re-registering the same name")
	}

	got, ok := r.Lookup("test")
	if !ok || got.Arity() != 2 {
		t.Fatalf("Lookup(test) = %+v, %v", got, ok)
	}
}

func TestCallEvaluatesRegisteredFunction(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Descriptor{
		Name:       "test",
		Params:     []Param{{Type: typesys.Decimal(16, 2)}, {Type: typesys.Decimal(16, 2)}},
		ReturnType: typesys.Decimal(16, 2),
		Fn:         testUDF,
	}); err != nil {
		t.Fatal(err)
	}

	schema := typesys.NewSchema(
		typesys.Column{Term: "o_totalprice", Type: typesys.Decimal(16, 2)},
		typesys.Column{Term: "l_extendedprice", Type: typesys.Decimal(16, 2)},
	)
	tl := tile.New(schema)
	v, _ := tl.Allocate()
	v.SetInt64(0, 1000)
	v.SetInt64(1, 50)

	call := Call{
		Registry: r,
		Name:     "test",
		Args:     []operator.Expr{operator.Column{Index: 0, Type: schema.Columns[0].Type}, operator.Column{Index: 1, Type: schema.Columns[1].Type}},
		Out:      typesys.Decimal(16, 2),
	}
	got, err := call.Eval(tl, 0)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := testUDF([]typesys.Datum{typesys.NewDecimal(16, 2, 1000), typesys.NewDecimal(16, 2, 50)})
	if got.I64 != want.I64 {
		t.Fatalf("Call.Eval = %d, want %d", got.I64, want.I64)
	}
}

func TestCallUnknownFunction(t *testing.T) {
	r := NewRegistry()
	call := Call{Registry: r, Name: "missing", Out: typesys.Int32()}
	if _, err := call.Eval(tile.New(typesys.NewSchema()), 0); err == nil {
		t.Fatal("expected error for unregistered function")
	}
}
