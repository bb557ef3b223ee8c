// Package udf implements the user-defined-function registration hook: a
// registry of (name, arity, signature, address) tuples a query's expression
// tree can reference by name. A JIT back-end would compile each UDF to a
// native address invoked from generated code; here the "address" is simply
// a Go func value, and Call (an operator.Expr) invokes it directly during
// row evaluation instead of through a compiled call site.
package udf

import (
	"sync"

	"github.com/pingcap/errors"

	"github.com/pingcap/tunadb/errkind"
	"github.com/pingcap/tunadb/operator"
	"github.com/pingcap/tunadb/tile"
	"github.com/pingcap/tunadb/typesys"
)

// Param is one named, typed input parameter.
type Param struct {
	Name string
	Type typesys.Type
}

// Fn is the callable a Descriptor wraps. It receives already-evaluated
// argument datums in parameter order.
type Fn func(args []typesys.Datum) (typesys.Datum, error)

// Descriptor describes one registered UDF: a name, a compute-bound flag
// (recorded for worker-placement purposes but not acted on, since there is
// only one worker pool in this module), its input signature, return type,
// and the callable itself.
type Descriptor struct {
	Name           string
	IsComputeBound bool
	Params         []Param
	ReturnType     typesys.Type
	Fn             Fn
}

// Arity returns the number of declared input parameters.
func (d Descriptor) Arity() int { return len(d.Params) }

// Registry is a name -> Descriptor map, written once at engine boot and
// read-only thereafter during query execution.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Descriptor)}
}

// Register records d, failing if a UDF with the same name already exists.
func (r *Registry) Register(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[d.Name]; ok {
		return errors.Errorf("udf: %q already registered", d.Name)
	}
	r.funcs[d.Name] = d
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.funcs[name]
	return d, ok
}

// Names returns every registered UDF name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		out = append(out, n)
	}
	return out
}

// Call is an operator.Expr invoking a registered UDF by name against its
// evaluated argument expressions, giving the registry a real evaluation
// path inside Selection/Projection/Arithmetic predicates rather than
// living only as inert metadata.
type Call struct {
	Registry *Registry
	Name     string
	Args     []operator.Expr
	Out      typesys.Type
}

func (c Call) ResultType() typesys.Type { return c.Out }

func (c Call) Eval(t *tile.Tile, row int) (typesys.Datum, error) {
	d, ok := c.Registry.Lookup(c.Name)
	if !ok {
		return typesys.Datum{}, errkind.Execution(errkind.ExecSymbolNotFound, "udf: no such function %q", c.Name)
	}
	args := make([]typesys.Datum, len(c.Args))
	for i, a := range c.Args {
		v, err := a.Eval(t, row)
		if err != nil {
			return typesys.Datum{}, err
		}
		if v.Null {
			return typesys.NullDatum(c.Out), nil
		}
		args[i] = v
	}
	return d.Fn(args)
}

var _ operator.Expr = Call{}
