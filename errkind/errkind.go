// Package errkind defines the sealed error-kind hierarchy: ParseError,
// PlanError, OptimizerError, ExecutionError (with its NotImplemented/Cast/
// OperationNotAllowed/SymbolNotFound/ExpressionNotFound/CouldNotCompile
// subtypes) and IoError. Every exported error implements Kinded, so a
// caller can branch on the kind without string matching; values are typed
// sentinels wrapped with github.com/pingcap/errors.
package errkind

import (
	"fmt"

	"github.com/pingcap/errors"
	stderrors "errors"
)

// Kind identifies which branch of the sealed hierarchy an error belongs to.
type Kind int

const (
	// KindParse marks ill-formed input to the (out-of-scope) parser boundary.
	KindParse Kind = iota
	// KindPlan marks an unresolved table/attribute or incompatible schema.
	KindPlan
	// KindOptimizer marks a violated rewrite-rule precondition; fatal to the query.
	KindOptimizer
	// KindExecution marks a failure raised while running the dataflow graph.
	KindExecution
	// KindIO marks a file, socket, or serialization failure.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "ParseError"
	case KindPlan:
		return "PlanError"
	case KindOptimizer:
		return "OptimizerError"
	case KindExecution:
		return "ExecutionError"
	case KindIO:
		return "IoError"
	default:
		return "UnknownError"
	}
}

// ExecutionSubKind enumerates the ExecutionError subtypes.
type ExecutionSubKind int

const (
	// ExecNotImplemented marks a feature gap.
	ExecNotImplemented ExecutionSubKind = iota
	// ExecCast marks a value that does not fit its target type.
	ExecCast
	// ExecOperationNotAllowed marks a type mismatch on a binary operation.
	ExecOperationNotAllowed
	// ExecSymbolNotFound marks a missing UDF/compiled symbol.
	ExecSymbolNotFound
	// ExecExpressionNotFound marks a reference to an expression that was pruned.
	ExecExpressionNotFound
	// ExecCouldNotCompile marks a JIT back-end failure surfaced to the client.
	ExecCouldNotCompile
)

func (k ExecutionSubKind) String() string {
	switch k {
	case ExecNotImplemented:
		return "NotImplemented"
	case ExecCast:
		return "Cast"
	case ExecOperationNotAllowed:
		return "OperationNotAllowed"
	case ExecSymbolNotFound:
		return "SymbolNotFound"
	case ExecExpressionNotFound:
		return "ExpressionNotFound"
	case ExecCouldNotCompile:
		return "CouldNotCompile"
	default:
		return "UnknownExecutionError"
	}
}

// Kinded is implemented by every error this package produces.
type Kinded interface {
	error
	Kind() Kind
}

// Error is the concrete type behind every sealed-hierarchy error.
type Error struct {
	kind    Kind
	execSub ExecutionSubKind
	msg     string
	cause   error
}

// Kind implements Kinded.
func (e *Error) Kind() Kind { return e.kind }

// ExecutionSubKind is only meaningful when Kind() == KindExecution.
func (e *Error) ExecutionSubKind() ExecutionSubKind { return e.execSub }

func (e *Error) Error() string {
	if e.kind == KindExecution {
		return fmt.Sprintf("%s(%s): %s", e.kind, e.execSub, e.msg)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

func newf(kind Kind, sub ExecutionSubKind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, execSub: sub, msg: fmt.Sprintf(format, args...)}
}

// Parse builds a ParseError, traced with github.com/pingcap/errors so a
// stack is retained.
func Parse(format string, args ...interface{}) error {
	return errors.Trace(newf(KindParse, 0, format, args...))
}

// Plan builds a PlanError.
func Plan(format string, args ...interface{}) error {
	return errors.Trace(newf(KindPlan, 0, format, args...))
}

// Optimizer builds an OptimizerError.
func Optimizer(format string, args ...interface{}) error {
	return errors.Trace(newf(KindOptimizer, 0, format, args...))
}

// Execution builds an ExecutionError of the given subtype.
func Execution(sub ExecutionSubKind, format string, args ...interface{}) error {
	return errors.Trace(newf(KindExecution, sub, format, args...))
}

// IO builds an IoError, wrapping cause.
func IO(cause error, format string, args ...interface{}) error {
	e := newf(KindIO, 0, format, args...)
	e.cause = cause
	return errors.Trace(e)
}

// As reports whether err (or something it wraps) is a *Error, returning it.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}
