package symex

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/symex/ast"
)

var (
	ErrNoStateAvailable = errors.New("symex: no state available")
	ErrUnsatisfiable    = errors.New("symex: path condition is unsatisfiable")
	ErrDivisionByZero   = errors.New("symex: division by zero")
	ErrDepthExceeded    = errors.New("symex: maximum fork depth exceeded")
	ErrStateLimit       = errors.New("symex: maximum state count exceeded")
)

var (
	ErrSolverTimeout       = errors.New("Solver timeout")
	ErrSolverCanceled      = errors.New("Solver canceled")
	ErrSolverResourceLimit = errors.New("Solver resource limit")
	ErrSolverUnknown       = errors.New("Solver unknown error")
)

// TypeError is returned when an operator is applied to operands of a kind it
// cannot accept.
type TypeError struct {
	Op    string
	Kinds []Kind
	Pos   ast.Pos
}

// Error returns the error as a string.
func (e *TypeError) Error() string {
	s := fmt.Sprintf("type mismatch: operator %q applied to %v", e.Op, e.Kinds)
	if e.Pos.IsValid() {
		s = e.Pos.String() + ": " + s
	}
	return s
}

// UnsupportedError is returned when the executor reaches a construct it does
// not model, such as a loop or a call.
type UnsupportedError struct {
	Construct string
	Pos       ast.Pos
}

// Error returns the error as a string.
func (e *UnsupportedError) Error() string {
	s := fmt.Sprintf("unsupported construct: %s", e.Construct)
	if e.Pos.IsValid() {
		s = e.Pos.String() + ": " + s
	}
	return s
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
