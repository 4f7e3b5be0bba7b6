package symex

import (
	"errors"

	"github.com/benbjohnson/symex/ast"
)

// Eval translates a syntax tree expression into a symbolic expression using
// the bindings in state. Identifiers missing from state become free integer
// variables so unbound parameters act as symbolic inputs.
//
// Returns a *TypeError if an operator is applied to operands of the wrong
// kind and an *UnsupportedError for field access, calls, and unknown nodes.
func Eval(expr ast.Expr, state *State) (Expr, error) {
	switch expr := expr.(type) {
	case *ast.NumberLit:
		return NewConstantExpr(expr.Value), nil
	case *ast.BoolLit:
		return NewBoolConstantExpr(expr.Value), nil
	case *ast.Ident:
		if v, ok := state.GetVar(expr.Name); ok {
			return v, nil
		}
		return &VarExpr{Name: expr.Name}, nil
	case *ast.BinaryExpr:
		return evalBinaryExpr(expr, state)
	case *ast.UnaryExpr:
		return evalUnaryExpr(expr, state)
	case *ast.FieldExpr:
		return nil, &UnsupportedError{Construct: "field access " + expr.String(), Pos: expr.Pos}
	case *ast.CallExpr:
		return nil, &UnsupportedError{Construct: "call " + expr.String(), Pos: expr.Pos}
	case *ast.UnsupportedExpr:
		return nil, &UnsupportedError{Construct: expr.Kind, Pos: expr.Pos}
	case nil:
		return nil, errors.New("symex: nil expression")
	default:
		return nil, &UnsupportedError{Construct: expr.String(), Pos: expr.Position()}
	}
}

func evalBinaryExpr(expr *ast.BinaryExpr, state *State) (Expr, error) {
	op, ok := LookupBinaryOp(expr.Op)
	if !ok {
		return nil, &UnsupportedError{Construct: "operator " + expr.Op, Pos: expr.Pos}
	}

	lhs, err := Eval(expr.LHS, state)
	if err != nil {
		return nil, err
	}
	rhs, err := Eval(expr.RHS, state)
	if err != nil {
		return nil, err
	}

	v, err := NewBinaryExpr(op, lhs, rhs)
	return v, withPos(err, expr.Pos)
}

func evalUnaryExpr(expr *ast.UnaryExpr, state *State) (Expr, error) {
	x, err := Eval(expr.X, state)
	if err != nil {
		return nil, err
	}

	var v Expr
	switch expr.Op {
	case "-":
		v, err = NewNegExpr(x)
	case "!":
		v, err = NewNotExpr(x)
	default:
		return nil, &UnsupportedError{Construct: "unary operator " + expr.Op, Pos: expr.Pos}
	}
	return v, withPos(err, expr.Pos)
}

// withPos attaches a position to a type error that does not have one yet.
func withPos(err error, pos ast.Pos) error {
	var e *TypeError
	if errors.As(err, &e) && !e.Pos.IsValid() {
		e.Pos = pos
	}
	return err
}
