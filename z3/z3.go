package z3

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/benbjohnson/symex"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
#include <stdio.h>
*/
import "C"

// Ensure solver implements interface.
var _ symex.Solver = (*Solver)(nil)

// Solver represents a solver that uses an embedded Z3 solver over the theory
// of integers.
type Solver struct {
	ctx   *Context
	stats Stats

	// Per-check timeout. Zero means no timeout.
	Timeout time.Duration
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{
		ctx: NewContext(),
	}
}

// Close deletes the underlying Z3 context.
func (s *Solver) Close() error {
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

// Context returns the underlying context.
func (s *Solver) Context() *Context { return s.ctx }

// Solve asserts constraints into a fresh Z3 solver and checks them. On a
// satisfiable result the model holds every constant Z3 assigned plus a
// completed value for each of vars.
func (s *Solver) Solve(constraints []symex.Expr, vars []symex.Var) (verdict symex.Verdict, model symex.Model, err error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	solver := C.Z3_mk_solver(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_solver"); err != nil {
		return symex.Unknown, nil, err
	}
	C.Z3_solver_inc_ref(s.ctx.raw, solver)
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)
	s.ctx.reset()

	if s.Timeout > 0 {
		if err := s.ctx.setTimeout(solver, s.Timeout); err != nil {
			return symex.Unknown, nil, err
		}
	}

	// Assert constraints.
	for _, constraint := range constraints {
		z3Constraint, err := s.ctx.toAST(constraint)
		if err != nil {
			return symex.Unknown, nil, err
		}
		C.Z3_solver_assert(s.ctx.raw, solver, z3Constraint)
		if err := s.ctx.err("Z3_solver_assert"); err != nil {
			return symex.Unknown, nil, err
		}
	}

	// Check equations with the solver.
	// Exit immediately if unsatisfiable or the solver encountered an error.
	ret := C.Z3_solver_check(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return symex.Unknown, nil, err
	} else if ret == C.Z3_L_FALSE {
		return symex.Unsat, nil, nil
	} else if ret == C.Z3_L_UNDEF {
		reason := C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, solver))
		switch {
		case strings.Contains(reason, "timeout"):
			return symex.Unknown, nil, symex.ErrSolverTimeout
		case strings.Contains(reason, "canceled"):
			return symex.Unknown, nil, symex.ErrSolverCanceled
		case strings.Contains(reason, "(resource limits reached)"):
			return symex.Unknown, nil, symex.ErrSolverResourceLimit
		case strings.Contains(reason, "unknown"):
			return symex.Unknown, nil, symex.ErrSolverUnknown
		default:
			return symex.Unknown, nil, fmt.Errorf("z3: %s", reason)
		}
	}

	// Calculate a model for the given formula.
	z3Model := C.Z3_solver_get_model(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_get_model"); err != nil {
		return symex.Sat, nil, err
	}
	C.Z3_model_inc_ref(s.ctx.raw, z3Model)
	defer C.Z3_model_dec_ref(s.ctx.raw, z3Model)

	model, err = s.ctx.eval(z3Model, vars)
	if err != nil {
		return symex.Sat, nil, err
	}
	return symex.Sat, model, nil
}

// Context represents a Z3 context object that is used for constructing expressions.
type Context struct {
	raw C.Z3_context

	// Declared constants by name and kind. Declaration is idempotent.
	consts map[constKey]C.Z3_ast

	// Kinds of the constants used by the current query. A name is bound to
	// a single kind within a query but may change kind between queries.
	scope map[string]symex.Kind
}

type constKey struct {
	name string
	kind symex.Kind
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{
		raw:    raw,
		consts: make(map[constKey]C.Z3_ast),
		scope:  make(map[string]symex.Kind),
	}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return nil
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

// reset starts a new query scope.
func (ctx *Context) reset() {
	ctx.scope = make(map[string]symex.Kind)
}

// Term compiles expr as a single query and returns the resulting Z3 term in
// SMT-LIB form.
func (ctx *Context) Term(expr symex.Expr) (string, error) {
	ctx.reset()
	ast, err := ctx.toAST(expr)
	if err != nil {
		return "", err
	}
	return ctx.astToString(ast), nil
}

// toAST returns a new instance of Z3_ast from a symbolic expression.
func (ctx *Context) toAST(expr symex.Expr) (C.Z3_ast, error) {
	switch expr := expr.(type) {
	case *symex.VarExpr:
		return ctx.makeConst(expr.Name, symex.KindInt)
	case *symex.BoolVarExpr:
		return ctx.makeConst(expr.Name, symex.KindBool)
	case *symex.ConstantExpr:
		return ctx.makeInt64(expr.Value)
	case *symex.BoolConstantExpr:
		if expr.Value {
			return C.Z3_mk_true(ctx.raw), ctx.err("Z3_mk_true")
		}
		return C.Z3_mk_false(ctx.raw), ctx.err("Z3_mk_false")
	case *symex.NegExpr:
		src, err := ctx.toAST(expr.Expr)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_unary_minus(ctx.raw, src), ctx.err("Z3_mk_unary_minus")
	case *symex.NotExpr:
		src, err := ctx.toAST(expr.Expr)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_not(ctx.raw, src), ctx.err("Z3_mk_not")
	case *symex.BinaryExpr:
		return ctx.toBinaryAST(expr.Op, expr.LHS, expr.RHS)
	case *symex.CondExpr:
		return ctx.toBinaryAST(expr.Op, expr.LHS, expr.RHS)
	default:
		return nil, fmt.Errorf("z3.Context.toAST: invalid expression type: %T", expr)
	}
}

func (ctx *Context) toBinaryAST(op symex.BinaryOp, lhsExpr, rhsExpr symex.Expr) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(lhsExpr)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(rhsExpr)
	if err != nil {
		return nil, err
	}
	args := [2]C.Z3_ast{lhs, rhs}

	switch op {
	case symex.ADD:
		return C.Z3_mk_add(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_add")
	case symex.SUB:
		return C.Z3_mk_sub(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_sub")
	case symex.MUL:
		return C.Z3_mk_mul(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_mul")
	case symex.DIV:
		return C.Z3_mk_div(ctx.raw, lhs, rhs), ctx.err("Z3_mk_div")
	case symex.REM:
		return C.Z3_mk_mod(ctx.raw, lhs, rhs), ctx.err("Z3_mk_mod")
	case symex.EQ:
		return C.Z3_mk_eq(ctx.raw, lhs, rhs), ctx.err("Z3_mk_eq")
	case symex.NE:
		eq := C.Z3_mk_eq(ctx.raw, lhs, rhs)
		if err := ctx.err("Z3_mk_eq"); err != nil {
			return nil, err
		}
		return C.Z3_mk_not(ctx.raw, eq), ctx.err("Z3_mk_not")
	case symex.LT:
		return C.Z3_mk_lt(ctx.raw, lhs, rhs), ctx.err("Z3_mk_lt")
	case symex.LE:
		return C.Z3_mk_le(ctx.raw, lhs, rhs), ctx.err("Z3_mk_le")
	case symex.GT:
		return C.Z3_mk_gt(ctx.raw, lhs, rhs), ctx.err("Z3_mk_gt")
	case symex.GE:
		return C.Z3_mk_ge(ctx.raw, lhs, rhs), ctx.err("Z3_mk_ge")
	case symex.AND:
		return C.Z3_mk_and(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_and")
	case symex.OR:
		return C.Z3_mk_or(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_or")
	default:
		return nil, fmt.Errorf("z3.Context.toBinaryAST: unexpected operation: %s", op)
	}
}

func (ctx *Context) makeSort(kind symex.Kind) (C.Z3_sort, error) {
	switch kind {
	case symex.KindInt:
		return C.Z3_mk_int_sort(ctx.raw), ctx.err("Z3_mk_int_sort")
	case symex.KindBool:
		return C.Z3_mk_bool_sort(ctx.raw), ctx.err("Z3_mk_bool_sort")
	default:
		return nil, fmt.Errorf("z3.Context.makeSort: invalid kind: %s", kind)
	}
}

func (ctx *Context) makeInt64(value int64) (C.Z3_ast, error) {
	t, err := ctx.makeSort(symex.KindInt)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_int64(ctx.raw, C.int64_t(value), t), ctx.err("Z3_mk_int64")
}

// makeConst returns the constant declared for name and kind, declaring it on
// first use. Returns an error if name is used with a different kind in the
// current query.
func (ctx *Context) makeConst(name string, kind symex.Kind) (C.Z3_ast, error) {
	if prev, ok := ctx.scope[name]; ok && prev != kind {
		return nil, fmt.Errorf("z3.Context.makeConst: %q declared as %s, used as %s", name, prev, kind)
	}
	ctx.scope[name] = kind

	key := constKey{name: name, kind: kind}
	if ast, ok := ctx.consts[key]; ok {
		return ast, nil
	}

	t, err := ctx.makeSort(kind)
	if err != nil {
		return nil, err
	}

	// Construct Z3 string for name.
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	nameSymbol := C.Z3_mk_string_symbol(ctx.raw, cname)

	ast := C.Z3_mk_const(ctx.raw, nameSymbol, t)
	if err := ctx.err("Z3_mk_const"); err != nil {
		return nil, err
	}
	ctx.consts[key] = ast
	return ast, nil
}

func (ctx *Context) setTimeout(solver C.Z3_solver, d time.Duration) error {
	params := C.Z3_mk_params(ctx.raw)
	if err := ctx.err("Z3_mk_params"); err != nil {
		return err
	}
	C.Z3_params_inc_ref(ctx.raw, params)
	defer C.Z3_params_dec_ref(ctx.raw, params)

	cname := C.CString("timeout")
	defer C.free(unsafe.Pointer(cname))
	C.Z3_params_set_uint(ctx.raw, params, C.Z3_mk_string_symbol(ctx.raw, cname), C.uint(d/time.Millisecond))
	if err := ctx.err("Z3_params_set_uint"); err != nil {
		return err
	}
	C.Z3_solver_set_params(ctx.raw, solver, params)
	return ctx.err("Z3_solver_set_params")
}

// eval enumerates the constants assigned by model and completes the model
// with a value for each of vars.
func (ctx *Context) eval(model C.Z3_model, vars []symex.Var) (symex.Model, error) {
	m := make(symex.Model)

	n := int(C.Z3_model_get_num_consts(ctx.raw, model))
	for i := 0; i < n; i++ {
		decl := C.Z3_model_get_const_decl(ctx.raw, model, C.uint(i))
		if err := ctx.err("Z3_model_get_const_decl"); err != nil {
			return nil, err
		}
		name := C.GoString(C.Z3_get_symbol_string(ctx.raw, C.Z3_get_decl_name(ctx.raw, decl)))
		interp := C.Z3_model_get_const_interp(ctx.raw, model, decl)
		if err := ctx.err("Z3_model_get_const_interp"); err != nil {
			return nil, err
		}

		value, ok, err := ctx.value(interp)
		if err != nil {
			return nil, err
		} else if ok {
			m[name] = value
		}
	}

	// Complete values for requested variables missing from the model.
	for _, v := range vars {
		if _, ok := m[v.Name]; ok {
			continue
		}
		ast, err := ctx.makeConst(v.Name, v.Kind)
		if err != nil {
			return nil, err
		}
		var z3Expr C.Z3_ast
		C.Z3_model_eval(ctx.raw, model, ast, C.bool(true), &z3Expr)
		if err := ctx.err("Z3_model_eval"); err != nil {
			return nil, err
		}
		value, ok, err := ctx.value(z3Expr)
		if err != nil {
			return nil, err
		} else if !ok {
			value = symex.ZeroValue(v.Kind)
		}
		m[v.Name] = value
	}
	return m, nil
}

// value converts an integer or boolean numeral to a concrete value. Returns
// false for any other sort.
func (ctx *Context) value(ast C.Z3_ast) (symex.Value, bool, error) {
	sort := C.Z3_get_sort(ctx.raw, ast)
	if err := ctx.err("Z3_get_sort"); err != nil {
		return symex.Value{}, false, err
	}

	switch C.Z3_get_sort_kind(ctx.raw, sort) {
	case C.Z3_INT_SORT:
		var v C.int64_t
		ok := C.Z3_get_numeral_int64(ctx.raw, ast, &v)
		if err := ctx.err("Z3_get_numeral_int64"); err != nil {
			return symex.Value{}, false, err
		} else if !ok {
			return symex.Value{}, false, fmt.Errorf("z3: numeral out of int64 range: %s", ctx.astToString(ast))
		}
		return symex.IntValue(int64(v)), true, nil
	case C.Z3_BOOL_SORT:
		return symex.BoolValue(C.Z3_get_bool_value(ctx.raw, ast) == C.Z3_L_TRUE), true, nil
	default:
		return symex.Value{}, false, nil
	}
}

func (ctx *Context) astToString(ast C.Z3_ast) string {
	return C.GoString(C.Z3_ast_to_string(ctx.raw, ast))
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Possible error codes.
const (
	ErrorCodeOK = iota
	ErrorCodeSortError
	ErrorCodeIOB
	ErrorCodeInvalidArg
	ErrorCodeParserError
	ErrorCodeNoParser
	ErrorCodeInvalidPattern
	ErrorCodeMemoutFail
	ErrorCodeFileAccessError
	ErrorCodeInternalFatal
	ErrorCodeInvalidUsage
	ErrorCodeDecRefError
	ErrorCodeException
)

// Stats holds solver call counters.
type Stats struct {
	SolveN    int
	SolveTime time.Duration
}
