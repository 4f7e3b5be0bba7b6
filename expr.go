package symex

import (
	"fmt"
	"sort"
	"strconv"
)

// Kind is the sort of an expression.
type Kind int

const (
	KindInvalid = Kind(iota)
	KindInt
	KindBool
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("Kind<%d>", int(k))
	}
}

// Expr represents a symbolic expression. Expressions are immutable once
// constructed so subtrees can be shared freely between paths.
type Expr interface {
	String() string
	expr()
}

func (*VarExpr) expr()          {}
func (*ConstantExpr) expr()     {}
func (*BinaryExpr) expr()       {}
func (*NegExpr) expr()          {}
func (*BoolVarExpr) expr()      {}
func (*BoolConstantExpr) expr() {}
func (*CondExpr) expr()         {}
func (*NotExpr) expr()          {}

// ExprKind returns the sort of the expression.
func ExprKind(expr Expr) Kind {
	switch expr.(type) {
	case *VarExpr, *ConstantExpr, *BinaryExpr, *NegExpr:
		return KindInt
	case *BoolVarExpr, *BoolConstantExpr, *CondExpr, *NotExpr:
		return KindBool
	default:
		return KindInvalid
	}
}

// BinaryOp represents a binary expression operation.
type BinaryOp int

// Binary operations.
const (
	arithmetic_op_begin = BinaryOp(iota)
	ADD
	SUB
	MUL
	DIV
	REM
	arithmetic_op_end

	compare_op_begin
	EQ
	NE
	LT
	LE
	GT
	GE
	compare_op_end

	logical_op_begin
	AND
	OR
	logical_op_end
)

// SMT-LIB operator names.
var binaryOps = [...]string{
	ADD: "+",
	SUB: "-",
	MUL: "*",
	DIV: "div",
	REM: "mod",
	EQ:  "=",
	NE:  "distinct",
	LT:  "<",
	LE:  "<=",
	GT:  ">",
	GE:  ">=",
	AND: "and",
	OR:  "or",
}

// Source language tokens.
var binaryOpTokens = [...]string{
	ADD: "+",
	SUB: "-",
	MUL: "*",
	DIV: "/",
	REM: "%",
	EQ:  "==",
	NE:  "!=",
	LT:  "<",
	LE:  "<=",
	GT:  ">",
	GE:  ">=",
	AND: "&&",
	OR:  "||",
}

// String returns the SMT-LIB name of the operation.
func (op BinaryOp) String() string {
	if op >= 0 && op < BinaryOp(len(binaryOps)) && binaryOps[op] != "" {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// Token returns the source language token of the operation.
func (op BinaryOp) Token() string {
	if op >= 0 && op < BinaryOp(len(binaryOpTokens)) && binaryOpTokens[op] != "" {
		return binaryOpTokens[op]
	}
	return op.String()
}

// IsArithmetic returns true if op is an arithmetic operator.
func (op BinaryOp) IsArithmetic() bool {
	return op > arithmetic_op_begin && op < arithmetic_op_end
}

// IsCompare returns true if op is a comparison operator.
func (op BinaryOp) IsCompare() bool {
	return op > compare_op_begin && op < compare_op_end
}

// IsLogical returns true if op is a logical connective.
func (op BinaryOp) IsLogical() bool {
	return op > logical_op_begin && op < logical_op_end
}

// LookupBinaryOp returns the operation for a source token.
func LookupBinaryOp(tok string) (BinaryOp, bool) {
	for op, s := range binaryOpTokens {
		if s != "" && s == tok {
			return BinaryOp(op), true
		}
	}
	return 0, false
}

// NewBinaryExpr returns an arithmetic, comparison or logical expression.
// Returns a *TypeError if the operand kinds do not fit the operator.
func NewBinaryExpr(op BinaryOp, lhs, rhs Expr) (Expr, error) {
	lk, rk := ExprKind(lhs), ExprKind(rhs)
	switch {
	case op.IsArithmetic():
		if lk == KindInt && rk == KindInt {
			return &BinaryExpr{Op: op, LHS: lhs, RHS: rhs}, nil
		}
	case op == EQ || op == NE:
		if lk == rk && lk != KindInvalid {
			return &CondExpr{Op: op, LHS: lhs, RHS: rhs}, nil
		}
	case op.IsCompare():
		if lk == KindInt && rk == KindInt {
			return &CondExpr{Op: op, LHS: lhs, RHS: rhs}, nil
		}
	case op.IsLogical():
		if lk == KindBool && rk == KindBool {
			return &CondExpr{Op: op, LHS: lhs, RHS: rhs}, nil
		}
	default:
		return nil, fmt.Errorf("symex: invalid binary op: %s", op)
	}
	return nil, &TypeError{Op: op.Token(), Kinds: []Kind{lk, rk}}
}

// NewNegExpr returns the arithmetic negation of expr.
func NewNegExpr(expr Expr) (Expr, error) {
	if k := ExprKind(expr); k != KindInt {
		return nil, &TypeError{Op: "-", Kinds: []Kind{k}}
	}
	return &NegExpr{Expr: expr}, nil
}

// NewNotExpr returns the logical negation of expr.
func NewNotExpr(expr Expr) (Expr, error) {
	if k := ExprKind(expr); k != KindBool {
		return nil, &TypeError{Op: "!", Kinds: []Kind{k}}
	}
	return &NotExpr{Expr: expr}, nil
}

// Not returns the logical negation of a boolean expression. Panic if expr is
// not boolean.
func Not(expr Expr) Expr {
	assert(ExprKind(expr) == KindBool, "not: non-boolean expression: %s", expr)
	return &NotExpr{Expr: expr}
}

// VarExpr is a free integer constant.
type VarExpr struct {
	Name string
}

// String returns the name of the variable.
func (e *VarExpr) String() string { return e.Name }

// ConstantExpr is an integer literal.
type ConstantExpr struct {
	Value int64
}

// NewConstantExpr returns a new instance of ConstantExpr.
func NewConstantExpr(value int64) *ConstantExpr {
	return &ConstantExpr{Value: value}
}

// String returns the value in SMT-LIB form. Negative values are wrapped.
func (e *ConstantExpr) String() string {
	if e.Value < 0 {
		return "(- " + strconv.FormatUint(uint64(-e.Value), 10) + ")"
	}
	return strconv.FormatInt(e.Value, 10)
}

// BinaryExpr represents an arithmetic operation on two integer expressions.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

// NegExpr is the arithmetic negation of an integer expression.
type NegExpr struct {
	Expr Expr
}

// String returns the string representation of the expression.
func (e *NegExpr) String() string {
	return fmt.Sprintf("(- %s)", e.Expr)
}

// BoolVarExpr is a free boolean constant.
type BoolVarExpr struct {
	Name string
}

// String returns the name of the variable.
func (e *BoolVarExpr) String() string { return e.Name }

// BoolConstantExpr is a boolean literal.
type BoolConstantExpr struct {
	Value bool
}

// NewBoolConstantExpr returns a new instance of BoolConstantExpr.
func NewBoolConstantExpr(value bool) *BoolConstantExpr {
	return &BoolConstantExpr{Value: value}
}

// String returns "true" or "false".
func (e *BoolConstantExpr) String() string { return strconv.FormatBool(e.Value) }

// CondExpr is a comparison or a logical connective. Comparisons take integer
// operands except EQ & NE which accept two operands of the same kind.
// Connectives take boolean operands.
type CondExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// String returns the string representation of the expression.
func (e *CondExpr) String() string {
	if e.Op == NE {
		return fmt.Sprintf("(not (= %s %s))", e.LHS, e.RHS)
	}
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

// NotExpr is the logical negation of a boolean expression.
type NotExpr struct {
	Expr Expr
}

// String returns the string representation of the expression.
func (e *NotExpr) String() string {
	return fmt.Sprintf("(not %s)", e.Expr)
}

// CompareExpr returns an integer comparing two expressions.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareExpr(a, b Expr) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if ak, bk := exprKind(a), exprKind(b); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch a := a.(type) {
	case *VarExpr:
		return compareString(a.Name, b.(*VarExpr).Name)
	case *ConstantExpr:
		return compareInt(a.Value, b.(*ConstantExpr).Value)
	case *BinaryExpr:
		b := b.(*BinaryExpr)
		return compareOperands(a.Op, b.Op, a.LHS, b.LHS, a.RHS, b.RHS)
	case *NegExpr:
		return CompareExpr(a.Expr, b.(*NegExpr).Expr)
	case *BoolVarExpr:
		return compareString(a.Name, b.(*BoolVarExpr).Name)
	case *BoolConstantExpr:
		if x, y := a.Value, b.(*BoolConstantExpr).Value; x == y {
			return 0
		} else if !x {
			return -1
		}
		return 1
	case *CondExpr:
		b := b.(*CondExpr)
		return compareOperands(a.Op, b.Op, a.LHS, b.LHS, a.RHS, b.RHS)
	case *NotExpr:
		return CompareExpr(a.Expr, b.(*NotExpr).Expr)
	default:
		panic("unreachable")
	}
}

func compareOperands(aop, bop BinaryOp, alhs, blhs, arhs, brhs Expr) int {
	if aop < bop {
		return -1
	} else if aop > bop {
		return 1
	}
	if cmp := CompareExpr(alhs, blhs); cmp != 0 {
		return cmp
	}
	return CompareExpr(arhs, brhs)
}

func compareString(a, b string) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareInt(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// exprKind returns a numeric value for the type of expression.
// Only used internally for equality checks and sorting.
func exprKind(expr Expr) int {
	switch expr.(type) {
	case *ConstantExpr:
		return 1
	case *VarExpr:
		return 2
	case *BinaryExpr:
		return 3
	case *NegExpr:
		return 4
	case *BoolConstantExpr:
		return 5
	case *BoolVarExpr:
		return 6
	case *CondExpr:
		return 7
	case *NotExpr:
		return 8
	default:
		panic("unreachable")
	}
}

// ExprVisitor represents a visitor that can be passed to WalkExpr().
type ExprVisitor interface {
	// Executed for every visited node. Return nil to skip the children.
	Visit(expr Expr) ExprVisitor
}

// WalkExpr traverses expr depth-first. Expressions are never modified.
func WalkExpr(v ExprVisitor, expr Expr) {
	if v = v.Visit(expr); v == nil {
		return
	}

	switch expr := expr.(type) {
	case *BinaryExpr:
		WalkExpr(v, expr.LHS)
		WalkExpr(v, expr.RHS)
	case *CondExpr:
		WalkExpr(v, expr.LHS)
		WalkExpr(v, expr.RHS)
	case *NegExpr:
		WalkExpr(v, expr.Expr)
	case *NotExpr:
		WalkExpr(v, expr.Expr)
	case *VarExpr, *ConstantExpr, *BoolVarExpr, *BoolConstantExpr:
		// nop
	default:
		panic("unreachable")
	}
}

// Var identifies a free symbolic constant.
type Var struct {
	Name string
	Kind Kind
}

// String returns the variable as "name:kind".
func (v Var) String() string { return v.Name + ":" + v.Kind.String() }

// FreeVars returns all free variables in the expression trees, sorted by name.
// Nil expressions are ignored.
func FreeVars(exprs ...Expr) []Var {
	v := &varExprVisitor{m: make(map[string]Var)}
	for _, expr := range exprs {
		if expr != nil {
			WalkExpr(v, expr)
		}
	}

	a := make([]Var, 0, len(v.m))
	for _, x := range v.m {
		a = append(a, x)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Name < a[j].Name })
	return a
}

type varExprVisitor struct {
	m map[string]Var
}

func (v *varExprVisitor) Visit(expr Expr) ExprVisitor {
	switch expr := expr.(type) {
	case *VarExpr:
		if _, ok := v.m[expr.Name]; !ok {
			v.m[expr.Name] = Var{Name: expr.Name, Kind: KindInt}
		}
	case *BoolVarExpr:
		if _, ok := v.m[expr.Name]; !ok {
			v.m[expr.Name] = Var{Name: expr.Name, Kind: KindBool}
		}
	}
	return v
}

// Value is a concrete integer or boolean value.
type Value struct {
	Kind Kind
	Int  int64
	Bool bool
}

// IntValue returns an integer value.
func IntValue(v int64) Value { return Value{Kind: KindInt, Int: v} }

// BoolValue returns a boolean value.
func BoolValue(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// ZeroValue returns the zero value for a kind.
func ZeroValue(k Kind) Value { return Value{Kind: k} }

// String returns the value as a decimal integer or "true"/"false".
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return "<invalid>"
	}
}

// Model is a concrete assignment of values to free variables.
type Model map[string]Value

// Names returns the assigned variable names in sorted order.
func (m Model) Names() []string {
	a := make([]string, 0, len(m))
	for name := range m {
		a = append(a, name)
	}
	sort.Strings(a)
	return a
}

// ExprEvaluator evaluates expressions against a model.
type ExprEvaluator struct {
	m Model
}

// NewExprEvaluator returns a new instance of ExprEvaluator.
func NewExprEvaluator(m Model) *ExprEvaluator {
	return &ExprEvaluator{m: m}
}

// Evaluate evaluates expr to a concrete value using SMT-LIB integer semantics.
// Variables missing from the model evaluate to the zero value of their kind.
// Returns ErrDivisionByZero if a divisor evaluates to zero.
func (ee *ExprEvaluator) Evaluate(expr Expr) (Value, error) {
	switch expr := expr.(type) {
	case *VarExpr:
		if v, ok := ee.m[expr.Name]; ok {
			assert(v.Kind == KindInt, "model value kind mismatch: %s=%s", expr.Name, v.Kind)
			return v, nil
		}
		return ZeroValue(KindInt), nil
	case *BoolVarExpr:
		if v, ok := ee.m[expr.Name]; ok {
			assert(v.Kind == KindBool, "model value kind mismatch: %s=%s", expr.Name, v.Kind)
			return v, nil
		}
		return ZeroValue(KindBool), nil
	case *ConstantExpr:
		return IntValue(expr.Value), nil
	case *BoolConstantExpr:
		return BoolValue(expr.Value), nil
	case *NegExpr:
		x, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return Value{}, err
		}
		return IntValue(-x.Int), nil
	case *NotExpr:
		x, err := ee.Evaluate(expr.Expr)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(!x.Bool), nil
	case *BinaryExpr:
		return ee.evaluateBinaryExpr(expr)
	case *CondExpr:
		return ee.evaluateCondExpr(expr)
	default:
		return Value{}, fmt.Errorf("invalid expression type: %T", expr)
	}
}

func (ee *ExprEvaluator) evaluateBinaryExpr(expr *BinaryExpr) (Value, error) {
	lhs, err := ee.Evaluate(expr.LHS)
	if err != nil {
		return Value{}, err
	}
	rhs, err := ee.Evaluate(expr.RHS)
	if err != nil {
		return Value{}, err
	}

	x, y := lhs.Int, rhs.Int
	switch expr.Op {
	case ADD:
		return IntValue(x + y), nil
	case SUB:
		return IntValue(x - y), nil
	case MUL:
		return IntValue(x * y), nil
	case DIV:
		if y == 0 {
			return Value{}, ErrDivisionByZero
		}
		q, _ := euclid(x, y)
		return IntValue(q), nil
	case REM:
		if y == 0 {
			return Value{}, ErrDivisionByZero
		}
		_, r := euclid(x, y)
		return IntValue(r), nil
	default:
		return Value{}, fmt.Errorf("unexpected arithmetic operation: %s", expr.Op)
	}
}

func (ee *ExprEvaluator) evaluateCondExpr(expr *CondExpr) (Value, error) {
	lhs, err := ee.Evaluate(expr.LHS)
	if err != nil {
		return Value{}, err
	}

	// Short circuit connectives so an unevaluable RHS does not fail a
	// decided expression.
	switch expr.Op {
	case AND:
		if !lhs.Bool {
			return BoolValue(false), nil
		}
		return ee.Evaluate(expr.RHS)
	case OR:
		if lhs.Bool {
			return BoolValue(true), nil
		}
		return ee.Evaluate(expr.RHS)
	}

	rhs, err := ee.Evaluate(expr.RHS)
	if err != nil {
		return Value{}, err
	}

	switch expr.Op {
	case EQ:
		return BoolValue(lhs == rhs), nil
	case NE:
		return BoolValue(lhs != rhs), nil
	case LT:
		return BoolValue(lhs.Int < rhs.Int), nil
	case LE:
		return BoolValue(lhs.Int <= rhs.Int), nil
	case GT:
		return BoolValue(lhs.Int > rhs.Int), nil
	case GE:
		return BoolValue(lhs.Int >= rhs.Int), nil
	default:
		return Value{}, fmt.Errorf("unexpected condition operation: %s", expr.Op)
	}
}

// euclid returns the SMT-LIB quotient and remainder of x divided by y. The
// remainder is always non-negative. Panic if y is zero.
func euclid(x, y int64) (q, r int64) {
	r = x % y
	if r < 0 {
		if y > 0 {
			r += y
		} else {
			r -= y
		}
	}
	return (x - r) / y, r
}
