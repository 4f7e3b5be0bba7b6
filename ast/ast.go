// Package ast defines the syntax tree consumed by the symbolic executor.
//
// Trees are produced by a front end (see the gosrc package) and are assumed
// to be well formed. The executor never mutates them.
package ast

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Pos is a source position. The zero value is an unknown position.
type Pos struct {
	Filename string
	Line     int
	Column   int
}

// IsValid returns true if the position has a line number.
func (p Pos) IsValid() bool { return p.Line > 0 }

// String returns the position as "file:line:col".
func (p Pos) String() string {
	if !p.IsValid() {
		if p.Filename != "" {
			return p.Filename
		}
		return "-"
	}
	s := strconv.Itoa(p.Line) + ":" + strconv.Itoa(p.Column)
	if p.Filename != "" {
		s = p.Filename + ":" + s
	}
	return s
}

// Type is the declared type of a parameter or function result.
type Type int

const (
	TypeInvalid = Type(iota)
	TypeInt
	TypeBool
)

// String returns the lowercase name of the type.
func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	default:
		return fmt.Sprintf("Type<%d>", int(t))
	}
}

// Function is a function definition.
type Function struct {
	Name   string
	Params []*Param
	Result Type
	Body   []Stmt
	Pos    Pos
}

// String returns a one line signature for the function.
func (f *Function) String() string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.Name + " " + p.Type.String()
	}
	s := fmt.Sprintf("func %s(%s)", f.Name, strings.Join(params, ", "))
	if f.Result != TypeInvalid {
		s += " " + f.Result.String()
	}
	return s
}

// Param is a function parameter.
type Param struct {
	Name string
	Type Type
}

// Stmt represents a statement node.
type Stmt interface {
	Node
	stmt()
}

func (*LetStmt) stmt()         {}
func (*AssignStmt) stmt()      {}
func (*IfStmt) stmt()          {}
func (*ReturnStmt) stmt()      {}
func (*UnsupportedStmt) stmt() {}

// Expr represents an expression node.
type Expr interface {
	Node
	expr()
}

func (*NumberLit) expr()       {}
func (*BoolLit) expr()         {}
func (*Ident) expr()           {}
func (*BinaryExpr) expr()      {}
func (*UnaryExpr) expr()       {}
func (*FieldExpr) expr()       {}
func (*CallExpr) expr()        {}
func (*UnsupportedExpr) expr() {}

// Node is implemented by all statements and expressions.
type Node interface {
	Position() Pos
	String() string
}

// LetStmt binds a new local variable.
type LetStmt struct {
	Name  string
	Value Expr
	Pos   Pos
}

// AssignStmt rebinds an existing variable. Target is usually an *Ident but
// may be a *FieldExpr, which the executor does not model.
type AssignStmt struct {
	Target Expr
	Value  Expr
	Pos    Pos
}

// IfStmt is a conditional. Else is nil when no else branch exists. An
// "else if" chain is represented as an Else block holding a single IfStmt.
type IfStmt struct {
	Cond Expr
	Then []Stmt
	Else []Stmt
	Pos  Pos
}

// HasElse returns true if the conditional has an else branch.
func (s *IfStmt) HasElse() bool { return s.Else != nil }

// ReturnStmt terminates the function. Value is nil for a bare return.
type ReturnStmt struct {
	Value Expr
	Pos   Pos
}

// UnsupportedStmt is a statement the front end recognized but the executor
// does not model, such as a loop. Kind names the construct ("while", "for").
type UnsupportedStmt struct {
	Kind string
	Pos  Pos
}

// NumberLit is an integer literal.
type NumberLit struct {
	Value int64
	Pos   Pos
}

// BoolLit is a boolean literal.
type BoolLit struct {
	Value bool
	Pos   Pos
}

// Ident is a variable reference.
type Ident struct {
	Name string
	Pos  Pos
}

// BinaryExpr is a binary operation. Op is the operator token, e.g. "+", ">=".
type BinaryExpr struct {
	Op  string
	LHS Expr
	RHS Expr
	Pos Pos
}

// UnaryExpr is a unary operation. Op is "-" or "!".
type UnaryExpr struct {
	Op  string
	X   Expr
	Pos Pos
}

// FieldExpr is a field access, e.g. "self.x".
type FieldExpr struct {
	X     Expr
	Field string
	Pos   Pos
}

// CallExpr is a function call.
type CallExpr struct {
	Fn   Expr
	Args []Expr
	Pos  Pos
}

// UnsupportedExpr is an expression the front end could not map to any of the
// other node types. Kind names the construct.
type UnsupportedExpr struct {
	Kind string
	Pos  Pos
}

func (s *LetStmt) Position() Pos         { return s.Pos }
func (s *AssignStmt) Position() Pos      { return s.Pos }
func (s *IfStmt) Position() Pos          { return s.Pos }
func (s *ReturnStmt) Position() Pos      { return s.Pos }
func (s *UnsupportedStmt) Position() Pos { return s.Pos }
func (e *NumberLit) Position() Pos       { return e.Pos }
func (e *BoolLit) Position() Pos         { return e.Pos }
func (e *Ident) Position() Pos           { return e.Pos }
func (e *BinaryExpr) Position() Pos      { return e.Pos }
func (e *UnaryExpr) Position() Pos       { return e.Pos }
func (e *FieldExpr) Position() Pos       { return e.Pos }
func (e *CallExpr) Position() Pos        { return e.Pos }
func (e *UnsupportedExpr) Position() Pos { return e.Pos }

func (s *LetStmt) String() string {
	return fmt.Sprintf("let %s = %s;", s.Name, s.Value)
}

func (s *AssignStmt) String() string {
	return fmt.Sprintf("%s = %s;", s.Target, s.Value)
}

func (s *IfStmt) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "if (%s) %s", s.Cond, blockString(s.Then))
	if s.HasElse() {
		fmt.Fprintf(&buf, " else %s", blockString(s.Else))
	}
	return buf.String()
}

func (s *ReturnStmt) String() string {
	if s.Value == nil {
		return "return;"
	}
	return fmt.Sprintf("return %s;", s.Value)
}

func (s *UnsupportedStmt) String() string { return s.Kind + " { ... }" }

func (e *NumberLit) String() string       { return strconv.FormatInt(e.Value, 10) }
func (e *BoolLit) String() string         { return strconv.FormatBool(e.Value) }
func (e *Ident) String() string           { return e.Name }
func (e *BinaryExpr) String() string      { return fmt.Sprintf("(%s %s %s)", e.LHS, e.Op, e.RHS) }
func (e *UnaryExpr) String() string       { return e.Op + e.X.String() }
func (e *FieldExpr) String() string       { return e.X.String() + "." + e.Field }
func (e *UnsupportedExpr) String() string { return "<" + e.Kind + ">" }

func (e *CallExpr) String() string {
	args := make([]string, len(e.Args))
	for i := range e.Args {
		args[i] = e.Args[i].String()
	}
	return fmt.Sprintf("%s(%s)", e.Fn, strings.Join(args, ", "))
}

func blockString(a []Stmt) string {
	if len(a) == 0 {
		return "{}"
	}
	parts := make([]string, len(a))
	for i := range a {
		parts[i] = a[i].String()
	}
	return "{ " + strings.Join(parts, " ") + " }"
}
