package symex

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
	"github.com/benbjohnson/symex/ast"
)

// State maps variable names to their current symbolic expressions.
//
// The mapping is a persistent sorted map so Clone is constant time and a
// write on one clone is never visible through another.
type State struct {
	vars *immutable.SortedMap
}

// NewState returns a new, empty instance of State.
func NewState() *State {
	return &State{vars: immutable.NewSortedMap(&stringComparer{})}
}

// SetVar binds name to expr, replacing any previous binding.
func (s *State) SetVar(name string, expr Expr) {
	assert(expr != nil, "set var: nil expression: %s", name)
	s.vars = s.vars.Set(name, expr)
}

// GetVar returns the expression bound to name.
func (s *State) GetVar(name string) (Expr, bool) {
	v, ok := s.vars.Get(name)
	if !ok {
		return nil, false
	}
	return v.(Expr), true
}

// Len returns the number of bound variables.
func (s *State) Len() int { return s.vars.Len() }

// Names returns the bound variable names in sorted order.
func (s *State) Names() []string {
	a := make([]string, 0, s.vars.Len())
	itr := s.vars.Iterator()
	for !itr.Done() {
		k, _ := itr.Next()
		a = append(a, k.(string))
	}
	return a
}

// Clone returns an independent copy of the state. Expressions are shared.
func (s *State) Clone() *State {
	return &State{vars: s.vars}
}

// Dump returns the bindings as a string, one per line.
func (s *State) Dump() string {
	var buf bytes.Buffer
	itr := s.vars.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		fmt.Fprintf(&buf, "%s = %s\n", k.(string), v.(Expr).String())
	}
	return buf.String()
}

// PathCondition is the conjunction of branch constraints along one path.
// Constraints are append-only; clones never observe each other's appends.
type PathCondition struct {
	list *immutable.List
}

// NewPathCondition returns a path condition holding the given constraints.
func NewPathCondition(constraints ...Expr) *PathCondition {
	pc := &PathCondition{list: immutable.NewList()}
	for _, expr := range constraints {
		pc.AddConstraint(expr)
	}
	return pc
}

// Clone returns an independent copy of the path condition.
func (pc *PathCondition) Clone() *PathCondition {
	return &PathCondition{list: pc.list}
}

// AddConstraint appends a boolean constraint. Duplicates and tautologies are
// kept as is. Panic if expr is not boolean.
func (pc *PathCondition) AddConstraint(expr Expr) {
	assert(ExprKind(expr) == KindBool, "add constraint: non-boolean expression: %v", expr)
	pc.list = pc.list.Append(expr)
}

// Len returns the number of constraints.
func (pc *PathCondition) Len() int { return pc.list.Len() }

// Constraints returns the constraints in the order they were added.
func (pc *PathCondition) Constraints() []Expr {
	a := make([]Expr, pc.list.Len())
	for i := range a {
		a[i] = pc.list.Get(i).(Expr)
	}
	return a
}

// Strings returns each constraint in SMT-LIB form.
func (pc *PathCondition) Strings() []string {
	a := make([]string, pc.list.Len())
	for i := range a {
		a[i] = pc.list.Get(i).(Expr).String()
	}
	return a
}

// IsSatisfiable asserts every constraint into a fresh solver scope and
// checks it. An empty path condition is satisfiable without a solver call.
func (pc *PathCondition) IsSatisfiable(solver Solver) (Verdict, error) {
	if pc.Len() == 0 {
		return Sat, nil
	}
	verdict, _, err := solver.Solve(pc.Constraints(), nil)
	return verdict, err
}

// Model re-asserts all constraints and returns a satisfying assignment that
// includes a value for each of vars. Returns ErrUnsatisfiable if there is
// no such assignment and a solver error if the solver cannot decide.
func (pc *PathCondition) Model(solver Solver, vars ...Var) (Model, error) {
	verdict, model, err := solver.Solve(pc.Constraints(), vars)
	switch {
	case verdict == Sat && err == nil:
		return model, nil
	case verdict == Unsat:
		return nil, ErrUnsatisfiable
	case err != nil:
		return nil, err
	default:
		return nil, ErrSolverUnknown
	}
}

// ExecutionState represents a path under exploration.
type ExecutionState struct {
	id int

	// Executor this is executed within.
	executor *Executor

	// Execution hierarchy.
	parent   *ExecutionState
	children []*ExecutionState

	// Continuation stack of statement blocks.
	stack []*StackFrame

	// Shows whether state is running, finished, or terminated by error state.
	status ExecutionStatus
	reason string
	err    error

	// Variable bindings & constraints collected so far during execution.
	state *State
	pc    *PathCondition

	// Symbolic return value, if the path returned with a value.
	ret Expr

	// Number of forks between the root state and this state.
	depth int
}

// NewExecutionState returns a root state for fn with every parameter bound
// to a fresh symbolic variable of its declared type.
func NewExecutionState(executor *Executor, fn *ast.Function) *ExecutionState {
	s := &ExecutionState{
		executor: executor,
		status:   ExecutionStatusRunning,
		state:    NewState(),
		pc:       NewPathCondition(),
	}
	for _, p := range fn.Params {
		if p.Type == ast.TypeBool {
			s.state.SetVar(p.Name, &BoolVarExpr{Name: p.Name})
		} else {
			s.state.SetVar(p.Name, &VarExpr{Name: p.Name})
		}
	}
	s.Push(fn.Body)
	return s
}

// ID returns an autoincrementing ID assigned by the executor.
func (s *ExecutionState) ID() int { return s.id }

// Executor returns the parent executor of this state.
func (s *ExecutionState) Executor() *Executor { return s.executor }

// Parent returns the state this state was forked from.
func (s *ExecutionState) Parent() *ExecutionState { return s.parent }

// State returns the variable bindings of the path.
func (s *ExecutionState) State() *State { return s.state }

// PathCondition returns the constraints of the path.
func (s *ExecutionState) PathCondition() *PathCondition { return s.pc }

// Constraints returns the constraints of the path.
func (s *ExecutionState) Constraints() []Expr { return s.pc.Constraints() }

// AddConstraint adds a constraint to the state.
func (s *ExecutionState) AddConstraint(expr Expr) { s.pc.AddConstraint(expr) }

// Return returns the symbolic return value. Nil if the path has not
// returned or returned without a value.
func (s *ExecutionState) Return() Expr { return s.ret }

// Depth returns the number of forks between the root state and s.
func (s *ExecutionState) Depth() int { return s.depth }

// Status returns the current status of the state.
// See Reason() for additional information if status is in an error state.
func (s *ExecutionState) Status() ExecutionStatus { return s.status }

// Reason returns additional information about the status of the state.
func (s *ExecutionState) Reason() string { return s.reason }

// Err returns the error that failed the state, if any.
func (s *ExecutionState) Err() error { return s.err }

// Terminated returns true if the state completes execution of a path.
func (s *ExecutionState) Terminated() bool {
	return s.status != ExecutionStatusRunning
}

// Frame returns the current stack frame.
func (s *ExecutionState) Frame() *StackFrame {
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

// Stmt returns the current statement.
func (s *ExecutionState) Stmt() ast.Stmt {
	if frame := s.Frame(); frame != nil {
		return frame.Stmt()
	}
	return nil
}

// Position returns the position of the current statement.
func (s *ExecutionState) Position() ast.Pos {
	if stmt := s.Stmt(); stmt != nil {
		return stmt.Position()
	}
	return ast.Pos{}
}

// Push adds a block to the top of the continuation stack.
func (s *ExecutionState) Push(stmts []ast.Stmt) {
	s.stack = append(s.stack, NewStackFrame(stmts))
}

// Pop removes the top block from the continuation stack.
func (s *ExecutionState) Pop() {
	s.stack[len(s.stack)-1] = nil
	s.stack = s.stack[:len(s.stack)-1]
}

// Clone returns a copy of the state including copies of the stack, bindings,
// and constraints. However, this does not clone child states.
func (s *ExecutionState) Clone() *ExecutionState {
	stack := make([]*StackFrame, len(s.stack))
	for i := range s.stack {
		stack[i] = s.stack[i].Clone()
	}

	return &ExecutionState{
		executor: s.executor,
		parent:   s.parent,
		status:   s.status,
		stack:    stack,
		state:    s.state.Clone(),
		pc:       s.pc.Clone(),
		ret:      s.ret,
		depth:    s.depth,
	}
}

// Fork returns a child copy of the given state with the additional constraint.
func (s *ExecutionState) Fork(constraint Expr) *ExecutionState {
	child := s.Clone()
	child.parent = s
	child.depth = s.depth + 1
	if constraint != nil {
		child.AddConstraint(constraint)
	}
	s.children = append(s.children, child)
	return child
}

// Forked returns true if state has a child state.
func (s *ExecutionState) Forked() bool {
	return len(s.children) > 0
}

// Done returns true if the state has terminated or forked.
func (s *ExecutionState) Done() bool {
	return s.Terminated() || s.Forked()
}

// finish marks the state as returned with the given value.
func (s *ExecutionState) finish(ret Expr) {
	s.ret = ret
	s.status = ExecutionStatusFinished
}

// fail marks the state as failed by err.
func (s *ExecutionState) fail(err error) {
	s.status, s.reason, s.err = ExecutionStatusFailed, err.Error(), err
}

// Dump returns the contents of the state as a string.
func (s *ExecutionState) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "EXECUTION STATE")
	fmt.Fprintln(&buf, "===============")
	fmt.Fprintf(&buf, "id=%d\n", s.id)
	fmt.Fprintf(&buf, "status=%s\n", s.status)
	fmt.Fprintf(&buf, "reason=%s\n", s.reason)
	fmt.Fprintf(&buf, "depth=%d\n", s.depth)
	if s.ret != nil {
		fmt.Fprintf(&buf, "return=%s\n", s.ret)
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== VARS")
	fmt.Fprint(&buf, s.state.Dump())
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== CONSTRAINTS")
	for i, expr := range s.pc.Constraints() {
		fmt.Fprintf(&buf, "%d. %s\n", i, expr.String())
	}
	return buf.String()
}

// ExecutionStatus represents the current status of the execution state.
// The state will also include a reason if the status is failed.
type ExecutionStatus string

const (
	ExecutionStatusRunning     = ExecutionStatus("running")     // has future states
	ExecutionStatusFinished    = ExecutionStatus("finished")    // returned
	ExecutionStatusFailed      = ExecutionStatus("failed")      // unsupported construct, type or solver error
	ExecutionStatusFallthrough = ExecutionStatus("fallthrough") // ran off the end without a return
)

// StackFrame is a position within a block of statements.
type StackFrame struct {
	stmts []ast.Stmt
	pc    int
}

// NewStackFrame returns a frame positioned before the first statement.
func NewStackFrame(stmts []ast.Stmt) *StackFrame {
	return &StackFrame{stmts: stmts, pc: -1}
}

// Stmt returns the current statement.
func (f *StackFrame) Stmt() ast.Stmt {
	if f.pc < 0 || f.pc >= len(f.stmts) {
		return nil
	}
	return f.stmts[f.pc]
}

// NextStmt moves the frame to the next statement.
func (f *StackFrame) NextStmt() {
	if f.pc < len(f.stmts) {
		f.pc++
	}
}

// Clone returns a copy of the frame. Statements are shared.
func (f *StackFrame) Clone() *StackFrame {
	other := *f
	return &other
}

// stringComparer compares two strings. Implements immutable.Comparer.
type stringComparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not a string.
func (c *stringComparer) Compare(a, b interface{}) int {
	return compareString(a.(string), b.(string))
}
