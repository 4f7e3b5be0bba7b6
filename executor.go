package symex

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/benbjohnson/symex/ast"
	"go.uber.org/zap"
)

// errNoStmtAvailable is returned internally when a path runs out of
// statements without returning.
var errNoStmtAvailable = errors.New("symex: no statement available")

// Executor explores the feasible paths of a single function.
type Executor struct {
	fn         *ast.Function   // entry function
	root       *ExecutionState // initial state
	stateIDSeq int             // autoincrementing state ID
	started    bool            // root state added to searcher

	// Used for pruning infeasible branches.
	// Must set before execution.
	Solver Solver

	// Search strategy for the executor. Defaults to depth-first.
	Searcher Searcher

	// Maximum number of forks along a single path. A path that would fork
	// beyond this depth fails with ErrDepthExceeded. Zero is unlimited.
	MaxDepth int

	// Maximum number of states created. Exploration stops with
	// ErrStateLimit once exceeded. Zero is unlimited.
	MaxStates int

	// Receives debug events for forks, prunes, and terminations.
	// Defaults to a no-op logger.
	Logger *zap.Logger
}

// NewExecutor returns a new instance of Executor for fn.
//
// The root state binds each parameter to a fresh symbolic variable. Callers
// may seed additional bindings or constraints through RootState() before
// the first call to ExecuteNextState().
func NewExecutor(fn *ast.Function) *Executor {
	e := &Executor{
		fn:       fn,
		Searcher: NewDFSSearcher(),
		Logger:   zap.NewNop(),
	}

	// Initialize entry state.
	e.root = NewExecutionState(e, fn)
	e.root.id = e.nextStateID()
	return e
}

// Function returns the entry function.
func (e *Executor) Function() *ast.Function { return e.fn }

// RootState returns the initial state for the function execution.
func (e *Executor) RootState() *ExecutionState { return e.root }

// nextStateID returns the next autoincrementing state ID.
func (e *Executor) nextStateID() int {
	e.stateIDSeq++
	return e.stateIDSeq
}

// Execute explores every feasible path and returns one result per path that
// returned or failed, in exploration order. Paths that fall off the end of
// the function without returning contribute no result.
func (e *Executor) Execute(ctx context.Context) ([]*ExecutionResult, error) {
	var results []*ExecutionResult
	for {
		state, err := e.ExecuteNextState(ctx)
		if err == ErrNoStateAvailable {
			return results, nil
		} else if err != nil {
			return results, err
		}

		switch state.Status() {
		case ExecutionStatusFinished, ExecutionStatusFailed:
			results = append(results, NewExecutionResult(state))
		}
	}
}

// ExecuteNextState executes the next available state until it forks or
// terminates. This can be called continually until ErrNoStateAvailable is
// returned.
func (e *Executor) ExecuteNextState(ctx context.Context) (*ExecutionState, error) {
	if e.Solver == nil {
		return nil, errors.New("symex: solver required")
	}

	// Add the root state on first call.
	if !e.started {
		e.started = true
		e.Searcher.AddState(e.root)
	}

	state := e.Searcher.SelectState()
	if state == nil {
		return nil, ErrNoStateAvailable
	}

	// States may be terminated before they are selected.
	if state.Terminated() {
		return state, nil
	}

	e.Logger.Debug("state begin", zap.Int("state", state.ID()), zap.Int("depth", state.Depth()))

	// Loop until new states available or completion.
	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		if err := e.executeNextStmt(state); err == errNoStmtAvailable {
			state.status = ExecutionStatusFallthrough
			e.Logger.Debug("fallthrough", zap.Int("state", state.ID()))
			break
		} else if err != nil {
			return state, err
		} else if state.Done() {
			break
		}
	}
	return state, nil
}

func (e *Executor) executeNextStmt(state *ExecutionState) error {
	// Find the next available statement on the current frame or pop up to
	// the enclosing block if no more statements remain. If no more frames
	// exist then the path fell through.
	for {
		frame := state.Frame()
		if frame == nil {
			return errNoStmtAvailable
		}

		// Continue if statement exists.
		frame.NextStmt()
		if frame.Stmt() != nil {
			break
		}
		state.Pop()
	}

	stmt := state.Stmt()
	e.Logger.Debug("exec",
		zap.Int("state", state.ID()),
		zap.Stringer("pos", stmt.Position()),
		zap.Stringer("stmt", stmt),
	)

	switch stmt := stmt.(type) {
	case *ast.LetStmt:
		return e.executeLetStmt(state, stmt)
	case *ast.AssignStmt:
		return e.executeAssignStmt(state, stmt)
	case *ast.IfStmt:
		return e.executeIfStmt(state, stmt)
	case *ast.ReturnStmt:
		return e.executeReturnStmt(state, stmt)
	case *ast.UnsupportedStmt:
		e.failState(state, &UnsupportedError{Construct: stmt.Kind, Pos: stmt.Pos})
		return nil
	default:
		e.failState(state, &UnsupportedError{Construct: fmt.Sprintf("%T", stmt), Pos: stmt.Position()})
		return nil
	}
}

func (e *Executor) executeLetStmt(state *ExecutionState, stmt *ast.LetStmt) error {
	v, err := Eval(stmt.Value, state.state)
	if err != nil {
		e.failState(state, err)
		return nil
	}
	state.state.SetVar(stmt.Name, v)
	return nil
}

func (e *Executor) executeAssignStmt(state *ExecutionState, stmt *ast.AssignStmt) error {
	ident, ok := stmt.Target.(*ast.Ident)
	if !ok {
		e.failState(state, &UnsupportedError{Construct: "assignment to " + stmt.Target.String(), Pos: stmt.Pos})
		return nil
	}

	v, err := Eval(stmt.Value, state.state)
	if err != nil {
		e.failState(state, err)
		return nil
	}
	state.state.SetVar(ident.Name, v)
	return nil
}

func (e *Executor) executeReturnStmt(state *ExecutionState, stmt *ast.ReturnStmt) error {
	var ret Expr
	if stmt.Value != nil {
		v, err := Eval(stmt.Value, state.state)
		if err != nil {
			e.failState(state, err)
			return nil
		}
		ret = v
	}
	state.finish(ret)

	e.Logger.Debug("return", zap.Int("state", state.ID()), zap.Stringer("pos", stmt.Pos), exprField("value", ret))
	return nil
}

// executeIfStmt forks state into a "then" child constrained by the guard and
// an "else" child constrained by its negation. Each child is kept only if its
// path condition is satisfiable. The negated child is forked even when the
// else block is absent; it then resumes with the statements after the
// conditional. For example "if false { return 1 }; return 2" yields a single
// result with path condition [(not false)] returning 2.
func (e *Executor) executeIfStmt(state *ExecutionState, stmt *ast.IfStmt) error {
	cond, err := Eval(stmt.Cond, state.state)
	if err != nil {
		e.failState(state, err)
		return nil
	} else if k := ExprKind(cond); k != KindBool {
		e.failState(state, &TypeError{Op: "if", Kinds: []Kind{k}, Pos: stmt.Pos})
		return nil
	} else if e.MaxDepth > 0 && state.Depth() >= e.MaxDepth {
		e.failState(state, fmt.Errorf("%s: %w", stmt.Pos, ErrDepthExceeded))
		return nil
	}

	// Fork the "then" side with the guard. The "else" side is forked from the
	// same pre-fork parent with the negated guard. Without an else block the
	// negated side resumes after the conditional.
	var children []*ExecutionState
	if child, err := e.fork(state, cond, stmt.Then, "then"); err != nil {
		return err
	} else if child != nil {
		children = append(children, child)
	}
	if child, err := e.fork(state, Not(cond), stmt.Else, "else"); err != nil {
		return err
	} else if child != nil {
		children = append(children, child)
	}

	// Add in reverse so a depth-first searcher explores "then" first.
	for i := len(children) - 1; i >= 0; i-- {
		e.Searcher.AddState(children[i])
	}

	// A parent with no feasible side is a dead end and yields no result.
	if !state.Forked() {
		state.status = ExecutionStatusFallthrough
		e.Logger.Debug("dead end", zap.Int("state", state.ID()), zap.Stringer("pos", stmt.Pos))
	}
	return nil
}

// fork returns a feasible child of state constrained by constraint and
// positioned at the start of block. Returns nil if the child is infeasible.
// A child whose feasibility cannot be decided is returned as failed.
func (e *Executor) fork(state *ExecutionState, constraint Expr, block []ast.Stmt, branch string) (*ExecutionState, error) {
	if e.MaxStates > 0 && e.stateIDSeq >= e.MaxStates {
		return nil, ErrStateLimit
	}

	child := state.Fork(constraint)
	child.id = e.nextStateID()
	if len(block) > 0 {
		child.Push(block)
	}

	verdict, err := child.pc.IsSatisfiable(e.Solver)
	switch {
	case err != nil:
		e.failState(child, fmt.Errorf("%s branch at %s: %w", branch, state.Position(), err))
		return child, nil
	case verdict == Unsat:
		e.Logger.Debug("prune",
			zap.Int("state", child.ID()),
			zap.String("branch", branch),
			zap.Stringer("constraint", constraint),
		)
		state.children = state.children[:len(state.children)-1]
		return nil, nil
	case verdict == Unknown:
		e.failState(child, fmt.Errorf("%s branch at %s: %w", branch, state.Position(), ErrSolverUnknown))
		return child, nil
	}

	e.Logger.Debug("fork",
		zap.Int("state", child.ID()),
		zap.Int("parent", state.ID()),
		zap.String("branch", branch),
		zap.Stringer("constraint", constraint),
	)
	return child, nil
}

// exprField returns a log field for expr. Skipped if expr is nil.
func exprField(key string, expr Expr) zap.Field {
	if expr == nil {
		return zap.Skip()
	}
	return zap.Stringer(key, expr)
}

// failState marks state as failed and logs the reason.
func (e *Executor) failState(state *ExecutionState, err error) {
	state.fail(err)
	e.Logger.Debug("fail", zap.Int("state", state.ID()), zap.Error(err))
}

// Verdict is the answer of a satisfiability check.
type Verdict int

const (
	Unknown = Verdict(iota)
	Sat
	Unsat
)

// String returns "sat", "unsat", or "unknown".
func (v Verdict) String() string {
	switch v {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// Solver represents a logical constraint solver.
type Solver interface {
	// Returns the satisfiability of the conjunction of constraints in a fresh
	// scope. If the formula is satisfiable, the returned model holds every
	// constant declared while solving plus a value for each of vars.
	//
	// An Unknown verdict may be accompanied by an error describing why the
	// solver gave up, such as ErrSolverTimeout.
	Solve(constraints []Expr, vars []Var) (Verdict, Model, error)
}

// Searcher represents a strategy for finding the next execution state to execute.
type Searcher interface {
	// Returns the next state to explore.
	SelectState() *ExecutionState

	// Adds states to the current searcher.
	AddState(state *ExecutionState)
}

// DFSSearcher represents a searcher with a depth-first search strategy.
type DFSSearcher struct {
	states []*ExecutionState
}

// NewDFSSearcher returns a new instance of DFSSearcher.
func NewDFSSearcher() *DFSSearcher {
	return &DFSSearcher{}
}

// SelectState returns the next execution state to explore.
func (s *DFSSearcher) SelectState() *ExecutionState {
	if len(s.states) == 0 {
		return nil
	}
	state := s.states[len(s.states)-1]
	s.states = s.states[:len(s.states)-1]
	return state
}

// AddState adds a new state to the searcher.
func (s *DFSSearcher) AddState(state *ExecutionState) {
	s.states = append(s.states, state)
}

// BFSSearcher represents a searcher with a breadth-first search strategy.
type BFSSearcher struct {
	states []*ExecutionState
}

// NewBFSSearcher returns a new instance of BFSSearcher.
func NewBFSSearcher() *BFSSearcher {
	return &BFSSearcher{}
}

// SelectState returns the next execution state to explore.
func (s *BFSSearcher) SelectState() *ExecutionState {
	if len(s.states) == 0 {
		return nil
	}
	state := s.states[0]
	s.states[0] = nil
	s.states = s.states[1:]
	return state
}

// AddState adds a new state to the searcher.
func (s *BFSSearcher) AddState(state *ExecutionState) {
	s.states = append(s.states, state)
}

// RandomSearcher represents a searcher that selects states at random.
type RandomSearcher struct {
	rand   *rand.Rand
	states []*ExecutionState
}

// NewRandomSearcher returns a new instance of RandomSearcher.
func NewRandomSearcher(rand *rand.Rand) *RandomSearcher {
	return &RandomSearcher{rand: rand}
}

// SelectState returns a random execution state to explore.
func (s *RandomSearcher) SelectState() *ExecutionState {
	if len(s.states) == 0 {
		return nil
	}
	i := s.rand.Intn(len(s.states))
	state := s.states[i]
	s.states[i] = s.states[len(s.states)-1]
	s.states[len(s.states)-1] = nil
	s.states = s.states[:len(s.states)-1]
	return state
}

// AddState adds a new state to the searcher.
func (s *RandomSearcher) AddState(state *ExecutionState) {
	s.states = append(s.states, state)
}

// NewSearcher returns a searcher by name: "dfs", "bfs", or "random".
func NewSearcher(name string, seed int64) (Searcher, error) {
	switch name {
	case "", "dfs":
		return NewDFSSearcher(), nil
	case "bfs":
		return NewBFSSearcher(), nil
	case "random":
		return NewRandomSearcher(rand.New(rand.NewSource(seed))), nil
	default:
		return nil, fmt.Errorf("symex: unknown search strategy: %q", name)
	}
}
