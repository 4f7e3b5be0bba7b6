package symex

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/symex/ast"
)

// ExecutionResult is the immutable record of one terminated path.
type ExecutionResult struct {
	// Bindings & constraints at termination.
	State         *State
	PathCondition *PathCondition

	// Symbolic return value. Nil for a bare return or a failed path.
	Return Expr

	// Finished or failed. Failed results carry the reason & error.
	Status ExecutionStatus
	Reason string
	Err    error

	// ID of the execution state that produced the result.
	StateID int
}

// NewExecutionResult returns a result from a terminated state.
func NewExecutionResult(state *ExecutionState) *ExecutionResult {
	assert(state.Terminated(), "result from running state: id=%d", state.ID())
	return &ExecutionResult{
		State:         state.State().Clone(),
		PathCondition: state.PathCondition().Clone(),
		Return:        state.Return(),
		Status:        state.Status(),
		Reason:        state.Reason(),
		Err:           state.Err(),
		StateID:       state.ID(),
	}
}

// Failed returns true if the path was abandoned with an error.
func (r *ExecutionResult) Failed() bool { return r.Status == ExecutionStatusFailed }

// OutcomeKind tags an outcome as a success or a failure.
type OutcomeKind string

const (
	OutcomeSuccess = OutcomeKind("success")
	OutcomeFailure = OutcomeKind("failure")
)

// Outcome is the caller-facing report for one explored path.
type Outcome struct {
	Kind     OutcomeKind `json:"kind" yaml:"kind"`
	Function string      `json:"function,omitempty" yaml:"function,omitempty"`

	// Constraints of the path in SMT-LIB form.
	PathConditions []string `json:"pathConditions" yaml:"pathConditions"`

	// Concrete witness. Only set on success.
	Inputs         map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Return         *string           `json:"returnValue,omitempty" yaml:"returnValue,omitempty"`
	SymbolicReturn string            `json:"symbolicReturn,omitempty" yaml:"symbolicReturn,omitempty"`

	// Diagnostic. Only set on failure.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// Concrete model backing Inputs. Not serialized.
	Model Model `json:"-" yaml:"-"`

	// Underlying error for a failure. Not serialized.
	Err error `json:"-" yaml:"-"`
}

// Extract queries the solver for a concrete witness of result.
//
// The model holds a value for every free variable of the path condition and
// the return value. A path whose condition is not satisfiable at extraction
// time, or which failed during exploration, is reported as a failure with
// its path condition preserved.
func Extract(solver Solver, result *ExecutionResult) *Outcome {
	out := &Outcome{PathConditions: result.PathCondition.Strings()}

	if result.Failed() {
		out.Kind, out.Message, out.Err = OutcomeFailure, result.Reason, result.Err
		return out
	}

	vars := FreeVars(append(result.PathCondition.Constraints(), result.Return)...)
	verdict, model, err := solver.Solve(result.PathCondition.Constraints(), vars)
	if verdict != Sat || err != nil {
		out.Kind = OutcomeFailure
		out.Message = fmt.Sprintf("Solver result is %s, no model available.", verdict)
		switch {
		case err != nil:
			out.Message += " " + err.Error()
			out.Err = err
		case verdict == Unsat:
			out.Err = ErrUnsatisfiable
		default:
			out.Err = ErrSolverUnknown
		}
		return out
	}

	out.Kind, out.Model = OutcomeSuccess, model
	out.Inputs = make(map[string]string, len(vars))
	for _, v := range vars {
		value, ok := model[v.Name]
		if !ok {
			value = ZeroValue(v.Kind)
		}
		out.Inputs[v.Name] = value.String()
	}

	if result.Return != nil {
		out.SymbolicReturn = result.Return.String()
		value, err := NewExprEvaluator(model).Evaluate(result.Return)
		if err != nil {
			out.Kind, out.Inputs, out.Model = OutcomeFailure, nil, nil
			out.Message = fmt.Sprintf("cannot evaluate return value %s: %s", result.Return, err)
			out.Err = err
			return out
		}
		s := value.String()
		out.Return = &s
	}
	return out
}

// ExtractAll returns one outcome per result, in order.
func ExtractAll(solver Solver, results []*ExecutionResult) []*Outcome {
	a := make([]*Outcome, len(results))
	for i, result := range results {
		a[i] = Extract(solver, result)
	}
	return a
}

// Run explores fn with a default executor and extracts a witness for every
// collected result. Outcomes are tagged with the function name.
func Run(ctx context.Context, solver Solver, fn *ast.Function) ([]*Outcome, error) {
	e := NewExecutor(fn)
	e.Solver = solver
	return e.Run(ctx)
}

// Run executes every feasible path and extracts a witness for each result
// using the executor's solver. If exploration stops at MaxStates then the
// outcomes collected so far are returned along with ErrStateLimit.
func (e *Executor) Run(ctx context.Context) ([]*Outcome, error) {
	results, err := e.Execute(ctx)
	if err != nil && !errors.Is(err, ErrStateLimit) {
		return nil, err
	}

	outcomes := ExtractAll(e.Solver, results)
	for _, out := range outcomes {
		out.Function = e.fn.Name
	}
	return outcomes, err
}
