// Package memsolver implements an in-memory constraint solver that searches
// a bounded range of integer values.
//
// The solver is complete for formulas whose satisfying assignments lie
// within the bound. An exhausted search over integer variables is reported
// as Unknown unless the caller declares the inputs bounded. It requires no
// native libraries which makes it suitable for tests and small programs.
package memsolver

import (
	"errors"
	"time"

	"github.com/benbjohnson/symex"
)

// Default search limits.
const (
	DefaultBound         = 64
	DefaultMaxCandidates = 1 << 20
)

// Ensure solver implements interface.
var _ symex.Solver = (*Solver)(nil)

// Solver represents a solver that enumerates candidate assignments.
type Solver struct {
	stats Stats

	// Integer variables range over [-Bound, Bound].
	Bound int64

	// If true, integer variables are assumed to lie within the bound and an
	// exhausted search is reported as Unsat. Otherwise a model may exist
	// outside the bound and the search reports Unknown.
	Bounded bool

	// Maximum number of assignments tried per call. The call returns Unknown
	// with ErrSolverResourceLimit once exceeded.
	MaxCandidates int
}

// NewSolver returns a new instance of Solver with default limits.
func NewSolver() *Solver {
	return &Solver{
		Bound:         DefaultBound,
		MaxCandidates: DefaultMaxCandidates,
	}
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

// Solve searches for an assignment to the free variables of constraints and
// vars that satisfies every constraint. Integers are tried in order of
// increasing magnitude so models are small.
func (s *Solver) Solve(constraints []symex.Expr, vars []symex.Var) (symex.Verdict, symex.Model, error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	all := mergeVars(symex.FreeVars(constraints...), vars)
	domains := make([][]symex.Value, len(all))
	hasInt := false
	for i, v := range all {
		switch v.Kind {
		case symex.KindBool:
			domains[i] = []symex.Value{symex.BoolValue(false), symex.BoolValue(true)}
		default:
			domains[i] = intDomain(s.Bound)
			hasInt = true
		}
	}

	// Odometer over every variable's domain.
	idx := make([]int, len(all))
	model := make(symex.Model, len(all))
	for n := 0; ; n++ {
		if s.MaxCandidates > 0 && n >= s.MaxCandidates {
			s.stats.LimitN++
			return symex.Unknown, nil, symex.ErrSolverResourceLimit
		}

		for i, v := range all {
			model[v.Name] = domains[i][idx[i]]
		}

		if ok, err := satisfies(model, constraints); err != nil {
			return symex.Unknown, nil, err
		} else if ok {
			return symex.Sat, model, nil
		}

		if !next(idx, domains) {
			break
		}
	}

	if hasInt && !s.Bounded {
		return symex.Unknown, nil, symex.ErrSolverUnknown
	}
	return symex.Unsat, nil, nil
}

// satisfies returns true if model satisfies every constraint. A division by
// zero rejects the assignment.
func satisfies(model symex.Model, constraints []symex.Expr) (bool, error) {
	ee := symex.NewExprEvaluator(model)
	for _, constraint := range constraints {
		v, err := ee.Evaluate(constraint)
		if errors.Is(err, symex.ErrDivisionByZero) {
			return false, nil
		} else if err != nil {
			return false, err
		} else if !v.Bool {
			return false, nil
		}
	}
	return true, nil
}

// next advances idx to the next assignment. Returns false once every
// assignment has been visited.
func next(idx []int, domains [][]symex.Value) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < len(domains[i]) {
			return true
		}
		idx[i] = 0
	}
	return false
}

// intDomain returns 0, 1, -1, 2, -2, ... up to bound.
func intDomain(bound int64) []symex.Value {
	if bound < 0 {
		bound = 0
	}
	a := make([]symex.Value, 0, 2*bound+1)
	a = append(a, symex.IntValue(0))
	for i := int64(1); i <= bound; i++ {
		a = append(a, symex.IntValue(i), symex.IntValue(-i))
	}
	return a
}

// mergeVars returns the union of a and b. Variables in a take precedence.
func mergeVars(a, b []symex.Var) []symex.Var {
	m := make(map[string]struct{}, len(a))
	for _, v := range a {
		m[v.Name] = struct{}{}
	}
	for _, v := range b {
		if _, ok := m[v.Name]; !ok {
			m[v.Name] = struct{}{}
			a = append(a, v)
		}
	}
	return a
}

// Stats holds solver call counters.
type Stats struct {
	SolveN    int
	SolveTime time.Duration
	LimitN    int // calls stopped by MaxCandidates
}
