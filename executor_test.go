package symex_test

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/benbjohnson/symex"
	"github.com/benbjohnson/symex/ast"
	"github.com/benbjohnson/symex/gosrc"
	"github.com/benbjohnson/symex/memsolver"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestExecutor_Execute(t *testing.T) {
	t.Run("Abs", func(t *testing.T) {
		e := NewExecutor(MustParseFunction(t, "abs.go", "Abs"))
		results := MustExecute(t, e)
		if diff := cmp.Diff(ResultStrings(results), []string{
			"finished [(>= x 0)] => x",
			"finished [(not (>= x 0))] => (- x)",
		}); diff != "" {
			t.Fatal(diff)
		}
	})

	// Same function as above, built directly as a syntax tree.
	t.Run("AbsAST", func(t *testing.T) {
		fn := &ast.Function{
			Name:   "test",
			Params: []*ast.Param{{Name: "x", Type: ast.TypeInt}},
			Result: ast.TypeInt,
			Body: []ast.Stmt{
				&ast.IfStmt{
					Cond: &ast.BinaryExpr{Op: ">=", LHS: &ast.Ident{Name: "x"}, RHS: &ast.NumberLit{Value: 0}},
					Then: []ast.Stmt{&ast.ReturnStmt{Value: &ast.Ident{Name: "x"}}},
					Else: []ast.Stmt{&ast.ReturnStmt{Value: &ast.UnaryExpr{Op: "-", X: &ast.Ident{Name: "x"}}}},
				},
			},
		}
		results := MustExecute(t, NewExecutor(fn))
		if diff := cmp.Diff(ResultStrings(results), []string{
			"finished [(>= x 0)] => x",
			"finished [(not (>= x 0))] => (- x)",
		}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("CollatzStep", func(t *testing.T) {
		results := MustExecute(t, NewExecutor(MustParseFunction(t, "collatz.go", "CollatzStep")))
		if diff := cmp.Diff(ResultStrings(results), []string{
			"finished [(= (mod x 2) 0)] => (div x 2)",
			"finished [(not (= (mod x 2) 0))] => (+ (* x 3) 1)",
		}); diff != "" {
			t.Fatal(diff)
		}
	})

	// A literal false guard prunes the then branch and the remaining path
	// falls off the end of the function.
	t.Run("FalseGuard", func(t *testing.T) {
		e := NewExecutor(MustParseFunction(t, "never.go", "Never"))
		if results := MustExecute(t, e); len(results) != 0 {
			t.Fatalf("unexpected results: %s", spew.Sdump(ResultStrings(results)))
		}
	})

	// Without an else block the negated guard still constrains the path that
	// resumes after the conditional.
	t.Run("NoElse", func(t *testing.T) {
		fn := MustParseSource(t, `package x

func F(x int) int {
	if false {
		return 1
	}
	return 2
}
`, "F")
		results := MustExecute(t, NewExecutor(fn))
		if diff := cmp.Diff(ResultStrings(results), []string{"finished [(not false)] => 2"}); diff != "" {
			t.Fatal(diff)
		}
	})

	// Bindings made before a conditional flow into its guard and branches.
	t.Run("LetChain", func(t *testing.T) {
		results := MustExecute(t, NewExecutor(MustParseFunction(t, "threshold.go", "Threshold")))
		if diff := cmp.Diff(ResultStrings(results), []string{
			"finished [(> (+ x 1) 10)] => (- (+ x 1) 10)",
			"finished [(not (> (+ x 1) 10))] => (* (+ x 1) 2)",
		}); diff != "" {
			t.Fatal(diff)
		}
	})

	// Statements after an if without else run on both continuations.
	t.Run("ContinueAfterIf", func(t *testing.T) {
		fn := MustParseSource(t, `package x

func F(x int) int {
	y := 0
	if x > 0 {
		y = 1
	}
	y = y + 10
	return y
}
`, "F")
		results := MustExecute(t, NewExecutor(fn))
		if diff := cmp.Diff(ResultStrings(results), []string{
			"finished [(> x 0)] => (+ 1 10)",
			"finished [(not (> x 0))] => (+ 0 10)",
		}); diff != "" {
			t.Fatal(diff)
		}
	})

	// A declaration inside a branch does not leak into the enclosing block.
	t.Run("Shadow", func(t *testing.T) {
		fn := MustParseSource(t, `package x

func F(x int) int {
	y := 0
	if x > 0 {
		y := 10
		y = y + 1
	}
	return y
}
`, "F")
		results := MustExecute(t, NewExecutor(fn))
		if diff := cmp.Diff(ResultStrings(results), []string{
			"finished [(> x 0)] => 0",
			"finished [(not (> x 0))] => 0",
		}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ElseIf", func(t *testing.T) {
		results := MustExecute(t, NewExecutor(MustParseFunction(t, "flags.go", "Select")))
		if diff := cmp.Diff(ResultStrings(results), []string{
			"finished [(and a (> x 0))] => 1",
			"finished [(not (and a (> x 0))) (not a)] => 2",
			"finished [(not (and a (> x 0))) (not (not a))] => 3",
		}); diff != "" {
			t.Fatal(diff)
		}
	})

	// An unsupported statement fails only the path that reaches it.
	t.Run("Unsupported", func(t *testing.T) {
		results := MustExecute(t, NewExecutor(MustParseFunction(t, "sum.go", "Sum")))
		if diff := cmp.Diff(ResultStrings(results), []string{
			"finished [(< n 0)] => 0",
			"failed [(not (< n 0))]",
		}); diff != "" {
			t.Fatal(diff)
		}

		var e *symex.UnsupportedError
		if !errors.As(results[1].Err, &e) {
			t.Fatalf("unexpected error: %v", results[1].Err)
		} else if e.Construct != "for" || e.Pos.Line != 8 {
			t.Fatalf("unexpected error: %#v", e)
		}
	})

	t.Run("TypeMismatch", func(t *testing.T) {
		fn := MustParseSource(t, `package x

func F(x int) int {
	if x {
		return 1
	}
	return 0
}
`, "F")
		results := MustExecute(t, NewExecutor(fn))
		if len(results) != 1 {
			t.Fatalf("unexpected results: %s", spew.Sdump(ResultStrings(results)))
		}

		var e *symex.TypeError
		if !results[0].Failed() {
			t.Fatal("expected failure")
		} else if !errors.As(results[0].Err, &e) {
			t.Fatalf("unexpected error: %v", results[0].Err)
		} else if e.Pos.Line != 4 {
			t.Fatalf("unexpected position: %s", e.Pos)
		}
	})

	t.Run("BareReturn", func(t *testing.T) {
		fn := MustParseSource(t, `package x

func F(x int) {
	if x == 3 {
		return
	}
}
`, "F")
		results := MustExecute(t, NewExecutor(fn))
		if diff := cmp.Diff(ResultStrings(results), []string{"finished [(= x 3)]"}); diff != "" {
			t.Fatal(diff)
		} else if results[0].Return != nil {
			t.Fatalf("unexpected return: %s", results[0].Return)
		}
	})

	// A branch whose witness lies outside the search bound is reported as a
	// failure carrying the solver error, never pruned, while its sibling is
	// still explored.
	t.Run("SolverUnknown", func(t *testing.T) {
		fn := MustParseSource(t, `package x

func F(x int) int {
	if x > 100 {
		return 1
	}
	return 0
}
`, "F")
		results := MustExecute(t, NewExecutor(fn))
		if diff := cmp.Diff(ResultStrings(results), []string{
			"failed [(> x 100)]",
			"finished [(not (> x 100))] => 0",
		}); diff != "" {
			t.Fatal(diff)
		} else if !errors.Is(results[0].Err, symex.ErrSolverUnknown) {
			t.Fatalf("unexpected error: %v", results[0].Err)
		}
	})

	t.Run("RootState", func(t *testing.T) {
		e := NewExecutor(MustParseFunction(t, "abs.go", "Abs"))
		e.Solver.(*memsolver.Solver).Bounded = true
		e.RootState().AddConstraint(&symex.CondExpr{Op: symex.LT, LHS: &symex.VarExpr{Name: "x"}, RHS: symex.NewConstantExpr(-3)})

		results := MustExecute(t, e)
		if diff := cmp.Diff(ResultStrings(results), []string{
			"finished [(< x (- 3)) (not (>= x 0))] => (- x)",
		}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("MaxDepth", func(t *testing.T) {
		e := NewExecutor(MustParseFunction(t, "flags.go", "Select"))
		e.MaxDepth = 1

		results := MustExecute(t, e)
		if diff := cmp.Diff(ResultStrings(results), []string{
			"finished [(and a (> x 0))] => 1",
			"failed [(not (and a (> x 0)))]",
		}); diff != "" {
			t.Fatal(diff)
		} else if !errors.Is(results[1].Err, symex.ErrDepthExceeded) {
			t.Fatalf("unexpected error: %v", results[1].Err)
		}
	})

	t.Run("MaxStates", func(t *testing.T) {
		e := NewExecutor(MustParseFunction(t, "flags.go", "Select"))
		e.MaxStates = 3

		results, err := e.Execute(context.Background())
		if err != symex.ErrStateLimit {
			t.Fatalf("unexpected error: %v", err)
		} else if diff := cmp.Diff(ResultStrings(results), []string{
			"finished [(and a (> x 0))] => 1",
		}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Searchers", func(t *testing.T) {
		for _, name := range []string{"dfs", "bfs", "random"} {
			t.Run(name, func(t *testing.T) {
				searcher, err := symex.NewSearcher(name, 1)
				if err != nil {
					t.Fatal(err)
				}

				e := NewExecutor(MustParseFunction(t, "flags.go", "Select"))
				e.Searcher = searcher

				a := ResultStrings(MustExecute(t, e))
				sort.Strings(a)
				if diff := cmp.Diff(a, []string{
					"finished [(and a (> x 0))] => 1",
					"finished [(not (and a (> x 0))) (not (not a))] => 3",
					"finished [(not (and a (> x 0))) (not a)] => 2",
				}); diff != "" {
					t.Fatal(diff)
				}
			})
		}
	})

	t.Run("ErrUnknownSearcher", func(t *testing.T) {
		if _, err := symex.NewSearcher("astar", 0); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("ErrCanceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		e := NewExecutor(MustParseFunction(t, "abs.go", "Abs"))
		if _, err := e.Execute(ctx); err != context.Canceled {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrSolverRequired", func(t *testing.T) {
		e := symex.NewExecutor(MustParseFunction(t, "abs.go", "Abs"))
		if _, err := e.Execute(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestExecutor_ExecuteNextState(t *testing.T) {
	t.Run("Statuses", func(t *testing.T) {
		e := NewExecutor(MustParseFunction(t, "never.go", "Never"))

		var statuses []symex.ExecutionStatus
		for {
			state, err := e.ExecuteNextState(context.Background())
			if err == symex.ErrNoStateAvailable {
				break
			} else if err != nil {
				t.Fatal(err)
			}
			statuses = append(statuses, state.Status())
		}

		// The root forks, then the surviving else branch runs off the end.
		if diff := cmp.Diff(statuses, []symex.ExecutionStatus{
			symex.ExecutionStatusRunning,
			symex.ExecutionStatusFallthrough,
		}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Hierarchy", func(t *testing.T) {
		e := NewExecutor(MustParseFunction(t, "abs.go", "Abs"))

		root, err := e.ExecuteNextState(context.Background())
		if err != nil {
			t.Fatal(err)
		} else if root != e.RootState() {
			t.Fatal("expected root state first")
		} else if !root.Forked() || root.Terminated() {
			t.Fatalf("unexpected root state:\n%s", root.Dump())
		}

		child, err := e.ExecuteNextState(context.Background())
		if err != nil {
			t.Fatal(err)
		} else if child.Parent() != root {
			t.Fatal("unexpected parent")
		} else if child.Depth() != 1 {
			t.Fatalf("unexpected depth: %d", child.Depth())
		} else if child.Status() != symex.ExecutionStatusFinished {
			t.Fatalf("unexpected status: %s", child.Status())
		} else if !strings.Contains(child.Dump(), "return=x\n") {
			t.Fatalf("unexpected dump:\n%s", child.Dump())
		}

		// Forked children never share bindings or constraints with the parent.
		if n := root.PathCondition().Len(); n != 0 {
			t.Fatalf("parent path condition modified: %d", n)
		}
	})
}

func TestExecutor_Logger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	e := NewExecutor(MustParseFunction(t, "never.go", "Never"))
	e.Logger = zap.New(core)
	MustExecute(t, e)

	if n := logs.FilterMessage("prune").Len(); n != 1 {
		t.Fatalf("unexpected prune count: %d", n)
	} else if n := logs.FilterMessage("fallthrough").Len(); n != 1 {
		t.Fatalf("unexpected fallthrough count: %d", n)
	}

	entry := logs.FilterMessage("prune").All()[0]
	if v := entry.ContextMap()["branch"]; v != "then" {
		t.Fatalf("unexpected branch: %v", v)
	}
}

// NewExecutor returns a new executor backed by an in-memory solver.
func NewExecutor(fn *ast.Function) *symex.Executor {
	e := symex.NewExecutor(fn)
	e.Solver = memsolver.NewSolver()
	return e
}

// MustExecute explores every path of e. Fatal on error.
func MustExecute(tb testing.TB, e *symex.Executor) []*symex.ExecutionResult {
	tb.Helper()
	results, err := e.Execute(context.Background())
	if err != nil {
		tb.Fatal(err)
	}
	return results
}

// MustParseFunction returns a function from a file under testdata. Fatal on error.
func MustParseFunction(tb testing.TB, filename, name string) *ast.Function {
	tb.Helper()
	f, err := gosrc.ParseFile(filepath.Join("testdata", filename), nil)
	if err != nil {
		tb.Fatal(err)
	}
	fn := f.Function(name)
	if fn == nil {
		tb.Fatalf("function not found: %s", name)
	}
	return fn
}

// MustParseSource returns a function from Go source. Fatal on error.
func MustParseSource(tb testing.TB, src, name string) *ast.Function {
	tb.Helper()
	f, err := gosrc.ParseFile("x.go", src)
	if err != nil {
		tb.Fatal(err)
	}
	fn := f.Function(name)
	if fn == nil {
		tb.Fatalf("function not found: %s", name)
	}
	return fn
}

// ResultStrings returns a one line summary per result.
func ResultStrings(results []*symex.ExecutionResult) []string {
	a := make([]string, len(results))
	for i, result := range results {
		s := string(result.Status) + " [" + strings.Join(result.PathCondition.Strings(), " ") + "]"
		if result.Return != nil {
			s += " => " + result.Return.String()
		}
		a[i] = s
	}
	return a
}
