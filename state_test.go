package symex_test

import (
	"testing"

	"github.com/benbjohnson/symex"
	"github.com/benbjohnson/symex/memsolver"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
)

func TestState(t *testing.T) {
	t.Run("SetVar", func(t *testing.T) {
		s := symex.NewState()
		s.SetVar("y", symex.NewConstantExpr(2))
		s.SetVar("x", symex.NewConstantExpr(1))
		s.SetVar("y", symex.NewConstantExpr(3))

		if n := s.Len(); n != 2 {
			t.Fatalf("unexpected len: %d", n)
		} else if diff := cmp.Diff(s.Names(), []string{"x", "y"}); diff != "" {
			t.Fatal(diff)
		} else if v, ok := s.GetVar("y"); !ok || v.String() != "3" {
			t.Fatalf("unexpected value: %v", v)
		} else if _, ok := s.GetVar("z"); ok {
			t.Fatal("expected no binding")
		} else if dump := s.Dump(); dump != "x = 1\ny = 3\n" {
			t.Fatalf("unexpected dump: %q", dump)
		}
	})

	// Writes on a clone are never visible through the parent or a sibling.
	t.Run("Clone", func(t *testing.T) {
		parent := symex.NewState()
		parent.SetVar("x", &symex.VarExpr{Name: "x"})

		a, b := parent.Clone(), parent.Clone()
		a.SetVar("y", symex.NewConstantExpr(1))
		b.SetVar("x", symex.NewConstantExpr(2))

		if diff := cmp.Diff(parent.Names(), []string{"x"}); diff != "" {
			t.Fatal(diff)
		} else if v, _ := parent.GetVar("x"); v.String() != "x" {
			t.Fatalf("parent modified: %s", spew.Sdump(parent))
		} else if _, ok := b.GetVar("y"); ok {
			t.Fatal("sibling write visible")
		} else if v, _ := a.GetVar("x"); v.String() != "x" {
			t.Fatal("sibling write visible")
		}
	})
}

func TestPathCondition(t *testing.T) {
	x := &symex.VarExpr{Name: "x"}
	gt := &symex.CondExpr{Op: symex.GT, LHS: x, RHS: symex.NewConstantExpr(5)}
	lt := &symex.CondExpr{Op: symex.LT, LHS: x, RHS: symex.NewConstantExpr(3)}

	t.Run("AddConstraint", func(t *testing.T) {
		pc := symex.NewPathCondition(gt)
		pc.AddConstraint(gt)
		if n := pc.Len(); n != 2 {
			t.Fatalf("unexpected len: %d", n)
		} else if diff := cmp.Diff(pc.Strings(), []string{"(> x 5)", "(> x 5)"}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ErrNonBoolean", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic")
			}
		}()
		symex.NewPathCondition().AddConstraint(x)
	})

	t.Run("Clone", func(t *testing.T) {
		parent := symex.NewPathCondition(gt)
		a, b := parent.Clone(), parent.Clone()
		a.AddConstraint(lt)
		b.AddConstraint(symex.Not(gt))

		if diff := cmp.Diff(parent.Strings(), []string{"(> x 5)"}); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff(a.Strings(), []string{"(> x 5)", "(< x 3)"}); diff != "" {
			t.Fatal(diff)
		} else if diff := cmp.Diff(b.Strings(), []string{"(> x 5)", "(not (> x 5))"}); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("IsSatisfiable", func(t *testing.T) {
		solver := memsolver.NewSolver()
		solver.Bounded = true

		if verdict, err := symex.NewPathCondition().IsSatisfiable(solver); err != nil {
			t.Fatal(err)
		} else if verdict != symex.Sat {
			t.Fatalf("unexpected verdict: %s", verdict)
		} else if n := solver.Stats().SolveN; n != 0 {
			t.Fatalf("empty path condition called solver %d times", n)
		}

		if verdict, err := symex.NewPathCondition(gt).IsSatisfiable(solver); err != nil {
			t.Fatal(err)
		} else if verdict != symex.Sat {
			t.Fatalf("unexpected verdict: %s", verdict)
		}

		if verdict, err := symex.NewPathCondition(gt, lt).IsSatisfiable(solver); err != nil {
			t.Fatal(err)
		} else if verdict != symex.Unsat {
			t.Fatalf("unexpected verdict: %s", verdict)
		}
	})

	t.Run("Model", func(t *testing.T) {
		solver := memsolver.NewSolver()
		solver.Bounded = true

		model, err := symex.NewPathCondition(gt).Model(solver, symex.Var{Name: "y", Kind: symex.KindBool})
		if err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(model, symex.Model{"x": symex.IntValue(6), "y": symex.BoolValue(false)}); diff != "" {
			t.Fatal(diff)
		}

		if _, err := symex.NewPathCondition(gt, lt).Model(solver); err != symex.ErrUnsatisfiable {
			t.Fatalf("unexpected error: %v", err)
		}

		solver.Bounded = false
		big := &symex.CondExpr{Op: symex.GT, LHS: x, RHS: symex.NewConstantExpr(1000)}
		if _, err := symex.NewPathCondition(big).Model(solver); err != symex.ErrSolverUnknown {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
