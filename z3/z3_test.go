package z3

import (
	"testing"

	"github.com/benbjohnson/symex"
	"github.com/google/go-cmp/cmp"
)

func TestSolver_Solve(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		t.Run("True", func(t *testing.T) {
			s := NewSolver()
			defer MustCloseSolver(s)
			if verdict, _, err := s.Solve([]symex.Expr{symex.NewBoolConstantExpr(true)}, nil); err != nil {
				t.Fatal(err)
			} else if verdict != symex.Sat {
				t.Fatalf("unexpected verdict: %s", verdict)
			}
		})
		t.Run("False", func(t *testing.T) {
			s := NewSolver()
			defer MustCloseSolver(s)
			if verdict, _, err := s.Solve([]symex.Expr{symex.NewBoolConstantExpr(false)}, nil); err != nil {
				t.Fatal(err)
			} else if verdict != symex.Unsat {
				t.Fatalf("unexpected verdict: %s", verdict)
			}
		})
	})

	t.Run("Int", func(t *testing.T) {
		t.Run("EQ", func(t *testing.T) {
			s := NewSolver()
			defer MustCloseSolver(s)
			x := &symex.VarExpr{Name: "x"}
			verdict, model, err := s.Solve([]symex.Expr{
				&symex.CondExpr{
					Op:  symex.EQ,
					LHS: &symex.BinaryExpr{Op: symex.ADD, LHS: x, RHS: symex.NewConstantExpr(5)},
					RHS: symex.NewConstantExpr(-2),
				},
			}, nil)
			if err != nil {
				t.Fatal(err)
			} else if verdict != symex.Sat {
				t.Fatalf("unexpected verdict: %s", verdict)
			} else if diff := cmp.Diff(model, symex.Model{"x": symex.IntValue(-7)}); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("DivMod", func(t *testing.T) {
			s := NewSolver()
			defer MustCloseSolver(s)
			x := &symex.VarExpr{Name: "x"}
			verdict, model, err := s.Solve([]symex.Expr{
				&symex.CondExpr{
					Op:  symex.EQ,
					LHS: &symex.BinaryExpr{Op: symex.DIV, LHS: x, RHS: symex.NewConstantExpr(2)},
					RHS: symex.NewConstantExpr(-2),
				},
				&symex.CondExpr{
					Op:  symex.EQ,
					LHS: &symex.BinaryExpr{Op: symex.REM, LHS: x, RHS: symex.NewConstantExpr(2)},
					RHS: symex.NewConstantExpr(1),
				},
			}, nil)
			if err != nil {
				t.Fatal(err)
			} else if verdict != symex.Sat {
				t.Fatalf("unexpected verdict: %s", verdict)
			} else if diff := cmp.Diff(model, symex.Model{"x": symex.IntValue(-3)}); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("Neg", func(t *testing.T) {
			s := NewSolver()
			defer MustCloseSolver(s)
			x := &symex.VarExpr{Name: "x"}
			verdict, model, err := s.Solve([]symex.Expr{
				&symex.CondExpr{Op: symex.EQ, LHS: &symex.NegExpr{Expr: x}, RHS: symex.NewConstantExpr(4)},
			}, nil)
			if err != nil {
				t.Fatal(err)
			} else if verdict != symex.Sat {
				t.Fatalf("unexpected verdict: %s", verdict)
			} else if diff := cmp.Diff(model, symex.Model{"x": symex.IntValue(-4)}); diff != "" {
				t.Fatal(diff)
			}
		})

		t.Run("Contradiction", func(t *testing.T) {
			s := NewSolver()
			defer MustCloseSolver(s)
			x := &symex.VarExpr{Name: "x"}
			if verdict, _, err := s.Solve([]symex.Expr{
				&symex.CondExpr{Op: symex.GT, LHS: x, RHS: symex.NewConstantExpr(5)},
				&symex.CondExpr{Op: symex.LE, LHS: x, RHS: symex.NewConstantExpr(5)},
			}, nil); err != nil {
				t.Fatal(err)
			} else if verdict != symex.Unsat {
				t.Fatalf("unexpected verdict: %s", verdict)
			}
		})

		t.Run("NE", func(t *testing.T) {
			s := NewSolver()
			defer MustCloseSolver(s)
			x := &symex.VarExpr{Name: "x"}
			if verdict, _, err := s.Solve([]symex.Expr{
				&symex.CondExpr{Op: symex.NE, LHS: x, RHS: x},
			}, nil); err != nil {
				t.Fatal(err)
			} else if verdict != symex.Unsat {
				t.Fatalf("unexpected verdict: %s", verdict)
			}
		})
	})

	t.Run("Bool", func(t *testing.T) {
		s := NewSolver()
		defer MustCloseSolver(s)
		a, b := &symex.BoolVarExpr{Name: "a"}, &symex.BoolVarExpr{Name: "b"}
		verdict, model, err := s.Solve([]symex.Expr{
			&symex.CondExpr{Op: symex.AND, LHS: a, RHS: &symex.NotExpr{Expr: b}},
		}, nil)
		if err != nil {
			t.Fatal(err)
		} else if verdict != symex.Sat {
			t.Fatalf("unexpected verdict: %s", verdict)
		} else if diff := cmp.Diff(model, symex.Model{"a": symex.BoolValue(true), "b": symex.BoolValue(false)}); diff != "" {
			t.Fatal(diff)
		}
	})

	// Requested variables that do not appear in the constraints are completed.
	t.Run("Completion", func(t *testing.T) {
		s := NewSolver()
		defer MustCloseSolver(s)
		verdict, model, err := s.Solve(
			[]symex.Expr{symex.NewBoolConstantExpr(true)},
			[]symex.Var{{Name: "y", Kind: symex.KindInt}, {Name: "f", Kind: symex.KindBool}},
		)
		if err != nil {
			t.Fatal(err)
		} else if verdict != symex.Sat {
			t.Fatalf("unexpected verdict: %s", verdict)
		} else if _, ok := model["y"]; !ok {
			t.Fatal("expected y in model")
		} else if v := model["f"]; v.Kind != symex.KindBool {
			t.Fatalf("unexpected kind for f: %s", v.Kind)
		}
	})

	// A name may change kind between queries on the same solver.
	t.Run("SharedName", func(t *testing.T) {
		s := NewSolver()
		defer MustCloseSolver(s)

		if verdict, _, err := s.Solve([]symex.Expr{
			&symex.CondExpr{Op: symex.GT, LHS: &symex.VarExpr{Name: "x"}, RHS: symex.NewConstantExpr(0)},
		}, nil); err != nil {
			t.Fatal(err)
		} else if verdict != symex.Sat {
			t.Fatalf("unexpected verdict: %s", verdict)
		}

		verdict, model, err := s.Solve([]symex.Expr{&symex.BoolVarExpr{Name: "x"}}, nil)
		if err != nil {
			t.Fatal(err)
		} else if verdict != symex.Sat {
			t.Fatalf("unexpected verdict: %s", verdict)
		} else if diff := cmp.Diff(model, symex.Model{"x": symex.BoolValue(true)}); diff != "" {
			t.Fatal(diff)
		}
	})

	// Models with integers beyond int64 are reported as errors.
	t.Run("ErrOutOfRange", func(t *testing.T) {
		s := NewSolver()
		defer MustCloseSolver(s)

		if _, _, err := s.Solve([]symex.Expr{
			&symex.CondExpr{
				Op:  symex.EQ,
				LHS: &symex.VarExpr{Name: "x"},
				RHS: &symex.BinaryExpr{Op: symex.ADD, LHS: symex.NewConstantExpr(9223372036854775807), RHS: symex.NewConstantExpr(1)},
			},
		}, nil); err == nil || err.Error() != "z3: numeral out of int64 range: 9223372036854775808" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		s := NewSolver()
		defer MustCloseSolver(s)
		for i := 0; i < 2; i++ {
			if _, _, err := s.Solve([]symex.Expr{symex.NewBoolConstantExpr(true)}, nil); err != nil {
				t.Fatal(err)
			}
		}
		if n := s.Stats().SolveN; n != 2 {
			t.Fatalf("unexpected solve count: %d", n)
		}
	})
}

func TestContext_Term(t *testing.T) {
	// Declaring the same name twice yields the same constant.
	t.Run("Idempotent", func(t *testing.T) {
		s := NewSolver()
		defer MustCloseSolver(s)

		a, err := s.Context().toAST(&symex.VarExpr{Name: "x"})
		if err != nil {
			t.Fatal(err)
		}
		b, err := s.Context().toAST(&symex.VarExpr{Name: "x"})
		if err != nil {
			t.Fatal(err)
		} else if a != b {
			t.Fatal("expected identical constants")
		} else if got := s.Context().astToString(a); got != "x" {
			t.Fatalf("unexpected term: %s", got)
		}
	})

	// A name has one kind within a term but may change kind between terms.
	t.Run("KindConflict", func(t *testing.T) {
		s := NewSolver()
		defer MustCloseSolver(s)
		if _, err := s.Context().Term(&symex.CondExpr{
			Op:  symex.AND,
			LHS: &symex.BoolVarExpr{Name: "x"},
			RHS: &symex.CondExpr{Op: symex.GT, LHS: &symex.VarExpr{Name: "x"}, RHS: symex.NewConstantExpr(0)},
		}); err == nil {
			t.Fatal("expected error")
		}

		if _, err := s.Context().Term(&symex.VarExpr{Name: "y"}); err != nil {
			t.Fatal(err)
		} else if got, err := s.Context().Term(&symex.BoolVarExpr{Name: "y"}); err != nil {
			t.Fatal(err)
		} else if got != "y" {
			t.Fatalf("unexpected term: %s", got)
		}
	})

	t.Run("Int64", func(t *testing.T) {
		s := NewSolver()
		defer MustCloseSolver(s)
		if got, err := s.Context().Term(symex.NewConstantExpr(42)); err != nil {
			t.Fatal(err)
		} else if got != "42" {
			t.Fatalf("unexpected term: %s", got)
		}
	})
}

func MustCloseSolver(s *Solver) {
	if err := s.Close(); err != nil {
		panic(err)
	}
}
