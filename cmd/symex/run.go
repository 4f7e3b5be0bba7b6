package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/benbjohnson/symex"
	"github.com/benbjohnson/symex/ast"
	"github.com/benbjohnson/symex/gosrc"
	"github.com/benbjohnson/symex/memsolver"
	"github.com/benbjohnson/symex/z3"
	"github.com/fatih/color"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	headerStyle  = color.New(color.FgCyan, color.Bold)
	successStyle = color.New(color.FgGreen, color.Bold)
	failureStyle = color.New(color.FgRed, color.Bold)
	labelStyle   = color.New(color.FgBlue)
)

// RunCommand represents a command for exploring functions and reporting a
// concrete witness per path.
type RunCommand struct {
	Stdout io.Writer
	Stderr io.Writer

	Config Config
	Logger *zap.Logger

	// Files or package patterns from the command line.
	args []string
}

// NewRunCommand returns a new instance of RunCommand.
func NewRunCommand(stdout, stderr io.Writer) *RunCommand {
	return &RunCommand{
		Stdout: stdout,
		Stderr: stderr,
		Config: DefaultConfig(),
		Logger: zap.NewNop(),
	}
}

// Run executes the "run" subcommand.
func (cmd *RunCommand) Run(ctx context.Context, args []string) error {
	if err := cmd.ParseFlags(args); err != nil {
		return err
	}
	defer cmd.Logger.Sync()

	fns, err := cmd.loadFunctions(cmd.args)
	if err != nil {
		return err
	}

	solver, closeFn, err := cmd.openSolver()
	if err != nil {
		return err
	}
	defer closeFn()

	var reports []*Report
	for _, fn := range fns {
		report, err := cmd.runFunction(ctx, solver, fn)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	}
	return cmd.print(reports)
}

// ParseFlags parses the command line arguments, layering explicitly set
// flags over the config file.
func (cmd *RunCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("symex-run", flag.ContinueOnError)
	fs.SetOutput(cmd.Stderr)
	verbose := fs.Bool("v", false, "verbose")
	configPath := fs.String("config", "", "YAML config file")
	solver := fs.String("solver", cmd.Config.Solver, "solver backend: z3 or mem")
	bound := fs.Int64("bound", cmd.Config.Bound, "integer bound for the mem solver")
	bounded := fs.Bool("bounded", cmd.Config.Bounded, "assume integer inputs lie within -bound for the mem solver")
	timeout := fs.Duration("timeout", cmd.Config.Timeout, "per-check timeout for the z3 solver")
	maxDepth := fs.Int("max-depth", cmd.Config.MaxDepth, "maximum forks per path, 0 is unlimited")
	maxStates := fs.Int("max-states", cmd.Config.MaxStates, "maximum states per function, 0 is unlimited")
	search := fs.String("search", cmd.Config.Search, "search strategy: dfs, bfs, or random")
	seed := fs.Int64("seed", cmd.Config.Seed, "seed for the random search strategy")
	format := fs.String("format", cmd.Config.Format, "output format: text, json, or yaml")
	funcs := fs.String("func", "", "comma-separated list of functions to explore")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("file or package required")
	}
	cmd.args = fs.Args()

	if *configPath != "" {
		if err := ParseConfigFile(*configPath, &cmd.Config); err != nil {
			return err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "solver":
			cmd.Config.Solver = *solver
		case "bound":
			cmd.Config.Bound = *bound
		case "bounded":
			cmd.Config.Bounded = *bounded
		case "timeout":
			cmd.Config.Timeout = *timeout
		case "max-depth":
			cmd.Config.MaxDepth = *maxDepth
		case "max-states":
			cmd.Config.MaxStates = *maxStates
		case "search":
			cmd.Config.Search = *search
		case "seed":
			cmd.Config.Seed = *seed
		case "format":
			cmd.Config.Format = *format
		case "func":
			cmd.Config.Functions = splitList(*funcs)
		}
	})
	if err := cmd.Config.Validate(); err != nil {
		return err
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		cmd.Logger = logger
	}
	return nil
}

// loadFunctions translates the named files or packages and returns the
// functions selected by the config, in source order.
func (cmd *RunCommand) loadFunctions(args []string) ([]*ast.Function, error) {
	var files []*gosrc.File
	var patterns []string
	for _, arg := range args {
		if !strings.HasSuffix(arg, ".go") {
			patterns = append(patterns, arg)
			continue
		}
		f, err := gosrc.ParseFile(arg, nil)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if len(patterns) > 0 {
		other, err := gosrc.Load(patterns...)
		if err != nil {
			return nil, err
		}
		files = append(files, other...)
	}

	var fns []*ast.Function
	for _, f := range files {
		for _, skip := range f.Skipped {
			cmd.Logger.Debug("skip function", zap.String("func", skip.Name), zap.Stringer("pos", skip.Pos), zap.String("reason", skip.Reason))
		}
		fns = append(fns, f.Functions...)
	}

	if len(cmd.Config.Functions) == 0 {
		return fns, nil
	}

	m := make(map[string]*ast.Function, len(fns))
	for _, fn := range fns {
		if _, ok := m[fn.Name]; !ok {
			m[fn.Name] = fn
		}
	}

	selected := make([]*ast.Function, 0, len(cmd.Config.Functions))
	for _, name := range cmd.Config.Functions {
		fn := m[name]
		if fn == nil {
			return nil, fmt.Errorf("function not found: %s", name)
		}
		selected = append(selected, fn)
	}
	return selected, nil
}

// openSolver returns the configured solver and a function to release it.
func (cmd *RunCommand) openSolver() (symex.Solver, func(), error) {
	switch cmd.Config.Solver {
	case "mem":
		s := memsolver.NewSolver()
		s.Bound = cmd.Config.Bound
		s.Bounded = cmd.Config.Bounded
		return s, func() {}, nil
	case "z3":
		s := z3.NewSolver()
		s.Timeout = cmd.Config.Timeout
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown solver: %q", cmd.Config.Solver)
	}
}

func (cmd *RunCommand) runFunction(ctx context.Context, solver symex.Solver, fn *ast.Function) (*Report, error) {
	searcher, err := symex.NewSearcher(cmd.Config.Search, cmd.Config.Seed)
	if err != nil {
		return nil, err
	}

	e := symex.NewExecutor(fn)
	e.Solver = solver
	e.Searcher = searcher
	e.MaxDepth = cmd.Config.MaxDepth
	e.MaxStates = cmd.Config.MaxStates
	e.Logger = cmd.Logger.With(zap.String("func", fn.Name))

	report := &Report{Function: fn.Name, Signature: fn.String(), Pos: fn.Pos.String()}
	report.Outcomes, err = e.Run(ctx)
	if errors.Is(err, symex.ErrStateLimit) {
		cmd.Logger.Warn("state limit reached", zap.String("func", fn.Name), zap.Int("max-states", e.MaxStates))
		report.Truncated = true
	} else if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name, err)
	}
	return report, nil
}

// Report holds the outcomes of a single function.
type Report struct {
	Function  string           `json:"function" yaml:"function"`
	Signature string           `json:"signature" yaml:"signature"`
	Pos       string           `json:"pos" yaml:"pos"`
	Truncated bool             `json:"truncated,omitempty" yaml:"truncated,omitempty"`
	Outcomes  []*symex.Outcome `json:"outcomes" yaml:"outcomes"`
}

func (cmd *RunCommand) print(reports []*Report) error {
	switch cmd.Config.Format {
	case "json":
		enc := json.NewEncoder(cmd.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case "yaml":
		enc := yaml.NewEncoder(cmd.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(reports); err != nil {
			return err
		}
		return enc.Close()
	default:
		for _, report := range reports {
			fmt.Fprint(cmd.Stdout, FormatReport(report))
		}
		return nil
	}
}

// FormatReport returns a human readable report of a function's outcomes.
func FormatReport(report *Report) string {
	var b strings.Builder
	b.WriteString(headerStyle.Sprintf("== %s", report.Signature))
	fmt.Fprintf(&b, " (%s)\n", report.Pos)

	if len(report.Outcomes) == 0 {
		b.WriteString("no feasible returning paths\n")
	}

	for i, out := range report.Outcomes {
		if out.Kind == symex.OutcomeSuccess {
			fmt.Fprintf(&b, "path %d: %s\n", i+1, successStyle.Sprint(out.Kind))
		} else {
			fmt.Fprintf(&b, "path %d: %s\n", i+1, failureStyle.Sprint(out.Kind))
		}

		if len(out.PathConditions) == 0 {
			fmt.Fprintf(&b, "  %s true\n", labelStyle.Sprint("constraints:"))
		} else {
			fmt.Fprintf(&b, "  %s %s\n", labelStyle.Sprint("constraints:"), strings.Join(out.PathConditions, " "))
		}

		if len(out.Inputs) > 0 {
			names := make([]string, 0, len(out.Inputs))
			for name := range out.Inputs {
				names = append(names, name)
			}
			sort.Strings(names)

			pairs := make([]string, len(names))
			for j, name := range names {
				pairs[j] = name + "=" + out.Inputs[name]
			}
			fmt.Fprintf(&b, "  %s %s\n", labelStyle.Sprint("inputs:"), strings.Join(pairs, " "))
		}

		if out.Return != nil {
			fmt.Fprintf(&b, "  %s %s = %s\n", labelStyle.Sprint("return:"), out.SymbolicReturn, *out.Return)
		}

		if out.Message != "" {
			fmt.Fprintf(&b, "  %s %s\n", labelStyle.Sprint("message:"), out.Message)
		}
	}

	if report.Truncated {
		b.WriteString(failureStyle.Sprint("state limit reached, results truncated"))
		b.WriteString("\n")
	}
	return b.String()
}

// splitList splits a comma-separated list and drops empty items.
func splitList(s string) []string {
	var a []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			a = append(a, item)
		}
	}
	return a
}

func (cmd *RunCommand) usage() {
	fmt.Fprintln(cmd.Stderr, `
usage: symex run [arguments] FILE.go|PACKAGE...

Explores every feasible path of the selected functions and prints the path
condition, a concrete input, and the return value for each.

Arguments:

	-v
	    Enable debug logging of forks, prunes, and terminations.
	-config PATH
	    Read settings from a YAML file. Flags take precedence.
	-solver NAME
	    Solver backend: "z3" (default) or "mem".
	-bound N
	    Integer bound for the mem solver. Defaults to 64.
	-bounded
	    Assume integer inputs lie within the bound. Without it a branch
	    whose witness lies outside the bound is reported as a failure.
	-timeout DURATION
	    Per-check timeout for the z3 solver.
	-max-depth N
	    Maximum forks along a single path.
	-max-states N
	    Maximum states explored per function.
	-search NAME
	    Search strategy: "dfs" (default), "bfs", or "random".
	-seed N
	    Seed for the random search strategy.
	-format NAME
	    Output format: "text" (default), "json", or "yaml".
	-func NAMES
	    Comma-separated list of functions to explore.
`[1:])
}
