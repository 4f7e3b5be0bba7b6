// Package gosrc translates a subset of Go source into the syntax tree
// consumed by the symbolic executor.
//
// Top-level functions whose parameters and result are int or bool are
// translated. Short variable declarations and var declarations become let
// bindings, "=" and compound assignments become assignments, and loops,
// switches and expression statements become unsupported statements so the
// executor can fail only the paths that reach them.
//
// The executor binds names in a single flat state, so a declaration that
// reuses a name already declared in the function is renamed to "name#N" and
// references within its block resolve to the new name.
//
// Integers are mathematical integers. "/" and "%" follow SMT-LIB div and mod
// which round toward negative infinity for positive divisors, while Go
// truncates toward zero. The two agree only for non-negative dividends, so
// witnesses for paths guarded by division or remainder of a negative value
// may not reproduce the path when run as Go. Overflow is not modeled.
package gosrc

import (
	"fmt"
	goast "go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"sort"
	"strconv"

	"github.com/benbjohnson/symex/ast"
	"golang.org/x/tools/go/packages"
)

// File is the result of translating a single Go source file.
type File struct {
	Filename string
	Package  string

	// Translated functions in source order.
	Functions []*ast.Function

	// Functions with a signature outside the supported subset.
	Skipped []*SkippedFunc
}

// Function returns the translated function with the given name.
func (f *File) Function(name string) *ast.Function {
	for _, fn := range f.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// SkippedFunc is a function that could not be translated.
type SkippedFunc struct {
	Name   string
	Reason string
	Pos    ast.Pos
}

// ParseFile parses a Go source file and translates its top-level functions.
// If src is nil then the file is read from filename.
func ParseFile(filename string, src interface{}) (*File, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, src, 0)
	if err != nil {
		return nil, err
	}
	return NewTranslator(fset).TranslateFile(f), nil
}

// Load loads the Go packages matching patterns and translates the files of
// each. Files are returned sorted by filename.
func Load(patterns ...string) ([]*File, error) {
	pkgs, err := packages.Load(&packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedSyntax,
	}, patterns...)
	if err != nil {
		return nil, err
	} else if packages.PrintErrors(pkgs) > 0 {
		return nil, fmt.Errorf("packages contain errors")
	}

	var files []*File
	for _, pkg := range pkgs {
		tr := NewTranslator(pkg.Fset)
		for _, f := range pkg.Syntax {
			files = append(files, tr.TranslateFile(f))
		}
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	return files, nil
}

// Translator converts Go syntax trees into executor syntax trees.
type Translator struct {
	fset *token.FileSet

	// Declarations of the function being translated.
	scope *scope
	decls map[string]int // declaration count by Go name
}

// scope maps the names declared in a Go block to their translated names.
type scope struct {
	parent *scope
	names  map[string]string
}

// NewTranslator returns a new instance of Translator. Positions are resolved
// against fset.
func NewTranslator(fset *token.FileSet) *Translator {
	return &Translator{fset: fset}
}

// TranslateFile translates every top-level function of f.
func (tr *Translator) TranslateFile(f *goast.File) *File {
	other := &File{
		Filename: tr.fset.Position(f.Package).Filename,
		Package:  f.Name.Name,
	}

	for _, decl := range f.Decls {
		decl, ok := decl.(*goast.FuncDecl)
		if !ok {
			continue
		}

		fn, err := tr.TranslateFunc(decl)
		if err != nil {
			other.Skipped = append(other.Skipped, &SkippedFunc{
				Name:   decl.Name.Name,
				Reason: err.Error(),
				Pos:    tr.pos(decl.Pos()),
			})
			continue
		}
		other.Functions = append(other.Functions, fn)
	}
	return other
}

// TranslateFunc translates a function declaration. Returns an error if the
// declaration is a method, has no body, or uses types other than int or
// bool in its signature.
func (tr *Translator) TranslateFunc(decl *goast.FuncDecl) (*ast.Function, error) {
	if decl.Recv != nil {
		return nil, fmt.Errorf("methods not supported")
	} else if decl.Body == nil {
		return nil, fmt.Errorf("function has no body")
	} else if decl.Type.TypeParams != nil && len(decl.Type.TypeParams.List) > 0 {
		return nil, fmt.Errorf("type parameters not supported")
	}

	fn := &ast.Function{Name: decl.Name.Name, Pos: tr.pos(decl.Pos())}

	// Parameters share the outermost scope with the function body.
	tr.scope, tr.decls = nil, make(map[string]int)
	tr.pushScope()
	defer tr.popScope()

	for _, field := range decl.Type.Params.List {
		typ, err := translateType(field.Type)
		if err != nil {
			return nil, err
		}
		for _, name := range field.Names {
			fn.Params = append(fn.Params, &ast.Param{Name: tr.declare(name.Name), Type: typ})
		}
	}

	if results := decl.Type.Results; results != nil && len(results.List) > 0 {
		if len(results.List) > 1 || len(results.List[0].Names) > 1 {
			return nil, fmt.Errorf("multiple results not supported")
		} else if len(results.List[0].Names) == 1 {
			return nil, fmt.Errorf("named results not supported")
		}
		typ, err := translateType(results.List[0].Type)
		if err != nil {
			return nil, err
		}
		fn.Result = typ
	}

	fn.Body = tr.translateBlock(decl.Body.List)
	return fn, nil
}

func translateType(expr goast.Expr) (ast.Type, error) {
	if ident, ok := expr.(*goast.Ident); ok {
		switch ident.Name {
		case "int", "int8", "int16", "int32", "int64":
			return ast.TypeInt, nil
		case "bool":
			return ast.TypeBool, nil
		}
	}
	return ast.TypeInvalid, fmt.Errorf("unsupported type: %s", types.ExprString(expr))
}

func (tr *Translator) translateBlock(stmts []goast.Stmt) []ast.Stmt {
	var a []ast.Stmt
	for _, stmt := range stmts {
		a = append(a, tr.translateStmt(stmt)...)
	}
	return a
}

// translateScopedBlock translates stmts as a nested Go block.
func (tr *Translator) translateScopedBlock(stmts []goast.Stmt) []ast.Stmt {
	tr.pushScope()
	defer tr.popScope()
	return tr.translateBlock(stmts)
}

func (tr *Translator) pushScope() {
	tr.scope = &scope{parent: tr.scope, names: make(map[string]string)}
}

func (tr *Translator) popScope() {
	tr.scope = tr.scope.parent
}

// declare binds name in the innermost scope and returns its translated name.
// The first declaration of a name keeps it. Later ones are numbered.
func (tr *Translator) declare(name string) string {
	local := name
	if n := tr.decls[name]; n > 0 {
		local = fmt.Sprintf("%s#%d", name, n)
	}
	tr.decls[name]++
	tr.scope.names[name] = local
	return local
}

// resolve returns the translated name of the innermost declaration of name.
// Names declared outside the function are returned unchanged.
func (tr *Translator) resolve(name string) string {
	for s := tr.scope; s != nil; s = s.parent {
		if local, ok := s.names[name]; ok {
			return local
		}
	}
	return name
}

// translateStmt returns the statements for stmt. A single Go statement may
// expand to several, e.g. an if statement with an init clause.
func (tr *Translator) translateStmt(stmt goast.Stmt) []ast.Stmt {
	switch stmt := stmt.(type) {
	case *goast.AssignStmt:
		return []ast.Stmt{tr.translateAssignStmt(stmt)}
	case *goast.IncDecStmt:
		op := "+"
		if stmt.Tok == token.DEC {
			op = "-"
		}
		pos := tr.pos(stmt.Pos())
		target := tr.translateExpr(stmt.X)
		return []ast.Stmt{&ast.AssignStmt{
			Target: target,
			Value:  &ast.BinaryExpr{Op: op, LHS: target, RHS: &ast.NumberLit{Value: 1, Pos: pos}, Pos: pos},
			Pos:    pos,
		}}
	case *goast.DeclStmt:
		return tr.translateDeclStmt(stmt)
	case *goast.IfStmt:
		// The init clause is scoped to the statement, including its else.
		tr.pushScope()
		defer tr.popScope()

		var a []ast.Stmt
		if stmt.Init != nil {
			a = append(a, tr.translateStmt(stmt.Init)...)
		}
		return append(a, tr.translateIfStmt(stmt))
	case *goast.ReturnStmt:
		pos := tr.pos(stmt.Pos())
		switch len(stmt.Results) {
		case 0:
			return []ast.Stmt{&ast.ReturnStmt{Pos: pos}}
		case 1:
			return []ast.Stmt{&ast.ReturnStmt{Value: tr.translateExpr(stmt.Results[0]), Pos: pos}}
		default:
			return []ast.Stmt{&ast.UnsupportedStmt{Kind: "multiple return values", Pos: pos}}
		}
	case *goast.BlockStmt:
		return tr.translateScopedBlock(stmt.List)
	case *goast.EmptyStmt:
		return nil
	case *goast.ForStmt:
		return []ast.Stmt{&ast.UnsupportedStmt{Kind: "for", Pos: tr.pos(stmt.Pos())}}
	case *goast.RangeStmt:
		return []ast.Stmt{&ast.UnsupportedStmt{Kind: "range", Pos: tr.pos(stmt.Pos())}}
	case *goast.SwitchStmt, *goast.TypeSwitchStmt:
		return []ast.Stmt{&ast.UnsupportedStmt{Kind: "switch", Pos: tr.pos(stmt.Pos())}}
	case *goast.ExprStmt:
		return []ast.Stmt{&ast.UnsupportedStmt{Kind: "expression statement", Pos: tr.pos(stmt.Pos())}}
	default:
		return []ast.Stmt{&ast.UnsupportedStmt{Kind: fmt.Sprintf("%T", stmt), Pos: tr.pos(stmt.Pos())}}
	}
}

func (tr *Translator) translateAssignStmt(stmt *goast.AssignStmt) ast.Stmt {
	pos := tr.pos(stmt.Pos())
	if len(stmt.Lhs) != 1 || len(stmt.Rhs) != 1 {
		return &ast.UnsupportedStmt{Kind: "parallel assignment", Pos: pos}
	}
	lhs, rhs := stmt.Lhs[0], tr.translateExpr(stmt.Rhs[0])

	switch stmt.Tok {
	case token.DEFINE:
		ident, ok := lhs.(*goast.Ident)
		if !ok {
			return &ast.UnsupportedStmt{Kind: "short variable declaration", Pos: pos}
		}
		return &ast.LetStmt{Name: tr.declare(ident.Name), Value: rhs, Pos: pos}
	case token.ASSIGN:
		return &ast.AssignStmt{Target: tr.translateExpr(lhs), Value: rhs, Pos: pos}
	default:
		// Compound assignment, e.g. "x += 1". Strip the trailing "=".
		tok := stmt.Tok.String()
		target := tr.translateExpr(lhs)
		return &ast.AssignStmt{
			Target: target,
			Value:  &ast.BinaryExpr{Op: tok[:len(tok)-1], LHS: target, RHS: rhs, Pos: pos},
			Pos:    pos,
		}
	}
}

func (tr *Translator) translateDeclStmt(stmt *goast.DeclStmt) []ast.Stmt {
	decl, ok := stmt.Decl.(*goast.GenDecl)
	if !ok || decl.Tok != token.VAR {
		return []ast.Stmt{&ast.UnsupportedStmt{Kind: "declaration", Pos: tr.pos(stmt.Pos())}}
	}

	var a []ast.Stmt
	for _, spec := range decl.Specs {
		spec := spec.(*goast.ValueSpec)
		pos := tr.pos(spec.Pos())

		if len(spec.Values) != 0 && len(spec.Values) != len(spec.Names) {
			a = append(a, &ast.UnsupportedStmt{Kind: "var declaration", Pos: pos})
			continue
		}

		for i, name := range spec.Names {
			var value ast.Expr
			if len(spec.Values) > 0 {
				value = tr.translateExpr(spec.Values[i])
			} else if typ, err := translateType(spec.Type); err != nil {
				value = &ast.UnsupportedExpr{Kind: "zero value", Pos: pos}
			} else if typ == ast.TypeBool {
				value = &ast.BoolLit{Value: false, Pos: pos}
			} else {
				value = &ast.NumberLit{Value: 0, Pos: pos}
			}
			a = append(a, &ast.LetStmt{Name: tr.declare(name.Name), Value: value, Pos: pos})
		}
	}
	return a
}

func (tr *Translator) translateIfStmt(stmt *goast.IfStmt) *ast.IfStmt {
	other := &ast.IfStmt{
		Cond: tr.translateExpr(stmt.Cond),
		Then: tr.translateScopedBlock(stmt.Body.List),
		Pos:  tr.pos(stmt.Pos()),
	}

	switch els := stmt.Else.(type) {
	case nil:
	case *goast.BlockStmt:
		// Else is nil only when absent.
		other.Else = tr.translateScopedBlock(els.List)
		if other.Else == nil {
			other.Else = []ast.Stmt{}
		}
	case *goast.IfStmt:
		other.Else = tr.translateStmt(els)
	}
	return other
}

func (tr *Translator) translateExpr(expr goast.Expr) ast.Expr {
	pos := tr.pos(expr.Pos())

	switch expr := expr.(type) {
	case *goast.BasicLit:
		if expr.Kind != token.INT {
			return &ast.UnsupportedExpr{Kind: strconv.Quote(expr.Value), Pos: pos}
		}
		v, err := strconv.ParseInt(expr.Value, 0, 64)
		if err != nil {
			return &ast.UnsupportedExpr{Kind: "integer literal " + expr.Value, Pos: pos}
		}
		return &ast.NumberLit{Value: v, Pos: pos}
	case *goast.Ident:
		switch expr.Name {
		case "true":
			return &ast.BoolLit{Value: true, Pos: pos}
		case "false":
			return &ast.BoolLit{Value: false, Pos: pos}
		}
		return &ast.Ident{Name: tr.resolve(expr.Name), Pos: pos}
	case *goast.ParenExpr:
		return tr.translateExpr(expr.X)
	case *goast.BinaryExpr:
		return &ast.BinaryExpr{
			Op:  expr.Op.String(),
			LHS: tr.translateExpr(expr.X),
			RHS: tr.translateExpr(expr.Y),
			Pos: pos,
		}
	case *goast.UnaryExpr:
		switch expr.Op {
		case token.ADD:
			return tr.translateExpr(expr.X)
		case token.SUB, token.NOT:
			return &ast.UnaryExpr{Op: expr.Op.String(), X: tr.translateExpr(expr.X), Pos: pos}
		default:
			return &ast.UnsupportedExpr{Kind: "unary " + expr.Op.String(), Pos: pos}
		}
	case *goast.SelectorExpr:
		return &ast.FieldExpr{X: tr.translateExpr(expr.X), Field: expr.Sel.Name, Pos: pos}
	case *goast.CallExpr:
		args := make([]ast.Expr, len(expr.Args))
		for i := range expr.Args {
			args[i] = tr.translateExpr(expr.Args[i])
		}
		return &ast.CallExpr{Fn: tr.translateExpr(expr.Fun), Args: args, Pos: pos}
	default:
		return &ast.UnsupportedExpr{Kind: fmt.Sprintf("%T", expr), Pos: pos}
	}
}

func (tr *Translator) pos(p token.Pos) ast.Pos {
	if !p.IsValid() {
		return ast.Pos{}
	}
	position := tr.fset.Position(p)
	return ast.Pos{Filename: position.Filename, Line: position.Line, Column: position.Column}
}
