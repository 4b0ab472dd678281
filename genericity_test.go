package offsync

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
	"testing"
)

// Table names used anywhere in the test fixtures and examples. None of them may
// appear in the code paths that handle arbitrary application tables.
var fixtureTableNames = []string{"tasks", "projects", "memberships", "project_members", "users", "todos", "notes", "ghosts"}

var genericFiles = []string{"applier.go", "engine.go"}

func parseGenericFile(t *testing.T, name string) (*token.FileSet, *ast.File) {
	t.Helper()

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, name, nil, parser.ParseComments)
	if err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}

	return fset, file
}

func isStringLit(e ast.Expr) bool {
	lit, ok := e.(*ast.BasicLit)
	return ok && lit.Kind == token.STRING
}

func TestNoStringLiteralComparisons(t *testing.T) {
	for _, name := range genericFiles {
		fset, file := parseGenericFile(t, name)
		ast.Inspect(file, func(n ast.Node) bool {
			switch node := n.(type) {
			case *ast.BinaryExpr:
				if (node.Op == token.EQL || node.Op == token.NEQ) && (isStringLit(node.X) || isStringLit(node.Y)) {
					t.Errorf("%s: comparison against a string literal", fset.Position(node.Pos()))
				}
			case *ast.CaseClause:
				for _, e := range node.List {
					if isStringLit(e) {
						t.Errorf("%s: switch case on a string literal", fset.Position(e.Pos()))
					}
				}
			case *ast.CallExpr:
				sel, ok := node.Fun.(*ast.SelectorExpr)
				if !ok {
					return true
				}
				if pkg, ok := sel.X.(*ast.Ident); ok && pkg.Name == "strings" {
					for _, arg := range node.Args {
						if isStringLit(arg) {
							t.Errorf("%s: strings.%s with a literal argument", fset.Position(node.Pos()), sel.Sel.Name)
						}
					}
				}
			}

			return true
		})
	}
}

func TestNoTableNamesInGenericCode(t *testing.T) {
	for _, name := range genericFiles {
		fset, file := parseGenericFile(t, name)
		ast.Inspect(file, func(n ast.Node) bool {
			switch node := n.(type) {
			case *ast.BasicLit:
				if node.Kind != token.STRING {
					return true
				}
				text := strings.ToLower(node.Value)
				for _, table := range fixtureTableNames {
					if strings.Contains(text, table) {
						t.Errorf("%s: literal %s names table %q", fset.Position(node.Pos()), node.Value, table)
					}
				}
			case *ast.Ident:
				lower := strings.ToLower(node.Name)
				for _, table := range fixtureTableNames {
					if strings.Contains(lower, strings.ReplaceAll(table, "_", "")) {
						t.Errorf("%s: identifier %s names table %q", fset.Position(node.Pos()), node.Name, table)
					}
				}
			}

			return true
		})
	}
}

func TestGenericFilesDoNotDeclareTableSpecificRoutines(t *testing.T) {
	for _, name := range genericFiles {
		_, file := parseGenericFile(t, name)
		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok {
				continue
			}
			lower := strings.ToLower(fn.Name.Name)
			if strings.Contains(lower, "backfill") {
				t.Errorf("%s declares %s", name, fn.Name.Name)
			}
		}
	}
}

func TestHookAndStatusDeclarationsAreDocumented(t *testing.T) {
	for _, name := range []string{"observe.go", "status.go"} {
		fset, file := parseGenericFile(t, name)
		for _, decl := range file.Decls {
			switch d := decl.(type) {
			case *ast.FuncDecl:
				if d.Name.IsExported() && d.Doc == nil {
					t.Errorf("%s: %s has no doc comment", fset.Position(d.Pos()), d.Name.Name)
				}
			case *ast.GenDecl:
				if d.Tok != token.CONST {
					continue
				}
				for _, spec := range d.Specs {
					vs := spec.(*ast.ValueSpec)
					if vs.Names[0].IsExported() && vs.Doc == nil {
						t.Errorf("%s: %s has no doc comment", fset.Position(vs.Pos()), vs.Names[0].Name)
					}
				}
			}
		}
	}
}
