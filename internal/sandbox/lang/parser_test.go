package lang_test

import (
	"testing"

	"github.com/oriys/nova/internal/sandbox/lang"
)

func TestParseAssignmentAndCall(t *testing.T) {
	prog, err := lang.Parse(`x = 1
print(x)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(prog.Statements) != 2 {
		t.Fatalf("len(Statements) = %d, want 2", len(prog.Statements))
	}
	assign, ok := prog.Statements[0].(*lang.AssignStmt)
	if !ok {
		t.Fatalf("Statements[0] = %T, want *AssignStmt", prog.Statements[0])
	}
	if assign.Target != "x" {
		t.Fatalf("Target = %q, want x", assign.Target)
	}
	exprStmt, ok := prog.Statements[1].(*lang.ExprStmt)
	if !ok {
		t.Fatalf("Statements[1] = %T, want *ExprStmt", prog.Statements[1])
	}
	call, ok := exprStmt.X.(*lang.CallExpr)
	if !ok {
		t.Fatalf("ExprStmt.X = %T, want *CallExpr", exprStmt.X)
	}
	if fn, ok := call.Fn.(*lang.Ident); !ok || fn.Name != "print" {
		t.Fatalf("call.Fn = %+v, want ident print", call.Fn)
	}
}

func TestParseImportPath(t *testing.T) {
	prog, err := lang.Parse(`import pandas.stats`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	imp, ok := prog.Statements[0].(*lang.ImportStmt)
	if !ok {
		t.Fatalf("Statements[0] = %T, want *ImportStmt", prog.Statements[0])
	}
	if len(imp.Path) != 2 || imp.Path[0] != "pandas" || imp.Path[1] != "stats" {
		t.Fatalf("Path = %v, want [pandas stats]", imp.Path)
	}
}

func TestParseAttributeChain(t *testing.T) {
	prog, err := lang.Parse(`x = obj.__class__.__bases__`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	assign := prog.Statements[0].(*lang.AssignStmt)
	outer, ok := assign.Value.(*lang.AttrExpr)
	if !ok {
		t.Fatalf("Value = %T, want *AttrExpr", assign.Value)
	}
	if outer.Attr != "__bases__" {
		t.Fatalf("outer.Attr = %q, want __bases__", outer.Attr)
	}
	inner, ok := outer.Recv.(*lang.AttrExpr)
	if !ok {
		t.Fatalf("outer.Recv = %T, want *AttrExpr", outer.Recv)
	}
	if inner.Attr != "__class__" {
		t.Fatalf("inner.Attr = %q, want __class__", inner.Attr)
	}
}

func TestParseIfForReturn(t *testing.T) {
	src := `
for row in rows {
	if row.value > 10 {
		result = row.value
	} else {
		result = 0
	}
	return result
}
`
	prog, err := lang.Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	forStmt, ok := prog.Statements[0].(*lang.ForStmt)
	if !ok {
		t.Fatalf("Statements[0] = %T, want *ForStmt", prog.Statements[0])
	}
	if forStmt.Var != "row" {
		t.Fatalf("Var = %q, want row", forStmt.Var)
	}
	if len(forStmt.Body) != 2 {
		t.Fatalf("len(Body) = %d, want 2", len(forStmt.Body))
	}
	if _, ok := forStmt.Body[1].(*lang.ReturnStmt); !ok {
		t.Fatalf("Body[1] = %T, want *ReturnStmt", forStmt.Body[1])
	}
}

func TestParseRejectsUnterminatedString(t *testing.T) {
	_, err := lang.Parse(`x = "unterminated`)
	if err == nil {
		t.Fatal("expected a lex error")
	}
}

func TestParseListAndMapLiterals(t *testing.T) {
	prog, err := lang.Parse(`x = [1, 2, 3]
y = {"a": 1, "b": 2}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	list := prog.Statements[0].(*lang.AssignStmt).Value.(*lang.ListLit)
	if len(list.Elems) != 3 {
		t.Fatalf("len(Elems) = %d, want 3", len(list.Elems))
	}
	m := prog.Statements[1].(*lang.AssignStmt).Value.(*lang.MapLit)
	if len(m.Keys) != 2 {
		t.Fatalf("len(Keys) = %d, want 2", len(m.Keys))
	}
}
