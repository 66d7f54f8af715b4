// Package codepolicy implements the two-stage code gate of spec.md
// §4.5: a fast textual substring scan followed by a syntactic AST walk
// over internal/sandbox/lang's parse tree. Grounded on
// original_source/execution/python_executor.py's CodeValidator, whose
// two checks (banned_patterns string scan, then ast.walk over imports/
// calls/attribute access) are carried over verbatim in shape; only the
// tree being walked changes, since the sandboxed language here is the
// embedded internal/sandbox/lang, not Python.
package codepolicy

import (
	"strings"

	"github.com/oriys/nova/internal/config"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/logging"
	"github.com/oriys/nova/internal/metrics"
	"github.com/oriys/nova/internal/sandbox/lang"
)

// rejectedCalls are direct calls to names that would otherwise hand the
// script a dynamic-execution, dynamic-compile, or arbitrary-file
// primitive - python_executor.py's {"exec", "eval", "compile",
// "__import__", "open"} rejection set, kept name for name.
var rejectedCalls = map[string]bool{
	"exec":       true,
	"eval":       true,
	"compile":    true,
	"open":       true,
	"__import__": true,
}

// dangerousAttrNames is python_executor.py's _is_dangerous_attribute set,
// carried over unchanged since it targets the universal "walk the
// interpreter's own object graph" escape regardless of source language
// (see SPEC_FULL.md's Code sandbox runner supplement).
var dangerousAttrNames = map[string]bool{
	"class":          true,
	"bases":          true,
	"subclasses":     true,
	"mro":            true,
	"code":           true,
	"globals":        true,
	"dict":           true,
	"builtins":       true,
	"__class__":      true,
	"__bases__":      true,
	"__subclasses__": true,
	"__mro__":        true,
	"__code__":       true,
	"__globals__":    true,
	"__dict__":       true,
	"__builtins__":   true,
}

// Validator runs the textual and syntactic scans of spec.md §4.5.
type Validator struct {
	allowedImports map[string]bool
	bannedPatterns []string
}

// NewValidator builds a Validator from sec's code-policy configuration.
func NewValidator(sec config.SecurityConfig) *Validator {
	allowed := make(map[string]bool, len(sec.AllowedCodeImports))
	for _, m := range sec.AllowedCodeImports {
		allowed[m] = true
	}
	return &Validator{
		allowedImports: allowed,
		bannedPatterns: sec.BannedCodePatterns,
	}
}

// Validate runs the banned-substring scan and then, if the source
// parses, the AST walk. A syntax error is itself a policy violation:
// spec.md gives the sandbox runner no path to execute code the parser
// rejects.
func (v *Validator) Validate(code string) error {
	var violations []string

	lower := strings.ToLower(code)
	for _, pattern := range v.bannedPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			violations = append(violations, "banned-pattern:"+pattern)
			logging.Op().Warn("codepolicy: blocked banned pattern", "pattern", pattern)
		}
	}

	prog, err := lang.Parse(code)
	if err != nil {
		violations = append(violations, "syntax-error")
		logging.Op().Warn("codepolicy: source failed to parse")
	} else {
		violations = append(violations, v.walk(prog.Statements)...)
	}

	if len(violations) == 0 {
		return nil
	}
	metrics.Global().RecordPolicyViolation()
	return errs.New(errs.PolicyViolation, "code failed policy validation").
		WithDetails(map[string]any{"violations": violations})
}

func (v *Validator) walk(stmts []lang.Stmt) []string {
	var violations []string
	for _, stmt := range stmts {
		violations = append(violations, v.walkStmt(stmt)...)
	}
	return violations
}

func (v *Validator) walkStmt(stmt lang.Stmt) []string {
	switch s := stmt.(type) {
	case *lang.ImportStmt:
		return v.checkImport(s)
	case *lang.AssignStmt:
		return v.walkExpr(s.Value)
	case *lang.ExprStmt:
		return v.walkExpr(s.X)
	case *lang.IfStmt:
		var out []string
		out = append(out, v.walkExpr(s.Cond)...)
		out = append(out, v.walk(s.Then)...)
		out = append(out, v.walk(s.Else)...)
		return out
	case *lang.ForStmt:
		var out []string
		out = append(out, v.walkExpr(s.Iterable)...)
		out = append(out, v.walk(s.Body)...)
		return out
	case *lang.ReturnStmt:
		if s.Value != nil {
			return v.walkExpr(s.Value)
		}
	}
	return nil
}

func (v *Validator) checkImport(s *lang.ImportStmt) []string {
	if len(s.Path) == 0 {
		return nil
	}
	root := s.Path[0]
	if v.allowedImports[root] {
		return nil
	}
	full := strings.Join(s.Path, ".")
	logging.Op().Warn("codepolicy: blocked import", "module", full)
	return []string{"import-not-allowed:" + full}
}

func (v *Validator) walkExpr(expr lang.Expr) []string {
	if expr == nil {
		return nil
	}
	var violations []string

	switch e := expr.(type) {
	case *lang.CallExpr:
		if ident, ok := e.Fn.(*lang.Ident); ok && rejectedCalls[ident.Name] {
			logging.Op().Warn("codepolicy: blocked function call", "function", ident.Name)
			violations = append(violations, "function-not-allowed:"+ident.Name)
		}
		violations = append(violations, v.walkExpr(e.Fn)...)
		for _, arg := range e.Args {
			violations = append(violations, v.walkExpr(arg)...)
		}
	case *lang.AttrExpr:
		chain := attrChain(e)
		if name, bad := firstDangerousAttr(chain); bad {
			logging.Op().Warn("codepolicy: blocked attribute access", "attribute", name)
			violations = append(violations, "attribute-not-allowed:"+name)
		}
		if strings.HasPrefix(e.Attr, "__") && !strings.HasSuffix(e.Attr, "__") {
			logging.Op().Warn("codepolicy: blocked dunder attribute", "attribute", e.Attr)
			violations = append(violations, "dunder-attribute-not-allowed:"+e.Attr)
		}
		violations = append(violations, v.walkExpr(e.Recv)...)
	case *lang.IndexExpr:
		violations = append(violations, v.walkExpr(e.Recv)...)
		violations = append(violations, v.walkExpr(e.Index)...)
	case *lang.UnaryExpr:
		violations = append(violations, v.walkExpr(e.X)...)
	case *lang.BinaryExpr:
		violations = append(violations, v.walkExpr(e.Left)...)
		violations = append(violations, v.walkExpr(e.Right)...)
	case *lang.ListLit:
		for _, el := range e.Elems {
			violations = append(violations, v.walkExpr(el)...)
		}
	case *lang.MapLit:
		for i := range e.Keys {
			violations = append(violations, v.walkExpr(e.Keys[i])...)
			violations = append(violations, v.walkExpr(e.Values[i])...)
		}
	}
	return violations
}

// attrChain flattens a.b.c into ["a", "b", "c"], mirroring
// CodeValidator._get_attribute_chain.
func attrChain(e *lang.AttrExpr) []string {
	var parts []string
	var cur lang.Expr = e
	for {
		switch n := cur.(type) {
		case *lang.AttrExpr:
			parts = append([]string{n.Attr}, parts...)
			cur = n.Recv
		case *lang.Ident:
			parts = append([]string{n.Name}, parts...)
			return parts
		default:
			return parts
		}
	}
}

func firstDangerousAttr(chain []string) (string, bool) {
	for _, part := range chain {
		if dangerousAttrNames[part] {
			return part, true
		}
	}
	return "", false
}
