package sandbox

import (
	"fmt"

	"github.com/oriys/nova/internal/sandbox/lang"
)

// env holds the interpreter's variable bindings. Unlike a lexically
// scoped language, internal/sandbox/lang has exactly one scope per
// execution (spec.md §4.6 step 5: "global bindings = builtins ∪
// preloads, local bindings = {data-rows, serialized-data-as-text,
// **variables}") - there is no function-call scoping to model since the
// language has no user-defined functions, only builtins.
type env struct {
	vars map[string]any
}

func newEnv(globals, locals map[string]any) *env {
	vars := make(map[string]any, len(globals)+len(locals))
	for k, v := range globals {
		vars[k] = v
	}
	for k, v := range locals {
		vars[k] = v
	}
	return &env{vars: vars}
}

// interpreter runs a parsed Program against a fixed allow-list of
// importable module roots, re-checked at runtime as defense in depth
// even though internal/codepolicy has already statically rejected
// disallowed imports before the sandbox worker ever sees this source.
type interpreter struct {
	allowedImports map[string]bool
	modules        map[string]any
}

func newInterpreter(allowedImports []string) *interpreter {
	allowed := make(map[string]bool, len(allowedImports))
	for _, m := range allowedImports {
		allowed[m] = true
	}
	return &interpreter{allowedImports: allowed, modules: preloadedModules()}
}

// runControl signals an early return out of statement execution; the
// language has no functions to return from, so a top-level return just
// halts the script.
type runControl struct {
	returned bool
	value    any
}

// Run executes prog's statements against e in order, returning the value
// of the first top-level `return`, or nil if the script runs to
// completion without one.
func (ip *interpreter) Run(prog *lang.Program, e *env) (any, error) {
	ctrl, err := ip.execStmts(prog.Statements, e)
	if err != nil {
		return nil, err
	}
	return ctrl.value, nil
}

func (ip *interpreter) execStmts(stmts []lang.Stmt, e *env) (runControl, error) {
	for _, stmt := range stmts {
		ctrl, err := ip.execStmt(stmt, e)
		if err != nil {
			return runControl{}, err
		}
		if ctrl.returned {
			return ctrl, nil
		}
	}
	return runControl{}, nil
}

func (ip *interpreter) execStmt(stmt lang.Stmt, e *env) (runControl, error) {
	switch s := stmt.(type) {
	case *lang.ImportStmt:
		return runControl{}, ip.execImport(s, e)
	case *lang.AssignStmt:
		v, err := ip.eval(s.Value, e)
		if err != nil {
			return runControl{}, err
		}
		e.vars[s.Target] = v
		return runControl{}, nil
	case *lang.ExprStmt:
		_, err := ip.eval(s.X, e)
		return runControl{}, err
	case *lang.IfStmt:
		cond, err := ip.eval(s.Cond, e)
		if err != nil {
			return runControl{}, err
		}
		if truthy(cond) {
			return ip.execStmts(s.Then, e)
		}
		return ip.execStmts(s.Else, e)
	case *lang.ForStmt:
		return ip.execFor(s, e)
	case *lang.ReturnStmt:
		if s.Value == nil {
			return runControl{returned: true}, nil
		}
		v, err := ip.eval(s.Value, e)
		if err != nil {
			return runControl{}, err
		}
		return runControl{returned: true, value: v}, nil
	default:
		return runControl{}, fmt.Errorf("sandbox: unsupported statement %T", stmt)
	}
}

func (ip *interpreter) execImport(s *lang.ImportStmt, e *env) error {
	root := s.Path[0]
	if !ip.allowedImports[root] {
		return fmt.Errorf("sandbox: import of %q is not allowed", root)
	}
	mod, ok := ip.modules[root]
	if !ok {
		// Best-effort preload, matching SafeImporter.preload_modules:
		// missing modules are silently omitted and execution continues
		// with the name simply unbound.
		return nil
	}
	e.vars[root] = mod
	return nil
}

func (ip *interpreter) execFor(s *lang.ForStmt, e *env) (runControl, error) {
	iterable, err := ip.eval(s.Iterable, e)
	if err != nil {
		return runControl{}, err
	}
	items := asList(iterable)
	if items == nil {
		if m, ok := iterable.(map[string]any); ok {
			for k := range m {
				items = append(items, k)
			}
		}
	}
	for _, item := range items {
		e.vars[s.Var] = item
		ctrl, err := ip.execStmts(s.Body, e)
		if err != nil {
			return runControl{}, err
		}
		if ctrl.returned {
			return ctrl, nil
		}
	}
	return runControl{}, nil
}

func (ip *interpreter) eval(expr lang.Expr, e *env) (any, error) {
	switch x := expr.(type) {
	case *lang.Ident:
		v, ok := e.vars[x.Name]
		if !ok {
			return nil, fmt.Errorf("sandbox: undefined name %q", x.Name)
		}
		return v, nil
	case *lang.NumberLit:
		var f float64
		_, err := fmt.Sscanf(x.Text, "%g", &f)
		if err != nil {
			return nil, fmt.Errorf("sandbox: invalid number %q", x.Text)
		}
		return f, nil
	case *lang.StringLit:
		return x.Value, nil
	case *lang.BoolLit:
		return x.Value, nil
	case *lang.NilLit:
		return nil, nil
	case *lang.ListLit:
		out := make([]any, len(x.Elems))
		for i, el := range x.Elems {
			v, err := ip.eval(el, e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *lang.MapLit:
		out := make(map[string]any, len(x.Keys))
		for i := range x.Keys {
			k, err := ip.eval(x.Keys[i], e)
			if err != nil {
				return nil, err
			}
			v, err := ip.eval(x.Values[i], e)
			if err != nil {
				return nil, err
			}
			out[toString(k)] = v
		}
		return out, nil
	case *lang.AttrExpr:
		recv, err := ip.eval(x.Recv, e)
		if err != nil {
			return nil, err
		}
		m, ok := recv.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("sandbox: %q has no attribute %q", exprDesc(x.Recv), x.Attr)
		}
		v, ok := m[x.Attr]
		if !ok {
			return nil, fmt.Errorf("sandbox: attribute %q not found", x.Attr)
		}
		return v, nil
	case *lang.IndexExpr:
		recv, err := ip.eval(x.Recv, e)
		if err != nil {
			return nil, err
		}
		idx, err := ip.eval(x.Index, e)
		if err != nil {
			return nil, err
		}
		return indexValue(recv, idx)
	case *lang.CallExpr:
		return ip.evalCall(x, e)
	case *lang.UnaryExpr:
		v, err := ip.eval(x.X, e)
		if err != nil {
			return nil, err
		}
		return evalUnary(x.Op, v)
	case *lang.BinaryExpr:
		left, err := ip.eval(x.Left, e)
		if err != nil {
			return nil, err
		}
		right, err := ip.eval(x.Right, e)
		if err != nil {
			return nil, err
		}
		return evalBinary(x.Op, left, right)
	default:
		return nil, fmt.Errorf("sandbox: unsupported expression %T", expr)
	}
}

func (ip *interpreter) evalCall(x *lang.CallExpr, e *env) (any, error) {
	fnVal, err := ip.eval(x.Fn, e)
	if err != nil {
		return nil, err
	}
	fn, ok := fnVal.(BuiltinFunc)
	if !ok {
		return nil, fmt.Errorf("sandbox: value is not callable")
	}
	args := make([]any, len(x.Args))
	for i, a := range x.Args {
		v, err := ip.eval(a, e)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return fn(args)
}

func indexValue(recv, idx any) (any, error) {
	switch r := recv.(type) {
	case []any:
		i := int(toFloat(idx))
		if i < 0 || i >= len(r) {
			return nil, fmt.Errorf("sandbox: index %d out of range", i)
		}
		return r[i], nil
	case map[string]any:
		v, ok := r[toString(idx)]
		if !ok {
			return nil, fmt.Errorf("sandbox: key %q not found", toString(idx))
		}
		return v, nil
	default:
		return nil, fmt.Errorf("sandbox: value is not indexable")
	}
}

func exprDesc(e lang.Expr) string {
	if id, ok := e.(*lang.Ident); ok {
		return id.Name
	}
	return "expression"
}

func evalUnary(op lang.Kind, v any) (any, error) {
	switch op {
	case lang.MINUS:
		return -toFloat(v), nil
	case lang.NOT:
		return !truthy(v), nil
	default:
		return nil, fmt.Errorf("sandbox: unsupported unary operator")
	}
}

func evalBinary(op lang.Kind, left, right any) (any, error) {
	switch op {
	case lang.PLUS:
		if ls, ok := left.(string); ok {
			return ls + toString(right), nil
		}
		return toFloat(left) + toFloat(right), nil
	case lang.MINUS:
		return toFloat(left) - toFloat(right), nil
	case lang.STAR:
		return toFloat(left) * toFloat(right), nil
	case lang.SLASH:
		r := toFloat(right)
		if r == 0 {
			return nil, fmt.Errorf("sandbox: division by zero")
		}
		return toFloat(left) / r, nil
	case lang.PERCENT:
		r := int(toFloat(right))
		if r == 0 {
			return nil, fmt.Errorf("sandbox: modulo by zero")
		}
		return float64(int(toFloat(left)) % r), nil
	case lang.EQ:
		return valuesEqual(left, right), nil
	case lang.NEQ:
		return !valuesEqual(left, right), nil
	case lang.LT:
		return toFloat(left) < toFloat(right), nil
	case lang.LTE:
		return toFloat(left) <= toFloat(right), nil
	case lang.GT:
		return toFloat(left) > toFloat(right), nil
	case lang.GTE:
		return toFloat(left) >= toFloat(right), nil
	case lang.AND:
		return truthy(left) && truthy(right), nil
	case lang.OR:
		return truthy(left) || truthy(right), nil
	default:
		return nil, fmt.Errorf("sandbox: unsupported binary operator")
	}
}

func valuesEqual(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok || bok {
		return aok && bok && as == bs
	}
	return toFloat(a) == toFloat(b)
}
