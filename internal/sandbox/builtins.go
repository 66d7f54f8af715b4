package sandbox

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// BuiltinFunc is a safe builtin or preloaded-module function: it only
// ever sees already-evaluated Go values, never an AST node, so it cannot
// reach back into the interpreter's own state.
type BuiltinFunc func(args []any) (any, error)

// safeBuiltins is spec.md §4.6 step 2's "fixed safe builtin table":
// numeric/string/collection primitives, iteration helpers, type
// predicates, print, and nothing that can escape the sandbox. Grounded
// on python_executor.py's SafeBuiltins.SAFE_BUILTINS, narrowed to the
// subset meaningful for internal/sandbox/lang's value model (no
// class/type-object introspection builtins like `type`/`isinstance`,
// since this language has no user-defined classes to introspect).
func safeBuiltins(out *cappedBuffer) map[string]any {
	return map[string]any{
		"true":  true,
		"false": false,
		"nil":   nil,

		"bool":  BuiltinFunc(func(args []any) (any, error) { return truthy(arg(args, 0)), nil }),
		"int":   BuiltinFunc(func(args []any) (any, error) { return math.Trunc(toFloat(arg(args, 0))), nil }),
		"float": BuiltinFunc(func(args []any) (any, error) { return toFloat(arg(args, 0)), nil }),
		"str":   BuiltinFunc(func(args []any) (any, error) { return toString(arg(args, 0)), nil }),

		"len": BuiltinFunc(func(args []any) (any, error) {
			switch v := arg(args, 0).(type) {
			case string:
				return float64(len(v)), nil
			case []any:
				return float64(len(v)), nil
			case map[string]any:
				return float64(len(v)), nil
			default:
				return nil, fmt.Errorf("len: unsupported type %T", v)
			}
		}),
		"abs":   BuiltinFunc(func(args []any) (any, error) { return math.Abs(toFloat(arg(args, 0))), nil }),
		"round": BuiltinFunc(func(args []any) (any, error) { return math.Round(toFloat(arg(args, 0))), nil }),
		"min":   BuiltinFunc(builtinMin),
		"max":   BuiltinFunc(builtinMax),
		"sum":   BuiltinFunc(builtinSum),

		"all": BuiltinFunc(func(args []any) (any, error) {
			for _, v := range asList(arg(args, 0)) {
				if !truthy(v) {
					return false, nil
				}
			}
			return true, nil
		}),
		"any": BuiltinFunc(func(args []any) (any, error) {
			for _, v := range asList(arg(args, 0)) {
				if truthy(v) {
					return true, nil
				}
			}
			return false, nil
		}),
		"sorted": BuiltinFunc(func(args []any) (any, error) {
			list := append([]any(nil), asList(arg(args, 0))...)
			sort.Slice(list, func(i, j int) bool {
				return toFloat(list[i]) < toFloat(list[j])
			})
			return list, nil
		}),
		"reversed": BuiltinFunc(func(args []any) (any, error) {
			list := asList(arg(args, 0))
			out := make([]any, len(list))
			for i, v := range list {
				out[len(list)-1-i] = v
			}
			return out, nil
		}),
		"range": BuiltinFunc(func(args []any) (any, error) {
			n := int(toFloat(arg(args, 0)))
			out := make([]any, 0, n)
			for i := 0; i < n; i++ {
				out = append(out, float64(i))
			}
			return out, nil
		}),

		"print": BuiltinFunc(func(args []any) (any, error) {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = toString(a)
			}
			fmt.Fprintln(out, strings.Join(parts, " "))
			return nil, nil
		}),
	}
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(data)
	}
}

func asList(v any) []any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	return list
}

func builtinMin(args []any) (any, error) {
	values := args
	if len(args) == 1 {
		values = asList(args[0])
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("min: no arguments")
	}
	best := toFloat(values[0])
	for _, v := range values[1:] {
		if f := toFloat(v); f < best {
			best = f
		}
	}
	return best, nil
}

func builtinMax(args []any) (any, error) {
	values := args
	if len(args) == 1 {
		values = asList(args[0])
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("max: no arguments")
	}
	best := toFloat(values[0])
	for _, v := range values[1:] {
		if f := toFloat(v); f > best {
			best = f
		}
	}
	return best, nil
}

func builtinSum(args []any) (any, error) {
	total := 0.0
	for _, v := range asList(arg(args, 0)) {
		total += toFloat(v)
	}
	return total, nil
}

// preloadedModules is spec.md §4.6 step 2's "preloaded modules (tabular,
// numeric, stats, ML, chart-spec builders - best-effort)", grounded on
// python_executor.py's SafeImporter.preload_modules: math/statistics/
// json/datetime are carried over as native Go stand-ins exercising the
// same concern; the ML/dataframe/chart libraries it best-effort imports
// (pandas, numpy, sklearn, scipy, statsmodels, plotly) have no Go
// in-process equivalent reachable from a sandboxed tree-walk
// interpreter, so they are simply absent - matching "missing libraries
// are silently omitted and the worker continues".
func preloadedModules() map[string]any {
	return map[string]any{
		"math":  mathModule(),
		"stats": statsModule(),
		"json":  jsonModule(),
		"time":  timeModule(),
	}
}

func mathModule() map[string]any {
	return map[string]any{
		"sqrt":  BuiltinFunc(func(args []any) (any, error) { return math.Sqrt(toFloat(arg(args, 0))), nil }),
		"pow":   BuiltinFunc(func(args []any) (any, error) { return math.Pow(toFloat(arg(args, 0)), toFloat(arg(args, 1))), nil }),
		"floor": BuiltinFunc(func(args []any) (any, error) { return math.Floor(toFloat(arg(args, 0))), nil }),
		"ceil":  BuiltinFunc(func(args []any) (any, error) { return math.Ceil(toFloat(arg(args, 0))), nil }),
		"pi":    math.Pi,
	}
}

func statsModule() map[string]any {
	return map[string]any{
		"mean": BuiltinFunc(func(args []any) (any, error) {
			list := asList(arg(args, 0))
			if len(list) == 0 {
				return 0.0, nil
			}
			total := 0.0
			for _, v := range list {
				total += toFloat(v)
			}
			return total / float64(len(list)), nil
		}),
		"median": BuiltinFunc(func(args []any) (any, error) {
			list := append([]any(nil), asList(arg(args, 0))...)
			if len(list) == 0 {
				return 0.0, nil
			}
			sort.Slice(list, func(i, j int) bool { return toFloat(list[i]) < toFloat(list[j]) })
			mid := len(list) / 2
			if len(list)%2 == 0 {
				return (toFloat(list[mid-1]) + toFloat(list[mid])) / 2, nil
			}
			return toFloat(list[mid]), nil
		}),
		"stdev": BuiltinFunc(func(args []any) (any, error) {
			list := asList(arg(args, 0))
			if len(list) < 2 {
				return 0.0, nil
			}
			mean := 0.0
			for _, v := range list {
				mean += toFloat(v)
			}
			mean /= float64(len(list))
			variance := 0.0
			for _, v := range list {
				d := toFloat(v) - mean
				variance += d * d
			}
			variance /= float64(len(list) - 1)
			return math.Sqrt(variance), nil
		}),
	}
}

func jsonModule() map[string]any {
	return map[string]any{
		"encode": BuiltinFunc(func(args []any) (any, error) {
			data, err := json.Marshal(arg(args, 0))
			if err != nil {
				return nil, err
			}
			return string(data), nil
		}),
		"decode": BuiltinFunc(func(args []any) (any, error) {
			s, _ := arg(args, 0).(string)
			var v any
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil, err
			}
			return v, nil
		}),
	}
}

func timeModule() map[string]any {
	return map[string]any{
		"now": BuiltinFunc(func(args []any) (any, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		}),
	}
}
