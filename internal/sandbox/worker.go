package sandbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oriys/nova/internal/sandbox/lang"
)

// RunRequest executes req's source against its input bundle and returns
// the Response the worker posts back to the parent (spec.md §4.6 steps
// 3-7). It is called from cmd/sandboxworker's main after ApplyRlimits has
// already been installed for the process.
func RunRequest(req *Request) *Response {
	start := time.Now()
	stdout := newCappedBuffer(req.MaxOutputKB * 1024)
	stderr := newCappedBuffer(req.MaxOutputKB * 1024)

	resp := execute(req, stdout, stderr)
	resp.Stdout = stdout.String()
	resp.Stderr = stderr.String()
	resp.ElapsedMillis = time.Since(start).Milliseconds()
	return resp
}

func execute(req *Request, stdout, stderr *cappedBuffer) (resp *Response) {
	defer func() {
		// A script that manages to trip a Go-level panic (index out of
		// range in a builtin, a bad type assertion slipping past eval's
		// own checks) must still come back as a structured error
		// response rather than taking the whole worker process down
		// with it - the worker has no supervisor to restart it.
		if r := recover(); r != nil {
			stderr.Write([]byte(fmt.Sprintf("panic: %v\n", r)))
			resp = &Response{Status: StatusError, ErrorClass: "ExecutionError", ErrorMessage: fmt.Sprintf("panic: %v", r)}
		}
	}()

	prog, err := lang.Parse(req.Code)
	if err != nil {
		return &Response{Status: StatusError, ErrorClass: "SyntaxError", ErrorMessage: err.Error()}
	}

	globals := make(map[string]any)
	for k, v := range safeBuiltins(stdout) {
		globals[k] = v
	}
	locals := map[string]any{
		"data":      dataAsList(req.Data),
		"data_json": dataAsJSON(req.Data),
	}
	for k, v := range req.Variables {
		locals[k] = v
	}

	ip := newInterpreter(req.AllowedImports)
	e := newEnv(globals, locals)

	if _, err := ip.Run(prog, e); err != nil {
		return &Response{
			Status:       StatusError,
			ErrorClass:   "ExecutionError",
			ErrorMessage: err.Error(),
		}
	}

	return &Response{
		Status:    StatusComplete,
		Variables: extractResultVariables(e.vars),
	}
}

func dataAsList(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, row := range rows {
		m := make(map[string]any, len(row))
		for k, v := range row {
			m[k] = v
		}
		out[i] = m
	}
	return out
}

// dataAsJSON serializes req.Data as text for scripts that want to embed
// or re-parse the row set rather than index it as a list (spec.md §4.6
// step 5's "serialized-data-as-text" local), matching the original
// executor's DATA_JSON binding. A marshal failure (unlikely - rows are
// always plain JSON-shaped maps) degrades to an empty array rather than
// failing the whole execution.
func dataAsJSON(rows []map[string]any) string {
	b, err := json.Marshal(rows)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// extractResultVariables pulls spec.md §4.6 step 6's fixed whitelist out
// of the final environment, mirroring
// python_executor.py::_execute_in_sandbox's same fixed key list.
func extractResultVariables(vars map[string]any) map[string]any {
	out := make(map[string]any)
	for _, name := range resultVariableNames {
		if v, ok := vars[name]; ok {
			out[name] = v
		}
	}
	return out
}
