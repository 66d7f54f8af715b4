// Package sandbox implements the code sandbox runner of spec.md §4.6: a
// freshly spawned child worker per execution, communicating with the
// parent over a one-shot length-prefixed JSON channel, with a parent-side
// deadline that forcibly terminates the child on expiry.
//
// Grounded on original_source/execution/python_executor.py's
// Process+Queue isolation model (one process per execution, result
// posted back over a queue, killed on timeout) realized as a real child
// OS process talking over a frame-based channel in the same wire shape
// as teacher internal/firecracker's VsockClient (4-byte big-endian length
// prefix + JSON payload), rather than firecracker's microVM since
// spec.md §4.6 only requires "an equivalently isolated context that
// shares no mutable state with the parent" - a plain child process
// satisfies that without a hypervisor.
package sandbox

import "encoding/json"

// Request is the one-shot payload sent to the worker: source code, input
// bundle, and resource caps (spec.md §4.6 step 3: "source text and input
// bundle ... over a one-shot channel").
type Request struct {
	Code           string           `json:"code"`
	Data           []map[string]any `json:"data"`
	Variables      map[string]any   `json:"variables"`
	MaxMemoryMB    int              `json:"max_memory_mb"`
	TimeoutSeconds int              `json:"timeout_seconds"`
	MaxOutputKB    int              `json:"max_output_kb"`
	AllowedImports []string         `json:"allowed_imports"`
}

// Status is the worker's terminal outcome, matching spec.md §4.6's state
// machine: "(COMPLETE | OOM | ERROR | TIMED_OUT)".
type Status string

const (
	StatusComplete Status = "complete"
	StatusOOM      Status = "oom"
	StatusError    Status = "error"
	StatusTimedOut Status = "timed_out"
)

// Response is what the worker posts back, or what the parent synthesizes
// on a forced-kill timeout (spec.md §4.6 step 7 / "Parent-side deadline").
type Response struct {
	Status        Status         `json:"status"`
	Stdout        string         `json:"stdout"`
	Stderr        string         `json:"stderr"`
	Variables     map[string]any `json:"variables"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ErrorClass    string         `json:"error_class,omitempty"`
	Traceback     string         `json:"traceback,omitempty"`
	ElapsedMillis int64          `json:"elapsed_ms"`
}

// resultVariableNames is the fixed whitelist of spec.md §4.6 step 6:
// "result, summary-text, plotly-figure, insight, explanation, output".
var resultVariableNames = []string{
	"result", "summary_text", "plotly_figure", "insight", "explanation", "output",
}

func marshalFrame(v any) ([]byte, error) {
	return json.Marshal(v)
}
