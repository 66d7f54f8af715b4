package domain

// ResultVariableNames is the fixed whitelist of local bindings extracted
// from a completed sandbox execution (spec.md §4.6 step 6).
var ResultVariableNames = []string{
	"result", "summary_text", "plotly_figure", "insight", "explanation", "output",
}

// CodeErrorClass classifies a failed sandbox execution.
type CodeErrorClass string

const (
	CodeErrorException CodeErrorClass = "exception"
	CodeErrorMemory    CodeErrorClass = "memory-exceeded"
	CodeErrorTimeout   CodeErrorClass = "timeout"
	CodeErrorSandbox   CodeErrorClass = "sandbox-error" // child crash / protocol violation
)

// CodeError is the structured failure record posted by a sandbox worker
// or the parent when no COMPLETE/ERROR/OOM message ever arrives.
type CodeError struct {
	Class     CodeErrorClass
	Message   string
	Traceback string
}

// CodeOutcome is the result of one code-sandbox invocation. It is either
// Success with Variables populated, or not Success with Err populated;
// these two are mutually exclusive (spec.md §3).
type CodeOutcome struct {
	Success         bool
	Stdout          string
	StdoutTruncated bool
	Stderr          string
	StderrTruncated bool
	Variables       map[string]any
	Err             *CodeError
	Metrics         *ExecutionMetrics
}
