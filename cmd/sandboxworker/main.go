// Command sandboxworker is the one-shot child process spawned by
// internal/sandbox.Runner for every code execution (spec.md §4.6). It
// installs resource limits before reading a line of user-supplied source,
// runs it against the request's data/variables, and posts back a single
// Response over its own stdin/stdout - then exits. It is never invoked
// directly by an operator; internal/sandbox owns its lifecycle.
package main

import (
	"fmt"
	"os"

	"github.com/oriys/nova/internal/sandbox"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "[sandboxworker] %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ch := sandbox.NewWorkerChannel(os.Stdin, os.Stdout)

	req, err := ch.RecvRequest()
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	// Resource limits must be in place before any user code runs
	// (spec.md §4.6 step 1). A limits failure is reported back to the
	// parent rather than just exiting, so it surfaces as a distinct,
	// non-retried failure class instead of a bare crash.
	if err := sandbox.ApplyRlimits(req.MaxMemoryMB, req.TimeoutSeconds); err != nil {
		resp := &sandbox.Response{
			Status:       sandbox.StatusError,
			ErrorClass:   "ResourceLimitError",
			ErrorMessage: err.Error(),
		}
		return ch.SendResponse(resp)
	}

	resp := sandbox.RunRequest(req)
	return ch.SendResponse(resp)
}
