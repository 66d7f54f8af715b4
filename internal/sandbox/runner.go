package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/nova/internal/codepolicy"
	"github.com/oriys/nova/internal/config"
	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/exectx"
	"github.com/oriys/nova/internal/logging"
	"github.com/oriys/nova/internal/metrics"
	"github.com/oriys/nova/internal/observability"
)

// gracePeriod is the small additional allowance added to the parent's
// wait deadline on top of the request timeout, per spec.md §4.6
// "Parent-side deadline" ("context.timeout + small grace"). The worker's
// CPU-time rlimit is set separately by ApplyRlimits.
const gracePeriod = 5 * time.Second

// Runner spawns a fresh child worker process per Execute call (spec.md
// §4.6 "Isolation model": "a new OS process ... that shares no mutable
// state with the parent"). The zero value is not usable; construct via
// NewRunner.
type Runner struct {
	workerPath     string
	validator      *codepolicy.Validator
	allowedImports []string
}

// NewRunner builds a Runner that spawns workerPath (cmd/sandboxworker's
// compiled binary) for every execution, gating each one on sec's code
// policy the same way sqlexec.Executor gates on sqlpolicy before ever
// acquiring a connection.
func NewRunner(workerPath string, sec config.SecurityConfig) *Runner {
	return &Runner{
		workerPath:     workerPath,
		validator:      codepolicy.NewValidator(sec),
		allowedImports: sec.AllowedCodeImports,
	}
}

// Execute runs code against data/variables under ctx's resource limits,
// enforcing spec.md §4.6's state machine: INIT -> SPAWNED -> RUNNING ->
// (COMPLETE | OOM | ERROR | TIMED_OUT) -> REAPED. The child is always
// waited on (even after a forced kill) so REAPED is guaranteed before
// Execute returns - no execution leaks a child into the next.
func (r *Runner) Execute(ctx *exectx.Context, code string, data []domain.Row, variables map[string]any, limits config.ResourceLimitsConfig) (*Response, error) {
	_, span := observability.StartSpan(ctx, "execute-code",
		observability.AttrOperation.String("execute-code"),
		observability.AttrRequestID.String(ctx.RequestID),
	)
	defer span.End()

	started := time.Now()
	status := metrics.StatusSuccess
	defer func() {
		dur := time.Since(started).Milliseconds()
		metrics.Global().RecordInvocation("execute-code", dur, status)
		metrics.RecordPrometheusInvocation("execute-code", dur, status)
		if status == metrics.StatusSuccess {
			observability.SetSpanOK(span)
		} else {
			span.SetAttributes(observability.AttrDurationMs.Int64(dur))
		}
	}()

	// Policy validation and converting the fetched rows into the worker's
	// wire shape share nothing, so they run concurrently - same pattern as
	// sqlexec.Executor's preflight.
	var g errgroup.Group
	var rowMaps []map[string]any
	g.Go(func() error {
		return r.validator.Validate(code)
	})
	g.Go(func() error {
		rowMaps = rowsToMaps(data)
		return nil
	})
	if verr := g.Wait(); verr != nil {
		logging.Op().Warn("sandbox: code rejected by policy", "request_id", ctx.RequestID)
		status = metrics.StatusError
		return nil, verr
	}

	timeout := ctx.Limits.Timeout
	if timeout <= 0 {
		timeout = limits.CodeTimeout
	}
	memoryMB := ctx.Limits.MemoryMB
	if memoryMB <= 0 {
		memoryMB = limits.MaxMemoryMB
	}
	outputKB := ctx.Limits.OutputKB
	if outputKB <= 0 {
		outputKB = limits.MaxOutputSizeKB
	}

	req := &Request{
		Code:           code,
		Data:           rowMaps,
		Variables:      variables,
		MaxMemoryMB:    memoryMB,
		TimeoutSeconds: int(timeout.Seconds()),
		MaxOutputKB:    outputKB,
		AllowedImports: r.allowedImports,
	}

	cmd := exec.CommandContext(context.Background(), r.workerPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		status = metrics.StatusError
		return nil, errs.Wrap(errs.SandboxError, "failed to open worker stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		status = metrics.StatusError
		return nil, errs.Wrap(errs.SandboxError, "failed to open worker stdout", err)
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		status = metrics.StatusError
		return nil, errs.Wrap(errs.SandboxError, "failed to spawn sandbox worker", err)
	}

	ch := NewPipeChannel(stdout, stdin)
	defer ch.Close()

	if err := ch.SendRequest(req); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		status = metrics.StatusError
		return nil, errs.Wrap(errs.SandboxError, "failed to send request to sandbox worker", err)
	}

	type recvResult struct {
		resp *Response
		err  error
	}
	recvCh := make(chan recvResult, 1)
	go func() {
		resp, err := ch.RecvResponse()
		recvCh <- recvResult{resp, err}
	}()

	deadline := timeout + gracePeriod
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var (
		resp     *Response
		recvErr  error
		timedOut bool
	)
	select {
	case res := <-recvCh:
		resp, recvErr = res.resp, res.err
	case <-timer.C:
		timedOut = true
		logging.Op().Warn("sandbox: worker exceeded deadline, killing", "request_id", ctx.RequestID, "timeout", timeout)
		cmd.Process.Kill()
	}

	waitErr := cmd.Wait() // always reap - REAPED guarantees no leaked child
	killedByUs := timedOut

	switch {
	case killedByUs:
		metrics.Global().RecordSandboxTimeout()
		metrics.RecordPrometheusSandboxTimeout()
		status = metrics.StatusTimeout
		return &Response{Status: StatusTimedOut, Stderr: stderrBuf.String()}, nil
	case recvErr != nil && recvErr != io.EOF:
		status = metrics.StatusError
		return nil, errs.Wrap(errs.SandboxError, "failed to read sandbox worker response", recvErr)
	case recvErr == io.EOF || resp == nil:
		if oomKilled(waitErr) {
			metrics.Global().RecordSandboxOOM()
			metrics.RecordPrometheusSandboxOOM()
			status = metrics.StatusResourceLimit
			return &Response{Status: StatusOOM, Stderr: stderrBuf.String()}, nil
		}
		metrics.Global().RecordSandboxCrash()
		metrics.RecordPrometheusSandboxCrash()
		status = metrics.StatusError
		return &Response{
			Status:       StatusError,
			ErrorClass:   "WorkerCrashed",
			ErrorMessage: fmt.Sprintf("sandbox worker exited without a response (%v)", waitErr),
			Stderr:       stderrBuf.String(),
		}, nil
	default:
		if resp.Stderr == "" {
			resp.Stderr = stderrBuf.String()
		}
		return resp, nil
	}
}

// ClassifyStatus maps a terminal Response into the internal/errs taxonomy
// for callers that need a single caller-facing error, leaving
// StatusComplete unmapped (nil) since it is not a failure.
func ClassifyStatus(resp *Response) error {
	switch resp.Status {
	case StatusComplete:
		return nil
	case StatusOOM:
		return errs.New(errs.ResourceLimit, "sandbox execution exceeded its memory limit").
			WithDetails(map[string]any{"status": string(resp.Status)})
	case StatusTimedOut:
		return errs.New(errs.Timeout, "sandbox execution exceeded its time limit").
			WithDetails(map[string]any{"status": string(resp.Status)})
	default:
		return errs.New(errs.SandboxError, resp.ErrorMessage).
			WithDetails(map[string]any{
				"status":      string(resp.Status),
				"error_class": resp.ErrorClass,
			})
	}
}

func rowsToMaps(rows []domain.Row) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = map[string]any(row)
	}
	return out
}

// oomKilled reports whether waitErr reflects a signal consistent with
// the OS OOM killer (SIGKILL on a process this Runner did not itself
// kill). This is a best-effort classification, not a certainty - a
// SIGKILL from an external operator looks identical at this layer.
func oomKilled(waitErr error) bool {
	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}
	return status.Signaled() && status.Signal() == syscall.SIGKILL
}
