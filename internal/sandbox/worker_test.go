package sandbox

import (
	"strings"
	"testing"

	"github.com/oriys/nova/internal/errs"
)

func TestCappedBufferTruncatesAndMarksOverflow(t *testing.T) {
	buf := newCappedBuffer(8)
	buf.Write([]byte("0123456789"))
	got := buf.String()
	if !strings.HasPrefix(got, "01234567") {
		t.Fatalf("expected the first 8 bytes to survive, got %q", got)
	}
	if !strings.Contains(got, "truncated") {
		t.Fatalf("expected a truncation marker, got %q", got)
	}
}

func TestCappedBufferUnderCapIsUntouched(t *testing.T) {
	buf := newCappedBuffer(1024)
	buf.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Fatalf("got %q, want %q", buf.String(), "hello")
	}
}

func TestRunRequestComputesResultFromData(t *testing.T) {
	req := &Request{
		Code: `total = 0
for row in data {
  total = total + row["amount"]
}
result = total`,
		Data: []map[string]any{
			{"amount": 10.0},
			{"amount": 5.0},
			{"amount": 2.0},
		},
		MaxOutputKB: 64,
	}

	resp := RunRequest(req)
	if resp.Status != StatusComplete {
		t.Fatalf("status = %s, want complete (stderr=%s)", resp.Status, resp.Stderr)
	}
	if resp.Variables["result"] != 17.0 {
		t.Fatalf("result = %v, want 17", resp.Variables["result"])
	}
}

func TestRunRequestExposesDataJSONLocal(t *testing.T) {
	req := &Request{
		Code: `result = len(data_json)`,
		Data: []map[string]any{
			{"amount": 10.0},
		},
		MaxOutputKB: 64,
	}

	resp := RunRequest(req)
	if resp.Status != StatusComplete {
		t.Fatalf("status = %s, want complete (stderr=%s)", resp.Status, resp.Stderr)
	}
	if resp.Variables["result"] == 0.0 {
		t.Fatal("expected data_json to be a non-empty serialized string")
	}
}

func TestRunRequestOnlyExtractsWhitelistedVariables(t *testing.T) {
	req := &Request{
		Code: `scratch = 1 + 1
result = scratch`,
		MaxOutputKB: 64,
	}

	resp := RunRequest(req)
	if resp.Status != StatusComplete {
		t.Fatalf("status = %s, want complete (stderr=%s)", resp.Status, resp.Stderr)
	}
	if _, ok := resp.Variables["scratch"]; ok {
		t.Fatal("expected scratch to be dropped, it is not on the result whitelist")
	}
	if resp.Variables["result"] != 2.0 {
		t.Fatalf("result = %v, want 2", resp.Variables["result"])
	}
}

func TestRunRequestCapturesPrintOutput(t *testing.T) {
	req := &Request{
		Code:        `print("hello", "world")`,
		MaxOutputKB: 64,
	}

	resp := RunRequest(req)
	if resp.Status != StatusComplete {
		t.Fatalf("status = %s, want complete (stderr=%s)", resp.Status, resp.Stderr)
	}
	if !strings.Contains(resp.Stdout, "hello world") {
		t.Fatalf("stdout = %q, want it to contain %q", resp.Stdout, "hello world")
	}
}

func TestRunRequestReturnsSyntaxErrorForUnparseableCode(t *testing.T) {
	req := &Request{Code: `result = (1 +`, MaxOutputKB: 64}

	resp := RunRequest(req)
	if resp.Status != StatusError {
		t.Fatalf("status = %s, want error", resp.Status)
	}
	if resp.ErrorClass != "SyntaxError" {
		t.Fatalf("error class = %s, want SyntaxError", resp.ErrorClass)
	}
}

func TestRunRequestReturnsExecutionErrorForUndefinedName(t *testing.T) {
	req := &Request{Code: `result = undefined_name`, MaxOutputKB: 64}

	resp := RunRequest(req)
	if resp.Status != StatusError {
		t.Fatalf("status = %s, want error", resp.Status)
	}
	if resp.ErrorClass != "ExecutionError" {
		t.Fatalf("error class = %s, want ExecutionError", resp.ErrorClass)
	}
}

func TestRunRequestReturnsErrorForOutOfRangeIndex(t *testing.T) {
	req := &Request{
		Code: `x = [1, 2, 3]
result = x[10]`,
		MaxOutputKB: 64,
	}

	resp := RunRequest(req)
	if resp.Status != StatusError {
		t.Fatalf("status = %s, want error for an out-of-range index", resp.Status)
	}
}

func TestRunRequestUsesStatsBuiltinModule(t *testing.T) {
	req := &Request{
		Code: `import stats
result = stats.mean([1, 2, 3, 4])`,
		AllowedImports: []string{"stats"},
		MaxOutputKB:    64,
	}

	resp := RunRequest(req)
	if resp.Status != StatusComplete {
		t.Fatalf("status = %s, want complete (stderr=%s)", resp.Status, resp.Stderr)
	}
	if resp.Variables["result"] != 2.5 {
		t.Fatalf("result = %v, want 2.5", resp.Variables["result"])
	}
}

func TestClassifyStatusMapsEachTerminalStatus(t *testing.T) {
	cases := []struct {
		status Status
		want   errs.Tag
	}{
		{StatusOOM, errs.ResourceLimit},
		{StatusTimedOut, errs.Timeout},
		{StatusError, errs.SandboxError},
	}
	for _, c := range cases {
		err := ClassifyStatus(&Response{Status: c.status})
		se, ok := err.(*errs.Error)
		if !ok {
			t.Fatalf("status %s: expected *errs.Error, got %T", c.status, err)
		}
		if se.Tag != c.want {
			t.Fatalf("status %s: tag = %s, want %s", c.status, se.Tag, c.want)
		}
	}
	if err := ClassifyStatus(&Response{Status: StatusComplete}); err != nil {
		t.Fatalf("expected nil error for StatusComplete, got %v", err)
	}
}
