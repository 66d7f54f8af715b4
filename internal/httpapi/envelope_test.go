package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/errs"
)

func TestHTTPStatusForTagCoversEveryTag(t *testing.T) {
	cases := map[errs.Tag]int{
		errs.Validation:       400,
		errs.AuthFailed:       401,
		errs.AuthDenied:       403,
		errs.PolicyViolation:  422,
		errs.ConnectionFailed: 502,
		errs.PoolExhausted:    503,
		errs.QueryError:       400,
		errs.Timeout:          504,
		errs.ResourceLimit:    413,
		errs.SandboxError:     500,
		errs.Internal:         500,
	}
	for tag, want := range cases {
		if got := httpStatusForTag(tag); got != want {
			t.Errorf("httpStatusForTag(%s) = %d, want %d", tag, got, want)
		}
	}
}

func TestWriteErrorRendersEnvelopeAndStatus(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, "req-1", errs.New(errs.Timeout, "statement deadline exceeded"))

	if w.Code != 504 {
		t.Fatalf("expected 504, got %d", w.Code)
	}
	var env envelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.RequestID != "req-1" {
		t.Fatalf("unexpected request id: %q", env.RequestID)
	}
	if env.Status != "timeout" {
		t.Fatalf("expected status timeout, got %q", env.Status)
	}
	if env.Error == nil || env.Error.Tag != errs.Timeout {
		t.Fatalf("expected error envelope with timeout tag, got %+v", env.Error)
	}
	if env.Body != nil {
		t.Fatalf("expected no body on an error response, got %v", env.Body)
	}
}

func TestWriteSuccessRendersMetrics(t *testing.T) {
	w := httptest.NewRecorder()
	start := time.Now()
	m := domain.NewExecutionMetrics(start)
	m.RowsProcessed = 10
	m.RowsReturned = 5
	m.Complete(start.Add(5 * time.Millisecond))

	writeSuccess(w, "req-2", m, map[string]any{"ok": true})

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var env envelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Status != "success" {
		t.Fatalf("expected status success, got %q", env.Status)
	}
	if env.Metrics == nil || env.Metrics.RowsProcessed != 10 || env.Metrics.RowsReturned != 5 {
		t.Fatalf("unexpected metrics: %+v", env.Metrics)
	}
	if env.Error != nil {
		t.Fatalf("expected no error on a success response, got %+v", env.Error)
	}
}

func TestRequestDeadlineFallsBackForNonPositiveSeconds(t *testing.T) {
	fallback := 30 * time.Second
	if got := requestDeadline(0, fallback); got != fallback {
		t.Fatalf("expected fallback for 0 seconds, got %v", got)
	}
	if got := requestDeadline(-5, fallback); got != fallback {
		t.Fatalf("expected fallback for negative seconds, got %v", got)
	}
	if got := requestDeadline(10, fallback); got != 10*time.Second {
		t.Fatalf("expected 10s, got %v", got)
	}
}
