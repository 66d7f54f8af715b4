package metrics

import (
	"testing"
	"time"
)

func TestRecordInvocationUpdatesGlobalsAndOperation(t *testing.T) {
	m := New()
	defer m.Stop()

	m.RecordInvocation("execute-sql", 42, StatusSuccess)
	m.RecordInvocation("execute-sql", 58, StatusError)
	m.RecordInvocation("execute-code", 10, StatusTimeout)

	if m.TotalInvocations != 3 {
		t.Fatalf("TotalInvocations = %d, want 3", m.TotalInvocations)
	}
	if m.SuccessInvocations != 1 {
		t.Fatalf("SuccessInvocations = %d, want 1", m.SuccessInvocations)
	}
	if m.FailedInvocations != 2 {
		t.Fatalf("FailedInvocations = %d, want 2", m.FailedInvocations)
	}
	if m.TimeoutInvocations != 1 {
		t.Fatalf("TimeoutInvocations = %d, want 1", m.TimeoutInvocations)
	}

	op := m.OperationSnapshot("execute-sql")
	if op.Invocations != 2 || op.Successes != 1 || op.Failures != 1 {
		t.Fatalf("unexpected execute-sql snapshot: %+v", op)
	}
	if op.MinMs != 42 || op.MaxMs != 58 {
		t.Fatalf("unexpected min/max: %+v", op)
	}
}

func TestOperationSnapshotOfUnknownOperationIsZeroValue(t *testing.T) {
	m := New()
	defer m.Stop()

	op := m.OperationSnapshot("never-recorded")
	if op.Invocations != 0 {
		t.Fatalf("expected zero value, got %+v", op)
	}
}

func TestAllOperationsReturnsEveryRecordedOperation(t *testing.T) {
	m := New()
	defer m.Stop()

	m.RecordInvocation("execute-sql", 1, StatusSuccess)
	m.RecordInvocation("sync-schema", 2, StatusSuccess)

	all := m.AllOperations()
	if len(all) != 2 {
		t.Fatalf("len(AllOperations()) = %d, want 2", len(all))
	}
	if _, ok := all["execute-sql"]; !ok {
		t.Fatal("expected execute-sql in AllOperations")
	}
	if _, ok := all["sync-schema"]; !ok {
		t.Fatal("expected sync-schema in AllOperations")
	}
}

func TestSandboxAndMaskingCounters(t *testing.T) {
	m := New()
	defer m.Stop()

	m.RecordSandboxOOM()
	m.RecordSandboxTimeout()
	m.RecordSandboxTimeout()
	m.RecordSandboxCrash()
	m.RecordMasking(5)
	m.RecordMasking(0)
	m.RecordPolicyViolation()
	m.RecordCircuitBreakerTrip()

	if m.SandboxOOMKills != 1 {
		t.Fatalf("SandboxOOMKills = %d, want 1", m.SandboxOOMKills)
	}
	if m.SandboxTimeouts != 2 {
		t.Fatalf("SandboxTimeouts = %d, want 2", m.SandboxTimeouts)
	}
	if m.SandboxCrashes != 1 {
		t.Fatalf("SandboxCrashes = %d, want 1", m.SandboxCrashes)
	}
	if m.MaskedValuesTotal != 5 {
		t.Fatalf("MaskedValuesTotal = %d, want 5 (zero-count calls must be no-ops)", m.MaskedValuesTotal)
	}
	if m.PolicyViolationsTotal != 1 {
		t.Fatalf("PolicyViolationsTotal = %d, want 1", m.PolicyViolationsTotal)
	}
	if m.CircuitBreakerTrips != 1 {
		t.Fatalf("CircuitBreakerTrips = %d, want 1", m.CircuitBreakerTrips)
	}
}

func TestTimeSeriesAccumulatesAcrossEvents(t *testing.T) {
	m := New()
	defer m.Stop()

	m.RecordInvocation("execute-sql", 1, StatusSuccess)
	m.RecordInvocation("execute-sql", 1, StatusError)

	// the background goroutine drains the events channel asynchronously
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.TimeSeries()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	points := m.TimeSeries()
	if len(points) == 0 {
		t.Fatal("expected at least one time series bucket")
	}
	var totalInv, totalFail int64
	for _, p := range points {
		totalInv += p.Invocations
		totalFail += p.Failures
	}
	if totalInv != 2 {
		t.Fatalf("total invocations across buckets = %d, want 2", totalInv)
	}
	if totalFail != 1 {
		t.Fatalf("total failures across buckets = %d, want 1", totalFail)
	}
}

func TestGlobalReturnsSameInstance(t *testing.T) {
	a := Global()
	b := Global()
	if a != b {
		t.Fatal("expected Global() to return the same instance across calls")
	}
}
