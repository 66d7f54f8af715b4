package domain

import "time"

// ExecutionMetrics is the per-execution metrics envelope shared by the SQL
// path, the code path, and the visualization adapter (spec.md §3).
//
// Completion is a one-shot state transition: Complete may only be called
// once, and Duration is derived from Start/End rather than stored
// separately to avoid the two ever disagreeing.
type ExecutionMetrics struct {
	Start         time.Time
	End           time.Time
	RowsProcessed int64
	RowsReturned  int64
	MemoryUsedMB  int64
	CPUTime       time.Duration

	completed bool
}

// NewExecutionMetrics starts a metrics envelope at the current time.
func NewExecutionMetrics(start time.Time) *ExecutionMetrics {
	return &ExecutionMetrics{Start: start}
}

// Complete marks the envelope finished. Calling it more than once is a
// programming error and is ignored (idempotent no-op) rather than
// panicking, since metrics must never crash a request.
func (m *ExecutionMetrics) Complete(end time.Time) {
	if m.completed {
		return
	}
	m.End = end
	m.completed = true
}

// Duration returns End-Start once Complete has been called, or the
// elapsed time so far otherwise.
func (m *ExecutionMetrics) Duration() time.Duration {
	if m.completed {
		return m.End.Sub(m.Start)
	}
	return time.Since(m.Start)
}
