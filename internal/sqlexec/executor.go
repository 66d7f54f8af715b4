// Package sqlexec implements the SQL executor of spec.md §4.4: policy
// gate, pooled-connection acquisition, bounded execution, masking, and
// row-cap truncation. Grounded on
// original_source/execution/sql_executor.py's SQLExecutor, in the
// pipeline shape of teacher internal/executor/executor.go: the
// pre-execution fetch (policy validation and the target connection's
// descriptor lookup, two independent checks with nothing to share) runs
// concurrently via errgroup, same as executor.Invoke's pre-fetch stage,
// before the circuit-breaker gate and pool acquire.
package sqlexec

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/nova/internal/circuitbreaker"
	"github.com/oriys/nova/internal/config"
	"github.com/oriys/nova/internal/connector"
	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/exectx"
	"github.com/oriys/nova/internal/logging"
	"github.com/oriys/nova/internal/metrics"
	"github.com/oriys/nova/internal/observability"
	"github.com/oriys/nova/internal/pool"
	"github.com/oriys/nova/internal/sqlpolicy"
)

// Executor validates, routes, and bounds a single SQL statement against
// its target connection (spec.md §4.4 "Contract").
//
// The zero value is not usable; always construct via New.
type Executor struct {
	pool      *pool.Pool
	validator *sqlpolicy.Validator
	masker    *sqlpolicy.Masker
	breakers  *circuitbreaker.Registry
	limits    config.ResourceLimitsConfig
	breaker   circuitbreaker.Config
}

// New builds an Executor bound to p, validating and masking according to
// sec, and falling back to limits for any per-request Limits field the
// caller left unset.
func New(p *pool.Pool, sec config.SecurityConfig, limits config.ResourceLimitsConfig) *Executor {
	return &Executor{
		pool:      p,
		validator: sqlpolicy.NewValidator(sec),
		masker:    sqlpolicy.NewMasker(sec),
		breakers:  circuitbreaker.NewRegistry(),
		limits:    limits,
		breaker:   circuitbreaker.Config{ErrorPct: 50, WindowDuration: 30 * time.Second, OpenDuration: 30 * time.Second, HalfOpenProbes: 1},
	}
}

// preflight runs the two independent checks that must pass before a
// statement is ever handed to the pool - policy validation and
// confirming ctx.ConnectionID names a registered connection -
// concurrently, since neither depends on the other's result. Policy
// rejection always takes priority when both fail, matching the
// sequential gate-then-acquire order this replaces: a caller should
// learn their statement is disallowed before learning anything about the
// connection it was aimed at.
func (e *Executor) preflight(ctx *exectx.Context, statement string) error {
	var g errgroup.Group
	var validateErr, descErr error
	g.Go(func() error {
		validateErr = e.validator.Validate(statement)
		return nil
	})
	g.Go(func() error {
		_, descErr = e.pool.Descriptor(ctx.ConnectionID)
		return nil
	})
	g.Wait()
	if validateErr != nil {
		return validateErr
	}
	return descErr
}

// Execute runs statement against ctx.ConnectionID, applying the full
// policy → acquire → execute → mask → truncate pipeline of spec.md §4.4.
func (e *Executor) Execute(ctx *exectx.Context, statement string, bindings map[string]any) (result *domain.QueryResult, err error) {
	_, span := observability.StartSpan(ctx, "execute-sql",
		observability.AttrOperation.String("execute-sql"),
		observability.AttrConnectionID.String(ctx.ConnectionID),
		observability.AttrRequestID.String(ctx.RequestID),
	)
	defer span.End()

	started := time.Now()
	status := metrics.StatusSuccess
	defer func() {
		dur := time.Since(started).Milliseconds()
		metrics.Global().RecordInvocation("execute-sql", dur, status)
		metrics.RecordPrometheusInvocation("execute-sql", dur, status)
		if err != nil {
			observability.SetSpanError(span, err)
		} else {
			observability.SetSpanOK(span)
		}
	}()

	if ctx.ConnectionID == "" {
		status = metrics.StatusError
		return nil, errs.New(errs.Validation, "connection id is required")
	}

	if perr := e.preflight(ctx, statement); perr != nil {
		status = classifyStatus(perr)
		if errors.Is(perr, pool.ErrUnknownConnection) {
			return nil, classifyAcquireError(perr)
		}
		logging.Op().Warn("sqlexec: statement rejected by policy", "connection", ctx.ConnectionID, "request_id", ctx.RequestID)
		return nil, perr
	}

	breaker := e.breakers.Get(ctx.ConnectionID, e.breaker)
	if breaker != nil && !breaker.Allow() {
		metrics.Global().RecordCircuitBreakerTrip()
		metrics.RecordCircuitBreakerTrip(ctx.ConnectionID, "open")
		status = metrics.StatusError
		return nil, errs.New(errs.ConnectionFailed, "connection circuit breaker is open").
			WithDetails(map[string]any{"connection_id": ctx.ConnectionID})
	}

	pc, aerr := e.pool.Acquire(ctx, ctx.ConnectionID)
	if aerr != nil {
		if breaker != nil {
			breaker.RecordFailure()
		}
		status = classifyStatus(aerr)
		return nil, classifyAcquireError(aerr)
	}

	maxRows := ctx.Limits.MaxRows
	if maxRows <= 0 {
		maxRows = e.limits.MaxRows
	}

	result, eerr := pc.Conn.Execute(ctx, statement, bindings, maxRows+1)
	if eerr != nil {
		e.pool.Release(pc, false)
		if breaker != nil {
			breaker.RecordFailure()
		}
		status = classifyStatus(eerr)
		return nil, classifyExecError(eerr, ctx)
	}
	e.pool.Release(pc, true)
	if breaker != nil {
		breaker.RecordSuccess()
		metrics.SetCircuitBreakerState(ctx.ConnectionID, int(breaker.State()))
	}

	truncateToMaxRows(result, maxRows)
	masked := e.masker.Apply(result)
	if n := maskedValueCount(result, masked); n > 0 {
		metrics.Global().RecordMasking(n)
		metrics.RecordPrometheusMasking(n)
	}
	return result, nil
}

// Stream runs statement via the connector's server-side cursor when
// ctx.Limits.StreamingPreferred is set and the vendor supports one,
// yielding masked batches through yield. Each batch remains subject to
// ctx's original deadline (spec.md §4.4: "not reset per batch") since
// ctx is passed through unmodified to every Next call.
func (e *Executor) Stream(ctx *exectx.Context, statement string, bindings map[string]any, batchSize int, yield func(*connector.RowBatch) error) (err error) {
	_, span := observability.StartSpan(ctx, "execute-sql-stream",
		observability.AttrOperation.String("execute-sql-stream"),
		observability.AttrConnectionID.String(ctx.ConnectionID),
		observability.AttrRequestID.String(ctx.RequestID),
	)
	defer span.End()

	started := time.Now()
	status := metrics.StatusSuccess
	defer func() {
		dur := time.Since(started).Milliseconds()
		metrics.Global().RecordInvocation("execute-sql-stream", dur, status)
		metrics.RecordPrometheusInvocation("execute-sql-stream", dur, status)
		if err != nil {
			observability.SetSpanError(span, err)
		} else {
			observability.SetSpanOK(span)
		}
	}()

	if ctx.ConnectionID == "" {
		status = metrics.StatusError
		return errs.New(errs.Validation, "connection id is required")
	}
	if perr := e.preflight(ctx, statement); perr != nil {
		status = classifyStatus(perr)
		if errors.Is(perr, pool.ErrUnknownConnection) {
			return classifyAcquireError(perr)
		}
		return perr
	}

	breaker := e.breakers.Get(ctx.ConnectionID, e.breaker)
	if breaker != nil && !breaker.Allow() {
		metrics.Global().RecordCircuitBreakerTrip()
		metrics.RecordCircuitBreakerTrip(ctx.ConnectionID, "open")
		status = metrics.StatusError
		return errs.New(errs.ConnectionFailed, "connection circuit breaker is open")
	}

	pc, acqErr := e.pool.Acquire(ctx, ctx.ConnectionID)
	if acqErr != nil {
		if breaker != nil {
			breaker.RecordFailure()
		}
		status = classifyStatus(acqErr)
		return classifyAcquireError(acqErr)
	}

	it, streamErr := pc.Conn.Stream(ctx, statement, bindings, batchSize)
	if streamErr != nil {
		healthy := errors.Is(streamErr, connector.ErrStreamingUnsupported)
		e.pool.Release(pc, healthy)
		if breaker != nil {
			breaker.RecordFailure()
		}
		status = classifyStatus(streamErr)
		return classifyExecError(streamErr, ctx)
	}
	defer it.Close()

	for {
		batch, ok, nextErr := it.Next(ctx)
		if nextErr != nil {
			e.pool.Release(pc, false)
			if breaker != nil {
				breaker.RecordFailure()
			}
			status = classifyStatus(nextErr)
			return classifyExecError(nextErr, ctx)
		}
		if !ok {
			break
		}
		e.maskRowsInPlace(batch.Rows)
		if yieldErr := yield(&connector.RowBatch{Rows: batch.Rows, Last: batch.Last}); yieldErr != nil {
			e.pool.Release(pc, true)
			status = metrics.StatusError
			return yieldErr
		}
		if batch.Last {
			break
		}
	}

	e.pool.Release(pc, true)
	if breaker != nil {
		breaker.RecordSuccess()
		metrics.SetCircuitBreakerState(ctx.ConnectionID, int(breaker.State()))
	}
	return nil
}

// maskRowsInPlace masks sensitive columns directly from each row's own
// keys, without needing a separate schema lookup - matching
// DataMasker.mask_rows, which also derives sensitivity from the row
// dict's own keys rather than a pre-fetched column list.
func (e *Executor) maskRowsInPlace(rows []domain.Row) {
	masked := 0
	for _, row := range rows {
		for col, v := range row {
			if e.masker.IsSensitive(col) {
				row[col] = sqlpolicy.MaskValue(v)
				masked++
			}
		}
	}
	if masked > 0 {
		metrics.Global().RecordMasking(masked)
		metrics.RecordPrometheusMasking(masked)
	}
}

// truncateToMaxRows enforces spec.md §4.4's "fetch at most max-rows + 1
// to detect truncation" contract: if the connector returned more than
// maxRows rows, the result is truncated to maxRows and
// TotalRowsAvailable records the unbounded-but-detected count.
func truncateToMaxRows(result *domain.QueryResult, maxRows int) {
	if maxRows <= 0 || len(result.Rows) <= maxRows {
		return
	}
	available := len(result.Rows)
	result.Rows = result.Rows[:maxRows]
	result.RowCount = maxRows
	result.TotalRowsAvailable = &available
}

// classifyStatus maps a pipeline error onto the response envelope's
// status enum (spec.md §6) for metrics purposes, independent of the
// caller-facing *errs.Error it is simultaneously wrapped into.
func classifyStatus(err error) metrics.Status {
	if errors.Is(err, context.DeadlineExceeded) {
		return metrics.StatusTimeout
	}
	return metrics.StatusError
}

// maskedValueCount counts how many (row, column) cells were actually
// masked, for the masking-applied counter - one increment per cell, not
// per column, since a sensitive column masks once per row.
func maskedValueCount(result *domain.QueryResult, masked map[string]bool) int {
	if len(masked) == 0 {
		return 0
	}
	count := 0
	for _, row := range result.Rows {
		for col := range masked {
			if _, ok := row[col]; ok {
				count++
			}
		}
	}
	return count
}

func classifyAcquireError(err error) error {
	switch {
	case errors.Is(err, pool.ErrUnknownConnection):
		return errs.Wrap(errs.Validation, "unknown connection", err)
	case errors.Is(err, pool.ErrAcquireTimeout):
		return errs.Wrap(errs.PoolExhausted, "no pooled connection became available in time", err)
	case errors.Is(err, pool.ErrPoolClosing):
		return errs.Wrap(errs.ConnectionFailed, "connection is being removed", err)
	case errors.Is(err, context.DeadlineExceeded):
		return errs.Wrap(errs.Timeout, "acquiring a connection exceeded the request deadline", err)
	default:
		return errs.Wrap(errs.ConnectionFailed, "failed to open connection", err)
	}
}

func classifyExecError(err error, ctx *exectx.Context) error {
	if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return errs.Wrap(errs.Timeout, "statement execution exceeded the request deadline", err)
	}
	if errors.Is(err, connector.ErrStreamingUnsupported) {
		return errs.Wrap(errs.QueryError, "streaming is not supported by this connection's vendor", err)
	}
	return errs.Wrap(errs.QueryError, "statement execution failed", err)
}
