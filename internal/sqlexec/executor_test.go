package sqlexec_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oriys/nova/internal/config"
	"github.com/oriys/nova/internal/connector"
	"github.com/oriys/nova/internal/connector/mockconnector"
	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/exectx"
	"github.com/oriys/nova/internal/pool"
	"github.com/oriys/nova/internal/sqlexec"
)

type taggedConnector struct {
	*mockconnector.Connector
	vendor domain.Vendor
}

func (t *taggedConnector) Vendor() domain.Vendor { return t.vendor }

func newTestExecutor(t *testing.T, mc *mockconnector.Connector, sec config.SecurityConfig, limits config.ResourceLimitsConfig) (*sqlexec.Executor, *pool.Pool) {
	t.Helper()
	reg := connector.NewRegistry(&taggedConnector{Connector: mc, vendor: domain.VendorPostgres})
	p := pool.NewPool(reg, pool.Config{
		CleanupInterval:     time.Hour,
		HealthCheckInterval: time.Hour,
		AcquireTimeout:      200 * time.Millisecond,
	})
	t.Cleanup(p.Shutdown)
	return sqlexec.New(p, sec, limits), p
}

func testDescriptor(id string) *domain.ConnectionDescriptor {
	return &domain.ConnectionDescriptor{
		ID: id, Name: id, Vendor: domain.VendorPostgres,
		Pool: domain.PoolBounds{Min: 0, Max: 2},
	}
}

func testContext(connID string, limits exectx.Limits) *exectx.Context {
	return exectx.New(context.Background(), "", "ws1", connID, "principal1", limits)
}

func assertTag(t *testing.T, err error, want errs.Tag) *errs.Error {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	var e *errs.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *errs.Error, got %T (%v)", err, err)
	}
	if e.Tag != want {
		t.Fatalf("Tag = %v, want %v", e.Tag, want)
	}
	return e
}

func TestExecuteReturnsMaskedResult(t *testing.T) {
	mc := mockconnector.New()
	mc.SeedResult("SELECT id, password FROM users", &domain.QueryResult{
		Columns: []domain.Column{
			{Name: "id", Type: domain.TypeInteger},
			{Name: "password", Type: domain.TypeText},
		},
		Rows: []domain.Row{{"id": 1, "password": "hunter2hunter2"}},
	})
	sec := config.DefaultConfig().Security
	limits := config.ResourceLimitsConfig{MaxRows: 100}
	exec, p := newTestExecutor(t, mc, sec, limits)
	if err := p.Register(context.Background(), testDescriptor("c1")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := testContext("c1", exectx.Limits{})
	result, err := exec.Execute(ctx, "SELECT id, password FROM users", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Rows[0]["password"] == "hunter2hunter2" {
		t.Fatal("expected password value to be masked")
	}
	if !result.Columns[1].Masked {
		t.Fatal("expected password column to be flagged masked")
	}
	if result.Rows[0]["id"] != 1 {
		t.Fatal("non-sensitive column must pass through verbatim")
	}
}

func TestExecuteRejectsPolicyViolationBeforeAcquire(t *testing.T) {
	mc := mockconnector.New()
	sec := config.DefaultConfig().Security
	exec, p := newTestExecutor(t, mc, sec, config.ResourceLimitsConfig{MaxRows: 100})
	// Deliberately do not Register "c1" - if Execute reached the pool it
	// would fail with ErrUnknownConnection, not PolicyViolation, proving
	// the policy gate runs first.
	_ = p

	ctx := testContext("c1", exectx.Limits{})
	_, err := exec.Execute(ctx, "DELETE FROM users", nil)
	assertTag(t, err, errs.PolicyViolation)
}

func TestExecuteRejectsMissingConnectionID(t *testing.T) {
	mc := mockconnector.New()
	sec := config.DefaultConfig().Security
	exec, _ := newTestExecutor(t, mc, sec, config.ResourceLimitsConfig{MaxRows: 100})

	ctx := testContext("", exectx.Limits{})
	_, err := exec.Execute(ctx, "SELECT 1", nil)
	assertTag(t, err, errs.Validation)
}

func TestExecuteUnknownConnectionIsValidationError(t *testing.T) {
	mc := mockconnector.New()
	sec := config.DefaultConfig().Security
	exec, _ := newTestExecutor(t, mc, sec, config.ResourceLimitsConfig{MaxRows: 100})

	ctx := testContext("does-not-exist", exectx.Limits{})
	_, err := exec.Execute(ctx, "SELECT 1", nil)
	assertTag(t, err, errs.Validation)
}

func TestExecuteAcquireTimeoutIsPoolExhausted(t *testing.T) {
	mc := mockconnector.New()
	mc.SeedResult("SELECT 1", &domain.QueryResult{
		Columns: []domain.Column{{Name: "n", Type: domain.TypeInteger}},
		Rows:    []domain.Row{{"n": 1}},
	})
	sec := config.DefaultConfig().Security
	exec, p := newTestExecutor(t, mc, sec, config.ResourceLimitsConfig{MaxRows: 100})
	desc := testDescriptor("c1")
	desc.Pool.Max = 1
	if err := p.Register(context.Background(), desc); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Hold the only connection open so a second Execute cannot acquire one.
	held, err := p.Acquire(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(held, true)

	ctx := testContext("c1", exectx.Limits{})
	_, err = exec.Execute(ctx, "SELECT 1", nil)
	assertTag(t, err, errs.PoolExhausted)
}

func TestExecuteTruncatesToMaxRowsAndRecordsTotal(t *testing.T) {
	mc := mockconnector.New()
	mc.SeedResult("SELECT n FROM series", &domain.QueryResult{
		Columns: []domain.Column{{Name: "n", Type: domain.TypeInteger}},
		Rows:    []domain.Row{{"n": 1}, {"n": 2}, {"n": 3}, {"n": 4}, {"n": 5}},
	})
	sec := config.DefaultConfig().Security
	exec, p := newTestExecutor(t, mc, sec, config.ResourceLimitsConfig{MaxRows: 100})
	if err := p.Register(context.Background(), testDescriptor("c1")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := testContext("c1", exectx.Limits{MaxRows: 3})
	result, err := exec.Execute(ctx, "SELECT n FROM series", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Rows) != 3 || result.RowCount != 3 {
		t.Fatalf("expected truncation to 3 rows, got %d (RowCount=%d)", len(result.Rows), result.RowCount)
	}
	if result.TotalRowsAvailable == nil || *result.TotalRowsAvailable != 5 {
		t.Fatalf("expected TotalRowsAvailable=5, got %v", result.TotalRowsAvailable)
	}
}

func TestExecuteUnderMaxRowsLeavesTotalRowsAvailableNil(t *testing.T) {
	mc := mockconnector.New()
	mc.SeedResult("SELECT n FROM series", &domain.QueryResult{
		Columns: []domain.Column{{Name: "n", Type: domain.TypeInteger}},
		Rows:    []domain.Row{{"n": 1}, {"n": 2}},
	})
	sec := config.DefaultConfig().Security
	exec, p := newTestExecutor(t, mc, sec, config.ResourceLimitsConfig{MaxRows: 100})
	if err := p.Register(context.Background(), testDescriptor("c1")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := testContext("c1", exectx.Limits{MaxRows: 10})
	result, err := exec.Execute(ctx, "SELECT n FROM series", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.TotalRowsAvailable != nil {
		t.Fatalf("expected no truncation marker, got %v", *result.TotalRowsAvailable)
	}
}

func TestExecuteCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	mc := mockconnector.New()
	// No seeded result for this statement: every Execute on the mock
	// connection fails, driving the per-connection breaker open.
	sec := config.DefaultConfig().Security
	exec, p := newTestExecutor(t, mc, sec, config.ResourceLimitsConfig{MaxRows: 100})
	if err := p.Register(context.Background(), testDescriptor("c1")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := testContext("c1", exectx.Limits{})
	var lastErr error
	for i := 0; i < 20; i++ {
		_, lastErr = exec.Execute(ctx, "SELECT * FROM nonexistent", nil)
	}
	assertTag(t, lastErr, errs.ConnectionFailed)
}

func TestStreamYieldsMaskedBatches(t *testing.T) {
	mc := mockconnector.New()
	mc.SeedResult("SELECT id, token FROM sessions", &domain.QueryResult{
		Columns: []domain.Column{
			{Name: "id", Type: domain.TypeInteger},
			{Name: "token", Type: domain.TypeText},
		},
		Rows: []domain.Row{
			{"id": 1, "token": "abcdefghij"},
			{"id": 2, "token": "klmnopqrst"},
		},
	})
	sec := config.DefaultConfig().Security
	exec, p := newTestExecutor(t, mc, sec, config.ResourceLimitsConfig{MaxRows: 100})
	if err := p.Register(context.Background(), testDescriptor("c1")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := testContext("c1", exectx.Limits{StreamingPreferred: true})
	var seen []domain.Row
	err := exec.Stream(ctx, "SELECT id, token FROM sessions", nil, 1, func(batch *connector.RowBatch) error {
		seen = append(seen, batch.Rows...)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 rows across batches, got %d", len(seen))
	}
	for _, row := range seen {
		if row["token"] == "abcdefghij" || row["token"] == "klmnopqrst" {
			t.Fatalf("expected token to be masked, got %v", row["token"])
		}
	}
}

func TestStreamRejectsPolicyViolation(t *testing.T) {
	mc := mockconnector.New()
	sec := config.DefaultConfig().Security
	exec, _ := newTestExecutor(t, mc, sec, config.ResourceLimitsConfig{MaxRows: 100})

	ctx := testContext("c1", exectx.Limits{})
	err := exec.Stream(ctx, "DROP TABLE users", nil, 10, func(*connector.RowBatch) error { return nil })
	assertTag(t, err, errs.PolicyViolation)
}
