// Package mockconnector is an in-memory connector.Connector used by
// internal/pool and internal/sqlexec tests in place of a real database,
// mirroring the teacher's own in-memory fakes for backend.Backend in
// pool_test.go.
package mockconnector

import (
	"context"
	"fmt"
	"sync"

	"github.com/oriys/nova/internal/connector"
	"github.com/oriys/nova/internal/domain"
)

// Connector vends mock connections. Execute results are seeded per
// statement text via SeedResult, and ListTables/DescribeTable results per
// connection name via SeedTables/SeedColumns, so tests can control
// exactly what they return without a real database.
type Connector struct {
	mu      sync.Mutex
	results map[string]*domain.QueryResult // keyed by exact statement text
	tables  map[string][]string            // keyed by descriptor name
	columns map[string][]domain.Column     // keyed by "name.table"
	fail    map[string]error               // Open failures keyed by descriptor name
	probe   map[string]bool                // Probe override keyed by descriptor name
}

func New() *Connector {
	return &Connector{
		results: make(map[string]*domain.QueryResult),
		tables:  make(map[string][]string),
		columns: make(map[string][]domain.Column),
		fail:    make(map[string]error),
		probe:   make(map[string]bool),
	}
}

func (c *Connector) Vendor() domain.Vendor { return "mock" }

// SeedResult registers the QueryResult Execute/Stream return for an
// exact statement string.
func (c *Connector) SeedResult(statement string, result *domain.QueryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[statement] = result
}

// SeedTables registers the table list ListTables returns for a
// connection name.
func (c *Connector) SeedTables(connName string, tables []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[connName] = tables
}

// SeedColumns registers the column schema DescribeTable returns for a
// connection name + table.
func (c *Connector) SeedColumns(connName, table string, cols []domain.Column) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.columns[connName+"."+table] = cols
}

// FailOpen makes Open for connName return err.
func (c *Connector) FailOpen(connName string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[connName] = err
}

// SetProbe overrides the Probe result for connName (default true).
func (c *Connector) SetProbe(connName string, healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probe[connName] = healthy
}

func (c *Connector) Open(_ context.Context, desc *domain.ConnectionDescriptor) (connector.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.fail[desc.Name]; ok {
		return nil, err
	}
	healthy := true
	if v, ok := c.probe[desc.Name]; ok {
		healthy = v
	}
	return &mockConn{parent: c, name: desc.Name, healthy: healthy}, nil
}

type mockConn struct {
	parent  *Connector
	name    string
	healthy bool
	closed  bool
}

func (m *mockConn) Close() error {
	m.closed = true
	return nil
}

func (m *mockConn) Probe(_ context.Context) bool {
	return !m.closed && m.healthy
}

func (m *mockConn) Execute(_ context.Context, statement string, _ map[string]any, maxRows int) (*domain.QueryResult, error) {
	m.parent.mu.Lock()
	result, ok := m.parent.results[statement]
	m.parent.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mockconnector: no seeded result for statement %q", statement)
	}
	if maxRows > 0 && len(result.Rows) > maxRows {
		truncated := *result
		truncatedAt := maxRows
		truncated.Rows = result.Rows[:maxRows]
		truncated.RowCount = maxRows
		truncated.TotalRowsAvailable = &truncatedAt
		return &truncated, nil
	}
	out := *result
	out.RowCount = len(result.Rows)
	return &out, nil
}

func (m *mockConn) Stream(ctx context.Context, statement string, bindings map[string]any, batchSize int) (connector.BatchIterator, error) {
	result, err := m.Execute(ctx, statement, bindings, 0)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = len(result.Rows)
		if batchSize == 0 {
			batchSize = 1
		}
	}
	return &mockBatchIterator{rows: result.Rows, batch: batchSize}, nil
}

type mockBatchIterator struct {
	rows  []domain.Row
	batch int
	pos   int
}

func (it *mockBatchIterator) Next(_ context.Context) (*connector.RowBatch, bool, error) {
	if it.pos < 0 || it.pos >= len(it.rows) {
		if it.pos == 0 {
			it.pos = -1
			return &connector.RowBatch{Last: true}, true, nil
		}
		return nil, false, nil
	}
	end := min(it.pos+it.batch, len(it.rows))
	batch := it.rows[it.pos:end]
	it.pos = end
	return &connector.RowBatch{Rows: batch, Last: it.pos >= len(it.rows)}, true, nil
}

func (it *mockBatchIterator) Close() error { return nil }

func (m *mockConn) ListTables(_ context.Context, _ string) ([]string, error) {
	m.parent.mu.Lock()
	defer m.parent.mu.Unlock()
	return m.parent.tables[m.name], nil
}

func (m *mockConn) DescribeTable(_ context.Context, table, _ string) ([]domain.Column, error) {
	m.parent.mu.Lock()
	defer m.parent.mu.Unlock()
	return m.parent.columns[m.name+"."+table], nil
}
