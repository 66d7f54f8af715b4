// Package pgconnector is the reference connector.Connector implementation,
// backed by jackc/pgx/v5. Besides this one, only athena has a real
// connector in this repo; every other declared vendor tag routes through
// connector.NewStubConnector.
package pgconnector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/nova/internal/connector"
	"github.com/oriys/nova/internal/domain"
)

// Connector opens pgx connections for domain.VendorPostgres descriptors.
type Connector struct{}

// New returns a postgres connector.Connector.
func New() *Connector { return &Connector{} }

func (c *Connector) Vendor() domain.Vendor { return domain.VendorPostgres }

func (c *Connector) Open(ctx context.Context, desc *domain.ConnectionDescriptor) (connector.Conn, error) {
	dsn := buildDSN(desc)
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgconnector: parse dsn: %w", err)
	}
	cfg.MaxConns = 1 // one native connection per connector.Conn; pooling lives in internal/pool
	if desc.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = desc.ConnectTimeout
	}

	openCtx := ctx
	if desc.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, desc.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(openCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgconnector: open: %w", err)
	}
	if err := pool.Ping(openCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgconnector: ping: %w", err)
	}
	return &conn{pool: pool, schema: desc.Schema, queryTimeout: desc.QueryTimeout}, nil
}

func buildDSN(desc *domain.ConnectionDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "host=%s port=%d dbname=%s", desc.Host, desc.Port, desc.Database)
	if desc.Username != "" {
		fmt.Fprintf(&b, " user=%s", desc.Username)
	}
	if desc.Secrets.Password != "" {
		fmt.Fprintf(&b, " password=%s", desc.Secrets.Password)
	}
	b.WriteString(" sslmode=")
	b.WriteString(sslModeString(desc.SSL.Mode))
	if desc.SSL.CAPath != "" {
		fmt.Fprintf(&b, " sslrootcert=%s", desc.SSL.CAPath)
	}
	return b.String()
}

func sslModeString(mode domain.SSLMode) string {
	switch mode {
	case domain.SSLDisable:
		return "disable"
	case domain.SSLPrefer:
		return "prefer"
	case domain.SSLRequire:
		return "require"
	case domain.SSLVerifyCA:
		return "verify-ca"
	case domain.SSLVerifyFull:
		return "verify-full"
	default:
		return "prefer"
	}
}

type conn struct {
	pool         *pgxpool.Pool
	schema       string
	queryTimeout time.Duration
}

func (c *conn) Close() error {
	c.pool.Close()
	return nil
}

func (c *conn) Probe(ctx context.Context) bool {
	return c.pool.Ping(ctx) == nil
}

// bindingsToArgs rewrites ":name" placeholders into pgx's native "$n"
// style, building a positional argument list in occurrence order, per
// spec.md §4.2's parameter protocol.
var namedParamPattern = regexp.MustCompile(`:([a-zA-Z_][a-zA-Z0-9_]*)`)

func bindingsToArgs(statement string, bindings map[string]any) (string, []any) {
	var args []any
	seen := make(map[string]int)
	rewritten := namedParamPattern.ReplaceAllStringFunc(statement, func(match string) string {
		name := match[1:]
		if idx, ok := seen[name]; ok {
			return "$" + strconv.Itoa(idx)
		}
		args = append(args, bindings[name])
		idx := len(args)
		seen[name] = idx
		return "$" + strconv.Itoa(idx)
	})
	return rewritten, args
}

func (c *conn) Execute(ctx context.Context, statement string, bindings map[string]any, maxRows int) (*domain.QueryResult, error) {
	if c.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}

	rewritten, args := bindingsToArgs(statement, bindings)
	rows, err := c.pool.Query(ctx, rewritten, args...)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	columns := columnSchema(rows.FieldDescriptions())
	result := &domain.QueryResult{Columns: columns}

	fetchLimit := maxRows
	if fetchLimit <= 0 {
		fetchLimit = -1 // unlimited
	}
	for rows.Next() {
		if fetchLimit >= 0 && result.RowCount >= fetchLimit {
			truncatedAt := result.RowCount
			result.TotalRowsAvailable = &truncatedAt
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, classifyPgError(err)
		}
		row := make(domain.Row, len(columns))
		for i, col := range columns {
			if i < len(values) {
				row[col.Name] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError(err)
	}
	return result, nil
}

type pgBatchIterator struct {
	rows    pgx.Rows
	columns []domain.Column
	batch   int
	done    bool
}

func (it *pgBatchIterator) Next(ctx context.Context) (*connector.RowBatch, bool, error) {
	if it.done {
		return nil, false, nil
	}
	var rows []domain.Row
	exhausted := false
	for len(rows) < it.batch {
		if !it.rows.Next() {
			exhausted = true
			break
		}
		values, err := it.rows.Values()
		if err != nil {
			return nil, false, classifyPgError(err)
		}
		row := make(domain.Row, len(it.columns))
		for i, col := range it.columns {
			if i < len(values) {
				row[col.Name] = values[i]
			}
		}
		rows = append(rows, row)
	}
	if exhausted {
		it.done = true
		if err := it.rows.Err(); err != nil {
			return nil, false, classifyPgError(err)
		}
	}
	return &connector.RowBatch{Rows: rows, Last: it.done}, true, nil
}

func (it *pgBatchIterator) Close() error {
	it.rows.Close()
	return nil
}

func (c *conn) Stream(ctx context.Context, statement string, bindings map[string]any, batchSize int) (connector.BatchIterator, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	rewritten, args := bindingsToArgs(statement, bindings)
	rows, err := c.pool.Query(ctx, rewritten, args...)
	if err != nil {
		return nil, classifyPgError(err)
	}
	return &pgBatchIterator{rows: rows, columns: columnSchema(rows.FieldDescriptions()), batch: batchSize}, nil
}

func (c *conn) ListTables(ctx context.Context, schema string) ([]string, error) {
	if schema == "" {
		schema = c.schema
	}
	if schema == "" {
		schema = "public"
	}
	rows, err := c.pool.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 ORDER BY table_name
	`, schema)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classifyPgError(err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (c *conn) DescribeTable(ctx context.Context, table, schema string) ([]domain.Column, error) {
	if schema == "" {
		schema = c.schema
	}
	if schema == "" {
		schema = "public"
	}
	rows, err := c.pool.Query(ctx, `
		SELECT column_name, data_type FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position
	`, schema, table)
	if err != nil {
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	var cols []domain.Column
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, classifyPgError(err)
		}
		cols = append(cols, domain.Column{Name: name, Type: canonicalizePgType(dataType)})
	}
	return cols, rows.Err()
}

func columnSchema(fields []pgconn.FieldDescription) []domain.Column {
	cols := make([]domain.Column, len(fields))
	for i, f := range fields {
		cols[i] = domain.Column{Name: f.Name, Type: canonicalizeOID(f.DataTypeOID)}
	}
	return cols
}

// canonicalizeOID maps a handful of well-known pg_type OIDs to canonical
// types; anything else falls back to TypeText, since pgx already returns
// a driver-native Go value the caller can format regardless.
func canonicalizeOID(oid uint32) domain.CanonicalType {
	switch oid {
	case 20, 21, 23: // int8, int2, int4
		return domain.TypeInteger
	case 700, 701, 1700: // float4, float8, numeric
		return domain.TypeFloat
	case 16: // bool
		return domain.TypeBoolean
	case 1082: // date
		return domain.TypeDate
	case 1114, 1184: // timestamp, timestamptz
		return domain.TypeTimestamp
	case 114, 3802: // json, jsonb
		return domain.TypeJSON
	case 17: // bytea
		return domain.TypeBinary
	case 25, 1043, 18: // text, varchar, char
		return domain.TypeText
	default:
		return domain.TypeUnknown
	}
}

func canonicalizePgType(dataType string) domain.CanonicalType {
	switch {
	case strings.Contains(dataType, "int"):
		return domain.TypeInteger
	case strings.Contains(dataType, "double"), strings.Contains(dataType, "numeric"), strings.Contains(dataType, "real"):
		return domain.TypeFloat
	case dataType == "boolean":
		return domain.TypeBoolean
	case dataType == "date":
		return domain.TypeDate
	case strings.Contains(dataType, "timestamp"):
		return domain.TypeTimestamp
	case strings.Contains(dataType, "json"):
		return domain.TypeJSON
	case dataType == "bytea":
		return domain.TypeBinary
	case strings.Contains(dataType, "char"), dataType == "text":
		return domain.TypeText
	default:
		return domain.TypeUnknown
	}
}

// classifyPgError maps a pgx/pgconn error to a plain Go error the caller
// (internal/sqlexec) tags with errs.ConnectionFailed/errs.Timeout/
// errs.QueryError; this package stays error-taxonomy-agnostic so it has
// no dependency on internal/errs.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	if pgErr, ok := err.(*pgconn.PgError); ok {
		return fmt.Errorf("pgconnector: %s (%s): %w", pgErr.Message, pgErr.Code, err)
	}
	return fmt.Errorf("pgconnector: %w", err)
}
