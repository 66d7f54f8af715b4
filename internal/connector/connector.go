// Package connector defines the per-vendor database contract of spec.md
// §4.2: a closed set of operations every backend adapter implements, so
// the SQL executor, pool, and capability surface never branch on vendor.
//
// Only postgres (internal/connector/pgconnector), athena
// (internal/connector/athenaconnector) and an in-memory mock (for tests)
// are implemented; the remaining vendor tags declared in domain.Vendor
// are registered but route to ErrUnsupportedVendor, the
// same shape the teacher uses in internal/backend for backends it does
// not ship (see backend.Backend's doc comment on Docker/Kata parity).
package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/oriys/nova/internal/domain"
)

// ErrUnsupportedVendor is returned by Registry.Open for a recognized but
// unimplemented vendor tag.
var ErrUnsupportedVendor = errors.New("connector: vendor not implemented")

// RowBatch is one lazily-produced chunk of a streamed query result.
type RowBatch struct {
	Rows []domain.Row
	Last bool // true on the final batch (possibly empty)
}

// BatchIterator is returned by Conn.Stream. Callers call Next until it
// returns (nil, false, nil) or an error; the iterator must be closed
// exactly once via Close regardless of how iteration ended.
type BatchIterator interface {
	Next(ctx context.Context) (*RowBatch, bool, error)
	Close() error
}

// Conn is a single open connection to a vendor backend, as produced by
// Connector.Open. Implementations must be safe to use from one goroutine
// at a time (the pool guarantees exclusive use between acquire/release).
type Conn interface {
	// Close releases the native connection. It is called by the pool when
	// evicting or draining; it must not be called while in use.
	Close() error

	// Probe reports whether the connection is still healthy. The pool
	// calls this before handing a pooled connection to a caller.
	Probe(ctx context.Context) bool

	// Execute runs statement with the given name->value bindings and
	// returns the full result. maxRows bounds the number of rows fetched;
	// callers request maxRows+1 to detect truncation.
	Execute(ctx context.Context, statement string, bindings map[string]any, maxRows int) (*domain.QueryResult, error)

	// Stream runs statement via a server-side cursor, yielding rows in
	// batches of at most batchSize. Implementations that cannot support a
	// server-side cursor return ErrStreamingUnsupported.
	Stream(ctx context.Context, statement string, bindings map[string]any, batchSize int) (BatchIterator, error)

	// ListTables enumerates tables visible in schema (vendor default
	// schema when empty).
	ListTables(ctx context.Context, schema string) ([]string, error)

	// DescribeTable returns the canonical column schema for table.
	DescribeTable(ctx context.Context, table, schema string) ([]domain.Column, error)
}

// ErrStreamingUnsupported is returned by Conn.Stream when the vendor has
// no server-side cursor support.
var ErrStreamingUnsupported = errors.New("connector: streaming not supported by this vendor")

// Connector opens connections for exactly one vendor.
type Connector interface {
	Vendor() domain.Vendor
	Open(ctx context.Context, desc *domain.ConnectionDescriptor) (Conn, error)
}

// Registry dispatches Open calls to the Connector registered for a
// descriptor's vendor tag.
type Registry struct {
	byVendor map[domain.Vendor]Connector
}

// NewRegistry builds a Registry from the given connectors, keyed by each
// connector's own Vendor(). Later entries with a duplicate vendor
// overwrite earlier ones.
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{byVendor: make(map[domain.Vendor]Connector, len(connectors))}
	for _, c := range connectors {
		r.byVendor[c.Vendor()] = c
	}
	return r
}

// Open resolves desc.Vendor to a registered Connector and opens a
// connection. Unregistered-but-valid vendor tags return
// ErrUnsupportedVendor; unrecognized tags return a plain error.
func (r *Registry) Open(ctx context.Context, desc *domain.ConnectionDescriptor) (Conn, error) {
	if !domain.ValidVendor(desc.Vendor) {
		return nil, fmt.Errorf("connector: unrecognized vendor %q", desc.Vendor)
	}
	c, ok := r.byVendor[desc.Vendor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVendor, desc.Vendor)
	}
	return c.Open(ctx, desc)
}

// Supports reports whether vendor has a registered, working Connector.
func (r *Registry) Supports(vendor domain.Vendor) bool {
	_, ok := r.byVendor[vendor]
	return ok
}

// stubConnector satisfies Connector for a vendor tag with no real
// implementation in this repo; Open always fails with
// ErrUnsupportedVendor so the capability surface can still enumerate the
// vendor (spec.md §4.2's "closed enum") without pretending to support it.
type stubConnector struct {
	vendor domain.Vendor
}

// NewStubConnector registers vendor in a Registry without a working
// backend, matching domain.ValidVendor's enumeration of 16 vendor tags
// against the three (postgres, athena, mock) this repo actually implements.
func NewStubConnector(vendor domain.Vendor) Connector {
	return &stubConnector{vendor: vendor}
}

func (s *stubConnector) Vendor() domain.Vendor { return s.vendor }

func (s *stubConnector) Open(_ context.Context, _ *domain.ConnectionDescriptor) (Conn, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedVendor, s.vendor)
}

// StubVendors are the vendor tags registered as stubs by default (every
// vendor in domain's closed enum except postgres, athena, and the
// test-only mock).
var StubVendors = []domain.Vendor{
	domain.VendorMySQL, domain.VendorRedshift, domain.VendorSnowflake,
	domain.VendorBigQuery, domain.VendorDatabricks,
	domain.VendorOracle, domain.VendorSQLServer, domain.VendorSAPHana,
	domain.VendorAzureSynapse, domain.VendorTrino, domain.VendorAuroraMySQL,
	domain.VendorAuroraPostgres, domain.VendorRDSMySQL, domain.VendorRDSPostgres,
}

// NewDefaultRegistry builds a Registry with pg and athena wired to real
// connectors and a stub for every other declared vendor.
func NewDefaultRegistry(pg, athena Connector) *Registry {
	connectors := make([]Connector, 0, len(StubVendors)+2)
	connectors = append(connectors, pg, athena)
	for _, v := range StubVendors {
		connectors = append(connectors, NewStubConnector(v))
	}
	return NewRegistry(connectors...)
}
