// Package store is the persistence layer for connection descriptors and
// invocation logs (spec.md §6's connection CRUD operations and §7's
// structured logging requirement). API keys and ad-hoc secrets live in
// Redis (internal/auth, internal/secrets); this package owns only what
// genuinely needs relational/JSONB storage and SQL-side rate limiting.
package store

import (
	"context"
	"time"

	"github.com/oriys/nova/internal/domain"
)

// InvocationLog is one record of a completed (or failed) request to
// execute-sql, execute-code, or produce-visualization. It generalizes the
// teacher's per-function invocation log: one table and type now serve
// all three gated operations, discriminated by Operation.
type InvocationLog struct {
	ID              string
	WorkspaceID     string
	ConnectionID    *string // nil for execute-code with no bound connection
	CredentialLabel string
	Operation       string // "execute_sql" | "execute_code" | "produce_visualization"
	Success         bool
	ErrorTag        string // empty on success; an errs.Tag value otherwise
	ErrorMessage    string
	RowsProcessed   int64
	RowsReturned    int64
	DurationMS      int64
	MemoryUsedMB    int64
	CreatedAt       time.Time
}

// ConnectionUpdate carries the mutable subset of a ConnectionDescriptor
// for partial updates; nil fields are left unchanged.
type ConnectionUpdate struct {
	Name           *string
	Host           *string
	Port           *int
	Database       *string
	Schema         *string
	Role           *string
	Warehouse      *string
	Catalog        *string
	Username       *string
	Secrets        *domain.SecretBag
	SSL            *domain.SSLDiscipline
	ConnectTimeout *time.Duration
	QueryTimeout   *time.Duration
	Pool           *domain.PoolBounds
}

// MetadataStore is the durable metadata store: connection descriptors,
// invocation logs, and rate limiting. Functions, versions, async queues,
// the event bus, gateways, layers, and tenant governance — all present
// in the teacher's MetadataStore — have no home in this spec and are
// dropped rather than stubbed out.
type MetadataStore interface {
	Close() error
	Ping(ctx context.Context) error

	// Connection descriptors (spec.md §6: list-connections,
	// create-connection, delete-connection).
	CreateConnection(ctx context.Context, conn *domain.ConnectionDescriptor) error
	GetConnection(ctx context.Context, id string) (*domain.ConnectionDescriptor, error)
	GetConnectionByName(ctx context.Context, name string) (*domain.ConnectionDescriptor, error)
	ListConnections(ctx context.Context) ([]*domain.ConnectionDescriptor, error)
	UpdateConnection(ctx context.Context, id string, update *ConnectionUpdate) (*domain.ConnectionDescriptor, error)
	DeleteConnection(ctx context.Context, id string) error

	// Invocation logs
	SaveInvocationLog(ctx context.Context, log *InvocationLog) error
	SaveInvocationLogs(ctx context.Context, logs []*InvocationLog) error
	ListInvocationLogs(ctx context.Context, workspaceID string, limit int) ([]*InvocationLog, error)
	GetInvocationLog(ctx context.Context, id string) (*InvocationLog, error)

	// Rate limiting (token bucket, serialized under a row lock)
	CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error)
	CleanupRateLimitBuckets(ctx context.Context, olderThan time.Time) (int64, error)
}

// Store wraps the MetadataStore (Postgres) for all persistence. It is
// kept as its own named type, rather than an interface alias, so callers
// wire a single concrete handle the way the teacher's cmd/ entrypoints
// do.
type Store struct {
	MetadataStore
}

// NewStore wraps an already-constructed MetadataStore (normally a
// *PostgresStore) for use by the rest of the service.
func NewStore(meta MetadataStore) *Store {
	return &Store{MetadataStore: meta}
}

func (s *Store) PingPostgres(ctx context.Context) error {
	if s.MetadataStore == nil {
		return errNotConfigured
	}
	return s.MetadataStore.Ping(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.PingPostgres(ctx)
}

func (s *Store) Close() error {
	if s.MetadataStore != nil {
		return s.MetadataStore.Close()
	}
	return nil
}

var errNotConfigured = storeError("postgres not configured")

type storeError string

func (e storeError) Error() string { return string(e) }
