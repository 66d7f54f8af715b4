package capability

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
	"github.com/oriys/nova/internal/store"
)

type taggedConnector struct {
	*mockconnector.Connector
	vendor domain.Vendor
}

func (t *taggedConnector) Vendor() domain.Vendor { return t.vendor }

func newTestPool(mock *mockconnector.Connector) *pool.Pool {
	reg := connector.NewRegistry(&taggedConnector{Connector: mock, vendor: domain.VendorPostgres})
	return pool.NewPool(reg, pool.Config{
		CleanupInterval:     time.Hour,
		HealthCheckInterval: time.Hour,
		AcquireTimeout:      200 * time.Millisecond,
	})
}

// fakeStore is an in-memory store.MetadataStore, just enough of it for
// capability's own tests - a scaled-down sibling of mockconnector for the
// persistence side.
type fakeStore struct {
	conns map[string]*domain.ConnectionDescriptor
}

func newFakeStore() *fakeStore {
	return &fakeStore{conns: make(map[string]*domain.ConnectionDescriptor)}
}

func (f *fakeStore) Close() error                   { return nil }
func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) CreateConnection(ctx context.Context, conn *domain.ConnectionDescriptor) error {
	cp := *conn
	f.conns[conn.ID] = &cp
	return nil
}
func (f *fakeStore) GetConnection(ctx context.Context, id string) (*domain.ConnectionDescriptor, error) {
	c, ok := f.conns[id]
	if !ok {
		return nil, errs.New(errs.Validation, "not found")
	}
	return c, nil
}
func (f *fakeStore) GetConnectionByName(ctx context.Context, name string) (*domain.ConnectionDescriptor, error) {
	for _, c := range f.conns {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, errs.New(errs.Validation, "not found")
}
func (f *fakeStore) ListConnections(ctx context.Context) ([]*domain.ConnectionDescriptor, error) {
	out := make([]*domain.ConnectionDescriptor, 0, len(f.conns))
	for _, c := range f.conns {
		out = append(out, c)
	}
	return out, nil
}
func (f *fakeStore) UpdateConnection(ctx context.Context, id string, update *store.ConnectionUpdate) (*domain.ConnectionDescriptor, error) {
	return f.conns[id], nil
}
func (f *fakeStore) DeleteConnection(ctx context.Context, id string) error {
	delete(f.conns, id)
	return nil
}
func (f *fakeStore) SaveInvocationLog(ctx context.Context, log *store.InvocationLog) error {
	return nil
}
func (f *fakeStore) SaveInvocationLogs(ctx context.Context, logs []*store.InvocationLog) error {
	return nil
}
func (f *fakeStore) ListInvocationLogs(ctx context.Context, workspaceID string, limit int) ([]*store.InvocationLog, error) {
	return nil, nil
}
func (f *fakeStore) GetInvocationLog(ctx context.Context, id string) (*store.InvocationLog, error) {
	return nil, nil
}
func (f *fakeStore) CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	return true, maxTokens, nil
}
func (f *fakeStore) CleanupRateLimitBuckets(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func testDescriptor(id, name string) *domain.ConnectionDescriptor {
	return &domain.ConnectionDescriptor{
		ID: id, Name: name, Vendor: domain.VendorPostgres,
		Pool:    domain.PoolBounds{Min: 1, Max: 2},
		Secrets: domain.SecretBag{Password: "super-secret"},
	}
}

func newTestService(mock *mockconnector.Connector, st *fakeStore) *Service {
	reg := connector.NewRegistry(&taggedConnector{Connector: mock, vendor: domain.VendorPostgres})
	p := newTestPool(mock)
	return New(st, p, reg, config.SecurityConfig{}, config.ResourceLimitsConfig{MaxRows: 1000})
}

func TestCreateConnectionThenListFindsItRedacted(t *testing.T) {
	mock := mockconnector.New()
	st := newFakeStore()
	svc := newTestService(mock, st)

	created, err := svc.CreateConnection(context.Background(), testDescriptor("", "warehouse"))
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	if created.Secrets.Password != "" {
		t.Fatal("expected secrets to be redacted from the create response")
	}
	if created.ID == "" {
		t.Fatal("expected an assigned ID")
	}

	list, err := svc.ListConnections(context.Background())
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	var found bool
	for _, c := range list {
		if c.Name == "warehouse" {
			found = true
			if c.Secrets.Password != "" {
				t.Fatal("expected list-connections to redact secrets")
			}
		}
	}
	if !found {
		t.Fatal("expected the created connection to be listed")
	}
}

func TestCreateConnectionRejectsUnknownVendor(t *testing.T) {
	mock := mockconnector.New()
	svc := newTestService(mock, newFakeStore())

	desc := testDescriptor("", "bad")
	desc.Vendor = "not-a-vendor"
	_, err := svc.CreateConnection(context.Background(), desc)
	if err == nil {
		t.Fatal("expected an error for an unrecognized vendor")
	}
}

func TestDeleteConnectionRemovesFromStoreAndPool(t *testing.T) {
	mock := mockconnector.New()
	st := newFakeStore()
	svc := newTestService(mock, st)

	created, _ := svc.CreateConnection(context.Background(), testDescriptor("", "to-delete"))
	if err := svc.DeleteConnection(context.Background(), created.ID); err != nil {
		t.Fatalf("DeleteConnection: %v", err)
	}
	if _, ok := st.conns[created.ID]; ok {
		t.Fatal("expected the descriptor to be removed from the store")
	}
	if _, err := svc.pool.Acquire(context.Background(), created.ID); !errors.Is(err, pool.ErrUnknownConnection) {
		t.Fatalf("expected the connection to be removed from the pool, got %v", err)
	}
}

func TestTestConnectionSucceedsWhenProbeHealthy(t *testing.T) {
	mock := mockconnector.New()
	svc := newTestService(mock, newFakeStore())

	result := svc.TestConnection(context.Background(), testDescriptor("c1", "healthy"))
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestTestConnectionFailsWhenOpenErrors(t *testing.T) {
	mock := mockconnector.New()
	mock.FailOpen("broken", errs.New(errs.ConnectionFailed, "refused"))
	svc := newTestService(mock, newFakeStore())

	result := svc.TestConnection(context.Background(), testDescriptor("c1", "broken"))
	if result.Success {
		t.Fatal("expected failure when Open errors")
	}
	if result.Error == "" {
		t.Fatal("expected an error detail")
	}
}

func TestTestConnectionFailsWhenProbeUnhealthy(t *testing.T) {
	mock := mockconnector.New()
	mock.SetProbe("flaky", false)
	svc := newTestService(mock, newFakeStore())

	result := svc.TestConnection(context.Background(), testDescriptor("c1", "flaky"))
	if result.Success {
		t.Fatal("expected failure when the health probe fails")
	}
}

func TestSyncSchemaDescribesEveryTable(t *testing.T) {
	mock := mockconnector.New()
	mock.SeedTables("c1", []string{"public.accounts", "public.orders"})
	mock.SeedColumns("c1", "accounts", []domain.Column{{Name: "id", Type: domain.TypeInteger}})
	mock.SeedColumns("c1", "orders", []domain.Column{{Name: "total", Type: domain.TypeFloat}})

	st := newFakeStore()
	svc := newTestService(mock, st)
	svc.pool.Register(context.Background(), testDescriptor("c1", "c1"))

	snap, err := svc.SyncSchema(context.Background(), "c1")
	if err != nil {
		t.Fatalf("SyncSchema: %v", err)
	}
	if len(snap.Tables) != 2 {
		t.Fatalf("len(Tables) = %d, want 2", len(snap.Tables))
	}
	for _, tbl := range snap.Tables {
		if len(tbl.Columns) == 0 {
			t.Fatalf("expected %s to have described columns", tbl.Name)
		}
	}
}

func TestGetTableSamplesMasksSensitiveColumns(t *testing.T) {
	mock := mockconnector.New()
	mock.SeedResult(`SELECT * FROM "accounts" LIMIT 100`, &domain.QueryResult{
		Columns: []domain.Column{{Name: "id", Type: domain.TypeInteger}, {Name: "ssn", Type: domain.TypeText}},
		Rows:    []domain.Row{{"id": 1, "ssn": "123-45-6789"}},
	})

	st := newFakeStore()
	sec := config.SecurityConfig{SensitiveColumnPatterns: []string{"ssn"}, MaskSensitiveData: true}
	p := newTestPool(mock)
	reg := connector.NewRegistry(&taggedConnector{Connector: mock, vendor: domain.VendorPostgres})
	svc := New(st, p, reg, sec, config.ResourceLimitsConfig{MaxRows: 1000})
	svc.pool.Register(context.Background(), testDescriptor("c1", "c1"))

	ctx := exectx.New(context.Background(), "", "ws1", "c1", "p1", exectx.Limits{})
	defer ctx.Cancel()

	result, err := svc.GetTableSamples(ctx, "accounts", 100)
	if err != nil {
		t.Fatalf("GetTableSamples: %v", err)
	}
	if result.Rows[0]["ssn"] == "123-45-6789" {
		t.Fatal("expected the ssn column to be masked")
	}
}

func TestGetTableSamplesRequiresConnectionID(t *testing.T) {
	mock := mockconnector.New()
	svc := newTestService(mock, newFakeStore())
	ctx := exectx.New(context.Background(), "", "ws1", "", "p1", exectx.Limits{})
	defer ctx.Cancel()

	_, err := svc.GetTableSamples(ctx, "accounts", 10)
	if err == nil {
		t.Fatal("expected an error when no connection id is set")
	}
	se, ok := err.(*errs.Error)
	if !ok || se.Tag != errs.Validation {
		t.Fatalf("expected *errs.Error{Tag: Validation}, got %v", err)
	}
}
