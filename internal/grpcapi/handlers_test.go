package grpcapi

import (
	"context"
	"testing"
	"time"

	"github.com/oriys/nova/internal/auth"
	"github.com/oriys/nova/internal/capability"
	"github.com/oriys/nova/internal/config"
	"github.com/oriys/nova/internal/connector"
	"github.com/oriys/nova/internal/connector/mockconnector"
	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/logsink"
	"github.com/oriys/nova/internal/pool"
	"github.com/oriys/nova/internal/store"
)

// fakeStore mirrors internal/httpapi's own fakeStore, trimmed to what
// this package's handler tests need.
type fakeStore struct {
	conns map[string]*domain.ConnectionDescriptor
	ping  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{conns: make(map[string]*domain.ConnectionDescriptor)}
}

func (f *fakeStore) Close() error                   { return nil }
func (f *fakeStore) Ping(ctx context.Context) error { return f.ping }
func (f *fakeStore) CreateConnection(ctx context.Context, c *domain.ConnectionDescriptor) error {
	cp := *c
	f.conns[c.ID] = &cp
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

type taggedConnector struct {
	*mockconnector.Connector
	vendor domain.Vendor
}

func (c *taggedConnector) Vendor() domain.Vendor { return c.vendor }

func newTestDeps(t *testing.T, st *fakeStore) Deps {
	t.Helper()
	mock := mockconnector.New()
	reg := connector.NewRegistry(&taggedConnector{Connector: mock, vendor: domain.VendorPostgres})
	p := pool.NewPool(reg, pool.Config{
		CleanupInterval:     time.Hour,
		HealthCheckInterval: time.Hour,
		AcquireTimeout:      200 * time.Millisecond,
	})
	svc := capability.New(st, p, reg, config.SecurityConfig{}, config.ResourceLimitsConfig{MaxRows: 1000})
	return Deps{
		Store:      st,
		LogSink:    logsink.NewPostgresSink(store.NewStore(st)),
		Capability: svc,
		ResourceLimits: config.ResourceLimitsConfig{
			MaxRows: 1000, MaxMemoryMB: 256, MaxOutputSizeKB: 1024, QueryTimeout: 30 * time.Second,
		},
		StartedAt: time.Now(),
		Version:   "test",
	}
}

func authedContext() context.Context {
	return auth.WithPrincipal(context.Background(), &domain.Principal{
		Authenticated: true,
		WorkspaceID:   "ws_1",
		Permissions:   domain.NewPermissionSet(domain.AllPermissions...),
	})
}

func TestServerHealthReportsOKWhenStorePingSucceeds(t *testing.T) {
	s := NewServer(newTestDeps(t, newFakeStore()))
	resp, err := s.Health(context.Background(), &HealthRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected ok, got %q", resp.Status)
	}
}

func TestServerHealthDegradesWhenStorePingFails(t *testing.T) {
	st := newFakeStore()
	st.ping = errs.New(errs.Internal, "db unreachable")
	s := NewServer(newTestDeps(t, st))

	resp, err := s.Health(context.Background(), &HealthRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != "degraded" {
		t.Fatalf("expected degraded, got %q", resp.Status)
	}
}

func TestServerCapabilitiesEnumeratesVendorsAndLimits(t *testing.T) {
	s := NewServer(newTestDeps(t, newFakeStore()))
	resp, err := s.Capabilities(context.Background(), &CapabilitiesRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Vendors) != len(domain.AllVendors()) {
		t.Fatalf("expected %d vendors, got %d", len(domain.AllVendors()), len(resp.Vendors))
	}
	if resp.MaxRows != 1000 {
		t.Fatalf("expected max_rows 1000, got %d", resp.MaxRows)
	}
}

func TestServerCreateConnectionThenListRedactsSecrets(t *testing.T) {
	s := NewServer(newTestDeps(t, newFakeStore()))
	ctx := authedContext()

	created, err := s.CreateConnection(ctx, &CreateConnectionRequest{connectionRequest: connectionRequest{
		Name: "warehouse", Vendor: string(domain.VendorPostgres), Password: "top-secret",
	}})
	if err != nil {
		t.Fatalf("create-connection: unexpected error: %v", err)
	}
	if created.Connection.ID == "" {
		t.Fatal("expected an assigned connection id")
	}

	list, err := s.ListConnections(ctx, &ListConnectionsRequest{})
	if err != nil {
		t.Fatalf("list-connections: unexpected error: %v", err)
	}
	var found bool
	for _, c := range list.Connections {
		if c.Name == "warehouse" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected listed connection to include its name")
	}
}

func TestServerCreateConnectionRejectsMissingVendor(t *testing.T) {
	s := NewServer(newTestDeps(t, newFakeStore()))
	_, err := s.CreateConnection(authedContext(), &CreateConnectionRequest{connectionRequest: connectionRequest{Name: "warehouse"}})
	if err == nil {
		t.Fatal("expected an error for missing vendor")
	}
}

func TestServerListConnectionsRejectsUnauthenticatedCall(t *testing.T) {
	s := NewServer(newTestDeps(t, newFakeStore()))
	if _, err := s.ListConnections(context.Background(), &ListConnectionsRequest{}); err == nil {
		t.Fatal("expected an error with no principal attached")
	}
}

func TestServerDeleteConnectionRemovesIt(t *testing.T) {
	st := newFakeStore()
	st.conns["c1"] = &domain.ConnectionDescriptor{ID: "c1", Name: "warehouse", Vendor: domain.VendorPostgres}
	s := NewServer(newTestDeps(t, st))

	resp, err := s.DeleteConnection(authedContext(), &DeleteConnectionRequest{ID: "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Deleted != "c1" {
		t.Fatalf("expected deleted id c1, got %q", resp.Deleted)
	}
	if _, ok := st.conns["c1"]; ok {
		t.Fatal("expected connection to be removed from the store")
	}
}
