package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

// fakeStore is a minimal in-memory store.MetadataStore, scoped to just
// this package's handler tests - a sibling of capability's own fakeStore.
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

func authedRequest(method, path string, body any) *http.Request {
	var r *http.Request
	if body != nil {
		buf, _ := json.Marshal(body)
		r = httptest.NewRequest(method, path, bytes.NewReader(buf))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	ctx := auth.WithPrincipal(r.Context(), &domain.Principal{
		Authenticated: true,
		WorkspaceID:   "ws_1",
		Permissions:   domain.NewPermissionSet(domain.AllPermissions...),
	})
	return r.WithContext(ctx)
}

func TestHealthReportsOKWhenStorePingSucceeds(t *testing.T) {
	st := newFakeStore()
	h := &handler{deps: newTestDeps(t, st)}
	mux := http.NewServeMux()
	h.registerRoutes(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthDTO
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("expected ok, got %q", body.Status)
	}
}

func TestHealthDegradesWhenStorePingFails(t *testing.T) {
	st := newFakeStore()
	st.ping = errs.New(errs.Internal, "db unreachable")
	h := &handler{deps: newTestDeps(t, st)}
	mux := http.NewServeMux()
	h.registerRoutes(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthDTO
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" {
		t.Fatalf("expected degraded, got %q", body.Status)
	}
}

func TestCapabilitiesEnumeratesVendorsAndLimits(t *testing.T) {
	st := newFakeStore()
	h := &handler{deps: newTestDeps(t, st)}
	mux := http.NewServeMux()
	h.registerRoutes(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/capabilities", nil))

	var body capabilitiesDTO
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Vendors) != len(domain.AllVendors()) {
		t.Fatalf("expected %d vendors, got %d", len(domain.AllVendors()), len(body.Vendors))
	}
	if body.Limits.MaxRows != 1000 {
		t.Fatalf("expected max_rows 1000, got %d", body.Limits.MaxRows)
	}
}

func TestCreateConnectionThenListRedactsSecrets(t *testing.T) {
	st := newFakeStore()
	h := &handler{deps: newTestDeps(t, st)}
	mux := http.NewServeMux()
	h.registerRoutes(mux)

	create := authedRequest(http.MethodPost, "/v1/connections", connectionRequest{
		Name: "warehouse", Vendor: string(domain.VendorPostgres), Password: "top-secret",
	})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, create)
	if rr.Code != http.StatusOK {
		t.Fatalf("create-connection: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var createdEnv envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &createdEnv); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	bodyBytes, _ := json.Marshal(createdEnv.Body)
	var created connectionDTO
	if err := json.Unmarshal(bodyBytes, &created); err != nil {
		t.Fatalf("decode connection dto: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected an assigned connection id")
	}

	list := authedRequest(http.MethodGet, "/v1/connections", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, list)
	if !bytes.Contains(rr.Body.Bytes(), []byte("warehouse")) {
		t.Fatalf("expected listed connection to include its name: %s", rr.Body.String())
	}
	if bytes.Contains(rr.Body.Bytes(), []byte("top-secret")) {
		t.Fatal("expected secrets never to be serialized back")
	}
}

func TestCreateConnectionRejectsMissingVendor(t *testing.T) {
	st := newFakeStore()
	h := &handler{deps: newTestDeps(t, st)}
	mux := http.NewServeMux()
	h.registerRoutes(mux)

	req := authedRequest(http.MethodPost, "/v1/connections", connectionRequest{Name: "warehouse"})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing vendor, got %d", rr.Code)
	}
}

func TestListConnectionsRejectsUnauthenticatedRequest(t *testing.T) {
	st := newFakeStore()
	h := &handler{deps: newTestDeps(t, st)}
	mux := http.NewServeMux()
	h.registerRoutes(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/connections", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no principal attached, got %d", rr.Code)
	}
}

func TestDeleteConnectionRemovesIt(t *testing.T) {
	st := newFakeStore()
	st.conns["c1"] = &domain.ConnectionDescriptor{ID: "c1", Name: "warehouse", Vendor: domain.VendorPostgres}
	h := &handler{deps: newTestDeps(t, st)}
	mux := http.NewServeMux()
	h.registerRoutes(mux)

	req := authedRequest(http.MethodDelete, "/v1/connections/c1", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, ok := st.conns["c1"]; ok {
		t.Fatal("expected connection to be removed from the store")
	}
}
