package httpapi

import (
	"time"

	"github.com/oriys/nova/internal/capability"
	"github.com/oriys/nova/internal/domain"
)

// columnDTO is the wire shape of domain.Column. domain types deliberately
// carry no json tags (internal/domain is transport-agnostic), so every
// transport defines its own DTOs rather than serializing domain values
// directly.
type columnDTO struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Masked bool   `json:"masked"`
}

type queryResultDTO struct {
	Columns            []columnDTO      `json:"columns"`
	Rows               []map[string]any `json:"rows"`
	RowCount           int              `json:"row_count"`
	TotalRowsAvailable *int             `json:"total_rows_available,omitempty"`
}

func toQueryResultDTO(r *domain.QueryResult) queryResultDTO {
	cols := make([]columnDTO, len(r.Columns))
	for i, c := range r.Columns {
		cols[i] = columnDTO{Name: c.Name, Type: string(c.Type), Masked: c.Masked}
	}
	rows := make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = map[string]any(row)
	}
	return queryResultDTO{
		Columns:            cols,
		Rows:               rows,
		RowCount:           r.RowCount,
		TotalRowsAvailable: r.TotalRowsAvailable,
	}
}

// connectionDTO is the wire shape of a domain.ConnectionDescriptor. It
// never carries Secrets - callers submit secret material on
// create/update but it is never echoed back (spec.md §3 "never
// serialized back").
type connectionDTO struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Vendor         string        `json:"vendor"`
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	Database       string        `json:"database"`
	Schema         string        `json:"schema,omitempty"`
	Role           string        `json:"role,omitempty"`
	Warehouse      string        `json:"warehouse,omitempty"`
	Catalog        string        `json:"catalog,omitempty"`
	Username       string        `json:"username"`
	SSLMode        string        `json:"ssl_mode"`
	ConnectTimeout time.Duration `json:"connect_timeout_ns,omitempty"`
	QueryTimeout   time.Duration `json:"query_timeout_ns,omitempty"`
	PoolMin        int           `json:"pool_min,omitempty"`
	PoolMax        int           `json:"pool_max,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func toConnectionDTO(d domain.ConnectionDescriptor) connectionDTO {
	d = d.Redacted()
	return connectionDTO{
		ID:             d.ID,
		Name:           d.Name,
		Vendor:         string(d.Vendor),
		Host:           d.Host,
		Port:           d.Port,
		Database:       d.Database,
		Schema:         d.Schema,
		Role:           d.Role,
		Warehouse:      d.Warehouse,
		Catalog:        d.Catalog,
		Username:       d.Username,
		SSLMode:        string(d.SSL.Mode),
		ConnectTimeout: d.ConnectTimeout,
		QueryTimeout:   d.QueryTimeout,
		PoolMin:        d.Pool.Min,
		PoolMax:        d.Pool.Max,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// connectionRequest is the create-connection request body: a full
// connection descriptor minus id (spec.md §6).
type connectionRequest struct {
	Name           string            `json:"name"`
	Vendor         string            `json:"vendor"`
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	Database       string            `json:"database"`
	Schema         string            `json:"schema,omitempty"`
	Role           string            `json:"role,omitempty"`
	Warehouse      string            `json:"warehouse,omitempty"`
	Catalog        string            `json:"catalog,omitempty"`
	Username       string            `json:"username"`
	Password       string            `json:"password,omitempty"`
	APIKey         string            `json:"api_key,omitempty"`
	SecretExtra    map[string]string `json:"secret_extra,omitempty"`
	SSLMode        string            `json:"ssl_mode,omitempty"`
	SSLCAPath      string            `json:"ssl_ca_path,omitempty"`
	ConnectTimeout int               `json:"connect_timeout_seconds,omitempty"`
	QueryTimeout   int               `json:"query_timeout_seconds,omitempty"`
	PoolMin        int               `json:"pool_min,omitempty"`
	PoolMax        int               `json:"pool_max,omitempty"`
}

func (req connectionRequest) toDescriptor() *domain.ConnectionDescriptor {
	sslMode := domain.SSLMode(req.SSLMode)
	if sslMode == "" {
		sslMode = domain.SSLPrefer
	}
	return &domain.ConnectionDescriptor{
		Name:      req.Name,
		Vendor:    domain.Vendor(req.Vendor),
		Host:      req.Host,
		Port:      req.Port,
		Database:  req.Database,
		Schema:    req.Schema,
		Role:      req.Role,
		Warehouse: req.Warehouse,
		Catalog:   req.Catalog,
		Username:  req.Username,
		Secrets: domain.SecretBag{
			Password: req.Password,
			APIKey:   req.APIKey,
			Extra:    req.SecretExtra,
		},
		SSL: domain.SSLDiscipline{
			Mode:   sslMode,
			CAPath: req.SSLCAPath,
		},
		ConnectTimeout: time.Duration(req.ConnectTimeout) * time.Second,
		QueryTimeout:   time.Duration(req.QueryTimeout) * time.Second,
		Pool: domain.PoolBounds{
			Min: req.PoolMin,
			Max: req.PoolMax,
		},
	}
}

type connectionTestResultDTO struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func toConnectionTestResultDTO(r *capability.ConnectionTestResult) connectionTestResultDTO {
	return connectionTestResultDTO{Success: r.Success, Message: r.Message, Error: r.Error}
}

type tableInfoDTO struct {
	Schema  string      `json:"schema"`
	Name    string      `json:"name"`
	Columns []columnDTO `json:"columns"`
}

type schemaSnapshotDTO struct {
	ConnectionID string         `json:"connection_id"`
	Tables       []tableInfoDTO `json:"tables"`
	SyncedAt     time.Time      `json:"synced_at"`
}

func toSchemaSnapshotDTO(s *capability.SchemaSnapshot) schemaSnapshotDTO {
	tables := make([]tableInfoDTO, len(s.Tables))
	for i, t := range s.Tables {
		cols := make([]columnDTO, len(t.Columns))
		for j, c := range t.Columns {
			cols[j] = columnDTO{Name: c.Name, Type: string(c.Type), Masked: c.Masked}
		}
		tables[i] = tableInfoDTO{Schema: t.Schema, Name: t.Name, Columns: cols}
	}
	return schemaSnapshotDTO{ConnectionID: s.ConnectionID, Tables: tables, SyncedAt: s.SyncedAt}
}
