package grpcapi

import "time"

// column is the wire shape of domain.Column, duplicated from
// internal/httpapi's columnDTO rather than shared: the two transports
// deliberately don't import each other (see internal/grpcapi's package
// doc), the same way the teacher kept ControlPlaneServer and
// DataPlaneServer's request/response structs independent of each other.
type column struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Masked bool   `json:"masked"`
}

type metrics struct {
	DurationMs    int64 `json:"duration_ms"`
	RowsProcessed int64 `json:"rows_processed,omitempty"`
	RowsReturned  int64 `json:"rows_returned,omitempty"`
	MemoryUsedMB  int64 `json:"memory_used_mb,omitempty"`
}

// execOptions is the common resource-override block every gated
// operation's request carries, the gRPC analogue of
// internal/httpapi's execRequest.
type execOptions struct {
	ConnectionID   string `json:"connection_id,omitempty"`
	MaxRows        int    `json:"max_rows,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	MemoryMB       int    `json:"memory_mb,omitempty"`
	OutputKB       int    `json:"output_kb,omitempty"`
	Streaming      bool   `json:"streaming,omitempty"`
}

type queryResult struct {
	Columns            []column         `json:"columns"`
	Rows               []map[string]any `json:"rows"`
	RowCount           int              `json:"row_count"`
	TotalRowsAvailable *int             `json:"total_rows_available,omitempty"`
}

type ExecuteSQLRequest struct {
	execOptions
	Query    string         `json:"query"`
	Bindings map[string]any `json:"bindings,omitempty"`
}

type ExecuteSQLResponse struct {
	RequestID string       `json:"request_id"`
	Result    *queryResult `json:"result"`
	Metrics   *metrics     `json:"metrics,omitempty"`
}

type ExecuteCodeRequest struct {
	execOptions
	Code      string           `json:"code"`
	InputData []map[string]any `json:"input_data,omitempty"`
	Variables map[string]any   `json:"variables,omitempty"`
}

type ExecuteCodeResponse struct {
	RequestID    string         `json:"request_id"`
	Status       string         `json:"status"`
	Stdout       string         `json:"stdout"`
	Stderr       string         `json:"stderr"`
	Variables    map[string]any `json:"variables,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorClass   string         `json:"error_class,omitempty"`
	Traceback    string         `json:"traceback,omitempty"`
	ElapsedMs    int64          `json:"elapsed_ms"`
}

// CreateVisualizationRequest only wires the code-driven variant, the
// same restriction internal/httpapi's createVisualizationRequest
// documents: the renderer-driven path needs an external Renderer with no
// in-core implementation.
type CreateVisualizationRequest struct {
	execOptions
	Data      []map[string]any `json:"data"`
	Code      string           `json:"code"`
	Variables map[string]any   `json:"variables,omitempty"`
}

type CreateVisualizationResponse struct {
	RequestID   string         `json:"request_id"`
	Spec        map[string]any `json:"spec"`
	Insight     string         `json:"insight,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
	ChartKind   string         `json:"chart_kind"`
	DataPoints  int            `json:"data_points"`
	Metrics     *metrics       `json:"metrics,omitempty"`
}

type connectionInfo struct {
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

// connectionRequest is the shared shape of create-connection and
// test-connection - both submit a full descriptor minus id.
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

type ListConnectionsRequest struct{}

type ListConnectionsResponse struct {
	Connections []connectionInfo `json:"connections"`
}

type CreateConnectionRequest struct {
	connectionRequest
}

type CreateConnectionResponse struct {
	Connection connectionInfo `json:"connection"`
}

type DeleteConnectionRequest struct {
	ID string `json:"id"`
}

type DeleteConnectionResponse struct {
	Deleted string `json:"deleted"`
}

type TestConnectionRequest struct {
	connectionRequest
}

type TestConnectionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type SyncSchemaRequest struct {
	ConnectionID string `json:"connection_id"`
}

type tableInfo struct {
	Schema  string   `json:"schema"`
	Name    string   `json:"name"`
	Columns []column `json:"columns"`
}

type SyncSchemaResponse struct {
	ConnectionID string      `json:"connection_id"`
	Tables       []tableInfo `json:"tables"`
	SyncedAt     time.Time   `json:"synced_at"`
}

type GetTableSamplesRequest struct {
	ConnectionID string `json:"connection_id"`
	Table        string `json:"table"`
	Limit        int    `json:"limit,omitempty"`
}

type GetTableSamplesResponse struct {
	RequestID string       `json:"request_id"`
	Result    *queryResult `json:"result"`
	Metrics   *metrics     `json:"metrics,omitempty"`
}

type HealthRequest struct{}

type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Version       string `json:"version,omitempty"`
}

type CapabilitiesRequest struct{}

type CapabilitiesResponse struct {
	Operations      []string `json:"operations"`
	Vendors         []string `json:"vendors"`
	MaxMemoryMB     int      `json:"max_memory_mb"`
	MaxOutputSizeKB int      `json:"max_output_size_kb"`
	MaxRows         int      `json:"max_rows"`
}
