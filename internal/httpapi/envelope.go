// Package httpapi is the JSON-over-HTTP transport of spec.md §6: a thin
// translation layer between net/http requests and the core operations
// (internal/sqlexec, internal/sandbox, internal/viz, internal/capability).
// It owns request/response wire shapes and HTTP status mapping; it holds
// no business logic of its own, mirroring the teacher's
// internal/api/dataplane split between transport glue and the services
// it calls.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/logging"
)

// envelope is the response envelope of spec.md §6: "{request-id, status,
// metrics, body, error?}". Error responses omit body; success responses
// omit error.
type envelope struct {
	RequestID string         `json:"request_id"`
	Status    string         `json:"status"`
	Metrics   *metricsDTO    `json:"metrics,omitempty"`
	Body      any            `json:"body,omitempty"`
	Error     *errs.Envelope `json:"error,omitempty"`
}

// metricsDTO is the wire shape of domain.ExecutionMetrics.
type metricsDTO struct {
	DurationMs    int64 `json:"duration_ms"`
	RowsProcessed int64 `json:"rows_processed,omitempty"`
	RowsReturned  int64 `json:"rows_returned,omitempty"`
	MemoryUsedMB  int64 `json:"memory_used_mb,omitempty"`
}

func toMetricsDTO(m *domain.ExecutionMetrics) *metricsDTO {
	if m == nil {
		return nil
	}
	return &metricsDTO{
		DurationMs:    m.Duration().Milliseconds(),
		RowsProcessed: m.RowsProcessed,
		RowsReturned:  m.RowsReturned,
		MemoryUsedMB:  m.MemoryUsedMB,
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Op().Warn("httpapi: failed to encode response", "error", err)
	}
}

// writeSuccess renders a success envelope carrying body and (optionally)
// a metrics snapshot.
func writeSuccess(w http.ResponseWriter, requestID string, m *domain.ExecutionMetrics, body any) {
	writeJSON(w, http.StatusOK, envelope{
		RequestID: requestID,
		Status:    "success",
		Metrics:   toMetricsDTO(m),
		Body:      body,
	})
}

// writeError converts err into a response envelope and the matching HTTP
// status code, per spec.md §7's taxonomy table. Any error that did not
// already carry an *errs.Error is wrapped as Internal (errs.As's
// fallback), so this is always safe to call with a raw error.
func writeError(w http.ResponseWriter, requestID string, err error) {
	e := errs.As(err)
	logging.Op().Warn("httpapi: request failed", "request_id", requestID, "tag", e.Tag, "message", e.Message)
	writeJSON(w, httpStatusForTag(e.Tag), envelope{
		RequestID: requestID,
		Status:    e.Status(),
		Error:     func() *errs.Envelope { env := e.ToEnvelope(); return &env }(),
	})
}

// httpStatusForTag maps spec.md §7's taxonomy onto HTTP status codes.
// The table itself only gives illustrative equivalents ("401-equivalent",
// "403-equivalent"); the rest follow the closest conventional mapping.
func httpStatusForTag(tag errs.Tag) int {
	switch tag {
	case errs.Validation:
		return http.StatusBadRequest
	case errs.AuthFailed:
		return http.StatusUnauthorized
	case errs.AuthDenied:
		return http.StatusForbidden
	case errs.PolicyViolation:
		return http.StatusUnprocessableEntity
	case errs.ConnectionFailed:
		return http.StatusBadGateway
	case errs.PoolExhausted:
		return http.StatusServiceUnavailable
	case errs.QueryError:
		return http.StatusBadRequest
	case errs.Timeout:
		return http.StatusGatewayTimeout
	case errs.ResourceLimit:
		return http.StatusRequestEntityTooLarge
	case errs.SandboxError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// requestDeadline converts a caller-supplied second count into a
// time.Duration, falling back to fallback when the caller omits it or
// supplies a non-positive value.
func requestDeadline(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
