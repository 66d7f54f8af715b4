package httpapi

import (
	"net/http"
	"strconv"

	"github.com/oriys/nova/internal/auth"
	"github.com/oriys/nova/internal/errs"
)

func (h *handler) registerConnectionRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/connections", h.listConnections)
	mux.HandleFunc("POST /v1/connections", h.createConnection)
	mux.HandleFunc("DELETE /v1/connections/{id}", h.deleteConnection)
	mux.HandleFunc("POST /v1/test-connection", h.testConnection)
	mux.HandleFunc("POST /v1/connections/{id}/sync-schema", h.syncSchema)
	mux.HandleFunc("GET /v1/connections/{id}/samples", h.getTableSamples)
}

func (h *handler) listConnections(w http.ResponseWriter, r *http.Request) {
	const operation = "list_connections"
	if err := authorize(r, operation); err != nil {
		writeError(w, requestID(r), err)
		return
	}

	descs, err := h.deps.Capability.ListConnections(r.Context())
	if err != nil {
		writeError(w, requestID(r), err)
		return
	}
	out := make([]connectionDTO, len(descs))
	for i, d := range descs {
		out[i] = toConnectionDTO(d)
	}
	writeSuccess(w, requestID(r), nil, map[string]any{"connections": out})
}

func (h *handler) createConnection(w http.ResponseWriter, r *http.Request) {
	const operation = "create_connection"
	if err := authorize(r, operation); err != nil {
		writeError(w, requestID(r), err)
		return
	}

	var req connectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestID(r), err)
		return
	}
	if req.Name == "" || req.Vendor == "" {
		writeError(w, requestID(r), errs.New(errs.Validation, "name and vendor are required"))
		return
	}

	desc, err := h.deps.Capability.CreateConnection(r.Context(), req.toDescriptor())
	if err != nil {
		writeError(w, requestID(r), err)
		return
	}
	writeSuccess(w, requestID(r), nil, toConnectionDTO(*desc))
}

func (h *handler) deleteConnection(w http.ResponseWriter, r *http.Request) {
	const operation = "delete_connection"
	if err := authorize(r, operation); err != nil {
		writeError(w, requestID(r), err)
		return
	}

	id := r.PathValue("id")
	if err := h.deps.Capability.DeleteConnection(r.Context(), id); err != nil {
		writeError(w, requestID(r), err)
		return
	}
	writeSuccess(w, requestID(r), nil, map[string]any{"deleted": id})
}

func (h *handler) testConnection(w http.ResponseWriter, r *http.Request) {
	const operation = "test_connection"
	if err := authorize(r, operation); err != nil {
		writeError(w, requestID(r), err)
		return
	}

	var req connectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestID(r), err)
		return
	}

	result := h.deps.Capability.TestConnection(r.Context(), req.toDescriptor())
	writeSuccess(w, requestID(r), nil, toConnectionTestResultDTO(result))
}

func (h *handler) syncSchema(w http.ResponseWriter, r *http.Request) {
	const operation = "sync_schema"
	if err := authorize(r, operation); err != nil {
		writeError(w, requestID(r), err)
		return
	}

	id := r.PathValue("id")
	snapshot, err := h.deps.Capability.SyncSchema(r.Context(), id)
	if err != nil {
		writeError(w, requestID(r), err)
		return
	}
	writeSuccess(w, requestID(r), nil, toSchemaSnapshotDTO(snapshot))
}

func (h *handler) getTableSamples(w http.ResponseWriter, r *http.Request) {
	const operation = "get_table_samples"
	if err := authorize(r, operation); err != nil {
		writeError(w, requestID(r), err)
		return
	}

	id := r.PathValue("id")
	table := r.URL.Query().Get("table")
	if table == "" {
		writeError(w, requestID(r), errs.New(errs.Validation, "table query parameter is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	p := auth.FromContext(r.Context())
	ctx := h.newExecContext(r, execRequest{ConnectionID: id})
	defer ctx.Cancel()

	result, err := h.deps.Capability.GetTableSamples(ctx, table, limit)
	if err != nil {
		logInvocation(ctx, h.deps.LogSink, p, operation, false, err, nil)
		writeError(w, ctx.RequestID, err)
		return
	}
	logInvocation(ctx, h.deps.LogSink, p, operation, true, nil, result.Metrics)
	writeSuccess(w, ctx.RequestID, result.Metrics, toQueryResultDTO(result))
}
