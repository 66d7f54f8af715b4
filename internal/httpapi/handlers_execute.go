package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/oriys/nova/internal/connector"
	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/sandbox"

	"github.com/oriys/nova/internal/auth"
)

func (h *handler) registerExecRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/execute-sql", h.executeSQL)
	mux.HandleFunc("POST /v1/execute-sql/stream", h.executeSQLStream)
	mux.HandleFunc("POST /v1/execute-code", h.executeCode)
	mux.HandleFunc("POST /v1/create-visualization", h.createVisualization)
}

// executeSQLRequest is spec.md §6's execute-sql body: "{query, bindings?}".
type executeSQLRequest struct {
	execRequest
	Query    string         `json:"query"`
	Bindings map[string]any `json:"bindings,omitempty"`
}

func (h *handler) executeSQL(w http.ResponseWriter, r *http.Request) {
	const operation = "execute_sql"
	if err := authorize(r, operation); err != nil {
		writeError(w, requestID(r), err)
		return
	}

	var req executeSQLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestID(r), err)
		return
	}
	if req.ConnectionID == "" {
		writeError(w, requestID(r), errs.New(errs.Validation, "connection_id is required"))
		return
	}

	ctx := h.newExecContext(r, req.execRequest)
	defer ctx.Cancel()

	result, err := h.deps.SQL.Execute(ctx, req.Query, req.Bindings)
	p := auth.FromContext(r.Context())
	if err != nil {
		logInvocation(ctx, h.deps.LogSink, p, operation, false, err, nil)
		writeError(w, ctx.RequestID, err)
		return
	}
	logInvocation(ctx, h.deps.LogSink, p, operation, true, nil, result.Metrics)
	writeSuccess(w, ctx.RequestID, result.Metrics, toQueryResultDTO(result))
}

// executeSQLStream is spec.md §4.4's streaming variant, rendered as
// newline-delimited JSON batches over a chunked HTTP response - the
// natural HTTP analogue of "lazy finite sequence of row-batches", since
// a single JSON document cannot be flushed incrementally.
func (h *handler) executeSQLStream(w http.ResponseWriter, r *http.Request) {
	const operation = "execute_sql_streaming"
	if err := authorize(r, operation); err != nil {
		writeError(w, requestID(r), err)
		return
	}

	var req executeSQLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestID(r), err)
		return
	}
	if req.ConnectionID == "" {
		writeError(w, requestID(r), errs.New(errs.Validation, "connection_id is required"))
		return
	}
	req.Streaming = true

	ctx := h.newExecContext(r, req.execRequest)
	defer ctx.Cancel()

	p := auth.FromContext(r.Context())
	batchSize := req.MaxRows
	if batchSize <= 0 {
		batchSize = 500
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Request-ID", ctx.RequestID)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	streamErr := h.deps.SQL.Stream(ctx, req.Query, req.Bindings, batchSize, func(batch *connector.RowBatch) error {
		rows := make([]map[string]any, len(batch.Rows))
		for i, row := range batch.Rows {
			rows[i] = map[string]any(row)
		}
		if err := enc.Encode(map[string]any{"rows": rows, "last": batch.Last}); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	logInvocation(ctx, h.deps.LogSink, p, operation, streamErr == nil, streamErr, nil)
	if streamErr != nil {
		// Headers are already sent by the time a mid-stream error occurs;
		// surface it as a trailing NDJSON line rather than an HTTP status.
		e := errs.As(streamErr)
		enc.Encode(map[string]any{"error": e.ToEnvelope()})
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// executeCodeRequest is spec.md §6's execute-code body: "{code,
// input-data?, variables?}".
type executeCodeRequest struct {
	execRequest
	Code      string           `json:"code"`
	InputData []map[string]any `json:"input_data,omitempty"`
	Variables map[string]any   `json:"variables,omitempty"`
}

type executeCodeResponseDTO struct {
	Status       string         `json:"status"`
	Stdout       string         `json:"stdout"`
	Stderr       string         `json:"stderr"`
	Variables    map[string]any `json:"variables,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorClass   string         `json:"error_class,omitempty"`
	Traceback    string         `json:"traceback,omitempty"`
	ElapsedMs    int64          `json:"elapsed_ms"`
}

func toExecuteCodeResponseDTO(resp *sandbox.Response) executeCodeResponseDTO {
	return executeCodeResponseDTO{
		Status:       string(resp.Status),
		Stdout:       resp.Stdout,
		Stderr:       resp.Stderr,
		Variables:    resp.Variables,
		ErrorMessage: resp.ErrorMessage,
		ErrorClass:   resp.ErrorClass,
		Traceback:    resp.Traceback,
		ElapsedMs:    resp.ElapsedMillis,
	}
}

func (h *handler) executeCode(w http.ResponseWriter, r *http.Request) {
	const operation = "execute_code"
	if err := authorize(r, operation); err != nil {
		writeError(w, requestID(r), err)
		return
	}

	var req executeCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestID(r), err)
		return
	}

	ctx := h.newExecContext(r, req.execRequest)
	defer ctx.Cancel()

	rows := make([]domain.Row, len(req.InputData))
	for i, m := range req.InputData {
		rows[i] = domain.Row(m)
	}

	resp, err := h.deps.Sandbox.Execute(ctx, req.Code, rows, req.Variables, h.deps.ResourceLimits)
	p := auth.FromContext(r.Context())
	if err != nil {
		logInvocation(ctx, h.deps.LogSink, p, operation, false, err, nil)
		writeError(w, ctx.RequestID, err)
		return
	}
	if classErr := sandbox.ClassifyStatus(resp); classErr != nil {
		logInvocation(ctx, h.deps.LogSink, p, operation, false, classErr, nil)
		writeError(w, ctx.RequestID, classErr)
		return
	}
	logInvocation(ctx, h.deps.LogSink, p, operation, true, nil, nil)
	writeSuccess(w, ctx.RequestID, nil, toExecuteCodeResponseDTO(resp))
}

// createVisualizationRequest is spec.md §6's create-visualization body:
// "{data, instruction, chart-type?, title?}", extended with the
// code-driven variant's `code` field (spec.md §4.7 "Code-driven
// variant"). Only the code-driven path is wired here since the
// renderer-driven path needs an external Renderer implementation that
// spec.md §1 places explicitly out of core.
type createVisualizationRequest struct {
	execRequest
	Data        []map[string]any `json:"data"`
	Instruction string           `json:"instruction,omitempty"`
	Code        string           `json:"code,omitempty"`
	Variables   map[string]any   `json:"variables,omitempty"`
}

type visualizationEnvelopeDTO struct {
	Spec        map[string]any `json:"spec"`
	Insight     string         `json:"insight,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
	ChartKind   string         `json:"chart_kind"`
	DataPoints  int            `json:"data_points"`
}

func toVisualizationEnvelopeDTO(env *domain.VisualizationEnvelope) visualizationEnvelopeDTO {
	return visualizationEnvelopeDTO{
		Spec:        env.Spec,
		Insight:     env.Insight,
		Explanation: env.Explanation,
		ChartKind:   string(env.ChartKind),
		DataPoints:  env.DataPoints,
	}
}

func (h *handler) createVisualization(w http.ResponseWriter, r *http.Request) {
	const operation = "produce_visualization"
	if err := authorize(r, operation); err != nil {
		writeError(w, requestID(r), err)
		return
	}

	var req createVisualizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestID(r), err)
		return
	}
	if req.Code == "" {
		writeError(w, requestID(r), errs.New(errs.Validation, "code is required (code-driven visualization only)"))
		return
	}

	ctx := h.newExecContext(r, req.execRequest)
	defer ctx.Cancel()

	rows := make([]domain.Row, len(req.Data))
	for i, m := range req.Data {
		rows[i] = domain.Row(m)
	}

	env, err := h.deps.Viz.CreateFromCode(ctx, h.deps.Sandbox, req.Code, rows)
	p := auth.FromContext(r.Context())
	if err != nil {
		logInvocation(ctx, h.deps.LogSink, p, operation, false, err, nil)
		writeError(w, ctx.RequestID, err)
		return
	}
	logInvocation(ctx, h.deps.LogSink, p, operation, true, nil, env.Metrics)
	writeSuccess(w, ctx.RequestID, env.Metrics, toVisualizationEnvelopeDTO(env))
}
