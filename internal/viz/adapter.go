package viz

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/oriys/nova/internal/config"
	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/exectx"
	opmetrics "github.com/oriys/nova/internal/metrics"
	"github.com/oriys/nova/internal/observability"
	"github.com/oriys/nova/internal/sandbox"
)

// Renderer produces a Plotly-shaped spec from (already aggregated)
// tabular input and an optional natural-language hint. The renderer
// itself - chart-type selection and layout - is explicitly out of core
// (spec.md §1); Adapter only calls it and enforces the contract around
// it.
type Renderer interface {
	Render(rows []map[string]any, instruction string) (spec map[string]any, kind domain.ChartKind, err error)
}

// CodeExecutor is the subset of sandbox.Runner the code-driven variant
// needs, narrowed to an interface so Adapter can be tested without
// spawning a real child process.
type CodeExecutor interface {
	Execute(ctx *exectx.Context, code string, data []domain.Row, variables map[string]any, limits config.ResourceLimitsConfig) (*sandbox.Response, error)
}

// Adapter is the visualization adapter of spec.md §4.7 / C9.
type Adapter struct {
	aggregator *Aggregator
	sharing    config.DataSharingConfig
	limits     config.ResourceLimitsConfig
}

// NewAdapter builds an Adapter bounded by sharing's
// MaxVisualizationDataPoints.
func NewAdapter(sharing config.DataSharingConfig, limits config.ResourceLimitsConfig) *Adapter {
	return &Adapter{
		aggregator: NewAggregator(sharing.MaxVisualizationDataPoints),
		sharing:    sharing,
		limits:     limits,
	}
}

// Create runs the renderer-driven path (spec.md §4.7 "Contract"):
// aggregate, render, re-measure against the output-size cap, and attach a
// textual insight.
func (a *Adapter) Create(ctx *exectx.Context, rows []map[string]any, instruction string, renderer Renderer) (env *domain.VisualizationEnvelope, err error) {
	_, span := observability.StartSpan(ctx, "create-visualization",
		observability.AttrOperation.String("create-visualization"),
		observability.AttrRequestID.String(ctx.RequestID),
	)
	defer span.End()

	started := time.Now()
	status := opmetrics.StatusSuccess
	defer func() {
		dur := time.Since(started).Milliseconds()
		opmetrics.Global().RecordInvocation("create-visualization", dur, status)
		opmetrics.RecordPrometheusInvocation("create-visualization", dur, status)
		if err != nil {
			observability.SetSpanError(span, err)
		} else {
			observability.SetSpanOK(span)
		}
	}()

	execMetrics := domain.NewExecutionMetrics(started)
	originalRows := len(rows)

	aggregated, _ := a.aggregator.Aggregate(rows)

	spec, kind, rerr := renderer.Render(aggregated, instruction)
	if rerr != nil {
		status = opmetrics.StatusError
		return nil, errs.Wrap(errs.Internal, "visualization renderer failed", rerr)
	}

	if serr := a.checkSpecSize(ctx, spec); serr != nil {
		status = statusForErr(serr)
		return nil, serr
	}

	execMetrics.RowsProcessed = int64(originalRows)
	execMetrics.RowsReturned = int64(len(aggregated))
	execMetrics.Complete(time.Now())

	return &domain.VisualizationEnvelope{
		Spec:       spec,
		Insight:    generateInsight(aggregated),
		ChartKind:  kind,
		DataPoints: len(aggregated),
		Metrics:    execMetrics,
	}, nil
}

// CreateFromCode runs the code-driven variant (spec.md §4.7
// "Code-driven variant"): the caller's code runs through the sandbox and
// must leave a `plotly_figure` variable behind; `insight`/`explanation`
// ride along if present. Structural invariants (spec is a map, has a
// `data` array) are checked before the envelope is returned.
func (a *Adapter) CreateFromCode(ctx *exectx.Context, executor CodeExecutor, code string, data []domain.Row) (env *domain.VisualizationEnvelope, err error) {
	_, span := observability.StartSpan(ctx, "create-visualization-from-code",
		observability.AttrOperation.String("create-visualization-from-code"),
		observability.AttrRequestID.String(ctx.RequestID),
	)
	defer span.End()

	started := time.Now()
	status := opmetrics.StatusSuccess
	defer func() {
		dur := time.Since(started).Milliseconds()
		opmetrics.Global().RecordInvocation("create-visualization-from-code", dur, status)
		opmetrics.RecordPrometheusInvocation("create-visualization-from-code", dur, status)
		if err != nil {
			observability.SetSpanError(span, err)
		} else {
			observability.SetSpanOK(span)
		}
	}()

	execMetrics := domain.NewExecutionMetrics(started)

	resp, xerr := executor.Execute(ctx, code, data, nil, a.limits)
	if xerr != nil {
		status = statusForErr(xerr)
		return nil, xerr
	}
	if cause := sandbox.ClassifyStatus(resp); cause != nil {
		status = statusForErr(cause)
		return nil, cause
	}

	rawSpec, ok := resp.Variables["plotly_figure"]
	if !ok {
		status = opmetrics.StatusError
		return nil, errs.New(errs.SandboxError, "code did not produce a plotly_figure variable")
	}
	spec, ok := rawSpec.(map[string]any)
	if !ok {
		status = opmetrics.StatusError
		return nil, errs.New(errs.SandboxError, "plotly_figure must be an object")
	}
	if d, ok := spec["data"]; !ok {
		status = opmetrics.StatusError
		return nil, errs.New(errs.SandboxError, "plotly_figure must have a data array")
	} else if _, ok := d.([]any); !ok {
		status = opmetrics.StatusError
		return nil, errs.New(errs.SandboxError, "plotly_figure must have a data array")
	}

	if serr := a.checkSpecSize(ctx, spec); serr != nil {
		status = statusForErr(serr)
		return nil, serr
	}

	insight, _ := resp.Variables["insight"].(string)
	explanation, _ := resp.Variables["explanation"].(string)

	execMetrics.RowsProcessed = int64(len(data))
	execMetrics.RowsReturned = int64(len(data))
	execMetrics.Complete(time.Now())

	return &domain.VisualizationEnvelope{
		Spec:        spec,
		Insight:     insight,
		Explanation: explanation,
		ChartKind:   domain.ChartTable,
		DataPoints:  len(data),
		Metrics:     execMetrics,
	}, nil
}

// statusForErr maps an *errs.Error onto the response envelope's status
// enum (spec.md §6) for metrics purposes; any other error (or an
// unrecognized tag) counts as a plain failure.
func statusForErr(err error) opmetrics.Status {
	se, ok := err.(*errs.Error)
	if !ok {
		return opmetrics.StatusError
	}
	switch se.Tag {
	case errs.Timeout:
		return opmetrics.StatusTimeout
	case errs.ResourceLimit:
		return opmetrics.StatusResourceLimit
	default:
		return opmetrics.StatusError
	}
}

// checkSpecSize re-measures the rendered spec against the context's
// output cap, the size re-check spec.md §4.7 requires after rendering:
// "overflow fails the request with output-too-large".
func (a *Adapter) checkSpecSize(ctx *exectx.Context, spec map[string]any) error {
	outputKB := ctx.Limits.OutputKB
	if outputKB <= 0 {
		outputKB = a.limits.MaxOutputSizeKB
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return errs.Wrap(errs.Internal, "failed to serialize visualization spec", err)
	}
	maxBytes := outputKB * 1024
	if maxBytes > 0 && len(data) > maxBytes {
		return errs.New(errs.ResourceLimit, "visualization spec exceeds the output size cap").
			WithDetails(map[string]any{
				"limit_kb":  outputKB,
				"actual_kb": len(data) / 1024,
			})
	}
	return nil
}

// generateInsight summarizes up to the first two numeric columns,
// grounded on generator.py::_generate_insight.
func generateInsight(rows []map[string]any) string {
	if len(rows) == 0 {
		return ""
	}
	_, numCols, _ := classifyColumns(rows)
	if len(numCols) > 2 {
		numCols = numCols[:2]
	}
	if len(numCols) == 0 {
		return ""
	}

	out := ""
	for i, col := range numCols {
		total, min, max := 0.0, toFloat(rows[0][col]), toFloat(rows[0][col])
		for _, r := range rows {
			v := toFloat(r[col])
			total += v
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		avg := total / float64(len(rows))
		if i > 0 {
			out += " | "
		}
		out += col + ": total=" + formatNumber(total) + ", avg=" + formatNumber(avg) +
			", range=[" + formatNumber(min) + " - " + formatNumber(max) + "]"
	}
	return out
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
