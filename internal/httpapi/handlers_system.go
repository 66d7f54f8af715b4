package httpapi

import (
	"net/http"
	"time"

	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/metrics"
)

func (h *handler) registerSystemRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /v1/capabilities", h.capabilities)
}

type healthDTO struct {
	Status    string `json:"status"`
	UptimeSec int64  `json:"uptime_seconds"`
	Version   string `json:"version,omitempty"`
}

// health is deliberately unauthenticated and unmetered beyond a
// process-uptime figure (spec.md §6's public paths; it is not one of the
// gated operations). A storage ping failure degrades status to
// "degraded" rather than failing the request outright, since health
// checks must never themselves require the dependency they're probing.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if h.deps.Store != nil {
		ctx, cancel := contextWithShortTimeout(r)
		defer cancel()
		if err := h.deps.Store.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, healthDTO{
		Status:    status,
		UptimeSec: int64(time.Since(h.deps.StartedAt).Seconds()),
		Version:   h.deps.Version,
	})
}

type capabilitiesDTO struct {
	Operations []string `json:"operations"`
	Vendors    []string `json:"vendors"`
	Limits     struct {
		MaxMemoryMB     int `json:"max_memory_mb"`
		MaxOutputSizeKB int `json:"max_output_size_kb"`
		MaxRows         int `json:"max_rows"`
	} `json:"limits"`
	Uptime string `json:"uptime"`
}

// capabilities enumerates spec.md §6's operation set and the closed
// vendor enum, plus the process-wide resource defaults, so a caller can
// self-discover what this deployment supports without out-of-band
// documentation.
func (h *handler) capabilities(w http.ResponseWriter, r *http.Request) {
	vendors := domain.AllVendors()
	vendorTags := make([]string, len(vendors))
	for i, v := range vendors {
		vendorTags[i] = string(v)
	}

	resp := capabilitiesDTO{
		Operations: []string{
			"execute-sql", "execute-code", "create-visualization",
			"list-connections", "create-connection", "delete-connection",
			"test-connection", "sync-schema", "get-table-samples",
			"health", "capabilities",
		},
		Vendors: vendorTags,
		Uptime:  metrics.Global().Uptime().String(),
	}
	resp.Limits.MaxMemoryMB = h.deps.ResourceLimits.MaxMemoryMB
	resp.Limits.MaxOutputSizeKB = h.deps.ResourceLimits.MaxOutputSizeKB
	resp.Limits.MaxRows = h.deps.ResourceLimits.MaxRows

	writeJSON(w, http.StatusOK, resp)
}
