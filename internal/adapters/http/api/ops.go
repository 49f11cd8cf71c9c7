package api

import (
	"net/http"
	"strings"

	"github.com/okian/proctor/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsProvider reports service counters for the operator endpoints.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// OpsHandler serves the unauthenticated operator routes.
type OpsHandler struct {
	stats   StatsProvider
	metrics http.Handler
}

// NewOpsHandler creates the /healthz and /stats handler.
func NewOpsHandler(stats StatsProvider) *OpsHandler {
	return &OpsHandler{
		stats:   stats,
		metrics: promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
	}
}

// HandleHealth serves Prometheus metrics, or a JSON liveness body when the
// client asks for application/json.
func (h *OpsHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "application/json") {
		h.metrics.ServeHTTP(w, r)
		return
	}
	started, _ := h.stats.GetStats()["started"].(bool)
	status := http.StatusOK
	body := map[string]any{"status": "ok"}
	if !started {
		status = http.StatusServiceUnavailable
		body["status"] = "starting"
	}
	writeJSON(w, status, body)
}

// HandleStats handles GET /stats.
func (h *OpsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.GetStats())
}
