package controllers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether the storage behind the gateway is usable.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// GeneralController handles general HTTP endpoints like health and metrics.
type GeneralController struct {
	health   HealthChecker
	gatherer prometheus.Gatherer
}

// NewGeneralController creates a new general controller. A nil gatherer
// serves the default prometheus registry.
func NewGeneralController(health HealthChecker, gatherer prometheus.Gatherer) *GeneralController {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &GeneralController{health: health, gatherer: gatherer}
}

// RegisterRoutes registers general routes with the given router.
//
// This method sets up HTTP endpoints for:
// - Health checks (/v1/healthz)
// - Prometheus metrics (/metrics)
func (c *GeneralController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/healthz", c.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// handleHealth returns the health status of the service.
//
// Returns 200 OK with {"status": "ok"} if healthy, 503 Service Unavailable otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if c.health != nil {
		if err := c.health.CheckHealth(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not_serving")
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
