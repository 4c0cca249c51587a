package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/prometheus"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker is implemented by every backing-store client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.  Liveness only says
// the process is up; readiness fans out to every registered component.
type HealthHandler struct {
	components map[string]HealthChecker
	metrics    *prometheus.AppMetrics
	log        logging.Logger
}

func NewHealthHandler(components map[string]HealthChecker, metrics *prometheus.AppMetrics, log logging.Logger) *HealthHandler {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &HealthHandler{components: components, metrics: metrics, log: log.Named("http.health")}
}

// Liveness responds 200 as long as the process is serving.
//
// GET /healthz
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type componentStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Readiness checks every registered component and responds 503 when any
// is down.
//
// GET /readyz
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.components))
	for name := range h.components {
		names = append(names, name)
	}
	sort.Strings(names)

	ready := true
	statuses := make([]componentStatus, 0, len(names))
	for _, name := range names {
		status := componentStatus{Name: name, Status: "up"}
		if err := h.components[name].HealthCheck(ctx); err != nil {
			ready = false
			status.Status = "down"
			status.Error = err.Error()
			h.log.Warn("component unhealthy", logging.String("component", name), logging.Err(err))
		}
		if h.metrics != nil {
			h.metrics.SetComponentHealth(name, status.Status == "up")
		}
		statuses = append(statuses, status)
	}

	code := http.StatusOK
	overall := "ready"
	if !ready {
		code = http.StatusServiceUnavailable
		overall = "not_ready"
	}
	c.JSON(code, gin.H{"status": overall, "components": statuses})
}
