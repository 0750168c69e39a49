package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sigae-edu/sigae-api/internal/service"
)

// MetricsHandler exposes the Prometheus scrape and liveness endpoints.
type MetricsHandler struct {
	metrics   *service.MetricsService
	startedAt time.Time
}

// NewMetricsHandler constructs a metrics handler.
func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, startedAt: time.Now()}
}

// Prometheus serves the metrics registry.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health reports liveness and process uptime.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}
