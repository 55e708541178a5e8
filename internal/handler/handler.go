package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger func() error

// Handler contains dependencies for the health endpoints
type Handler struct {
	pingers map[string]Pinger
}

// NewHandler creates a new handler instance
func NewHandler(pingers map[string]Pinger) *Handler {
	return &Handler{pingers: pingers}
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"time":   time.Now(),
	})
}

// ReadinessCheck pings each backing dependency and reports per-dependency
// status. Any failure flips the response to 503.
func (h *Handler) ReadinessCheck(c *gin.Context) {
	status := http.StatusOK
	deps := gin.H{}
	for name, ping := range h.pingers {
		if err := ping(); err != nil {
			status = http.StatusServiceUnavailable
			deps[name] = err.Error()
		} else {
			deps[name] = "ok"
		}
	}

	c.JSON(status, gin.H{
		"status":       http.StatusText(status),
		"dependencies": deps,
		"time":         time.Now(),
	})
}

func (h *Handler) MetricsHandler(c *gin.Context) {
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}
