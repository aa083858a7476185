package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/sistem64-software/SAKA-QMS/internal/config"
)

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	started time.Time
	logger  *slog.Logger
}

// HealthResponse is the liveness document.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		started: time.Now(),
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /health and /api/health. It never consults the
// license so that monitoring keeps working on unlicensed machines.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{
		Status:  "healthy",
		Service: config.AppName,
		Version: config.AppVersion,
		Uptime:  time.Since(h.started).Truncate(time.Second).String(),
	})
}
