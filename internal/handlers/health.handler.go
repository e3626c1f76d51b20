package handlers

import (
	"context"
	"time"

	"github.com/fasthttp/router"
	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
	"github.com/nimasrn/credits-gateway/pkg/logger"
)

type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]HealthCheck
}

func RegisterHealthRoutes(e *router.Router, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

// NewHealthHandler takes named dependency checks, e.g. "postgres" and "redis".
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{
		checks: checks,
	}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(c); err != nil {
			logger.Warn("[health] check failed", "check", name, "error", err)
			writeJSON(ctx, xhttp.StatusServiceUnavailable, map[string]string{"status": "unavailable", "failed": name})
			return
		}
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]string{"status": "ok"})
}
