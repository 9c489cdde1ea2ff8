package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Dhoini/marketplace-payments/pkg/res"

	"github.com/gin-gonic/gin"
)

// Pinger зависимость, доступность которой входит в проверку здоровья.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc адаптер для функций.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	checks map[string]Pinger
}

func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health обрабатывает GET /health. Недоступная зависимость дает 503.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	out := HealthResponse{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			out.Checks[name] = err.Error()
			out.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		out.Checks[name] = "ok"
	}
	res.JsonResponse(c.Writer, out, status)
}
