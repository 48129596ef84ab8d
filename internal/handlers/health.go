package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

type HealthHandler struct {
	upstream string
	started  time.Time
}

func NewHealthHandler(upstream string) *HealthHandler {
	return &HealthHandler{upstream: upstream, started: time.Now()}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Upstream string `json:"upstream"`
	Uptime   string `json:"uptime"`
}

// Health reports liveness. It does not probe the upstream.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:   "ok",
		Upstream: h.upstream,
		Uptime:   time.Since(h.started).Round(time.Second).String(),
	})
}
