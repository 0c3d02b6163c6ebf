package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/narrately/api/internal/stage"
)

// StageChecker reports the readiness of the pipeline stages
type StageChecker interface {
	HealthCheck(ctx context.Context) []stage.Health
}

// Probe checks one named dependency
type Probe func(ctx context.Context) error

type HealthHandler struct {
	stages StageChecker
	probes map[string]Probe
}

func NewHealthHandler(stages StageChecker, probes map[string]Probe) *HealthHandler {
	return &HealthHandler{stages: stages, probes: probes}
}

// Health handles GET /health
// @Summary      Health check
// @Description  Dependency and stage readiness flags
// @Tags         Health
// @Produce      json
// @Success      200 {object} map[string]interface{}
// @Router       /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	status := "ok"
	services := fiber.Map{}
	for name, probe := range h.probes {
		ok := probe(ctx) == nil
		services[name] = ok
		if !ok {
			status = "degraded"
		}
	}

	var stages []stage.Health
	if h.stages != nil {
		stages = h.stages.HealthCheck(ctx)
		for _, s := range stages {
			if !s.Ready {
				status = "degraded"
			}
		}
	}

	return c.JSON(fiber.Map{
		"status":   status,
		"services": services,
		"stages":   stages,
	})
}
