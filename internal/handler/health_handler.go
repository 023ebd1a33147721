package handler

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-exam-api/internal/config"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

const probeTimeout = 2 * time.Second

// HealthProbe checks a single backing dependency.
type HealthProbe func(ctx context.Context) error

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Service      string            `json:"service"`
	Environment  string            `json:"environment"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// HealthCheck reports service identity and the state of each probe. Any
// failing probe degrades the response to 503.
func HealthCheck(cfg config.Config, probes map[string]HealthProbe) fiber.Handler {
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}

		if len(names) > 0 {
			payload.Dependencies = make(map[string]string, len(names))
			ctx, cancel := context.WithTimeout(c.UserContext(), probeTimeout)
			defer cancel()

			for _, name := range names {
				if err := probes[name](ctx); err != nil {
					payload.Dependencies[name] = "down"
					payload.Status = "degraded"
					continue
				}
				payload.Dependencies[name] = "up"
			}
		}

		if payload.Status != "ok" {
			return utils.FailWithCode(c, fiber.StatusServiceUnavailable, "SERVICE_DEGRADED", "service degraded", payload)
		}
		return utils.SendSuccess(c, "service healthy", payload)
	}
}
