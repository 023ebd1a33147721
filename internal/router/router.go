package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-exam-api/internal/config"
	"github.com/noah-isme/gema-exam-api/internal/handler"
	"github.com/noah-isme/gema-exam-api/internal/middleware"
	"github.com/noah-isme/gema-exam-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	Auth            middleware.Authenticator
	AuthHandler     *handler.AuthHandler
	UserHandler     *handler.UserHandler
	ExamHandler     *handler.ExamHandler
	QuestionHandler *handler.QuestionHandler
	ResultHandler   *handler.ResultHandler
	SeedHandler     *handler.SeedHandler
	HealthProbes    map[string]handler.HealthProbe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))
	api.Get("/metrics", observability.MetricsHandler(cfg.MetricsToken))

	if deps.AuthHandler != nil {
		deps.AuthHandler.Register(api.Group("/auth"))
	}

	if deps.SeedHandler != nil {
		deps.SeedHandler.Register(api.Group("/seed"))
	}

	if deps.Auth == nil {
		return
	}
	protected := middleware.JWTProtected(deps.Auth)

	// The clock authenticates itself from the query string, so it is
	// registered ahead of the header-only exam group.
	if deps.ExamHandler != nil {
		api.Get("/exams/:id/clock", deps.ExamHandler.ClockRoute(deps.Auth))
		deps.ExamHandler.Register(api.Group("/exams", protected))
	}

	if deps.UserHandler != nil {
		deps.UserHandler.Register(api.Group("/users", protected))
	}

	if deps.QuestionHandler != nil {
		deps.QuestionHandler.Register(api.Group("/questions", protected))
	}

	if deps.ResultHandler != nil {
		deps.ResultHandler.Register(api.Group("/results", protected))
	}
}
