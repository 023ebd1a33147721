package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/service"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

// SeedHandler exposes tooling endpoints for seeding data.
type SeedHandler struct {
	errorRenderer
	service service.SeedService
}

// NewSeedHandler constructs a seed handler.
func NewSeedHandler(service service.SeedService, exposeErrors bool, logger zerolog.Logger) *SeedHandler {
	return &SeedHandler{
		errorRenderer: errorRenderer{logger: logger.With().Str("component", "seed_handler").Logger(), expose: exposeErrors},
		service:       service,
	}
}

// Register wires seed routes.
func (h *SeedHandler) Register(router fiber.Router) {
	router.Post("/questions", h.questions)
}

type seedQuestionsRequest struct {
	Items []dto.QuestionCreateRequest `json:"items"`
}

func (h *SeedHandler) questions(c *fiber.Ctx) error {
	token := c.Get("X-Seed-Token")
	var payload seedQuestionsRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.invalidPayload(c, err)
	}

	affected, err := h.service.SeedQuestions(c.UserContext(), token, payload.Items)
	if err != nil {
		return h.seedError(c, err, affected)
	}

	return utils.SendSuccess(c, "questions seeded", fiber.Map{"affected": affected})
}

func (h *SeedHandler) seedError(c *fiber.Ctx, err error, affected int64) error {
	switch {
	case errors.Is(err, service.ErrSeedDisabled):
		return utils.FailWithCode(c, fiber.StatusForbidden, "SEED_DISABLED", "seeding disabled", nil)
	case errors.Is(err, service.ErrSeedUnauthorized):
		return utils.FailWithCode(c, fiber.StatusForbidden, "SEED_UNAUTHORIZED", "invalid token", nil)
	}

	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return h.handleError(c, appErr.WithDetail("affected", affected))
	}
	h.logger.Error().Err(err).Int64("affected", affected).Msg("seed operation failed")
	return h.handleError(c, err)
}
