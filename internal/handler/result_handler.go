package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/authz"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/middleware"
	"github.com/noah-isme/gema-exam-api/internal/service"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

// ResultHandler serves the caller's own attempts.
type ResultHandler struct {
	errorRenderer
	attempts service.AttemptService
	gate     *authz.Gate
}

// NewResultHandler constructs the handler.
func NewResultHandler(attempts service.AttemptService, gate *authz.Gate, exposeErrors bool, logger zerolog.Logger) *ResultHandler {
	return &ResultHandler{
		errorRenderer: errorRenderer{logger: logger.With().Str("component", "result_handler").Logger(), expose: exposeErrors},
		attempts:      attempts,
		gate:          gate,
	}
}

// Register attaches result routes. The group must already run JWTProtected.
func (h *ResultHandler) Register(router fiber.Router) {
	view := middleware.Authorize(h.gate, authz.ActionResultView)

	router.Get("", view, h.mine)
	router.Get("/:id", view, h.get)
	router.Post("/:id/abandon", middleware.Authorize(h.gate, authz.ActionExamAttempt), h.abandon)
}

func (h *ResultHandler) mine(c *fiber.Ctx) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return h.handleError(c, err)
	}
	page, pageSize, err := pageQuery(c)
	if err != nil {
		return h.handleError(c, err)
	}

	results, err := h.attempts.ListMine(c.UserContext(), identity, dto.ResultListRequest{
		Status:   c.Query("status"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, results.Items, "results retrieved", results.Pagination)
}

func (h *ResultHandler) get(c *fiber.Ctx) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return h.handleError(c, err)
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		return h.handleError(c, err)
	}

	result, err := h.attempts.GetResult(c.UserContext(), identity, id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "result retrieved", result)
}

func (h *ResultHandler) abandon(c *fiber.Ctx) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return h.handleError(c, err)
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		return h.handleError(c, err)
	}

	result, err := h.attempts.Abandon(c.UserContext(), identity, id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "attempt abandoned", result)
}
