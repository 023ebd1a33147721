package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/authz"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/middleware"
	"github.com/noah-isme/gema-exam-api/internal/service"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

// QuestionHandler serves the question bank.
type QuestionHandler struct {
	errorRenderer
	questions service.QuestionService
	gate      *authz.Gate
}

// NewQuestionHandler constructs the handler.
func NewQuestionHandler(questions service.QuestionService, gate *authz.Gate, exposeErrors bool, logger zerolog.Logger) *QuestionHandler {
	return &QuestionHandler{
		errorRenderer: errorRenderer{logger: logger.With().Str("component", "question_handler").Logger(), expose: exposeErrors},
		questions:     questions,
		gate:          gate,
	}
}

// Register attaches question routes. The group must already run JWTProtected.
func (h *QuestionHandler) Register(router fiber.Router) {
	allow := func(action authz.Action) fiber.Handler { return middleware.Authorize(h.gate, action) }

	router.Get("", allow(authz.ActionQuestionView), h.list)
	router.Post("", allow(authz.ActionQuestionCreate), h.create)
	router.Get("/:id", allow(authz.ActionQuestionView), h.get)
	router.Patch("/:id", allow(authz.ActionQuestionUpdate), h.update)
	router.Delete("/:id", allow(authz.ActionQuestionDelete), h.delete)
	router.Post("/:id/image", allow(authz.ActionQuestionUpdate), h.uploadImage)
}

func (h *QuestionHandler) list(c *fiber.Ctx) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return h.handleError(c, err)
	}
	page, pageSize, err := pageQuery(c)
	if err != nil {
		return h.handleError(c, err)
	}

	questions, err := h.questions.List(c.UserContext(), identity, dto.QuestionListRequest{
		Subject:    c.Query("subject"),
		Type:       c.Query("type"),
		Difficulty: c.Query("difficulty"),
		Search:     c.Query("search"),
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, questions.Items, "questions retrieved", questions.Pagination)
}

func (h *QuestionHandler) create(c *fiber.Ctx) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return h.handleError(c, err)
	}

	var payload dto.QuestionCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.invalidPayload(c, err)
	}

	question, err := h.questions.Create(c.UserContext(), identity, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "question created", question)
}

func (h *QuestionHandler) get(c *fiber.Ctx) error {
	identity, id, err := h.target(c)
	if err != nil {
		return h.handleError(c, err)
	}

	question, err := h.questions.Get(c.UserContext(), identity, id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "question retrieved", question)
}

func (h *QuestionHandler) update(c *fiber.Ctx) error {
	identity, id, err := h.target(c)
	if err != nil {
		return h.handleError(c, err)
	}

	var payload dto.QuestionUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.invalidPayload(c, err)
	}

	question, err := h.questions.Update(c.UserContext(), identity, id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "question updated", question)
}

func (h *QuestionHandler) delete(c *fiber.Ctx) error {
	identity, id, err := h.target(c)
	if err != nil {
		return h.handleError(c, err)
	}

	if err := h.questions.Delete(c.UserContext(), identity, id); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "question deleted", fiber.Map{"id": id})
}

func (h *QuestionHandler) uploadImage(c *fiber.Ctx) error {
	identity, id, err := h.target(c)
	if err != nil {
		return h.handleError(c, err)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return h.handleError(c, apperror.Validation("file", "file is required"))
	}

	question, err := h.questions.UploadImage(c.UserContext(), identity, id, file)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "image uploaded", question)
}

func (h *QuestionHandler) target(c *fiber.Ctx) (authz.Identity, uint, error) {
	identity, err := identityFromContext(c)
	if err != nil {
		return authz.Identity{}, 0, err
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		return authz.Identity{}, 0, err
	}
	return identity, id, nil
}
