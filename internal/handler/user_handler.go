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

// UserHandler serves profile and account administration routes.
type UserHandler struct {
	errorRenderer
	accounts service.AccountService
	gate     *authz.Gate
}

// NewUserHandler constructs the handler.
func NewUserHandler(accounts service.AccountService, gate *authz.Gate, exposeErrors bool, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		errorRenderer: errorRenderer{logger: logger.With().Str("component", "user_handler").Logger(), expose: exposeErrors},
		accounts:      accounts,
		gate:          gate,
	}
}

// Register attaches user routes. The group must already run JWTProtected.
func (h *UserHandler) Register(router fiber.Router) {
	profile := middleware.Authorize(h.gate, authz.ActionProfile)
	manage := middleware.Authorize(h.gate, authz.ActionUserManage)

	router.Get("/me", profile, h.me)
	router.Patch("/me", profile, h.updateProfile)
	router.Post("/me/password", profile, h.changePassword)

	router.Get("", manage, h.list)
	router.Patch("/:id/role", manage, h.updateRole)
	router.Patch("/:id/status", manage, h.updateStatus)
	router.Delete("/:id", manage, h.delete)
}

func (h *UserHandler) me(c *fiber.Ctx) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return h.handleError(c, err)
	}

	user, err := h.accounts.Get(c.UserContext(), identity.ID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "profile retrieved", user)
}

func (h *UserHandler) updateProfile(c *fiber.Ctx) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return h.handleError(c, err)
	}

	var payload dto.ProfileUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.invalidPayload(c, err)
	}

	user, err := h.accounts.UpdateProfile(c.UserContext(), identity.ID, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "profile updated", user)
}

func (h *UserHandler) changePassword(c *fiber.Ctx) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return h.handleError(c, err)
	}

	var payload dto.PasswordChangeRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.invalidPayload(c, err)
	}

	if err := h.accounts.ChangePassword(c.UserContext(), identity.ID, payload); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "password changed", nil)
}

func (h *UserHandler) list(c *fiber.Ctx) error {
	page, pageSize, err := pageQuery(c)
	if err != nil {
		return h.handleError(c, err)
	}

	users, err := h.accounts.List(c.UserContext(), dto.UserListRequest{
		Role:     c.Query("role"),
		Search:   c.Query("search"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, users.Items, "users retrieved", users.Pagination)
}

func (h *UserHandler) updateRole(c *fiber.Ctx) error {
	identity, id, err := h.target(c)
	if err != nil {
		return h.handleError(c, err)
	}

	var payload dto.RoleUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.invalidPayload(c, err)
	}

	user, err := h.accounts.UpdateRole(c.UserContext(), identity.ID, id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "role updated", user)
}

func (h *UserHandler) updateStatus(c *fiber.Ctx) error {
	identity, id, err := h.target(c)
	if err != nil {
		return h.handleError(c, err)
	}

	var payload dto.StatusUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.invalidPayload(c, err)
	}

	user, err := h.accounts.UpdateStatus(c.UserContext(), identity.ID, id, payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "status updated", user)
}

func (h *UserHandler) delete(c *fiber.Ctx) error {
	identity, id, err := h.target(c)
	if err != nil {
		return h.handleError(c, err)
	}

	if err := h.accounts.Delete(c.UserContext(), identity.ID, id); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "user deleted", fiber.Map{"id": id})
}

func (h *UserHandler) target(c *fiber.Ctx) (authz.Identity, uint, error) {
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
