package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/middleware"
	"github.com/noah-isme/gema-exam-api/internal/service"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

// AuthHandler wires session endpoints.
type AuthHandler struct {
	errorRenderer
	auth         service.AuthService
	oauth        service.OAuthService
	loginLimiter fiber.Handler
}

// NewAuthHandler constructs the handler. loginLimiter may be nil.
func NewAuthHandler(auth service.AuthService, oauth service.OAuthService, loginLimiter fiber.Handler, exposeErrors bool, logger zerolog.Logger) *AuthHandler {
	if loginLimiter == nil {
		loginLimiter = func(c *fiber.Ctx) error { return c.Next() }
	}
	return &AuthHandler{
		errorRenderer: errorRenderer{logger: logger.With().Str("component", "auth_handler").Logger(), expose: exposeErrors},
		auth:          auth,
		oauth:         oauth,
		loginLimiter:  loginLimiter,
	}
}

// Register attaches auth endpoints to the router group.
func (h *AuthHandler) Register(router fiber.Router) {
	protected := middleware.JWTProtected(h.auth)

	router.Post("/register", h.loginLimiter, h.register)
	router.Post("/login", h.loginLimiter, h.login)
	router.Get("/verify", protected, h.verify)
	router.Post("/refresh", h.refresh)
	router.Post("/logout", protected, h.logout)

	router.Get("/google/login", h.googleLogin)
	router.Get("/google/callback", h.googleCallback)
	router.Post("/google", h.loginLimiter, h.googleToken)
}

func (h *AuthHandler) register(c *fiber.Ctx) error {
	var payload dto.RegisterRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.invalidPayload(c, err)
	}

	session, err := h.auth.Register(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "account registered", session)
}

func (h *AuthHandler) login(c *fiber.Ctx) error {
	var payload dto.LoginRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.invalidPayload(c, err)
	}

	session, err := h.auth.Login(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "login successful", session)
}

func (h *AuthHandler) verify(c *fiber.Ctx) error {
	account, ok := middleware.CurrentAccount(c)
	if !ok {
		return h.handleError(c, apperror.ErrUnauthenticated)
	}

	return utils.SendSuccess(c, "token valid", fiber.Map{"user": dto.NewUserResponse(account)})
}

func (h *AuthHandler) refresh(c *fiber.Ctx) error {
	var payload dto.RefreshRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.invalidPayload(c, err)
	}

	session, err := h.auth.Refresh(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "token refreshed", session)
}

func (h *AuthHandler) logout(c *fiber.Ctx) error {
	var payload dto.LogoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return h.invalidPayload(c, err)
		}
	}

	if err := h.auth.Logout(c.UserContext(), middleware.AccessToken(c), payload.RefreshToken); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "logged out", nil)
}

func (h *AuthHandler) googleLogin(c *fiber.Ctx) error {
	redirect, err := h.oauth.Begin(c.UserContext())
	if err != nil {
		return h.handleError(c, err)
	}

	if c.QueryBool("redirect") {
		return c.Redirect(redirect.URL, fiber.StatusTemporaryRedirect)
	}
	return utils.SendSuccess(c, "redirect to provider", redirect)
}

func (h *AuthHandler) googleCallback(c *fiber.Ctx) error {
	session, err := h.oauth.Callback(c.UserContext(), c.Query("code"), c.Query("state"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "login successful", session)
}

func (h *AuthHandler) googleToken(c *fiber.Ctx) error {
	var payload dto.GoogleTokenRequest
	if err := c.BodyParser(&payload); err != nil {
		return h.invalidPayload(c, err)
	}

	session, err := h.oauth.LoginWithIDToken(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "login successful", session)
}
