package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/authz"
)

func TestAuthorizeAllowsRolesInTable(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(LocalUserID, uint(3))
		c.Locals(LocalUserRole, "Teacher")
		return c.Next()
	})
	app.Use(Authorize(authz.NewGate(), authz.ActionExamCreate))
	app.Post("/exams", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/exams", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
}

func TestAuthorizeRejectsRolesOutsideTable(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(LocalUserID, uint(3))
		c.Locals(LocalUserRole, "student")
		return c.Next()
	})
	app.Use(Authorize(authz.NewGate(), authz.ActionUserManage))
	app.Get("/users", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/users", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	payload := decodeBody(t, resp)
	require.Equal(t, "INSUFFICIENT_ROLE", payload["code"])
	details := payload["details"].(map[string]interface{})
	require.Equal(t, []interface{}{"admin"}, details["required_roles"])
}

func TestAuthorizeRequiresIdentity(t *testing.T) {
	app := fiber.New()
	app.Use(Authorize(authz.NewGate(), authz.ActionProfile))
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/me", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
