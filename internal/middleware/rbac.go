package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/authz"
	"github.com/noah-isme/gema-exam-api/internal/observability"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

// Authorize rejects callers whose role may never perform action. Resource rules
// (ownership, exam window) run later in the service once the resource is loaded.
func Authorize(gate *authz.Gate, action authz.Action) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := permit(c, gate, action); err != nil {
			return utils.FailError(c, err, false)
		}
		return c.Next()
	}
}

func permit(c *fiber.Ctx, gate *authz.Gate, action authz.Action) error {
	identity, ok := CurrentIdentity(c)
	if !ok {
		return apperror.ErrUnauthenticated
	}

	if err := gate.Permit(identity.Role, action); err != nil {
		var appErr *apperror.Error
		if errors.As(err, &appErr) {
			observability.AuthzDenials().WithLabelValues(string(action), appErr.Code).Inc()
		}
		return err
	}
	return nil
}
