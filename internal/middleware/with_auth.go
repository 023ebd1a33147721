package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-exam-api/internal/authz"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	Auth Authenticator
	Gate *authz.Gate
	// Action is checked against the role table when set.
	Action authz.Action
	// QueryToken names a query parameter holding the token for clients that
	// cannot set headers, such as browser websockets.
	QueryToken string
}

// WithAuth wraps a single handler with authentication and an optional role check.
// Route groups use JWTProtected and Authorize directly; this is for one-off
// routes such as websocket upgrades.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := authenticate(c, opts.Auth, opts.QueryToken); err != nil {
			return utils.FailError(c, err, false)
		}
		if opts.Action != "" && opts.Gate != nil {
			if err := permit(c, opts.Gate, opts.Action); err != nil {
				return utils.FailError(c, err, false)
			}
		}
		return handler(c)
	}
}

// CurrentIdentity returns the caller stored by JWTProtected.
func CurrentIdentity(c *fiber.Ctx) (authz.Identity, bool) {
	id, ok := c.Locals(LocalUserID).(uint)
	if !ok || id == 0 {
		return authz.Identity{}, false
	}
	role, _ := c.Locals(LocalUserRole).(string)
	email, _ := c.Locals(LocalUserEmail).(string)
	return authz.Identity{
		ID:    id,
		Role:  models.Role(strings.ToLower(strings.TrimSpace(role))),
		Email: email,
	}, true
}

// AccessToken returns the raw bearer token of the current request.
func AccessToken(c *fiber.Ctx) string {
	token, _ := c.Locals(LocalAccessToken).(string)
	return token
}

// CurrentAccount returns the account loaded by JWTProtected.
func CurrentAccount(c *fiber.Ctx) (models.Account, bool) {
	account, ok := c.Locals(LocalAccount).(models.Account)
	return account, ok
}
