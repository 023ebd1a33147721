package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-exam-api/internal/apperror"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/utils"
)

// Locals keys set by JWTProtected.
const (
	LocalUserID      = "user_id"
	LocalUserRole    = "user_role"
	LocalUserEmail   = "user_email"
	LocalAccessToken = "access_token"
	LocalAccount     = "account"
)

// Authenticator resolves a bearer token to an active account.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.Account, error)
}

// JWTProtected returns a middleware that validates bearer tokens through the
// auth pipeline: signature and expiry, blacklist, then live account state.
func JWTProtected(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := authenticate(c, auth, ""); err != nil {
			return utils.FailError(c, err, false)
		}
		return c.Next()
	}
}

// authenticate verifies the bearer token. When queryKey is set and no
// Authorization header was sent, the token is read from that query parameter.
func authenticate(c *fiber.Ctx, auth Authenticator, queryKey string) error {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" && queryKey != "" {
		if raw := strings.TrimSpace(c.Query(queryKey)); raw != "" {
			header = "Bearer " + raw
		}
	}

	token, err := bearerToken(header)
	if err != nil {
		return err
	}

	account, err := auth.Authenticate(c.UserContext(), token)
	if err != nil {
		return err
	}

	c.Locals(LocalUserID, account.ID)
	c.Locals(LocalUserRole, string(account.Role))
	c.Locals(LocalUserEmail, account.Email)
	c.Locals(LocalAccessToken, token)
	c.Locals(LocalAccount, account)
	return nil
}

func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", apperror.ErrUnauthenticated.WithMessage("authorization header missing")
	}

	const bearer = "bearer "
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", apperror.ErrInvalidToken.WithMessage("invalid authorization header")
	}

	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", apperror.ErrInvalidToken
	}
	return token, nil
}
