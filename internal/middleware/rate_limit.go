package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-exam-api/internal/utils"
)

// RateLimit creates a limiter keyed by the authenticated user, falling back to
// the client IP for anonymous routes such as login. A nil store keeps counters
// in process memory.
func RateLimit(identifier string, max int, window time.Duration, store fiber.Storage) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Storage:    store,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID, ok := c.Locals(LocalUserID).(uint); ok && userID != 0 {
				return fmt.Sprintf("%s:user:%d", identifier, userID)
			}
			return fmt.Sprintf("%s:ip:%s", identifier, c.IP())
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.FailWithCode(c, fiber.StatusTooManyRequests, "RATE_LIMITED", "too many requests, slow down", nil)
		},
	})
}
