package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-assessment-api/internal/utils"
)

// RateLimit limits requests per user and per route target. Answer saves are
// keyed by attempt id so one student's busy attempt does not starve another.
// Anonymous callers fall back to the client IP.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return rateLimitKey(identifier, c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, "too many requests, slow down and retry")
		},
	})
}

func rateLimitKey(identifier string, c *fiber.Ctx) string {
	subject := c.IP()
	if userID, ok := c.Locals("user_id").(uint); ok && userID != 0 {
		subject = fmt.Sprintf("user:%d", userID)
	}
	if target := c.Params("id"); target != "" {
		return fmt.Sprintf("%s:%s:%s", identifier, subject, target)
	}
	return fmt.Sprintf("%s:%s", identifier, subject)
}
