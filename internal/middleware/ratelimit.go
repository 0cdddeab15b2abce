package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimitMiddleware caps requests per window, keyed by the
// authenticated user when present and the client IP otherwise. Redis
// outages fail open: throttling is protection, not a dependency.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		subject := c.IP()
		if userID, ok := c.Locals(CtxUserID).(uuid.UUID); ok {
			subject = userID.String()
		}
		key := fmt.Sprintf("ratelimit:%s", subject)

		count, err := rdb.Incr(c.Context(), key).Result()
		if err != nil {
			return c.Next()
		}
		if count == 1 {
			rdb.Expire(c.Context(), key, window)
		}

		if count > int64(limit) {
			ttl, _ := rdb.TTL(c.Context(), key).Result()
			if ttl > 0 {
				c.Set("Retry-After", strconv.Itoa(int(ttl.Seconds())))
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}

		return c.Next()
	}
}
