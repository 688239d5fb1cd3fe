package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const UserIDKey = "userID"

type SessionProvider interface {
	Rdb() *redis.Client
	CookieName() string
}

func SessionKey(sid string) string { return "sess:" + sid }

func AuthSession(reg SessionProvider) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := c.Cookies(reg.CookieName())
		if sid == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		val, err := reg.Rdb().Get(c.UserContext(), SessionKey(sid)).Result()
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		uid, err := strconv.ParseInt(val, 10, 64)
		if err != nil || uid <= 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		c.Locals(UserIDKey, uid)
		return c.Next()
	}
}
