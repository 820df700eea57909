package gateway

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"
)

// Forward proxies the request to the upstream service, preserving the
// original path and query.
func Forward(baseURL string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return proxy.Do(c, baseURL+c.OriginalURL())
	}
}
